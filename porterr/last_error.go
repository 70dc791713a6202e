package porterr

import "sync"

// Sink receives every error produced by a failing operation
type Sink interface {
	SetLastError(err error)
}

// LastError is a Sink that remembers the most recent failure. Successful operations never
// touch it, so a stale value stays until the next failure or an explicit Clear.
type LastError struct {
	mutex sync.Mutex

	err     error
	kind    Kind
	errno   int
	message string
}

var _ Sink = &LastError{}

func (l *LastError) SetLastError(err error) {
	if err == nil {
		return
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.err = err
	l.kind = KindOf(err)
	l.errno = Errno(err)
	l.message = err.Error()
}

func (l *LastError) Clear() {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.err = nil
	l.kind = KindNone
	l.errno = 0
	l.message = ""
}

func (l *LastError) Err() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	return l.err
}

func (l *LastError) Kind() Kind {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	return l.kind
}

func (l *LastError) Errno() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	return l.errno
}

func (l *LastError) Message() string {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	return l.message
}
