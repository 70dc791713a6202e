package memutils

import (
	"math/bits"
	"strconv"
	"strings"
)

// Flags is the set of bitmask types that can be rendered by a FlagStringMapping
type Flags interface {
	~int32 | ~uint32 | ~int | ~uint
}

// FlagStringMapping renders bitmask values as a pipe-separated list of registered names.
// Bits without a registered name are rendered in hex.
type FlagStringMapping[T Flags] struct {
	names map[T]string
}

func NewFlagStringMapping[T Flags]() FlagStringMapping[T] {
	return FlagStringMapping[T]{names: make(map[T]string)}
}

func (m FlagStringMapping[T]) Register(flag T, name string) {
	m.names[flag] = name
}

func (m FlagStringMapping[T]) FlagsToString(value T) string {
	if value == 0 {
		return "None"
	}

	var sb strings.Builder
	remaining := uint64(value)
	for remaining != 0 {
		bit := uint64(1) << bits.TrailingZeros64(remaining)
		remaining &^= bit

		if sb.Len() > 0 {
			sb.WriteByte('|')
		}

		name, ok := m.names[T(bit)]
		if ok {
			sb.WriteString(name)
		} else {
			sb.WriteString("0x")
			sb.WriteString(strconv.FormatUint(bit, 16))
		}
	}

	return sb.String()
}
