package main

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
)

// sizeValue is a byte count flag that accepts human readable sizes such as 64KiB or 2MB
type sizeValue uintptr

var _ pflag.Value = new(sizeValue)

func (s *sizeValue) String() string {
	return humanize.IBytes(uint64(*s))
}

func (s *sizeValue) Set(text string) error {
	size, err := parseSize(text)
	if err != nil {
		return err
	}
	*s = sizeValue(size)
	return nil
}

func (s *sizeValue) Type() string {
	return "size"
}

// sizeListValue is a comma separated list of sizes
type sizeListValue []uintptr

var _ pflag.Value = new(sizeListValue)

func (s *sizeListValue) String() string {
	sizes := make([]string, 0, len(*s))
	for _, size := range *s {
		sizes = append(sizes, humanize.IBytes(uint64(size)))
	}
	return strings.Join(sizes, ",")
}

func (s *sizeListValue) Set(text string) error {
	for _, field := range strings.Split(text, ",") {
		if strings.TrimSpace(field) == "" {
			continue
		}
		size, err := parseSize(field)
		if err != nil {
			return err
		}
		*s = append(*s, size)
	}
	return nil
}

func (s *sizeListValue) Type() string {
	return "sizes"
}

func parseSize(text string) (uintptr, error) {
	size, err := humanize.ParseBytes(strings.TrimSpace(text))
	if err != nil {
		return 0, errors.Wrapf(err, "bad size %q", text)
	}
	if uint64(uintptr(size)) != size {
		return 0, errors.Newf("size %q does not fit in the address space", text)
	}
	return uintptr(size), nil
}

func formatSize(size uintptr) string {
	return humanize.IBytes(uint64(size))
}
