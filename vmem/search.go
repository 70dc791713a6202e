package vmem

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// addressIterator walks the aligned addresses of [minimum, maximum] in one direction
type addressIterator struct {
	minimum   uintptr
	maximum   uintptr
	alignment uintptr
	direction int
	next      uintptr
	done      bool
}

func newAddressIterator(minimum, maximum, alignment uintptr, direction int) *addressIterator {
	iterator := &addressIterator{
		minimum:   minimum,
		maximum:   maximum,
		alignment: alignment,
		direction: direction,
	}

	if direction > 0 {
		// address 0 is never a useful hint, start from the first aligned address above it
		multiple := uintptr(1)
		if minimum >= alignment {
			multiple = minimum/alignment + 1
			if minimum%alignment == 0 {
				multiple--
			}
		}
		iterator.next = multiple * alignment
		if iterator.next > maximum || iterator.next < minimum {
			iterator.done = true
		}
	} else {
		iterator.next = (maximum / alignment) * alignment
		if iterator.next < minimum || iterator.next == 0 {
			iterator.done = true
		}
	}

	return iterator
}

func (i *addressIterator) Next() (uintptr, bool) {
	if i.done {
		return 0, false
	}

	address := i.next
	if i.direction > 0 {
		if i.maximum-i.next >= i.alignment {
			i.next += i.alignment
		} else {
			i.done = true
		}
	} else {
		if i.next-i.minimum >= i.alignment && i.next-i.alignment != 0 {
			i.next -= i.alignment
		} else {
			i.done = true
		}
	}

	return address, true
}

type addressRange struct {
	start uintptr
	end   uintptr
}

func (r addressRange) isValid() bool {
	return r.end > r.start
}

func (r addressRange) width() uintptr {
	return r.end - r.start
}

func (r addressRange) intersect(other addressRange) (addressRange, bool) {
	result := addressRange{start: r.start, end: r.end}
	if other.start > result.start {
		result.start = other.start
	}
	if other.end < result.end {
		result.end = other.end
	}
	return result, result.isValid()
}

var errCorruptMaps = errors.New("address space map is malformed")

// parseMapsLine reads the "start-end" range at the front of a /proc/self/maps line
func parseMapsLine(line string) (addressRange, error) {
	field, _, _ := strings.Cut(line, " ")
	startText, endText, ok := strings.Cut(field, "-")
	if !ok || endText == "" {
		return addressRange{}, errors.Wrapf(errCorruptMaps, "line %q has no address range", line)
	}

	start, err := strconv.ParseUint(startText, 16, 64)
	if err != nil {
		return addressRange{}, errors.Wrapf(errCorruptMaps, "line %q: %v", line, err)
	}
	end, err := strconv.ParseUint(endText, 16, 64)
	if err != nil {
		return addressRange{}, errors.Wrapf(errCorruptMaps, "line %q: %v", line, err)
	}

	return addressRange{start: uintptr(start), end: uintptr(end)}, nil
}

// findAvailableBlock scans an address space map for an unmapped gap that can hold byteAmount
// bytes starting within [start, end]. Gaps below lowestAddress are never used. With reverse set
// the highest candidate is returned instead of the lowest. When strict is false, a large
// enough gap outside the range is accepted if nothing inside it fits.
func findAvailableBlock(maps io.Reader, start, end, byteAmount uintptr, reverse, strict bool, lowestAddress uintptr) (uintptr, error) {
	allowedEnd := end + byteAmount
	if allowedEnd < end {
		allowedEnd = MaxAddress
	}
	allowed := addressRange{start: start, end: allowedEnd}

	var lastAvailable addressRange
	matchFound, inRangeFound := false, false
	lastMapped := addressRange{start: 0, end: lowestAddress}

	// returns true once no later gap can improve the result
	consider := func(current addressRange) bool {
		if current.start == lastMapped.end {
			lastMapped.end = current.end
			return false
		}

		free := addressRange{start: lastMapped.end, end: current.start}
		lastMapped = current

		intersection, ok := allowed.intersect(free)
		if ok && intersection.width() >= byteAmount {
			lastAvailable = intersection
			matchFound, inRangeFound = true, true
			return !reverse
		}

		// a gap outside the range only stands in until one inside it turns up
		if !strict && !inRangeFound && free.isValid() && free.width() >= byteAmount {
			if reverse || !matchFound {
				lastAvailable = free
				matchFound = true
			}
		}
		return false
	}

	finished := false
	scanner := bufio.NewScanner(maps)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		current, err := parseMapsLine(line)
		if err != nil {
			return 0, err
		}
		if current.start >= current.end || current.start < lastMapped.end {
			return 0, errors.Wrapf(errCorruptMaps, "range 0x%x-0x%x is empty or out of order", current.start, current.end)
		}

		if consider(current) {
			finished = true
			break
		}
	}

	if !finished {
		err := scanner.Err()
		if err != nil {
			return 0, errors.Wrap(err, "reading address space map")
		}
		consider(addressRange{start: MaxAddress, end: MaxAddress})
	}

	if !matchFound {
		return 0, errors.Newf("no gap of 0x%x bytes in the address space map", byteAmount)
	}

	if reverse {
		return lastAvailable.end - byteAmount, nil
	}
	return lastAvailable.start, nil
}
