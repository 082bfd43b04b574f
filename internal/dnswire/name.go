package dnswire

import (
	"errors"
	"strings"
)

const (
	maxLabelLen = 63
	maxNameLen  = 255
	maxPtrHops  = 16
)

var (
	errTruncated  = errors.New("dnswire: truncated message")
	errLabelLen   = errors.New("dnswire: label exceeds 63 octets")
	errNameLen    = errors.New("dnswire: name exceeds 255 octets")
	errPtrLoop    = errors.New("dnswire: compression pointer loop")
	errPtrForward = errors.New("dnswire: compression pointer is not strictly backward")
)

// decodeName reads a (possibly compressed) domain name starting at offset
// and returns the dotted-label string (no trailing dot, empty string for
// the root name) plus the offset immediately following the name as it
// appears at the call site — i.e. after the first pointer encountered, not
// after whatever the pointer chain eventually terminates with.
//
// Loop safety: a pointer's target must be strictly less than the pointer's
// own offset (refusing forward and self pointers). That alone does not end
// every chain, since labels read after a backward pointer move forward again
// and can reach the same pointer, so a hop counter bounds total pointer
// follows at maxPtrHops.
func decodeName(data []byte, offset int) (string, int, error) {
	var labels []string
	pos := offset
	nextOffset := -1
	totalLen := 0
	hops := 0

	for {
		if pos >= len(data) {
			return "", 0, errTruncated
		}
		b := data[pos]

		switch {
		case b&0xC0 == 0xC0: // compression pointer
			if pos+1 >= len(data) {
				return "", 0, errTruncated
			}
			ptr := int(b&0x3F)<<8 | int(data[pos+1])
			if nextOffset == -1 {
				nextOffset = pos + 2
			}
			if ptr >= pos {
				return "", 0, errPtrForward
			}
			hops++
			if hops > maxPtrHops {
				return "", 0, errPtrLoop
			}
			pos = ptr

		case b == 0: // root label: end of name
			pos++
			if nextOffset == -1 {
				nextOffset = pos
			}
			return strings.Join(labels, "."), nextOffset, nil

		default: // length-prefixed label
			if b > maxLabelLen {
				return "", 0, errLabelLen
			}
			start := pos + 1
			end := start + int(b)
			if end > len(data) {
				return "", 0, errTruncated
			}
			labels = append(labels, string(data[start:end]))
			totalLen += int(b) + 1
			if totalLen > maxNameLen {
				return "", 0, errNameLen
			}
			pos = end
		}
	}
}

// encodeName writes name (dot-separated labels, no trailing dot) as an
// uncompressed sequence of length-prefixed labels terminated by a zero
// octet. The empty string encodes as the root name.
func encodeName(name string) ([]byte, error) {
	if name == "" {
		return []byte{0}, nil
	}
	labels := strings.Split(name, ".")
	var buf []byte
	total := 0
	for _, l := range labels {
		if len(l) > maxLabelLen {
			return nil, errLabelLen
		}
		total += len(l) + 1
		if total > maxNameLen {
			return nil, errNameLen
		}
		buf = append(buf, byte(len(l)))
		buf = append(buf, l...)
	}
	buf = append(buf, 0)
	return buf, nil
}
