package dnswire

import (
	"errors"
	"strconv"
	"strings"
)

var errMalformedIPv4 = errors.New("dnswire: malformed IPv4 address")

// ParseIPv4 strictly validates a dotted-quad IPv4 address: exactly four
// octets, each in [0,255], no leading zeros, no extraneous characters
// (no surrounding whitespace, no IPv6, no CIDR suffix). Both the subscriber's
// row mapping and the response builder use this same strict parser so a
// record can never reach a DNS answer with an address the rest of the
// system wouldn't also have accepted.
func ParseIPv4(s string) ([4]byte, error) {
	var out [4]byte
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return out, errMalformedIPv4
	}
	for i, p := range parts {
		if p == "" || len(p) > 3 {
			return out, errMalformedIPv4
		}
		if len(p) > 1 && p[0] == '0' {
			return out, errMalformedIPv4 // leading zero
		}
		for _, c := range p {
			if c < '0' || c > '9' {
				return out, errMalformedIPv4
			}
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return out, errMalformedIPv4
		}
		out[i] = byte(n)
	}
	return out, nil
}
