package dnsserver

import (
	"fmt"
	"net"
	"time"
)

// upstreamTimeout bounds a single resolver round-trip.
const upstreamTimeout = 5 * time.Second

// forward relays query to the first upstream resolver that returns a
// response within upstreamTimeout, trying each in order. It returns an
// error only when every upstream fails.
func forward(query []byte, upstreams []string) ([]byte, error) {
	var lastErr error
	for _, addr := range upstreams {
		resp, err := forwardOne(query, addr)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("dnsserver: all upstreams failed: %w", lastErr)
}

func forwardOne(query []byte, addr string) ([]byte, error) {
	conn, err := net.DialTimeout("udp", addr, upstreamTimeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(upstreamTimeout)); err != nil {
		return nil, err
	}
	if _, err := conn.Write(query); err != nil {
		return nil, err
	}

	buf := make([]byte, 512)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}
