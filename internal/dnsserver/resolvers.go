package dnsserver

import (
	"bufio"
	"net"
	"os"
	"strings"
)

// defaultUpstreams is used when no usable resolver can be discovered from
// the host's own resolver configuration.
var defaultUpstreams = []string{"8.8.8.8:53", "1.1.1.1:53"}

const resolvConfPath = "/etc/resolv.conf"

// systemResolvers reads nameserver entries out of /etc/resolv.conf. Missing
// or unreadable files yield an empty list rather than an error, since the
// caller always has the hardcoded fallback.
func systemResolvers() []string {
	f, err := os.Open(resolvConfPath)
	if err != nil {
		return nil
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "nameserver") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		ip := net.ParseIP(fields[1])
		if ip == nil {
			continue
		}
		out = append(out, net.JoinHostPort(fields[1], "53"))
	}
	return out
}

// usableUpstreams filters candidates to exclude loopback addresses and the
// server's own listen addresses (forwarding a query to ourselves would
// loop), falling back to defaultUpstreams when nothing survives.
func usableUpstreams(candidates []string, ownListenAddrs []string) []string {
	exclude := make(map[string]bool, len(ownListenAddrs))
	for _, a := range ownListenAddrs {
		host, _, err := net.SplitHostPort(a)
		if err != nil {
			host = a
		}
		exclude[host] = true
	}

	var out []string
	for _, c := range candidates {
		host, _, err := net.SplitHostPort(c)
		if err != nil {
			continue
		}
		ip := net.ParseIP(host)
		if ip == nil || ip.IsLoopback() || exclude[host] {
			continue
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return append([]string(nil), defaultUpstreams...)
	}
	return out
}
