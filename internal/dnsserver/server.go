// Package dnsserver answers DNS queries for the configured service domain
// out of a serviceindex.Index, forwarding everything else to an upstream
// resolver.
package dnsserver

import (
	"context"
	"net"
	"strings"
	"sync"

	"github.com/acidtib/jiji/internal/dnswire"
	"github.com/acidtib/jiji/internal/output"
	"github.com/acidtib/jiji/internal/serviceindex"
)

// Config controls listening addresses and service-domain answering.
type Config struct {
	// ListenAddrs are "host:port" UDP bind addresses, one socket each.
	ListenAddrs []string

	// ServiceDomain is the suffix ("jiji") that routes a query to the local
	// index instead of upstream forwarding.
	ServiceDomain string

	// TTL is the answer TTL in seconds for index-served records. Defaults
	// to 60.
	TTL uint32

	// Upstreams overrides resolver discovery, mainly for tests.
	Upstreams []string
}

// Server binds one UDP socket per configured listener and answers queries
// out of an Index.
type Server struct {
	cfg       Config
	index     *serviceindex.Index
	log       *output.Logger
	upstreams []string
}

// New builds a Server. Resolver discovery runs at construction time so
// Run doesn't need to re-read /etc/resolv.conf on every forwarded query.
func New(cfg Config, index *serviceindex.Index, log *output.Logger) *Server {
	if cfg.TTL == 0 {
		cfg.TTL = 60
	}
	upstreams := cfg.Upstreams
	if len(upstreams) == 0 {
		upstreams = usableUpstreams(systemResolvers(), cfg.ListenAddrs)
	}
	return &Server{cfg: cfg, index: index, log: log, upstreams: upstreams}
}

// Run opens a socket per configured listener and serves until ctx is
// cancelled, at which point all sockets are closed (unblocking their
// receive loops) and Run returns once every loop has exited.
func (s *Server) Run(ctx context.Context) error {
	conns := make([]*net.UDPConn, 0, len(s.cfg.ListenAddrs))
	for _, addr := range s.cfg.ListenAddrs {
		udpAddr, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			closeAll(conns)
			return err
		}
		conn, err := net.ListenUDP("udp", udpAddr)
		if err != nil {
			closeAll(conns)
			return err
		}
		conns = append(conns, conn)
		s.log.Info("dns: listening on %s", addr)
	}

	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(c *net.UDPConn) {
			defer wg.Done()
			s.serve(ctx, c)
		}(conn)
	}

	go func() {
		<-ctx.Done()
		closeAll(conns)
	}()

	wg.Wait()
	return nil
}

func closeAll(conns []*net.UDPConn) {
	for _, c := range conns {
		c.Close()
	}
}

// serve runs one socket's receive loop, spawning a goroutine per datagram
// so a slow upstream forward never stalls new arrivals.
func (s *Server) serve(ctx context.Context, conn *net.UDPConn) {
	var wg sync.WaitGroup
	defer wg.Wait()

	buf := make([]byte, 512)
	for {
		n, clientAddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Debug("dns: read error: %v", err)
			continue
		}
		data := append([]byte(nil), buf[:n]...)

		wg.Add(1)
		go func(data []byte, clientAddr *net.UDPAddr) {
			defer wg.Done()
			s.handle(ctx, conn, clientAddr, data)
		}(data, clientAddr)
	}
}

func (s *Server) handle(ctx context.Context, conn *net.UDPConn, clientAddr *net.UDPAddr, data []byte) {
	resp := s.buildResponse(data)
	if resp == nil {
		return
	}
	if ctx.Err() != nil {
		return
	}
	if _, err := conn.WriteToUDP(resp, clientAddr); err != nil {
		s.log.Debug("dns: write error to %s: %v", clientAddr, err)
	}
}

// buildResponse decides the reply for one datagram, or nil to drop it
// silently.
func (s *Server) buildResponse(data []byte) []byte {
	msg, err := dnswire.ParseQuery(data)
	if err != nil {
		id, ok := dnswire.ParseTxnID(data)
		if !ok {
			return nil
		}
		return dnswire.BuildHeaderOnly(id, false, dnswire.RcodeServFail)
	}

	if msg.Header.QR {
		return nil // not a query
	}
	if len(msg.Questions) != 1 {
		return dnswire.BuildHeaderOnly(msg.Header.ID, msg.Header.RD, dnswire.RcodeFormErr)
	}

	q := msg.Questions[0]
	if !inServiceDomain(q.Name, s.cfg.ServiceDomain) {
		resp, err := forward(data, s.upstreams)
		if err != nil {
			s.log.Debug("dns: forward failed for %q: %v", q.Name, err)
			return dnswire.BuildHeaderOnly(msg.Header.ID, msg.Header.RD, dnswire.RcodeServFail)
		}
		return resp
	}

	if q.Type != dnswire.TypeA {
		return dnswire.BuildAnswer(msg, dnswire.RcodeNoError, nil)
	}

	hostname := stripServiceDomain(q.Name, s.cfg.ServiceDomain)
	ips := s.index.Get(hostname)
	if len(ips) == 0 {
		return dnswire.BuildAnswer(msg, dnswire.RcodeNXDomain, nil)
	}

	answers := make([]dnswire.AnswerA, 0, len(ips))
	for _, ipStr := range ips {
		ip, err := dnswire.ParseIPv4(ipStr)
		if err != nil {
			s.log.Warn("dns: index returned malformed IP %q for %q, skipping", ipStr, hostname)
			continue
		}
		answers = append(answers, dnswire.AnswerA{TTL: s.cfg.TTL, IP: ip})
	}
	if len(answers) == 0 {
		return dnswire.BuildAnswer(msg, dnswire.RcodeNXDomain, nil)
	}
	return dnswire.BuildAnswer(msg, dnswire.RcodeNoError, answers)
}

// inServiceDomain reports whether name ends in domain as a whole label,
// case-insensitively: "x.jiji" and bare "jiji" match "jiji", "x.jijii" does
// not.
func inServiceDomain(name, domain string) bool {
	name = strings.ToLower(strings.TrimSuffix(name, "."))
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))
	if domain == "" {
		return false
	}
	if name == domain {
		return true
	}
	return strings.HasSuffix(name, "."+domain)
}

// stripServiceDomain removes the service-domain suffix from a name already
// confirmed to be inServiceDomain, returning the lowercased remainder
// (empty for a bare-domain query with no hostname label in front of it).
func stripServiceDomain(name, domain string) string {
	name = strings.ToLower(strings.TrimSuffix(name, "."))
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))
	if name == domain {
		return ""
	}
	return strings.TrimSuffix(name, "."+domain)
}
