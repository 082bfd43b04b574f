// Package discovery wires the Subscriber, ServiceIndex, and DnsServer
// together into one running process, shared by the cmd/jiji-discover
// binary and the `jiji dns` bootstrap subcommand.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/acidtib/jiji/internal/dnsserver"
	"github.com/acidtib/jiji/internal/orcherr"
	"github.com/acidtib/jiji/internal/output"
	"github.com/acidtib/jiji/internal/serviceindex"
	"github.com/acidtib/jiji/internal/subscriber"
)

// Options configures one discovery process run, corresponding directly to
// the JIJI_* environment variables the discovery process consumes.
type Options struct {
	ListenAddrs          []string
	CorrosionAPI         string
	ServiceDomain        string
	DNSTTL               uint32
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
}

// DefaultOptions returns Options populated with the documented defaults,
// with ListenAddrs left empty since it has no default (it's the one
// required setting).
func DefaultOptions() Options {
	return Options{
		CorrosionAPI:      "http://127.0.0.1:31220",
		ServiceDomain:     "jiji",
		DNSTTL:            60,
		ReconnectInterval: 5000 * time.Millisecond,
	}
}

// Validate checks Options for the conditions that should fail fast with
// ConfigInvalid before any socket or HTTP connection is opened.
func (o Options) Validate() error {
	if len(o.ListenAddrs) == 0 {
		return orcherr.New(orcherr.KindConfig, "dns", "", fmt.Errorf("no listen address configured"))
	}
	if strings.TrimSpace(o.ServiceDomain) == "" {
		return orcherr.New(orcherr.KindConfig, "dns", "", fmt.Errorf("service domain must not be empty"))
	}
	if strings.TrimSpace(o.CorrosionAPI) == "" {
		return orcherr.New(orcherr.KindConfig, "dns", "", fmt.Errorf("state store API base must not be empty"))
	}
	return nil
}

// Run starts the subscriber and DNS server and blocks until ctx is
// cancelled or one of them exits with a non-recoverable error.
func Run(ctx context.Context, opts Options, log *output.Logger) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	index := serviceindex.New()

	sub := subscriber.New(subscriber.Config{
		APIBase:              opts.CorrosionAPI,
		BaseBackoff:          opts.ReconnectInterval,
		MaxReconnectAttempts: opts.MaxReconnectAttempts,
	}, log)

	sub.OnUpsert(func(r serviceindex.Record) { index.Set(r) })
	sub.OnDelete(func(id string) { index.Remove(id) })
	sub.OnReady(func() {
		stats := index.Stats()
		log.Success("discovery: initial snapshot loaded (%d records, %d hostnames)", stats.TotalRecords, stats.Hostnames)
	})
	sub.OnError(func(err error) {
		wrapped := orcherr.New(orcherr.KindSubscriber, "dns", "", err)
		log.Warn("discovery: %v", wrapped)
	})
	sub.OnReconnect(func(attempt int) {
		log.Debug("discovery: reconnect attempt %d", attempt)
	})

	srv := dnsserver.New(dnsserver.Config{
		ListenAddrs:   opts.ListenAddrs,
		ServiceDomain: opts.ServiceDomain,
		TTL:           opts.DNSTTL,
	}, index, log)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- sub.Run(runCtx) }()
	go func() { errCh <- srv.Run(runCtx) }()

	var firstErr error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
		// Either task finishing (success or failure) means the other has no
		// reason to keep running: cancel so it unwinds instead of leaking.
		cancel()
	}
	if ctx.Err() != nil {
		return nil
	}
	return firstErr
}
