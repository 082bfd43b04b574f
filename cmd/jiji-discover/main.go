// Command jiji-discover is the discovery-side process: it subscribes to the
// state store's containers view and answers DNS queries for the configured
// service domain out of the resulting in-memory index.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/acidtib/jiji/internal/discovery"
	"github.com/acidtib/jiji/internal/orcherr"
	"github.com/acidtib/jiji/internal/output"
)

func main() {
	log := output.DefaultLogger

	opts, err := optionsFromEnv()
	if err != nil {
		log.Error("%v", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := discovery.Run(ctx, opts, log); err != nil {
		log.Error("%v", err)
		var oe *orcherr.Error
		if errors.As(err, &oe) && oe.Kind == orcherr.KindConfig {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func optionsFromEnv() (discovery.Options, error) {
	opts := discovery.DefaultOptions()

	listen := os.Getenv("JIJI_LISTEN_ADDR")
	if strings.TrimSpace(listen) == "" {
		return opts, errors.New("JIJI_LISTEN_ADDR is required (comma-separated host:port)")
	}
	for _, addr := range strings.Split(listen, ",") {
		addr = strings.TrimSpace(addr)
		if addr != "" {
			opts.ListenAddrs = append(opts.ListenAddrs, addr)
		}
	}

	if v := os.Getenv("JIJI_CORROSION_API"); v != "" {
		opts.CorrosionAPI = v
	}
	if v := os.Getenv("JIJI_SERVICE_DOMAIN"); v != "" {
		opts.ServiceDomain = v
	}
	if v := os.Getenv("JIJI_DNS_TTL"); v != "" {
		ttl, err := strconv.Atoi(v)
		if err != nil || ttl < 0 {
			return opts, errors.New("JIJI_DNS_TTL must be a non-negative integer")
		}
		opts.DNSTTL = uint32(ttl)
	}
	if v := os.Getenv("JIJI_RECONNECT_INTERVAL"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return opts, errors.New("JIJI_RECONNECT_INTERVAL must be a positive number of milliseconds")
		}
		opts.ReconnectInterval = time.Duration(ms) * time.Millisecond
	}

	return opts, nil
}
