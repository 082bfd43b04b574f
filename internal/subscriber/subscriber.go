// Package subscriber maintains a live projection of the containers-joined-
// with-services view from the state store into a serviceindex.Index, by
// holding one long-lived NDJSON subscription open and reconnecting with
// backoff when it drops.
package subscriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/acidtib/jiji/internal/dnswire"
	"github.com/acidtib/jiji/internal/output"
	"github.com/acidtib/jiji/internal/serviceindex"
	"github.com/acidtib/jiji/internal/substream"
)

// defaultQuery is the projection the discovery process subscribes to: every
// running container joined with the service it belongs to. Column order
// here must match the fixed-index mapping in rowToRecord.
const defaultQuery = `SELECT id, service, server_id, ip, health_status, started_at, instance_id, project FROM containers`

// column indices into a row/change values slice, fixed per the wire
// contract rather than read from the "columns" header message.
const (
	colID = iota
	colService
	colServerID
	colIP
	colHealthStatus
	colStartedAt
	colInstanceID
	colProject
	columnCount
)

// Config controls connection and reconnect behavior.
type Config struct {
	// APIBase is the state store's base URL, e.g. http://127.0.0.1:31220.
	APIBase string

	// BaseBackoff is the unit the exponential reconnect delay scales from.
	// Defaults to 1s.
	BaseBackoff time.Duration

	// MaxReconnectAttempts bounds consecutive reconnect attempts since the
	// last successful connection. 0 means unlimited.
	MaxReconnectAttempts int

	HTTPClient *http.Client
}

// Subscriber owns exactly one active subscription stream at a time.
type Subscriber struct {
	cfg Config
	log *output.Logger

	onUpsert    func(serviceindex.Record)
	onDelete    func(containerID string)
	onReady     func()
	onError     func(error)
	onReconnect func(attempt int)
}

// New constructs a Subscriber. Callback fields left nil are no-ops.
func New(cfg Config, log *output.Logger) *Subscriber {
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Subscriber{cfg: cfg, log: log}
}

func (s *Subscriber) OnUpsert(fn func(serviceindex.Record)) { s.onUpsert = fn }
func (s *Subscriber) OnDelete(fn func(containerID string))  { s.onDelete = fn }
func (s *Subscriber) OnReady(fn func())                     { s.onReady = fn }
func (s *Subscriber) OnError(fn func(error))                { s.onError = fn }
func (s *Subscriber) OnReconnect(fn func(attempt int))      { s.onReconnect = fn }

// newBackoff builds the reconnect delay policy: min(base*2^(attempt-1), 60s),
// via cenkalti/backoff's ExponentialBackOff rather than a hand-rolled
// formula. RandomizationFactor is left at zero because jitter is added
// separately by jitter(), as a flat random(0,1s) term rather than a
// percentage of the current interval.
func (s *Subscriber) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.BaseBackoff
	b.Multiplier = 2
	b.MaxInterval = 60 * time.Second
	b.MaxElapsedTime = 0 // attempt count is bounded separately, not elapsed time
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

func jitter() time.Duration {
	return time.Duration(rand.Int63n(int64(time.Second)))
}

// Run holds the subscription open until ctx is cancelled, reconnecting on
// any stream error per the configured backoff policy. It returns nil on
// clean cancellation, or the terminal error once MaxReconnectAttempts is
// exceeded.
func (s *Subscriber) Run(ctx context.Context) error {
	attempt := 0
	policy := s.newBackoff()

	for {
		if ctx.Err() != nil {
			return nil
		}

		reachedReady, err := s.connectOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if reachedReady {
			attempt = 0
			policy.Reset()
		}
		if err == nil {
			err = fmt.Errorf("subscriber: stream ended")
		}

		attempt++
		if s.cfg.MaxReconnectAttempts > 0 && attempt > s.cfg.MaxReconnectAttempts {
			wrapped := fmt.Errorf("subscriber: giving up after %d attempts: %w", attempt-1, err)
			s.emitError(wrapped)
			return wrapped
		}

		s.emitError(err)
		delay := policy.NextBackOff() + jitter()
		if s.onReconnect != nil {
			s.onReconnect(attempt)
		}
		s.log.Debug("subscriber: reconnecting in %s (attempt %d)", delay, attempt)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// connectOnce opens one subscription and processes it until it ends or ctx
// is cancelled. The first return value reports whether the stream got far
// enough to reach onReady (end of initial snapshot), which Run uses to
// decide whether to reset the reconnect-attempt counter.
func (s *Subscriber) connectOnce(ctx context.Context) (bool, error) {
	id := uuid.NewString()
	body, err := json.Marshal(map[string]string{"id": id, "query": defaultQuery})
	if err != nil {
		return false, fmt.Errorf("subscriber: encoding subscription request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.APIBase+"/v1/subscriptions", bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("subscriber: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("subscriber: connecting: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("subscriber: subscription request returned %s", resp.Status)
	}

	reader := substream.NewReader(resp.Body)
	ready := false
	for {
		if ctx.Err() != nil {
			return ready, nil
		}
		msg, err := reader.Next()
		if err == io.EOF {
			return ready, fmt.Errorf("subscriber: stream closed by server")
		}
		if err != nil {
			return ready, fmt.Errorf("subscriber: decoding stream: %w", err)
		}

		switch msg.Kind {
		case substream.KindColumns:
			// Fixed indices are used; the header is only a sanity signal.
		case substream.KindRow:
			s.applyRow(msg.Row.Values)
		case substream.KindChange:
			s.applyChange(msg.Change)
		case substream.KindEOQ:
			if !ready {
				ready = true
				if s.onReady != nil {
					s.onReady()
				}
			}
		}
	}
}

func (s *Subscriber) applyRow(values []interface{}) {
	rec, ok := rowToRecord(values)
	if !ok {
		s.log.Warn("subscriber: discarding malformed row")
		return
	}
	if s.onUpsert != nil {
		s.onUpsert(rec)
	}
}

func (s *Subscriber) applyChange(c substream.ChangeMessage) {
	switch c.Op {
	case substream.OpDelete:
		id, ok := stringValue(c.Values, 0)
		if !ok {
			s.log.Warn("subscriber: discarding malformed delete change")
			return
		}
		if s.onDelete != nil {
			s.onDelete(id)
		}
	case substream.OpInsert, substream.OpUpdate:
		rec, ok := rowToRecord(c.Values)
		if !ok {
			s.log.Warn("subscriber: discarding malformed %s change", c.Op)
			return
		}
		if s.onUpsert != nil {
			s.onUpsert(rec)
		}
	default:
		s.log.Warn("subscriber: unknown change op %q", c.Op)
	}
}

func (s *Subscriber) emitError(err error) {
	s.log.Debug("subscriber: %v", err)
	if s.onError != nil {
		s.onError(err)
	}
}

func stringValue(values []interface{}, idx int) (string, bool) {
	if idx >= len(values) {
		return "", false
	}
	v, ok := values[idx].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// rowToRecord maps a row/change values slice into a serviceindex.Record,
// rejecting it when any required string field is missing or the IP fails
// strict validation.
func rowToRecord(values []interface{}) (serviceindex.Record, bool) {
	if len(values) < columnCount {
		return serviceindex.Record{}, false
	}

	id, ok := stringValue(values, colID)
	if !ok {
		return serviceindex.Record{}, false
	}
	service, ok := stringValue(values, colService)
	if !ok {
		return serviceindex.Record{}, false
	}
	serverID, ok := stringValue(values, colServerID)
	if !ok {
		return serviceindex.Record{}, false
	}
	ip, ok := stringValue(values, colIP)
	if !ok {
		return serviceindex.Record{}, false
	}
	project, ok := stringValue(values, colProject)
	if !ok {
		return serviceindex.Record{}, false
	}
	if _, err := dnswire.ParseIPv4(ip); err != nil {
		return serviceindex.Record{}, false
	}

	healthStatus, _ := values[colHealthStatus].(string)
	startedAt := numberValue(values, colStartedAt)
	instanceID, _ := values[colInstanceID].(string)

	return serviceindex.Record{
		ContainerID: id,
		Service:     service,
		Project:     project,
		ServerID:    serverID,
		IP:          ip,
		Healthy:     healthStatus == "healthy",
		StartedAt:   startedAt,
		InstanceID:  instanceID,
	}, true
}

func numberValue(values []interface{}, idx int) int64 {
	if idx >= len(values) {
		return 0
	}
	switch v := values[idx].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	default:
		return 0
	}
}
