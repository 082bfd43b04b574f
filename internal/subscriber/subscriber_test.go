package subscriber

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/acidtib/jiji/internal/output"
	"github.com/acidtib/jiji/internal/serviceindex"
)

func discardLogger() *output.Logger {
	return output.NewLogger(discardWriter{}, discardWriter{}, false)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestRowToRecord_ValidRow(t *testing.T) {
	values := []interface{}{"c1", "web", "srv-a", "10.0.0.5", "healthy", float64(1000), "", "casa"}
	rec, ok := rowToRecord(values)
	if !ok {
		t.Fatalf("expected valid row")
	}
	if rec.ContainerID != "c1" || rec.Service != "web" || rec.ServerID != "srv-a" ||
		rec.IP != "10.0.0.5" || !rec.Healthy || rec.StartedAt != 1000 || rec.Project != "casa" {
		t.Fatalf("rec = %+v", rec)
	}
}

func TestRowToRecord_UnhealthyStatus(t *testing.T) {
	values := []interface{}{"c1", "web", "srv-a", "10.0.0.5", "starting", float64(1000), "", "casa"}
	rec, ok := rowToRecord(values)
	if !ok || rec.Healthy {
		t.Fatalf("expected parsed-but-unhealthy row, got %+v ok=%v", rec, ok)
	}
}

func TestRowToRecord_RejectsMalformedIP(t *testing.T) {
	values := []interface{}{"c1", "web", "srv-a", "10.0.0.300", "healthy", float64(1000), "", "casa"}
	if _, ok := rowToRecord(values); ok {
		t.Fatalf("expected rejection for out-of-range octet")
	}
}

func TestRowToRecord_RejectsMissingRequiredField(t *testing.T) {
	values := []interface{}{"", "web", "srv-a", "10.0.0.5", "healthy", float64(1000), "", "casa"}
	if _, ok := rowToRecord(values); ok {
		t.Fatalf("expected rejection for empty container id")
	}
}

func TestRowToRecord_RejectsShortTuple(t *testing.T) {
	if _, ok := rowToRecord([]interface{}{"c1"}); ok {
		t.Fatalf("expected rejection for short values tuple")
	}
}

func TestSubscriber_FullLifecycle(t *testing.T) {
	body := `{"columns":["id","service","server_id","ip","health_status","started_at","instance_id","project"]}
{"row":[0,["c1","web","srv-a","10.0.0.5","healthy",1000,"","casa"]]}
{"eoq":{"time":1.0,"change_id":1}}
{"change":["insert",1,["c2","web","srv-b","10.0.0.6","healthy",2000,"","casa"],2]}
{"change":["delete",2,["c1"],3]}
`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/subscriptions" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	idx := serviceindex.New()
	sub := New(Config{APIBase: srv.URL}, discardLogger())

	var mu sync.Mutex
	var readyCount int
	sub.OnUpsert(func(r serviceindex.Record) {
		mu.Lock()
		defer mu.Unlock()
		idx.Set(r)
	})
	sub.OnDelete(func(id string) {
		mu.Lock()
		defer mu.Unlock()
		idx.Remove(id)
	})
	sub.OnReady(func() {
		mu.Lock()
		defer mu.Unlock()
		readyCount++
	})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		sub.Run(ctx)
		close(done)
	}()

	deadline := time.After(400 * time.Millisecond)
	for {
		mu.Lock()
		ips := idx.Get("casa-web")
		ready := readyCount
		mu.Unlock()
		if ready > 0 && len(ips) == 1 && ips[0] == "10.0.0.6" {
			cancel()
			<-done
			return
		}
		select {
		case <-deadline:
			t.Fatalf("did not converge: ready=%d ips=%v", ready, ips)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSubscriber_ReconnectsAfterStreamEnds(t *testing.T) {
	var hits int
	var mu sync.Mutex

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"eoq":{"time":0,"change_id":0}}`+"\n")
	}))
	defer srv.Close()

	sub := New(Config{APIBase: srv.URL, BaseBackoff: 10 * time.Millisecond}, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	sub.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	if hits < 2 {
		t.Fatalf("expected multiple reconnect attempts, got %d", hits)
	}
}

func TestSubscriber_StopsAfterMaxReconnectAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sub := New(Config{APIBase: srv.URL, BaseBackoff: time.Millisecond, MaxReconnectAttempts: 2}, discardLogger())

	var lastErr error
	sub.OnError(func(err error) { lastErr = err })

	err := sub.Run(context.Background())
	if err == nil {
		t.Fatalf("expected terminal error after exhausting reconnect attempts")
	}
	if lastErr == nil {
		t.Fatalf("expected onError to have fired")
	}
}
