package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestShutdown_ClosesInReverseOrder(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig(), nil)

	var order []string
	for _, name := range []string{"catalog", "http", "grpc"} {
		name := name
		sm.RegisterCloser(CloserFunc(func() error {
			order = append(order, name)
			return nil
		}))
	}

	if err := sm.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if got := strings.Join(order, ","); got != "grpc,http,catalog" {
		t.Errorf("closers ran in order %s", got)
	}

	// A second call is a no-op.
	if err := sm.Shutdown(context.Background(), "again"); err != nil {
		t.Errorf("second Shutdown returned %v", err)
	}
	if len(order) != 3 {
		t.Errorf("closers should run once, ran %d times", len(order))
	}
	select {
	case <-sm.Done():
	default:
		t.Error("Done should be closed after shutdown")
	}
}

func TestShutdown_ReportsCloseError(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig(), nil)
	boom := errors.New("boom")
	sm.RegisterCloser(CloserFunc(func() error { return boom }))

	if err := sm.Shutdown(context.Background(), "test"); !errors.Is(err, boom) {
		t.Errorf("expected close error, got %v", err)
	}
}

func TestShutdown_WaitsForInFlight(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{ShutdownTimeout: 5 * time.Second, DrainTimeout: 5 * time.Second}, nil)
	if !sm.TrackRequest() {
		t.Fatal("request should be tracked before shutdown")
	}

	var closedAfterDrain bool
	sm.RegisterCloser(CloserFunc(func() error {
		closedAfterDrain = sm.InFlightCount() == 0
		return nil
	}))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(200 * time.Millisecond)
		sm.UntrackRequest()
	}()

	if err := sm.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	wg.Wait()
	if !closedAfterDrain {
		t.Error("closers should run after in-flight requests drain")
	}
}

func TestShutdown_DrainTimeout(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{ShutdownTimeout: time.Second, DrainTimeout: 150 * time.Millisecond}, nil)
	sm.TrackRequest()

	err := sm.Shutdown(context.Background(), "test")
	if err == nil || !strings.Contains(err.Error(), "1 in-flight") {
		t.Errorf("expected drain timeout, got %v", err)
	}
}

func TestShutdownMiddleware(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig(), nil)
	var inside int64
	h := ShutdownMiddleware(sm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inside = sm.InFlightCount()
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNoContent || inside != 1 {
		t.Errorf("request should be tracked while served: code=%d inside=%d", rec.Code, inside)
	}
	if sm.InFlightCount() != 0 {
		t.Errorf("request should be untracked afterwards, got %d", sm.InFlightCount())
	}

	sm.Shutdown(context.Background(), "test")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("requests during shutdown should get 503, got %d", rec.Code)
	}
}

func TestListenForSignals_ContextCancel(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig(), nil)
	closed := false
	sm.RegisterCloser(CloserFunc(func() error {
		closed = true
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sm.ListenForSignals(ctx); err != nil {
		t.Fatalf("ListenForSignals returned %v", err)
	}
	if !closed || !sm.IsShuttingDown() {
		t.Error("context cancellation should shut down")
	}
}
