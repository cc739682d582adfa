package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSign_Verify(t *testing.T) {
	body := []byte(`{"type":"Message"}`)
	sig := Sign(body, "s3cret")
	if !VerifySignature(body, "s3cret", sig) {
		t.Error("valid signature should verify")
	}
	if VerifySignature(body, "other", sig) {
		t.Error("wrong secret should not verify")
	}
	if VerifySignature(body, "s3cret", "") {
		t.Error("empty signature should not verify")
	}
	if VerifySignature([]byte("tampered"), "s3cret", sig) {
		t.Error("tampered body should not verify")
	}
}

func TestDoWithRetry_RecoversFrom5xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := DoWithRetry(context.Background(), srv.Client(), RetryPolicy{BaseDelay: time.Millisecond},
		func() (*http.Request, error) { return http.NewRequest(http.MethodGet, srv.URL, nil) }, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestDoWithRetry_GivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := DoWithRetry(context.Background(), srv.Client(), RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond},
		func() (*http.Request, error) { return http.NewRequest(http.MethodGet, srv.URL, nil) }, testLogger())
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected StatusError 429, got %v", err)
	}
}

func TestDoWithRetry_4xxNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	resp, err := DoWithRetry(context.Background(), srv.Client(), RetryPolicy{BaseDelay: time.Millisecond},
		func() (*http.Request, error) { return http.NewRequest(http.MethodGet, srv.URL, nil) }, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound || calls != 1 {
		t.Errorf("expected a single 404, got %d after %d calls", resp.StatusCode, calls)
	}
}

func TestDoWithRetry_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := DoWithRetry(ctx, srv.Client(), RetryPolicy{BaseDelay: time.Hour},
		func() (*http.Request, error) { return http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil) }, testLogger())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestLimiter_ImmediateBurst(t *testing.T) {
	lim := NewLimiter(5, 60.0)
	for i := 0; i < 5; i++ {
		if !lim.Allow() {
			t.Fatalf("burst token %d refused", i)
		}
	}
	if lim.Allow() {
		t.Fatal("token granted beyond the burst")
	}
}

func TestLimiter_WaitsAfterBurst(t *testing.T) {
	lim := NewLimiter(1, 600.0) // 10/sec refill
	ctx := context.Background()
	if err := lim.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := lim.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("expected some wait time, got %v", elapsed)
	}
}

func TestLimiter_CancelledContext(t *testing.T) {
	lim := NewLimiter(1, 1.0)
	ctx, cancel := context.WithCancel(context.Background())
	if err := lim.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := lim.Wait(ctx); err == nil {
		t.Fatal("expected context cancelled error")
	}
}

func TestLimiter_DefaultValues(t *testing.T) {
	lim := NewLimiter(0, 0)
	if lim.Burst() != DefaultBurst {
		t.Fatalf("expected default burst=%d, got %d", DefaultBurst, lim.Burst())
	}
	if lim.Limit() != rate.Limit(2) {
		t.Fatalf("expected default 2/sec, got %v", lim.Limit())
	}
}
