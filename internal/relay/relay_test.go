package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"chatinbox/internal/bus"
	"chatinbox/internal/domain"
	"chatinbox/internal/httpx"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type tenantMap map[string]domain.Tenant

func (m tenantMap) Tenant(id string) (domain.Tenant, bool) {
	t, ok := m[id]
	return t, ok
}

func TestDispatcher_EmitsToSinks(t *testing.T) {
	eb := bus.NewEventBus(testLogger())
	var got []bus.Event
	eb.On(domain.RelayMessageReceived, func(_ context.Context, e bus.Event) error {
		got = append(got, e)
		return nil
	})

	d := NewDispatcher(eb, testLogger())
	if err := d.SendEvent(context.Background(), "t1", domain.RelayMessageReceived, map[string]any{"text": "hi"}); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if got[0].ID == "" || got[0].TenantID != "t1" || got[0].Timestamp.IsZero() {
		t.Errorf("unexpected event: %+v", got[0])
	}
}

func TestDispatcher_ReturnsSinkError(t *testing.T) {
	eb := bus.NewEventBus(testLogger())
	eb.On("*", func(context.Context, bus.Event) error { return errors.New("down") })

	d := NewDispatcher(eb, testLogger())
	if err := d.SendEvent(context.Background(), "t1", domain.RelayMessageSent, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestHTTPSink_PostsSignedEnvelope(t *testing.T) {
	var (
		body []byte
		sig  string
		kind string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		sig = r.Header.Get(httpx.SignatureHeader)
		kind = r.Header.Get("X-Event-Type")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewHTTPSink(HTTPSinkConfig{
		Tenants: tenantMap{"t1": {ID: "t1", RelayURL: srv.URL, RelaySecret: "s3cret"}},
		Logger:  testLogger(),
	})
	e := bus.Event{ID: "ev-1", Type: domain.RelayMessageReceived, TenantID: "t1", Payload: map[string]string{"a": "b"}, Timestamp: time.Now()}
	if err := sink.Handle(context.Background(), e); err != nil {
		t.Fatal(err)
	}

	if !httpx.VerifySignature(body, "s3cret", sig) {
		t.Error("signature did not verify")
	}
	if kind != domain.RelayMessageReceived {
		t.Errorf("X-Event-Type = %q", kind)
	}
	var env struct {
		ID       string            `json:"id"`
		TenantID string            `json:"tenantId"`
		Event    string            `json:"event"`
		Data     map[string]string `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatal(err)
	}
	if env.ID != "ev-1" || env.TenantID != "t1" || env.Event != domain.RelayMessageReceived || env.Data["a"] != "b" {
		t.Errorf("unexpected envelope: %+v", env)
	}
}

func TestHTTPSink_SkipsTenantWithoutURL(t *testing.T) {
	sink := NewHTTPSink(HTTPSinkConfig{Tenants: tenantMap{"t1": {ID: "t1"}}, Logger: testLogger()})
	if err := sink.Handle(context.Background(), bus.Event{TenantID: "t1"}); err != nil {
		t.Fatal(err)
	}
	if err := sink.Handle(context.Background(), bus.Event{TenantID: "unknown"}); err != nil {
		t.Fatal(err)
	}
}

func TestHTTPSink_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewHTTPSink(HTTPSinkConfig{
		Tenants:    tenantMap{"t1": {ID: "t1", RelayURL: srv.URL}},
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
		Logger:     testLogger(),
	})
	if err := sink.Handle(context.Background(), bus.Event{ID: "x", TenantID: "t1", Type: "message.sent"}); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestHTTPSink_ClientErrorFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	sink := NewHTTPSink(HTTPSinkConfig{Tenants: tenantMap{"t1": {ID: "t1", RelayURL: srv.URL}}, Logger: testLogger()})
	err := sink.Handle(context.Background(), bus.Event{ID: "x", TenantID: "t1"})
	var se *httpx.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 StatusError, got %v", err)
	}
}

type fakeChannel struct {
	mu        sync.Mutex
	published []amqp.Publishing
	keys      []string
	fail      bool
	closed    bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("channel closed")
	}
	f.keys = append(f.keys, exchange+"/"+key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestAMQPSink_PublishesPersistentMessage(t *testing.T) {
	ch := &fakeChannel{}
	sink := NewAMQPSink(AMQPSinkConfig{URL: "amqp://unused", Logger: testLogger()})
	sink.open = func() (publisher, error) { return ch, nil }

	e := bus.Event{ID: "ev-9", Type: domain.RelayMessageUpdated, TenantID: "acme", Payload: "x", Timestamp: time.Now()}
	if err := sink.Handle(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	if len(ch.published) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(ch.published))
	}
	if ch.keys[0] != DefaultExchange+"/acme."+domain.RelayMessageUpdated {
		t.Errorf("routing = %q", ch.keys[0])
	}
	msg := ch.published[0]
	if msg.DeliveryMode != amqp.Persistent || msg.MessageId != "ev-9" || msg.ContentType != "application/json" {
		t.Errorf("unexpected publishing: %+v", msg)
	}
}

func TestAMQPSink_ReopensAfterFailure(t *testing.T) {
	first := &fakeChannel{fail: true}
	second := &fakeChannel{}
	opened := 0
	sink := NewAMQPSink(AMQPSinkConfig{Exchange: "ex", Logger: testLogger()})
	sink.open = func() (publisher, error) {
		opened++
		if opened == 1 {
			return first, nil
		}
		return second, nil
	}

	e := bus.Event{ID: "1", Type: "message.sent", TenantID: "t"}
	if err := sink.Handle(context.Background(), e); err == nil {
		t.Fatal("expected first publish to fail")
	}
	if !first.closed {
		t.Error("failed channel should be closed")
	}
	if err := sink.Handle(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	if opened != 2 || len(second.published) != 1 {
		t.Errorf("opened=%d published=%d", opened, len(second.published))
	}
}

func TestAMQPSink_DialErrorSurfaces(t *testing.T) {
	sink := NewAMQPSink(AMQPSinkConfig{Logger: testLogger()})
	sink.open = func() (publisher, error) { return nil, errors.New("refused") }
	if err := sink.Handle(context.Background(), bus.Event{}); err == nil {
		t.Fatal("expected dial error")
	}
}
