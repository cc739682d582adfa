package bot

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"chatinbox/internal/domain"
	"chatinbox/internal/httpx"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestLoadRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bots.yaml")
	content := `
- id: support
  url: http://bots.local/support
  secret: abc
  timeoutSeconds: 5
- id: ""
  url: http://bots.local/nameless
- id: sales
  url: http://bots.local/sales
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := LoadRegistry(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	ids := r.IDs()
	if len(ids) != 2 || ids[0] != "sales" || ids[1] != "support" {
		t.Fatalf("unexpected ids: %v", ids)
	}
	d, _ := r.Get("support")
	if d.Timeout() != 5*time.Second || d.Secret != "abc" {
		t.Errorf("unexpected definition: %+v", d)
	}
	d, _ = r.Get("sales")
	if d.Timeout() != DefaultTimeout {
		t.Errorf("expected default timeout, got %v", d.Timeout())
	}
}

func TestLoadRegistry_MissingFile(t *testing.T) {
	r, err := LoadRegistry(filepath.Join(t.TempDir(), "nope.yaml"), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if len(r.IDs()) != 0 {
		t.Error("expected empty registry")
	}
}

func TestLoadRegistry_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bots.yaml")
	os.WriteFile(path, []byte("id: [unterminated"), 0o644)
	if _, err := LoadRegistry(path, testLogger()); err == nil {
		t.Fatal("expected parse error")
	}
}

type countingLedger struct {
	gate      domain.QuotaGate
	increment map[domain.QuotaType]int
}

func (l *countingLedger) Check(_ context.Context, _ string, qt domain.QuotaType) (domain.QuotaGate, error) {
	g := l.gate
	g.QuotaType = qt
	return g, nil
}

func (l *countingLedger) Increment(_ context.Context, _ string, qt domain.QuotaType) error {
	if l.increment == nil {
		l.increment = map[domain.QuotaType]int{}
	}
	l.increment[qt]++
	return nil
}

func TestService_QuotaMethodsUseQuotaTypes(t *testing.T) {
	ledger := &countingLedger{gate: domain.QuotaGate{Allowed: true}}
	s := NewService(ServiceConfig{Ledger: ledger, Logger: testLogger()})
	ctx := context.Background()

	g, _ := s.CheckCallQuota(ctx, "t1")
	if g.QuotaType != domain.QuotaBotCalls {
		t.Errorf("call quota type = %s", g.QuotaType)
	}
	g, _ = s.CheckMessageQuota(ctx, "t1")
	if g.QuotaType != domain.QuotaBotMessages {
		t.Errorf("message quota type = %s", g.QuotaType)
	}
	s.IncrementCallUsage(ctx, "t1")
	s.IncrementMessageUsage(ctx, "t1")
	s.IncrementMessageUsage(ctx, "t1")
	if ledger.increment[domain.QuotaBotCalls] != 1 || ledger.increment[domain.QuotaBotMessages] != 2 {
		t.Errorf("unexpected increments: %v", ledger.increment)
	}
}

func TestService_Forward(t *testing.T) {
	var (
		got forwardRequest
		sig string
		raw []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ = io.ReadAll(r.Body)
		sig = r.Header.Get(httpx.SignatureHeader)
		json.Unmarshal(raw, &got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"action":"reply","content":"Hello!","tokensUsed":42}`))
	}))
	defer srv.Close()

	s := NewService(ServiceConfig{
		Registry: NewRegistry(Definition{ID: "b1", URL: srv.URL, Secret: "k"}),
		Ledger:   &countingLedger{},
		Logger:   testLogger(),
	})

	msg := domain.PersistedMessage{ID: "m1", NormalizedMessage: domain.NormalizedMessage{Kind: domain.KindText, Text: "hi"}}
	conv := domain.Conversation{ID: "c1", ContactID: "5511@s.whatsapp.net"}
	reply, err := s.Forward(context.Background(), "b1", msg, conv, domain.BotContext{TenantID: "t1", EventType: "message"})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Action != domain.BotActionReply || reply.Content != "Hello!" || reply.TokensUsed != 42 {
		t.Errorf("unexpected reply: %+v", reply)
	}
	if got.BotID != "b1" || got.TenantID != "t1" || got.Message.ID != "m1" || got.Conversation.ID != "c1" {
		t.Errorf("unexpected request: %+v", got)
	}
	if !httpx.VerifySignature(raw, "k", sig) {
		t.Error("bot request not signed")
	}
}

func TestService_ForwardEmptyResponseMeansNone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewService(ServiceConfig{Registry: NewRegistry(Definition{ID: "b1", URL: srv.URL}), Ledger: &countingLedger{}, Logger: testLogger()})
	reply, err := s.Forward(context.Background(), "b1", domain.PersistedMessage{}, domain.Conversation{}, domain.BotContext{})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Action != domain.BotActionNone {
		t.Errorf("action = %q", reply.Action)
	}
}

func TestService_ForwardErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewService(ServiceConfig{Registry: NewRegistry(Definition{ID: "b1", URL: srv.URL}), Ledger: &countingLedger{}, Logger: testLogger()})
	if _, err := s.Forward(context.Background(), "missing", domain.PersistedMessage{}, domain.Conversation{}, domain.BotContext{}); err == nil {
		t.Error("expected unknown bot error")
	}
	if _, err := s.Forward(context.Background(), "b1", domain.PersistedMessage{}, domain.Conversation{}, domain.BotContext{}); err == nil {
		t.Error("expected status error")
	}
}
