package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"chatinbox/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{APIBase: srv.URL, Timeout: 2 * time.Second, RateLimitPerMinute: 6000, MaxRetries: 1, Logger: testLogger()})
}

func TestResolveLinkedDeviceID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user/lid/123" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get(TokenHeader) != "tok" {
			t.Errorf("missing token header")
		}
		w.Write([]byte(`{"code":200,"data":{"phone":"5511977776666@s.whatsapp.net"}}`))
	})
	id, err := c.ResolveLinkedDeviceID(context.Background(), "123", "tok")
	if err != nil {
		t.Fatal(err)
	}
	if id != "5511977776666" {
		t.Errorf("unexpected id %q", id)
	}
}

func TestResolveLinkedDeviceID_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	id, err := c.ResolveLinkedDeviceID(context.Background(), "123", "tok")
	if err != nil || id != "" {
		t.Errorf("expected empty answer, got %q, %v", id, err)
	}
}

func TestFetchGroupName(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("groupJID"); got != "1203@g.us" {
			t.Errorf("unexpected group %q", got)
		}
		w.Write([]byte(`{"data":{"JID":"1203@g.us","Name":" Family "}}`))
	})
	name, err := c.FetchGroupName(context.Background(), "1203@g.us", "tok")
	if err != nil {
		t.Fatal(err)
	}
	if name != "Family" {
		t.Errorf("unexpected name %q", name)
	}
}

func TestFetchGroupName_ServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	if _, err := c.FetchGroupName(context.Background(), "1203@g.us", "bad"); err == nil {
		t.Error("expected error on 401")
	}
}

func TestSendText(t *testing.T) {
	var got sendTextRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/chat/send/text" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"success":true}`))
	})
	err := c.SendText(context.Background(), domain.Tenant{ID: "t1", GatewayToken: "tok"}, "5511@s.whatsapp.net", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if got.Phone != "5511" || got.Body != "hello" {
		t.Errorf("unexpected request %+v", got)
	}
}

func TestNoBase(t *testing.T) {
	c := New(Config{Logger: testLogger()})
	if _, err := c.FetchGroupName(context.Background(), "x@g.us", ""); err == nil {
		t.Error("expected error without api base")
	}
}
