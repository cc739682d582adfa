package channel

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"chatinbox/internal/domain"
)

func dialHub(t *testing.T, srv *httptest.Server, tenant string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?tenant=" + tenant
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	var hello Frame
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatal(err)
	}
	if hello.Type != FrameHello || hello.TenantID != tenant {
		t.Fatalf("unexpected hello: %+v", hello)
	}
	return conn
}

func waitClients(t *testing.T, hub *Hub, tenant string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount(tenant) != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients for %q, got %d", n, tenant, hub.ClientCount(tenant))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHub_TenantScopedBroadcast(t *testing.T) {
	hub := NewHub(HubConfig{Tenants: testTenants, Logger: testLogger()})
	srv := httptest.NewServer(NewServer(ServerConfig{Ingest: NewIngest(IngestConfig{Tenants: testTenants, Logger: testLogger()}), Hub: hub, Logger: testLogger()}).Handler())
	defer srv.Close()
	defer hub.Close()

	open := dialHub(t, srv, "open")
	signed := dialHub(t, srv, "signed")
	waitClients(t, hub, "", 2)

	msg := domain.PersistedMessage{ID: "m1", NormalizedMessage: domain.NormalizedMessage{Kind: domain.KindText, Text: "hi"}}
	if err := hub.BroadcastNewMessage(context.Background(), "open", "c1", msg, domain.BroadcastOptions{IsMuted: true}); err != nil {
		t.Fatal(err)
	}

	var f Frame
	open.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := open.ReadJSON(&f); err != nil {
		t.Fatal(err)
	}
	if f.Type != FrameNewMessage || f.ConversationID != "c1" || !f.Muted {
		t.Errorf("unexpected frame: %+v", f)
	}
	data, _ := f.Data.(map[string]any)
	if data["id"] != "m1" || data["textContent"] != "hi" {
		t.Errorf("unexpected frame data: %v", f.Data)
	}

	signed.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if err := signed.ReadJSON(&f); err == nil {
		t.Errorf("other tenant received %+v", f)
	}
}

func TestHub_ConversationUpdateCarriesID(t *testing.T) {
	hub := NewHub(HubConfig{Tenants: testTenants, Logger: testLogger()})
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?tenant=open"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	var f Frame
	conn.ReadJSON(&f)
	waitClients(t, hub, "open", 1)

	hub.BroadcastConversationUpdate(context.Background(), "open", domain.ConversationUpdate{"id": "c9", "presence": "composing"})
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatal(err)
	}
	if f.Type != FrameConversationUpdate || f.ConversationID != "c9" {
		t.Errorf("unexpected frame: %+v", f)
	}
}

func TestHub_UnknownTenantRejected(t *testing.T) {
	hub := NewHub(HubConfig{Tenants: testTenants, Logger: testLogger()})
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?tenant=ghost"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != 404 {
		t.Errorf("unexpected response: %+v", resp)
	}
}
