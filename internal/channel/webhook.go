// Package channel is the engine's HTTP surface: the gateway webhook
// ingest endpoint, the real-time websocket hub and the server that mounts
// them.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"chatinbox/internal/bus"
	"chatinbox/internal/domain"
	"chatinbox/internal/httpx"
	"chatinbox/internal/metrics"
	"chatinbox/internal/router"
	"chatinbox/internal/webhook"
)

// MaxBodyBytes caps a webhook request body.
const MaxBodyBytes = 1 << 20

// Ingest modes.
const (
	ModeSync  = "sync"
	ModeQueue = "queue"
)

// EventHandler processes one envelope for a tenant.
type EventHandler interface {
	Handle(ctx context.Context, tenant domain.Tenant, env domain.RawEventEnvelope) router.Result
}

// IngestConfig configures the webhook ingest endpoint. A nil Queue
// processes deliveries inside the request.
type IngestConfig struct {
	Tenants domain.TenantDirectory
	Handler EventHandler
	Queue   *bus.Queue
	Logger  *slog.Logger
}

// Ingest accepts gateway webhook deliveries at POST {path}/{tenant}.
type Ingest struct {
	tenants domain.TenantDirectory
	handler EventHandler
	queue   *bus.Queue
	logger  *slog.Logger
}

func NewIngest(cfg IngestConfig) *Ingest {
	return &Ingest{
		tenants: cfg.Tenants,
		handler: cfg.Handler,
		queue:   cfg.Queue,
		logger:  cfg.Logger,
	}
}

// Mode reports whether deliveries are handled inline or queued.
func (in *Ingest) Mode() string {
	if in.queue != nil {
		return ModeQueue
	}
	return ModeSync
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (in *Ingest) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	tenantID := r.PathValue("tenant")
	tenant, ok := in.tenants.Tenant(tenantID)
	if !ok {
		http.Error(rw, "Unknown tenant", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(rw, "Payload Too Large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if tenant.WebhookSecret != "" {
		sig := r.Header.Get(httpx.SignatureHeader)
		if sig == "" {
			http.Error(rw, "Missing signature", http.StatusUnauthorized)
			return
		}
		if !httpx.VerifySignature(body, tenant.WebhookSecret, sig) {
			http.Error(rw, "Invalid signature", http.StatusForbidden)
			return
		}
	}

	env, err := webhook.ParseEnvelope(body)
	if err != nil {
		http.Error(rw, "Invalid envelope", http.StatusBadRequest)
		return
	}

	in.logger.Debug("webhook received", "tenant", tenant.ID, "type", env.Type, "bytes", len(body))

	if in.queue == nil {
		res := in.handler.Handle(r.Context(), tenant, env)
		writeJSON(rw, http.StatusOK, res)
		return
	}

	err = in.queue.Publish(r.Context(), bus.Delivery{Tenant: tenant, Envelope: env, Received: time.Now().UTC()})
	metrics.IngestQueueDepth.Set(int64(in.queue.Len()))
	switch {
	case err == nil:
		writeJSON(rw, http.StatusAccepted, map[string]string{"status": "accepted"})
	case errors.Is(err, bus.ErrQueueFull), errors.Is(err, bus.ErrQueueClosed):
		in.logger.Warn("webhook rejected", "tenant", tenant.ID, "err", err)
		rw.Header().Set("Retry-After", "5")
		http.Error(rw, "Service Unavailable", http.StatusServiceUnavailable)
	default:
		http.Error(rw, "Request cancelled", http.StatusServiceUnavailable)
	}
}

// Process handles a queued delivery. It is the queue worker callback.
func (in *Ingest) Process(ctx context.Context, d bus.Delivery) {
	metrics.IngestQueueDepth.Set(int64(in.queue.Len()))
	res := in.handler.Handle(ctx, d.Tenant, d.Envelope)
	if failed := res.Failed(); len(failed) > 0 || !res.Handled {
		in.logger.Info("delivery processed",
			"tenant", d.Tenant.ID,
			"type", res.EventType,
			"handled", res.Handled,
			"reason", res.Reason,
			"failed_steps", len(failed),
			"queued_for", time.Since(d.Received),
		)
	}
}
