// Package relay forwards engine events to tenant-configured destinations.
// Events are emitted on a bus.EventBus; each sink (HTTP webhook, AMQP
// exchange) is a handler on that bus.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"chatinbox/internal/bus"
	"chatinbox/internal/domain"
)

// Envelope is the JSON body every sink delivers.
type Envelope struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// NewEnvelope wraps a bus event for delivery.
func NewEnvelope(e bus.Event) Envelope {
	return Envelope{ID: e.ID, TenantID: e.TenantID, Event: e.Type, Timestamp: e.Timestamp, Data: e.Payload}
}

func (e Envelope) encode() ([]byte, error) {
	return json.Marshal(e)
}

// Dispatcher implements domain.Relay on top of an EventBus.
type Dispatcher struct {
	bus    *bus.EventBus
	logger *slog.Logger
}

var _ domain.Relay = (*Dispatcher)(nil)

func NewDispatcher(eb *bus.EventBus, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{bus: eb, logger: logger}
}

// SendEvent emits an event to every registered sink. Sink failures are
// joined into the returned error.
func (d *Dispatcher) SendEvent(ctx context.Context, tenantID, eventType string, payload any) error {
	e := bus.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TenantID:  tenantID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	if err := d.bus.Emit(ctx, e); err != nil {
		d.logger.Warn("relay delivery failed", "tenant", tenantID, "event", eventType, "id", e.ID, "err", err)
		return err
	}
	return nil
}
