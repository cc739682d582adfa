package domain

import "context"

// Relay event types emitted to outgoing webhooks.
const (
	RelayMessageReceived = "message.received"
	RelayMessageSent     = "message.sent"
	RelayMessageUpdated  = "message.updated"
	RelayMessageStatus   = "message.status"
	RelaySessionStatus   = "session.status"
	RelayGroupUpdated    = "group.updated"
)

// Relay forwards engine events to tenant-configured outgoing webhooks.
type Relay interface {
	SendEvent(ctx context.Context, tenantID, eventType string, payload any) error
}
