package domain

import "context"

// BroadcastOptions carries per-message delivery hints for real-time clients.
type BroadcastOptions struct {
	IsMuted bool `json:"isMuted"`
}

// Broadcaster pushes real-time updates to connected inbox clients.
type Broadcaster interface {
	BroadcastNewMessage(ctx context.Context, tenantID, conversationID string, msg PersistedMessage, opts BroadcastOptions) error
	BroadcastMessageUpdate(ctx context.Context, tenantID, conversationID string, fields map[string]any) error
	BroadcastConversationUpdate(ctx context.Context, tenantID string, fields ConversationUpdate) error
}
