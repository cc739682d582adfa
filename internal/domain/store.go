package domain

import "context"

// ConversationStore persists conversations. Find methods return (nil, nil)
// when nothing matches.
type ConversationStore interface {
	FindConversation(ctx context.Context, tenantID, contactID string) (*Conversation, error)
	CreateConversation(ctx context.Context, tenantID, contactID, initialName string, source NameSource, isGroup bool) (*Conversation, error)
	UpdateConversationName(ctx context.Context, conversationID, name string, source NameSource) error
}

// MessageStore persists normalized messages.
type MessageStore interface {
	StoreMessage(ctx context.Context, conversationID, wireMessageID string, msg NormalizedMessage) (*PersistedMessage, error)
	UpdateMessage(ctx context.Context, id string, fields MessageFields) error
	FindMessageByWireID(ctx context.Context, conversationID, wireID string) (*PersistedMessage, error)
}

// Store is the full storage collaborator.
type Store interface {
	ConversationStore
	MessageStore
}
