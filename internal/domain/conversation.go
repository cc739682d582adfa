package domain

import "time"

// NameSource records where a conversation display name came from.
type NameSource string

const (
	NameSourceWebhook    NameSource = "webhook"
	NameSourceStored     NameSource = "stored"
	NameSourceGatewayAPI NameSource = "gateway_api"
	NameSourceFallback   NameSource = "fallback"
)

// Conversation is one contact or group thread of a tenant.
type Conversation struct {
	ID                 string     `json:"id"`
	TenantID           string     `json:"tenantId"`
	ContactID          string     `json:"contactId"`
	Name               string     `json:"name"`
	NameSource         NameSource `json:"nameSource"`
	IsGroup            bool       `json:"isGroup"`
	IsMuted            bool       `json:"isMuted"`
	BotID              string     `json:"botId,omitempty"`
	UnreadCount        int        `json:"unreadCount"`
	LastMessagePreview string     `json:"lastMessagePreview,omitempty"`
	LastMessageAt      time.Time  `json:"lastMessageAt"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// Identity returns the identity view of the conversation.
func (c Conversation) Identity() ConversationIdentity {
	return ConversationIdentity{
		ContactID:   c.ContactID,
		IsGroup:     c.IsGroup,
		DisplayName: c.Name,
		NameSource:  c.NameSource,
	}
}

// ConversationIdentity is the resolved identity of a conversation.
type ConversationIdentity struct {
	ContactID   string     `json:"contactId"`
	IsGroup     bool       `json:"isGroup"`
	DisplayName string     `json:"resolvedDisplayName"`
	NameSource  NameSource `json:"nameSource"`
}

// GroupNameResolution is the transient result of one group name resolution.
type GroupNameResolution struct {
	Name         string     `json:"name"`
	Source       NameSource `json:"source"`
	Updated      bool       `json:"updated"`
	PreviousName string     `json:"previousName,omitempty"`
}

// ConversationUpdate is the payload of a conversation broadcast.
type ConversationUpdate map[string]any
