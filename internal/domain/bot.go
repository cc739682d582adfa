package domain

import (
	"context"
	"time"
)

// QuotaType names a metered bot resource.
type QuotaType string

const (
	QuotaBotCalls    QuotaType = "bot_calls"
	QuotaBotMessages QuotaType = "bot_messages"
)

// QuotaGate is a quota decision. It is consumed, never mutated, by the engine.
type QuotaGate struct {
	Allowed   bool      `json:"allowed"`
	QuotaType QuotaType `json:"quotaType"`
	Usage     int64     `json:"usage"`
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
	ResetsAt  time.Time `json:"resetsAt"`
}

// BotAction is what a bot asks the engine to do after forwarding.
type BotAction string

const (
	BotActionNone  BotAction = "none"
	BotActionReply BotAction = "reply"
)

// BotReply is the bot collaborator's answer to a forwarded message.
type BotReply struct {
	Action     BotAction `json:"action"`
	Content    string    `json:"content,omitempty"`
	TokensUsed int       `json:"tokensUsed,omitempty"`
}

// BotContext carries routing context alongside a forwarded message.
type BotContext struct {
	TenantID  string `json:"tenantId"`
	EventType string `json:"eventType"`
	PushName  string `json:"pushName,omitempty"`
}

// BotAutomation is the bot and quota collaborator.
type BotAutomation interface {
	CheckCallQuota(ctx context.Context, tenantID string) (QuotaGate, error)
	IncrementCallUsage(ctx context.Context, tenantID string) error
	Forward(ctx context.Context, botID string, msg PersistedMessage, conv Conversation, bc BotContext) (*BotReply, error)
	CheckMessageQuota(ctx context.Context, tenantID string) (QuotaGate, error)
	IncrementMessageUsage(ctx context.Context, tenantID string) error
}
