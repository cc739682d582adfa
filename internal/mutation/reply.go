package mutation

import (
	"context"
	"log/slog"

	"chatinbox/internal/domain"
)

// ReplyLinker maps a quoted wire id to the internal id of the stored
// message it refers to.
type ReplyLinker struct {
	messages domain.MessageStore
	logger   *slog.Logger
}

// NewReplyLinker creates a ReplyLinker.
func NewReplyLinker(messages domain.MessageStore, logger *slog.Logger) *ReplyLinker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReplyLinker{messages: messages, logger: logger}
}

// Link returns the internal id of the quoted message, or "" when there is
// no quote, the quoted message is unknown, or the lookup fails.
func (l *ReplyLinker) Link(ctx context.Context, conversationID, quotedWireID string) string {
	if quotedWireID == "" {
		return ""
	}
	msg, err := l.messages.FindMessageByWireID(ctx, conversationID, quotedWireID)
	if err != nil {
		l.logger.Warn("reply lookup failed", "conversation", conversationID, "quoted", quotedWireID, "err", err)
		return ""
	}
	if msg == nil {
		return ""
	}
	return msg.ID
}
