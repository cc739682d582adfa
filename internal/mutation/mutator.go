// Package mutation applies edit and delete protocol messages to stored
// messages and links replies to the messages they quote.
package mutation

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"chatinbox/internal/domain"
)

// Tombstone replaces the text of a deleted message.
const Tombstone = "🚫 This message was deleted"

// Reasons reported when a mutation is not applied.
const (
	ReasonTargetNotFound = "target_not_found"
	ReasonAlreadyDeleted = "already_deleted"
	ReasonTargetDeleted  = "target_deleted"
	ReasonLookupFailed   = "lookup_failed"
	ReasonUpdateFailed   = "update_failed"
	ReasonNoTarget       = "missing_target"
	ReasonEmptyEdit      = "empty_edit"
)

// Result reports the outcome of one mutation. A protocol message is always
// handled, whether or not it changed anything.
type Result struct {
	Handled   bool
	Action    domain.MutationAction
	Applied   bool
	Reason    string
	MessageID string
}

// MarshalJSON renders {"handled":true,"edited":false,"reason":"..."}, using
// "edited" or "deleted" according to the action.
func (r Result) MarshalJSON() ([]byte, error) {
	out := map[string]any{"handled": r.Handled}
	switch r.Action {
	case domain.MutationEdit:
		out["edited"] = r.Applied
	case domain.MutationDelete:
		out["deleted"] = r.Applied
	}
	if r.Reason != "" {
		out["reason"] = r.Reason
	}
	if r.MessageID != "" {
		out["messageId"] = r.MessageID
	}
	return json.Marshal(out)
}

// MutatorConfig configures a Mutator.
type MutatorConfig struct {
	Messages    domain.MessageStore
	Broadcaster domain.Broadcaster
	Logger      *slog.Logger
}

// Mutator applies protocol mutations. The only shared state it touches is
// the message store.
type Mutator struct {
	messages    domain.MessageStore
	broadcaster domain.Broadcaster
	logger      *slog.Logger
}

// NewMutator creates a Mutator. Broadcaster may be nil.
func NewMutator(cfg MutatorConfig) *Mutator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Mutator{
		messages:    cfg.Messages,
		broadcaster: cfg.Broadcaster,
		logger:      cfg.Logger,
	}
}

// Apply dispatches on the mutation action.
func (m *Mutator) Apply(ctx context.Context, tenantID, conversationID string, mut domain.ProtocolMutation) Result {
	if mut.Action == domain.MutationDelete {
		return m.ApplyDelete(ctx, tenantID, conversationID, mut.TargetWireMessageID)
	}
	return m.ApplyEdit(ctx, tenantID, conversationID, mut.TargetWireMessageID, mut.NewContent)
}

// ApplyEdit replaces the text of the target message and marks it edited.
// An edit without text (missing or undecodable edited content) leaves the
// stored message alone and reports empty_edit.
func (m *Mutator) ApplyEdit(ctx context.Context, tenantID, conversationID, targetWireID, newContent string) Result {
	res := Result{Handled: true, Action: domain.MutationEdit}
	if strings.TrimSpace(newContent) == "" {
		m.logger.Warn("edit without content ignored", "conversation", conversationID, "target", targetWireID)
		res.Reason = ReasonEmptyEdit
		return res
	}
	target, reason := m.find(ctx, conversationID, targetWireID)
	if target == nil {
		res.Reason = reason
		return res
	}
	res.MessageID = target.ID
	if target.IsDeleted {
		res.Reason = ReasonTargetDeleted
		return res
	}

	edited := true
	if err := m.messages.UpdateMessage(ctx, target.ID, domain.MessageFields{Text: &newContent, IsEdited: &edited}); err != nil {
		m.logger.Error("edit update failed", "conversation", conversationID, "message", target.ID, "err", err)
		res.Reason = ReasonUpdateFailed
		return res
	}
	res.Applied = true

	m.broadcast(ctx, tenantID, conversationID, map[string]any{
		"id":            target.ID,
		"wireMessageId": targetWireID,
		"textContent":   newContent,
		"isEdited":      true,
	})
	return res
}

// ApplyDelete tombstones the target message. Deleting a message twice is a
// no-op reported as already_deleted.
func (m *Mutator) ApplyDelete(ctx context.Context, tenantID, conversationID, targetWireID string) Result {
	res := Result{Handled: true, Action: domain.MutationDelete}
	target, reason := m.find(ctx, conversationID, targetWireID)
	if target == nil {
		res.Reason = reason
		return res
	}
	res.MessageID = target.ID
	if target.IsDeleted {
		res.Reason = ReasonAlreadyDeleted
		return res
	}

	deleted := true
	text := Tombstone
	if err := m.messages.UpdateMessage(ctx, target.ID, domain.MessageFields{Text: &text, IsDeleted: &deleted}); err != nil {
		m.logger.Error("delete update failed", "conversation", conversationID, "message", target.ID, "err", err)
		res.Reason = ReasonUpdateFailed
		return res
	}
	res.Applied = true

	m.broadcast(ctx, tenantID, conversationID, map[string]any{
		"id":            target.ID,
		"wireMessageId": targetWireID,
		"textContent":   Tombstone,
		"isDeleted":     true,
	})
	return res
}

func (m *Mutator) find(ctx context.Context, conversationID, targetWireID string) (*domain.PersistedMessage, string) {
	if targetWireID == "" {
		return nil, ReasonNoTarget
	}
	target, err := m.messages.FindMessageByWireID(ctx, conversationID, targetWireID)
	if err != nil {
		m.logger.Error("mutation target lookup failed", "conversation", conversationID, "target", targetWireID, "err", err)
		return nil, ReasonLookupFailed
	}
	if target == nil {
		return nil, ReasonTargetNotFound
	}
	return target, ""
}

// broadcast failures do not undo an applied mutation
func (m *Mutator) broadcast(ctx context.Context, tenantID, conversationID string, fields map[string]any) {
	if m.broadcaster == nil {
		return
	}
	if err := m.broadcaster.BroadcastMessageUpdate(ctx, tenantID, conversationID, fields); err != nil {
		m.logger.Warn("message update broadcast failed", "conversation", conversationID, "err", err)
	}
}
