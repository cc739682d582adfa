package router

import (
	"context"
	"time"

	"chatinbox/internal/domain"
	"chatinbox/internal/webhook"
)

var statusRank = map[domain.MessageStatus]int{
	domain.StatusReceived:  0,
	domain.StatusSent:      1,
	domain.StatusDelivered: 2,
	domain.StatusRead:      3,
	domain.StatusPlayed:    4,
}

func (r *Router) handleReceipt(ctx context.Context, tenant domain.Tenant, env domain.RawEventEnvelope, res *Result) {
	rc, ok, err := webhook.AdaptReceipt(env.Data, env.Timestamp)
	if err != nil {
		r.logger.Warn("invalid receipt", "tenant", tenant.ID, "err", err)
		res.Reason = ReasonMissingInfo
		return
	}
	res.Handled = true
	if !ok {
		res.Ignored = true
		res.Reason = ReasonUntrackedReceipt
		return
	}

	contact := r.contacts.ResolveChat(ctx, rc.ChatID, tenant.GatewayToken)
	conv, err := r.store.FindConversation(ctx, tenant.ID, contact.ContactID)
	if err != nil || conv == nil {
		if err != nil {
			r.logger.Warn("receipt conversation lookup failed", "tenant", tenant.ID, "chat", rc.ChatID, "err", err)
		}
		res.Reason = ReasonConversationNotFound
		return
	}
	res.ConversationID = conv.ID

	var updated []string
	for _, wireID := range rc.MessageIDs {
		msg, err := r.store.FindMessageByWireID(ctx, conv.ID, wireID)
		if err != nil {
			r.logger.Warn("receipt message lookup failed", "conversation", conv.ID, "wire_id", wireID, "err", err)
			continue
		}
		// Receipts can arrive out of order; status only moves forward.
		if msg == nil || statusRank[rc.Status] <= statusRank[msg.Status] {
			continue
		}
		status := rc.Status
		if err := r.store.UpdateMessage(ctx, msg.ID, domain.MessageFields{Status: &status}); err != nil {
			r.logger.Warn("receipt update failed", "message", msg.ID, "err", err)
			continue
		}
		updated = append(updated, msg.ID)
		r.step(ctx, res, StepBroadcastUpdate, func(ctx context.Context) error {
			return r.broadcaster.BroadcastMessageUpdate(ctx, tenant.ID, conv.ID, map[string]any{
				"id":     msg.ID,
				"status": status,
			})
		})
	}
	res.Updated = len(updated)
	if len(updated) == 0 {
		return
	}
	r.sendRelay(ctx, tenant, domain.RelayMessageStatus, map[string]any{
		"conversationId": conv.ID,
		"messageIds":     updated,
		"wireMessageIds": rc.MessageIDs,
		"status":         rc.Status,
		"timestamp":      rc.Timestamp,
	}, res)
}

func (r *Router) handlePresence(ctx context.Context, tenant domain.Tenant, env domain.RawEventEnvelope, res *Result) {
	p, err := webhook.AdaptPresence(env.Data)
	if err != nil {
		r.logger.Debug("invalid presence", "tenant", tenant.ID, "err", err)
		res.Reason = ReasonMissingInfo
		return
	}
	res.Handled = true

	contact := r.contacts.ResolveChat(ctx, p.ContactID, tenant.GatewayToken)
	entry := PresenceEntry{State: p.State, LastSeen: p.LastSeen, UpdatedAt: time.Now().UTC()}
	r.presence.Set(tenant.ID, contact.ContactID, entry)

	conv, err := r.store.FindConversation(ctx, tenant.ID, contact.ContactID)
	if err != nil || conv == nil {
		return
	}
	res.ConversationID = conv.ID
	fields := domain.ConversationUpdate{"id": conv.ID, "contactId": conv.ContactID, "presence": entry.State}
	if !entry.LastSeen.IsZero() {
		fields["lastSeen"] = entry.LastSeen
	}
	r.step(ctx, res, StepBroadcastConversation, func(ctx context.Context) error {
		return r.broadcaster.BroadcastConversationUpdate(ctx, tenant.ID, fields)
	})
}

func (r *Router) handleStatus(ctx context.Context, tenant domain.Tenant, env domain.RawEventEnvelope, res *Result) {
	st := webhook.AdaptStatus(env.Data, env.Type)
	r.logger.Info("gateway session status", "tenant", tenant.ID, "status", st.Status, "reason", st.Reason)
	res.Handled = true
	r.sendRelay(ctx, tenant, domain.RelaySessionStatus, map[string]any{
		"status": st.Status,
		"reason": st.Reason,
	}, res)
}

func (r *Router) handleGroupInfo(ctx context.Context, tenant domain.Tenant, env domain.RawEventEnvelope, res *Result) {
	g, err := webhook.AdaptGroup(env.Data)
	if err != nil {
		r.logger.Warn("invalid group info", "tenant", tenant.ID, "err", err)
		res.Reason = ReasonMissingInfo
		return
	}
	res.Handled = true

	conv, err := r.store.FindConversation(ctx, tenant.ID, g.GroupID)
	if err != nil || conv == nil {
		res.Reason = ReasonConversationNotFound
		return
	}
	res.ConversationID = conv.ID

	gn := r.groups.Resolve(ctx, g.GroupID, g.Name, conv.Name, tenant.GatewayToken)
	if !gn.Updated {
		return
	}
	if !r.step(ctx, res, StepRenameConversation, func(ctx context.Context) error {
		return r.store.UpdateConversationName(ctx, conv.ID, gn.Name, gn.Source)
	}) {
		return
	}
	conv.Name, conv.NameSource = gn.Name, gn.Source
	res.Updated = 1
	r.announceGroup(ctx, tenant, conv, gn, res)
}

func (r *Router) handleJoinedGroup(ctx context.Context, tenant domain.Tenant, env domain.RawEventEnvelope, res *Result) {
	g, err := webhook.AdaptGroup(env.Data)
	if err != nil {
		r.logger.Warn("invalid joined group", "tenant", tenant.ID, "err", err)
		res.Reason = ReasonMissingInfo
		return
	}

	existing, err := r.store.FindConversation(ctx, tenant.ID, g.GroupID)
	if err != nil {
		r.logger.Error("joined group lookup failed", "tenant", tenant.ID, "group", g.GroupID, "err", err)
		res.Reason = ReasonConversationFailed
		return
	}
	conv, gn, err := r.groupConversation(ctx, tenant, g.GroupID, g.Name, existing, res)
	if err != nil {
		r.logger.Error("joined group conversation failed", "tenant", tenant.ID, "group", g.GroupID, "err", err)
		res.Reason = ReasonConversationFailed
		return
	}
	res.Handled = true
	res.ConversationID = conv.ID
	if !gn.Updated {
		return
	}
	res.Updated = 1
	r.announceGroup(ctx, tenant, conv, gn, res)
}

func (r *Router) announceGroup(ctx context.Context, tenant domain.Tenant, conv *domain.Conversation, gn domain.GroupNameResolution, res *Result) {
	r.step(ctx, res, StepBroadcastConversation, func(ctx context.Context) error {
		return r.broadcaster.BroadcastConversationUpdate(ctx, tenant.ID, conversationFields(conv))
	})
	r.sendRelay(ctx, tenant, domain.RelayGroupUpdated, map[string]any{
		"conversationId": conv.ID,
		"groupId":        conv.ContactID,
		"name":           conv.Name,
		"nameSource":     conv.NameSource,
		"previousName":   gn.PreviousName,
	}, res)
}
