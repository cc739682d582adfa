package router

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"chatinbox/internal/domain"
	"chatinbox/internal/metrics"
	"chatinbox/internal/mutation"
	"chatinbox/internal/webhook"
)

func (r *Router) handleMessage(ctx context.Context, tenant domain.Tenant, env domain.RawEventEnvelope, res *Result) {
	m, err := r.adapter.Adapt(env.Data, env.Timestamp)
	if err != nil {
		var mi *webhook.MissingInfoError
		if errors.As(err, &mi) {
			r.logger.Warn("message without identifying fields", "tenant", tenant.ID, "reason", mi.Reason)
		}
		res.Reason = ReasonMissingInfo
		return
	}
	info := m.Info

	msg := r.decoder.Decode(m.Content)
	msg.Direction = info.Direction()
	msg.WireTimestamp = info.Timestamp
	msg.ParticipantID = info.ParticipantID
	if info.ParticipantID != "" && !info.FromMe {
		msg.ParticipantName = info.PushName
	}
	res.Kind = msg.Kind

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("message.kind", string(msg.Kind)),
		attribute.String("message.direction", string(msg.Direction)),
		attribute.Bool("message.fallback_id", info.FallbackID),
	)

	if msg.Kind == domain.KindSystemIgnore {
		metrics.MessagesIgnored.Inc()
		res.Handled = true
		res.Ignored = true
		res.Reason = ReasonSystemIgnore
		return
	}

	contact := r.contacts.Resolve(ctx, info, tenant.GatewayToken)
	if contact.Degraded {
		metrics.DegradedContacts.Inc()
	}

	if mut, ok := msg.Mutation(); ok {
		r.applyMutation(ctx, tenant, contact.ContactID, mut, res)
		return
	}

	conv, err := r.conversationFor(ctx, tenant, info, contact, res)
	if err != nil {
		r.logger.Error("conversation unavailable", "tenant", tenant.ID, "contact", contact.ContactID, "err", err)
		res.Reason = ReasonConversationFailed
		return
	}
	res.ConversationID = conv.ID

	if dup, err := r.store.FindMessageByWireID(ctx, conv.ID, info.WireMessageID); err != nil {
		r.logger.Warn("duplicate check failed", "conversation", conv.ID, "wire_id", info.WireMessageID, "err", err)
	} else if dup != nil {
		r.logger.Debug("duplicate delivery dropped", "conversation", conv.ID, "wire_id", info.WireMessageID)
		res.Handled = true
		res.Reason = ReasonDuplicate
		res.MessageID = dup.ID
		return
	}

	msg.ReplyToInternalID = r.replies.Link(ctx, conv.ID, msg.QuotedWireID)

	stored, err := r.store.StoreMessage(ctx, conv.ID, info.WireMessageID, msg)
	if err != nil {
		r.logger.Error("store message failed", "conversation", conv.ID, "wire_id", info.WireMessageID, "err", err)
		res.Reason = ReasonStoreFailed
		return
	}
	metrics.MessagesStored.Inc()
	res.Handled = true
	res.MessageID = stored.ID

	r.step(ctx, res, StepBroadcastMessage, func(ctx context.Context) error {
		return r.broadcaster.BroadcastNewMessage(ctx, tenant.ID, conv.ID, *stored, domain.BroadcastOptions{IsMuted: conv.IsMuted})
	})
	r.step(ctx, res, StepBroadcastConversation, func(ctx context.Context) error {
		return r.broadcaster.BroadcastConversationUpdate(ctx, tenant.ID, conversationSummary(conv, stored))
	})

	relayType := domain.RelayMessageReceived
	if stored.Direction == domain.DirectionOutgoing {
		relayType = domain.RelayMessageSent
	}
	r.sendRelay(ctx, tenant, relayType, map[string]any{
		"conversationId": conv.ID,
		"contactId":      conv.ContactID,
		"isGroup":        conv.IsGroup,
		"pushName":       info.PushName,
		"message":        stored,
	}, res)

	if conv.BotID != "" && stored.Direction == domain.DirectionIncoming {
		r.runBot(ctx, tenant, conv, stored, info, res)
	}
}

func (r *Router) applyMutation(ctx context.Context, tenant domain.Tenant, contactID string, mut domain.ProtocolMutation, res *Result) {
	res.Handled = true
	conv, err := r.store.FindConversation(ctx, tenant.ID, contactID)
	if err != nil || conv == nil {
		mr := mutation.Result{Handled: true, Action: mut.Action, Reason: mutation.ReasonTargetNotFound}
		if err != nil {
			r.logger.Warn("mutation conversation lookup failed", "tenant", tenant.ID, "contact", contactID, "err", err)
			mr.Reason = mutation.ReasonLookupFailed
		}
		res.Mutation = &mr
		return
	}
	res.ConversationID = conv.ID

	mr := r.mutator.Apply(ctx, tenant.ID, conv.ID, mut)
	res.Mutation = &mr
	res.MessageID = mr.MessageID
	if !mr.Applied {
		return
	}
	metrics.MutationsApplied.Inc()
	r.sendRelay(ctx, tenant, domain.RelayMessageUpdated, map[string]any{
		"conversationId": conv.ID,
		"messageId":      mr.MessageID,
		"wireMessageId":  mut.TargetWireMessageID,
		"action":         mut.Action,
		"textContent":    mut.NewContent,
	}, res)
}

func (r *Router) sendRelay(ctx context.Context, tenant domain.Tenant, eventType string, payload any, res *Result) {
	if r.relay == nil {
		r.skip(res, StepRelay, "relay disabled")
		return
	}
	r.step(ctx, res, StepRelay, func(ctx context.Context) error {
		return r.relay.SendEvent(ctx, tenant.ID, eventType, payload)
	})
}

// runBot forwards an incoming message to the conversation's bot under the
// call quota, and delivers a reply under the message quota.
func (r *Router) runBot(ctx context.Context, tenant domain.Tenant, conv *domain.Conversation, msg *domain.PersistedMessage, info domain.MessageInfo, res *Result) {
	if r.bots == nil {
		r.skip(res, StepBotForward, "bot automation disabled")
		return
	}

	var gate domain.QuotaGate
	if !r.step(ctx, res, StepCallQuota, func(ctx context.Context) (err error) {
		gate, err = r.bots.CheckCallQuota(ctx, tenant.ID)
		return err
	}) {
		return
	}
	if !gate.Allowed {
		metrics.QuotaDenied(string(domain.QuotaBotCalls)).Inc()
		res.Quota = &gate
		res.Reason = ReasonQuotaDenied
		r.skip(res, StepBotForward, ReasonQuotaDenied)
		return
	}

	r.step(ctx, res, StepCallUsage, func(ctx context.Context) error {
		return r.bots.IncrementCallUsage(ctx, tenant.ID)
	})

	var reply *domain.BotReply
	if !r.step(ctx, res, StepBotForward, func(ctx context.Context) (err error) {
		reply, err = r.bots.Forward(ctx, conv.BotID, *msg, *conv, domain.BotContext{
			TenantID:  tenant.ID,
			EventType: string(domain.EventMessage),
			PushName:  info.PushName,
		})
		return err
	}) {
		return
	}
	metrics.BotForwards.Inc()
	if reply == nil {
		return
	}
	res.Bot = reply
	if reply.Action != domain.BotActionReply || reply.Content == "" {
		return
	}

	var msgGate domain.QuotaGate
	if !r.step(ctx, res, StepMessageQuota, func(ctx context.Context) (err error) {
		msgGate, err = r.bots.CheckMessageQuota(ctx, tenant.ID)
		return err
	}) {
		return
	}
	if !msgGate.Allowed {
		metrics.QuotaDenied(string(domain.QuotaBotMessages)).Inc()
		res.Quota = &msgGate
		res.Reason = ReasonQuotaDenied
		r.skip(res, StepBotReply, ReasonQuotaDenied)
		return
	}

	if r.outbound == nil {
		r.skip(res, StepBotReply, "outbound disabled")
		return
	}
	if !r.step(ctx, res, StepBotReply, func(ctx context.Context) error {
		return r.outbound.SendText(ctx, tenant, conv.ContactID, reply.Content)
	}) {
		return
	}
	metrics.BotReplies.Inc()
	r.step(ctx, res, StepMessageUsage, func(ctx context.Context) error {
		return r.bots.IncrementMessageUsage(ctx, tenant.ID)
	})
}
