package router

import (
	"context"
	"fmt"
	"strings"

	"chatinbox/internal/domain"
	"chatinbox/internal/identity"
)

// conversationFor finds or creates the conversation of a message and keeps
// its display name current.
func (r *Router) conversationFor(ctx context.Context, tenant domain.Tenant, info domain.MessageInfo, contact identity.ContactResolution, res *Result) (*domain.Conversation, error) {
	conv, err := r.store.FindConversation(ctx, tenant.ID, contact.ContactID)
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	if contact.IsGroup {
		conv, _, err = r.groupConversation(ctx, tenant, contact.ContactID, info.GroupName, conv, res)
		return conv, err
	}

	push := ""
	if !info.FromMe && isValidPushName(info.PushName) {
		push = info.PushName
	}

	if conv == nil {
		name, source := identity.User(contact.ContactID), domain.NameSourceFallback
		if push != "" {
			name, source = push, domain.NameSourceWebhook
		}
		conv, err = r.store.CreateConversation(ctx, tenant.ID, contact.ContactID, name, source, false)
		if err != nil {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
		r.logger.Info("conversation created", "tenant", tenant.ID, "conversation", conv.ID, "contact", contact.ContactID)
		return conv, nil
	}

	if push != "" && (conv.Name == "" || digitsOnly(conv.Name)) {
		if r.step(ctx, res, StepRenameConversation, func(ctx context.Context) error {
			return r.store.UpdateConversationName(ctx, conv.ID, push, domain.NameSourceWebhook)
		}) {
			conv.Name, conv.NameSource = push, domain.NameSourceWebhook
		}
	}
	return conv, nil
}

// groupConversation applies group name resolution to conv, creating it when
// nil. The resolution is returned with Updated set when the conversation was
// created or renamed.
func (r *Router) groupConversation(ctx context.Context, tenant domain.Tenant, groupID, webhookName string, conv *domain.Conversation, res *Result) (*domain.Conversation, domain.GroupNameResolution, error) {
	stored := ""
	if conv != nil {
		stored = conv.Name
	}
	gn := r.groups.Resolve(ctx, groupID, webhookName, stored, tenant.GatewayToken)

	if conv == nil {
		created, err := r.store.CreateConversation(ctx, tenant.ID, groupID, gn.Name, gn.Source, true)
		if err != nil {
			return nil, gn, fmt.Errorf("create group conversation: %w", err)
		}
		r.logger.Info("group conversation created", "tenant", tenant.ID, "conversation", created.ID, "group", groupID, "name", gn.Name, "source", gn.Source)
		gn.Updated = true
		return created, gn, nil
	}

	if gn.Updated {
		if r.step(ctx, res, StepRenameConversation, func(ctx context.Context) error {
			return r.store.UpdateConversationName(ctx, conv.ID, gn.Name, gn.Source)
		}) {
			r.logger.Info("group renamed", "conversation", conv.ID, "from", gn.PreviousName, "to", gn.Name, "source", gn.Source)
			conv.Name, conv.NameSource = gn.Name, gn.Source
		} else {
			gn.Updated = false
		}
	}
	return conv, gn, nil
}

func conversationFields(conv *domain.Conversation) domain.ConversationUpdate {
	return domain.ConversationUpdate{
		"id":         conv.ID,
		"contactId":  conv.ContactID,
		"name":       conv.Name,
		"nameSource": conv.NameSource,
		"isGroup":    conv.IsGroup,
		"isMuted":    conv.IsMuted,
	}
}

// conversationSummary is the list-row update sent after a new message.
func conversationSummary(conv *domain.Conversation, msg *domain.PersistedMessage) domain.ConversationUpdate {
	fields := conversationFields(conv)
	fields["lastMessagePreview"] = msg.Preview()
	fields["lastMessageAt"] = msg.WireTimestamp
	if msg.Direction == domain.DirectionIncoming {
		fields["unreadCount"] = conv.UnreadCount + 1
	} else {
		fields["unreadCount"] = 0
	}
	return fields
}

func isValidPushName(name string) bool {
	name = strings.TrimSpace(name)
	return name != "" && !digitsOnly(name)
}

func digitsOnly(s string) bool {
	s = strings.TrimPrefix(strings.TrimSpace(s), "+")
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
