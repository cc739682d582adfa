// Package router turns inbound gateway webhook envelopes into persisted
// messages, conversation updates and downstream notifications.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"chatinbox/internal/decoder"
	"chatinbox/internal/domain"
	"chatinbox/internal/identity"
	"chatinbox/internal/metrics"
	"chatinbox/internal/mutation"
	"chatinbox/internal/webhook"
)

// Reasons reported in Result.Reason.
const (
	ReasonUnhandledEvent       = "unhandled_event"
	ReasonMissingInfo          = "missing_info"
	ReasonSystemIgnore         = "system_ignore"
	ReasonDuplicate            = "duplicate"
	ReasonConversationFailed   = "conversation_failed"
	ReasonConversationNotFound = "conversation_not_found"
	ReasonStoreFailed          = "store_failed"
	ReasonQuotaDenied          = "quota_denied"
	ReasonUntrackedReceipt     = "untracked_receipt"
	ReasonInternalError        = "internal_error"
)

// Step names recorded in Result.Steps.
const (
	StepBroadcastMessage      = "broadcast_message"
	StepBroadcastConversation = "broadcast_conversation"
	StepBroadcastUpdate       = "broadcast_update"
	StepRelay                 = "relay"
	StepRenameConversation    = "rename_conversation"
	StepCallQuota             = "bot_call_quota"
	StepCallUsage             = "bot_call_usage"
	StepBotForward            = "bot_forward"
	StepMessageQuota          = "bot_message_quota"
	StepBotReply              = "bot_reply"
	StepMessageUsage          = "bot_message_usage"
)

// StepOutcome records one downstream call made while handling an event.
type StepOutcome struct {
	Step    string `json:"step"`
	OK      bool   `json:"ok"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Result is the outcome of handling one envelope. Handle never returns an
// error; failures surface as Reason and failed Steps.
type Result struct {
	Handled        bool               `json:"handled"`
	EventType      domain.EventType   `json:"eventType"`
	Reason         string             `json:"reason,omitempty"`
	Ignored        bool               `json:"ignored,omitempty"`
	ConversationID string             `json:"conversationId,omitempty"`
	MessageID      string             `json:"messageId,omitempty"`
	Kind           domain.MessageKind `json:"kind,omitempty"`
	Updated        int                `json:"updated,omitempty"`
	Mutation       *mutation.Result   `json:"mutation,omitempty"`
	Quota          *domain.QuotaGate  `json:"quota,omitempty"`
	Bot            *domain.BotReply   `json:"bot,omitempty"`
	Steps          []StepOutcome      `json:"steps,omitempty"`
}

// Failed returns the steps that did not succeed and were not skipped.
func (r Result) Failed() []StepOutcome {
	var out []StepOutcome
	for _, s := range r.Steps {
		if !s.OK && !s.Skipped {
			out = append(out, s)
		}
	}
	return out
}

// Step returns the outcome recorded for name.
func (r Result) Step(name string) (StepOutcome, bool) {
	for _, s := range r.Steps {
		if s.Step == name {
			return s, true
		}
	}
	return StepOutcome{}, false
}

// Config wires a Router to its collaborators. Relay, Bots, Outbound and
// Presence are optional.
type Config struct {
	Store       domain.Store
	Lookup      domain.IdentityLookup
	Broadcaster domain.Broadcaster
	Relay       domain.Relay
	Bots        domain.BotAutomation
	Outbound    domain.Outbound

	ContactDomain  string
	FallbackPolicy webhook.FallbackPolicy
	Presence       *PresenceCache
	Logger         *slog.Logger
}

// Router dispatches envelopes by event type.
type Router struct {
	store       domain.Store
	broadcaster domain.Broadcaster
	relay       domain.Relay
	bots        domain.BotAutomation
	outbound    domain.Outbound

	adapter  *webhook.Adapter
	decoder  *decoder.Decoder
	contacts *identity.ContactResolver
	groups   *identity.GroupNameResolver
	mutator  *mutation.Mutator
	replies  *mutation.ReplyLinker
	presence *PresenceCache

	tracer trace.Tracer
	logger *slog.Logger
}

// New creates a Router. Store is required; a nil Broadcaster discards
// realtime frames, and nil Relay, Bots, Outbound or Lookup disable those steps.
func New(cfg Config) *Router {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Presence == nil {
		cfg.Presence = NewPresenceCache(DefaultPresenceCapacity)
	}
	if cfg.Broadcaster == nil {
		cfg.Broadcaster = discard{}
	}
	return &Router{
		store:       cfg.Store,
		broadcaster: cfg.Broadcaster,
		relay:       cfg.Relay,
		bots:        cfg.Bots,
		outbound:    cfg.Outbound,
		adapter:     webhook.NewAdapter(cfg.FallbackPolicy),
		decoder:     decoder.New(),
		contacts: identity.NewContactResolver(identity.ContactConfig{
			ContactDomain: cfg.ContactDomain,
			Lookup:        cfg.Lookup,
			Logger:        cfg.Logger,
		}),
		groups: identity.NewGroupNameResolver(identity.GroupNameConfig{
			Lookup: cfg.Lookup,
			Logger: cfg.Logger,
		}),
		mutator: mutation.NewMutator(mutation.MutatorConfig{
			Messages:    cfg.Store,
			Broadcaster: cfg.Broadcaster,
			Logger:      cfg.Logger,
		}),
		replies:  mutation.NewReplyLinker(cfg.Store, cfg.Logger),
		presence: cfg.Presence,
		tracer:   otel.Tracer("chatinbox/router"),
		logger:   cfg.Logger,
	}
}

// Presence exposes the presence cache.
func (r *Router) Presence() *PresenceCache { return r.presence }

// HandleBody parses a raw webhook body and handles it.
func (r *Router) HandleBody(ctx context.Context, tenant domain.Tenant, body []byte) Result {
	env, err := webhook.ParseEnvelope(body)
	if err != nil {
		r.logger.Warn("invalid envelope", "tenant", tenant.ID, "err", err)
		return Result{EventType: domain.EventUnhandled, Reason: ReasonMissingInfo}
	}
	return r.Handle(ctx, tenant, env)
}

// Handle processes one envelope for tenant.
func (r *Router) Handle(ctx context.Context, tenant domain.Tenant, env domain.RawEventEnvelope) (res Result) {
	start := time.Now()
	eventType := webhook.NormalizeEventType(env.Type)
	res.EventType = eventType

	ctx, span := r.tracer.Start(ctx, "router.handle", trace.WithAttributes(
		attribute.String("tenant.id", tenant.ID),
		attribute.String("event.type", string(eventType)),
		attribute.String("event.raw_type", env.Type),
	))
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("panic handling event", "tenant", tenant.ID, "event", env.Type, "panic", p, "stack", string(debug.Stack()))
			res.Handled = false
			res.Reason = ReasonInternalError
			span.SetStatus(codes.Error, fmt.Sprint(p))
		}
		span.SetAttributes(
			attribute.Bool("result.handled", res.Handled),
			attribute.String("result.reason", res.Reason),
			attribute.Int("result.failed_steps", len(res.Failed())),
		)
		span.End()
		metrics.EventsTotal(string(eventType)).Inc()
		metrics.HandleLatency.ObserveSince(start)
	}()

	switch eventType {
	case domain.EventMessage:
		r.handleMessage(ctx, tenant, env, &res)
	case domain.EventReadReceipt:
		r.handleReceipt(ctx, tenant, env, &res)
	case domain.EventPresence:
		r.handlePresence(ctx, tenant, env, &res)
	case domain.EventStatus:
		r.handleStatus(ctx, tenant, env, &res)
	case domain.EventGroupInfo:
		r.handleGroupInfo(ctx, tenant, env, &res)
	case domain.EventJoinedGroup:
		r.handleJoinedGroup(ctx, tenant, env, &res)
	default:
		r.logger.Debug("unhandled event type", "tenant", tenant.ID, "type", env.Type)
		res.Reason = ReasonUnhandledEvent
	}
	return res
}

// step runs one downstream call and records its outcome. Errors and panics
// are logged and never propagate.
func (r *Router) step(ctx context.Context, res *Result, name string, fn func(ctx context.Context) error) (ok bool) {
	out := StepOutcome{Step: name}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("panic in step", "step", name, "panic", p)
			out.OK = false
			out.Error = fmt.Sprintf("panic: %v", p)
			ok = false
		}
		if !out.OK {
			metrics.StepFailures.Inc()
			trace.SpanFromContext(ctx).AddEvent("step failed", trace.WithAttributes(
				attribute.String("step", name),
				attribute.String("error", out.Error),
			))
		}
		res.Steps = append(res.Steps, out)
	}()

	if err := fn(ctx); err != nil {
		r.logger.Warn("step failed", "step", name, "conversation", res.ConversationID, "err", err)
		out.Error = err.Error()
		return false
	}
	out.OK = true
	return true
}

func (r *Router) skip(res *Result, name, why string) {
	res.Steps = append(res.Steps, StepOutcome{Step: name, Skipped: true, Error: why})
}

// discard is the broadcaster used when no realtime surface is attached,
// e.g. during replay.
type discard struct{}

func (discard) BroadcastNewMessage(context.Context, string, string, domain.PersistedMessage, domain.BroadcastOptions) error {
	return nil
}

func (discard) BroadcastMessageUpdate(context.Context, string, string, map[string]any) error {
	return nil
}

func (discard) BroadcastConversationUpdate(context.Context, string, domain.ConversationUpdate) error {
	return nil
}
