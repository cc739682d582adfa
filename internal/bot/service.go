package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"chatinbox/internal/domain"
	"chatinbox/internal/httpx"
)

// Ledger is the quota surface the service meters against.
type Ledger interface {
	Check(ctx context.Context, tenantID string, qt domain.QuotaType) (domain.QuotaGate, error)
	Increment(ctx context.Context, tenantID string, qt domain.QuotaType) error
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Registry   *Registry
	Ledger     Ledger
	MaxRetries int
	Logger     *slog.Logger
}

// Service implements domain.BotAutomation.
type Service struct {
	registry *Registry
	ledger   Ledger
	client   *http.Client
	retry    httpx.RetryPolicy
	logger   *slog.Logger
}

var _ domain.BotAutomation = (*Service)(nil)

func NewService(cfg ServiceConfig) *Service {
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	return &Service{
		registry: cfg.Registry,
		ledger:   cfg.Ledger,
		// Per-bot deadlines come from the request context.
		client: httpx.NewClient(0),
		retry:  httpx.RetryPolicy{MaxRetries: cfg.MaxRetries},
		logger: cfg.Logger,
	}
}

func (s *Service) CheckCallQuota(ctx context.Context, tenantID string) (domain.QuotaGate, error) {
	return s.ledger.Check(ctx, tenantID, domain.QuotaBotCalls)
}

func (s *Service) IncrementCallUsage(ctx context.Context, tenantID string) error {
	return s.ledger.Increment(ctx, tenantID, domain.QuotaBotCalls)
}

func (s *Service) CheckMessageQuota(ctx context.Context, tenantID string) (domain.QuotaGate, error) {
	return s.ledger.Check(ctx, tenantID, domain.QuotaBotMessages)
}

func (s *Service) IncrementMessageUsage(ctx context.Context, tenantID string) error {
	return s.ledger.Increment(ctx, tenantID, domain.QuotaBotMessages)
}

type forwardRequest struct {
	BotID        string                  `json:"botId"`
	TenantID     string                  `json:"tenantId"`
	Conversation domain.Conversation     `json:"conversation"`
	Message      domain.PersistedMessage `json:"message"`
	Context      domain.BotContext       `json:"context"`
}

// Forward posts the message to the bot and decodes its instruction.
// An empty action is treated as "none".
func (s *Service) Forward(ctx context.Context, botID string, msg domain.PersistedMessage, conv domain.Conversation, bc domain.BotContext) (*domain.BotReply, error) {
	def, ok := s.registry.Get(botID)
	if !ok {
		return nil, fmt.Errorf("unknown bot %q", botID)
	}

	body, err := json.Marshal(forwardRequest{
		BotID:        botID,
		TenantID:     bc.TenantID,
		Conversation: conv,
		Message:      msg,
		Context:      bc,
	})
	if err != nil {
		return nil, fmt.Errorf("encode bot request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, def.Timeout())
	defer cancel()

	resp, err := httpx.DoWithRetry(ctx, s.client, s.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, def.URL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if def.Secret != "" {
			req.Header.Set(httpx.SignatureHeader, httpx.Sign(body, def.Secret))
		}
		return req, nil
	}, s.logger)
	if err != nil {
		return nil, fmt.Errorf("forward to bot %s: %w", botID, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read bot response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("forward to bot %s: %w", botID, &httpx.StatusError{StatusCode: resp.StatusCode, Body: string(respBody)})
	}

	reply := &domain.BotReply{Action: domain.BotActionNone}
	if len(bytes.TrimSpace(respBody)) == 0 {
		return reply, nil
	}
	if err := json.Unmarshal(respBody, reply); err != nil {
		return nil, fmt.Errorf("decode bot response: %w", err)
	}
	if reply.Action == "" {
		reply.Action = domain.BotActionNone
	}
	s.logger.Debug("bot responded", "bot", botID, "action", reply.Action, "tokens", reply.TokensUsed)
	return reply, nil
}
