package relay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"chatinbox/internal/bus"
	"chatinbox/internal/domain"
	"chatinbox/internal/httpx"
)

// HTTPSinkConfig configures an HTTPSink.
type HTTPSinkConfig struct {
	Tenants    domain.TenantDirectory
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	Logger     *slog.Logger
}

// HTTPSink POSTs events to the tenant's relay URL, signed with the
// tenant's relay secret. Tenants without a relay URL are skipped.
type HTTPSink struct {
	tenants domain.TenantDirectory
	client  *http.Client
	retry   httpx.RetryPolicy
	logger  *slog.Logger
}

func NewHTTPSink(cfg HTTPSinkConfig) *HTTPSink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &HTTPSink{
		tenants: cfg.Tenants,
		client:  httpx.NewClient(cfg.Timeout),
		retry:   httpx.RetryPolicy{MaxRetries: cfg.MaxRetries, BaseDelay: cfg.RetryDelay},
		logger:  cfg.Logger,
	}
}

// Handle is a bus.EventHandler.
func (s *HTTPSink) Handle(ctx context.Context, e bus.Event) error {
	tenant, ok := s.tenants.Tenant(e.TenantID)
	if !ok || tenant.RelayURL == "" {
		return nil
	}
	body, err := NewEnvelope(e).encode()
	if err != nil {
		return fmt.Errorf("encode relay event: %w", err)
	}

	resp, err := httpx.DoWithRetry(ctx, s.client, s.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, tenant.RelayURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Event-Type", e.Type)
		req.Header.Set("X-Event-ID", e.ID)
		if tenant.RelaySecret != "" {
			req.Header.Set(httpx.SignatureHeader, httpx.Sign(body, tenant.RelaySecret))
		}
		return req, nil
	}, s.logger)
	if err != nil {
		return fmt.Errorf("relay to %s: %w", tenant.ID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("relay to %s: %w", tenant.ID, &httpx.StatusError{StatusCode: resp.StatusCode})
	}
	s.logger.Debug("relayed event", "tenant", tenant.ID, "event", e.Type, "id", e.ID)
	return nil
}
