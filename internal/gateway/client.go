// Package gateway talks to the chat gateway's REST API: linked-device and
// group lookups for identity resolution, and text sends for bot replies.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"chatinbox/internal/domain"
	"chatinbox/internal/httpx"
	"chatinbox/internal/identity"
)

// TokenHeader carries the tenant's gateway credential.
const TokenHeader = "Token"

// Config configures a Client.
type Config struct {
	APIBase            string
	Timeout            time.Duration
	RateLimitPerMinute float64
	MaxRetries         int
	Logger             *slog.Logger
}

// Client implements domain.IdentityLookup and domain.Outbound over HTTP.
type Client struct {
	base    string
	client  *http.Client
	limiter *rate.Limiter
	retry   httpx.RetryPolicy
	logger  *slog.Logger
}

var (
	_ domain.IdentityLookup = (*Client)(nil)
	_ domain.Outbound       = (*Client)(nil)
)

// New creates a gateway Client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		base:    strings.TrimRight(cfg.APIBase, "/"),
		client:  httpx.NewClient(cfg.Timeout),
		limiter: httpx.NewLimiter(httpx.DefaultBurst, cfg.RateLimitPerMinute),
		retry:   httpx.RetryPolicy{MaxRetries: cfg.MaxRetries},
		logger:  cfg.Logger,
	}
}

// ResolveLinkedDeviceID asks the gateway for the phone number behind a
// linked-device id. It returns "" when the gateway does not know it.
func (c *Client) ResolveLinkedDeviceID(ctx context.Context, numericID, credential string) (string, error) {
	body, ok, err := c.get(ctx, "/user/lid/"+url.PathEscape(numericID), credential)
	if err != nil || !ok {
		return "", err
	}
	r := gjson.ParseBytes(body)
	for _, path := range []string{"data.phone", "data.Phone", "data.jid", "data.JID", "phone", "jid"} {
		if v := r.Get(path).String(); v != "" {
			return identity.User(v), nil
		}
	}
	return "", nil
}

// FetchGroupName returns the group's subject, or "" when unknown.
func (c *Client) FetchGroupName(ctx context.Context, groupID, credential string) (string, error) {
	body, ok, err := c.get(ctx, "/group/info?groupJID="+url.QueryEscape(groupID), credential)
	if err != nil || !ok {
		return "", err
	}
	r := gjson.ParseBytes(body)
	for _, path := range []string{"data.Name", "data.name", "data.Subject", "data.subject", "Name", "name"} {
		if v := strings.TrimSpace(r.Get(path).String()); v != "" {
			return v, nil
		}
	}
	return "", nil
}

type sendTextRequest struct {
	Phone string `json:"Phone"`
	Body  string `json:"Body"`
}

// SendText sends a plain text message to contactID on the tenant's session.
func (c *Client) SendText(ctx context.Context, tenant domain.Tenant, contactID, text string) error {
	phone := contactID
	if !identity.IsGroup(contactID) {
		phone = identity.User(contactID)
	}
	payload, err := json.Marshal(sendTextRequest{Phone: phone, Body: text})
	if err != nil {
		return fmt.Errorf("encode send request: %w", err)
	}
	resp, err := c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/chat/send/text", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(TokenHeader, tenant.GatewayToken)
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("send text: %w", &httpx.StatusError{StatusCode: resp.StatusCode, Body: string(body)})
	}
	return nil
}

// get returns ok=false with a nil error on 404.
func (c *Client) get(ctx context.Context, path, credential string) ([]byte, bool, error) {
	resp, err := c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set(TokenHeader, credential)
		return req, nil
	})
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, false, fmt.Errorf("read gateway response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, nil
	case resp.StatusCode >= 300:
		return nil, false, &httpx.StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, true, nil
}

func (c *Client) do(ctx context.Context, build func() (*http.Request, error)) (*http.Response, error) {
	if c.base == "" {
		return nil, fmt.Errorf("gateway api base is not configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return httpx.DoWithRetry(ctx, c.client, c.retry, build, c.logger)
}
