package domain

// Plan holds per-month usage limits. Zero means unlimited.
type Plan struct {
	BotCalls    int64 `json:"botCalls"`
	BotMessages int64 `json:"botMessages"`
}

// Tenant is one CRM workspace connected to one gateway session.
type Tenant struct {
	ID            string `json:"id"`
	GatewayToken  string `json:"gatewayToken,omitempty"`
	WebhookSecret string `json:"webhookSecret,omitempty"`
	RelayURL      string `json:"relayUrl,omitempty"`
	RelaySecret   string `json:"relaySecret,omitempty"`
	Plan          *Plan  `json:"plan,omitempty"`
}

// TenantDirectory looks tenants up by id.
type TenantDirectory interface {
	Tenant(id string) (Tenant, bool)
}
