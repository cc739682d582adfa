package config

import "chatinbox/internal/domain"

// Tenants is a read-only directory over the configured tenant list.
type Tenants struct {
	byID map[string]domain.Tenant
}

var _ domain.TenantDirectory = (*Tenants)(nil)

// NewTenants indexes list by id. Later duplicates win; Validate rejects them.
func NewTenants(list []domain.Tenant) *Tenants {
	t := &Tenants{byID: make(map[string]domain.Tenant, len(list))}
	for _, tenant := range list {
		t.byID[tenant.ID] = tenant
	}
	return t
}

// Tenant returns the tenant registered under id.
func (t *Tenants) Tenant(id string) (domain.Tenant, bool) {
	tenant, ok := t.byID[id]
	return tenant, ok
}

func (t *Tenants) Len() int { return len(t.byID) }
