package router

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultPresenceCapacity bounds the presence cache when no size is given.
const DefaultPresenceCapacity = 10000

// PresenceEntry is the last known presence of a contact.
type PresenceEntry struct {
	State     string    `json:"state"`
	LastSeen  time.Time `json:"lastSeen,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PresenceCache keeps the latest presence per tenant and contact. Every Set
// overwrites the previous entry; when full, the least recently written entry
// is evicted. Reads do not refresh an entry. It is informational only and
// never consulted when persisting state.
type PresenceCache struct {
	entries *lru.Cache[string, PresenceEntry]
}

// NewPresenceCache creates a cache holding up to capacity contacts,
// DefaultPresenceCapacity when capacity is not positive.
func NewPresenceCache(capacity int) *PresenceCache {
	if capacity <= 0 {
		capacity = DefaultPresenceCapacity
	}
	// lru.New only fails for a non-positive size.
	entries, _ := lru.New[string, PresenceEntry](capacity)
	return &PresenceCache{entries: entries}
}

func presenceKey(tenantID, contactID string) string {
	return tenantID + "/" + contactID
}

// Set records the presence of a contact.
func (c *PresenceCache) Set(tenantID, contactID string, e PresenceEntry) {
	c.entries.Add(presenceKey(tenantID, contactID), e)
}

// Get returns the last presence recorded for a contact.
func (c *PresenceCache) Get(tenantID, contactID string) (PresenceEntry, bool) {
	return c.entries.Peek(presenceKey(tenantID, contactID))
}

// Len returns the number of contacts held.
func (c *PresenceCache) Len() int {
	return c.entries.Len()
}
