// Package bot forwards inbound messages to externally hosted bots and
// meters them against the tenant's quota.
package bot

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultTimeout applies to bots that do not declare timeoutSeconds.
const DefaultTimeout = 15 * time.Second

// Definition declares one bot endpoint.
type Definition struct {
	ID             string `yaml:"id"`
	URL            string `yaml:"url"`
	Secret         string `yaml:"secret"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

// Timeout returns the per-call deadline for the bot.
func (d Definition) Timeout() time.Duration {
	if d.TimeoutSeconds <= 0 {
		return DefaultTimeout
	}
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// Registry holds bot definitions by id.
type Registry struct {
	bots map[string]Definition
}

func NewRegistry(defs ...Definition) *Registry {
	r := &Registry{bots: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		r.bots[d.ID] = d
	}
	return r
}

// LoadRegistry reads a YAML list of bot definitions. A missing file yields
// an empty registry. Entries without id or url are skipped.
func LoadRegistry(path string, logger *slog.Logger) (*Registry, error) {
	r := NewRegistry()
	if path == "" {
		return r, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Debug("bots file does not exist, skipping", "path", path)
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read bots file: %w", err)
	}

	var defs []Definition
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("parse bots file %s: %w", path, err)
	}
	for i, d := range defs {
		if d.ID == "" || d.URL == "" {
			logger.Warn("skipping bot without id or url", "path", path, "index", i)
			continue
		}
		if _, dup := r.bots[d.ID]; dup {
			logger.Warn("duplicate bot id, later entry wins", "id", d.ID)
		}
		r.bots[d.ID] = d
		logger.Info("loaded bot", "id", d.ID, "url", d.URL)
	}
	return r, nil
}

// Get returns the bot with the given id.
func (r *Registry) Get(id string) (Definition, bool) {
	d, ok := r.bots[id]
	return d, ok
}

// IDs returns the registered bot ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.bots))
	for id := range r.bots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
