package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"chatinbox/internal/domain"
)

// tree renders cfg as its generic JSON form so dotted paths can address it.
func tree(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	return m, json.Unmarshal(data, &m)
}

// child steps one path segment into node. Array elements are addressed by
// index ("tenants.0.id").
func child(node any, key string) (any, error) {
	switch v := node.(type) {
	case map[string]any:
		next, ok := v[key]
		if !ok {
			return nil, fmt.Errorf("no such key %q", key)
		}
		return next, nil
	case []any:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(v) {
			return nil, fmt.Errorf("invalid index %q", key)
		}
		return v[i], nil
	}
	return nil, fmt.Errorf("cannot descend into %T at %q", node, key)
}

// GetByPath retrieves a config value by dotted path (e.g. "server.port").
func GetByPath(cfg *Config, path string) (any, error) {
	root, err := tree(cfg)
	if err != nil {
		return nil, err
	}
	var node any = root
	for _, key := range strings.Split(path, ".") {
		if node, err = child(node, key); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return node, nil
}

// SetByPath assigns value at a dotted path. String values that read as
// booleans or numbers are stored as such. The result must still decode into
// Config.
func SetByPath(cfg *Config, path string, value any) error {
	if path == "" {
		return errors.New("empty path")
	}
	root, err := tree(cfg)
	if err != nil {
		return err
	}

	keys := strings.Split(path, ".")
	var node any = root
	for _, key := range keys[:len(keys)-1] {
		next, err := child(node, key)
		if err != nil {
			m, ok := node.(map[string]any)
			if !ok {
				return fmt.Errorf("%s: %w", path, err)
			}
			next = map[string]any{}
			m[key] = next
		}
		node = next
	}

	last := keys[len(keys)-1]
	switch v := node.(type) {
	case map[string]any:
		v[last] = coerce(value)
	case []any:
		i, err := strconv.Atoi(last)
		if err != nil || i < 0 || i >= len(v) {
			return fmt.Errorf("%s: invalid index %q", path, last)
		}
		v[i] = coerce(value)
	default:
		return fmt.Errorf("%s: cannot assign into %T", path, node)
	}

	data, err := json.Marshal(root)
	if err != nil {
		return err
	}
	var updated Config
	if err := json.Unmarshal(data, &updated); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	*cfg = updated
	return nil
}

func coerce(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// Sanitize returns a copy of the config with tenant credentials and
// connection secrets masked.
func Sanitize(cfg *Config) *Config {
	out := *cfg
	out.Tenants = make([]domain.Tenant, len(cfg.Tenants))
	for i, t := range cfg.Tenants {
		t.GatewayToken = mask(t.GatewayToken)
		t.WebhookSecret = mask(t.WebhookSecret)
		t.RelaySecret = mask(t.RelaySecret)
		if t.Plan != nil {
			p := *t.Plan
			t.Plan = &p
		}
		out.Tenants[i] = t
	}
	if u, err := url.Parse(cfg.Relay.AMQP.URL); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "***")
			out.Relay.AMQP.URL = u.String()
		}
	}
	return &out
}

// mask keeps the first and last four characters of long secrets.
func mask(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns every leaf path with its current value.
func ListPaths(cfg *Config) map[string]any {
	root, err := tree(cfg)
	if err != nil {
		return nil
	}
	leaves := make(map[string]any)
	collect("", root, leaves)
	return leaves
}

// SortedPaths returns the keys of ListPaths in order.
func SortedPaths(cfg *Config) []string {
	leaves := ListPaths(cfg)
	keys := make([]string, 0, len(leaves))
	for k := range leaves {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func collect(prefix string, node any, leaves map[string]any) {
	join := func(k string) string {
		if prefix == "" {
			return k
		}
		return prefix + "." + k
	}
	switch v := node.(type) {
	case map[string]any:
		for k, val := range v {
			collect(join(k), val, leaves)
		}
	case []any:
		for i, val := range v {
			collect(join(strconv.Itoa(i)), val, leaves)
		}
	default:
		leaves[prefix] = v
	}
}
