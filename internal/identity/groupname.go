package identity

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/text/cases"

	"chatinbox/internal/domain"
)

// placeholder names the gateway emits for groups it has no subject for
var placeholderName = regexp.MustCompile(`(?i)^(group|grupo)\s*\d+$`)

const fallbackDigits = 8

// GroupNameConfig configures a GroupNameResolver.
type GroupNameConfig struct {
	Lookup domain.IdentityLookup
	Logger *slog.Logger
}

// GroupNameResolver picks a group display name from the webhook payload,
// the stored conversation or the gateway API, in that order.
type GroupNameResolver struct {
	lookup domain.IdentityLookup
	logger *slog.Logger
}

// NewGroupNameResolver creates a GroupNameResolver. A nil Lookup disables
// the gateway step.
func NewGroupNameResolver(cfg GroupNameConfig) *GroupNameResolver {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &GroupNameResolver{lookup: cfg.Lookup, logger: cfg.Logger}
}

// Resolve returns the best name for groupID. The gateway is only asked
// when neither the webhook nor the stored name is valid. Updated is set
// when the result differs from storedName.
func (g *GroupNameResolver) Resolve(ctx context.Context, groupID, webhookName, storedName, credential string) domain.GroupNameResolution {
	name, source := g.pick(ctx, groupID, webhookName, storedName, credential)
	res := domain.GroupNameResolution{Name: name, Source: source}
	if !SameName(name, storedName) {
		res.Updated = true
		res.PreviousName = storedName
	}
	return res
}

func (g *GroupNameResolver) pick(ctx context.Context, groupID, webhookName, storedName, credential string) (string, domain.NameSource) {
	if IsValidGroupName(webhookName, groupID) {
		return strings.TrimSpace(webhookName), domain.NameSourceWebhook
	}
	if IsValidGroupName(storedName, groupID) {
		return strings.TrimSpace(storedName), domain.NameSourceStored
	}
	if g.lookup != nil {
		name, err := g.lookup.FetchGroupName(ctx, groupID, credential)
		switch {
		case err != nil:
			g.logger.Warn("group name lookup failed", "group", groupID, "err", err)
		case IsValidGroupName(name, groupID):
			return strings.TrimSpace(name), domain.NameSourceGatewayAPI
		}
	}
	return FallbackGroupName(groupID), domain.NameSourceFallback
}

// IsValidGroupName rejects names that are empty, purely numeric, contain
// the group id, or look like a gateway placeholder.
func IsValidGroupName(name, groupID string) bool {
	name = strings.TrimSpace(name)
	if name == "" || isDigits(name) {
		return false
	}
	if strings.Contains(name, "@"+GroupDomain) {
		return false
	}
	if user := User(groupID); user != "" && strings.Contains(name, user) {
		return false
	}
	return !placeholderName.MatchString(name)
}

// FallbackGroupName renders "Group <first 8 digits of the group id>".
// The result is itself an invalid name, so any real name replaces it.
func FallbackGroupName(groupID string) string {
	var digits []rune
	for _, r := range User(groupID) {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
			if len(digits) == fallbackDigits {
				break
			}
		}
	}
	if len(digits) == 0 {
		return "Group " + User(groupID)
	}
	return "Group " + string(digits)
}

// SameName compares display names ignoring surrounding space and case.
func SameName(a, b string) bool {
	fold := cases.Fold()
	return fold.String(strings.TrimSpace(a)) == fold.String(strings.TrimSpace(b))
}
