// Package identity resolves canonical contact ids and group display names.
package identity

import (
	"context"
	"log/slog"
	"strings"

	"chatinbox/internal/domain"
)

// Well-known id domains.
const (
	DefaultContactDomain = "s.whatsapp.net"
	LinkedDeviceDomain   = "lid"
	GroupDomain          = "g.us"
)

// ContactSource records which step produced a contact id.
type ContactSource string

const (
	SourceDirect     ContactSource = "direct"
	SourceAlt        ContactSource = "alt"
	SourceLookup     ContactSource = "lookup"
	SourceSender     ContactSource = "sender"
	SourceUnresolved ContactSource = "linked_device"
)

// ContactResolution is the outcome of resolving a chat to a contact.
type ContactResolution struct {
	ContactID string
	IsGroup   bool
	Source    ContactSource
	// Degraded is set when a linked-device id could not be mapped to a
	// phone-number id and the raw linked-device id was kept.
	Degraded bool
}

// ContactConfig configures a ContactResolver.
type ContactConfig struct {
	ContactDomain string
	Lookup        domain.IdentityLookup
	Logger        *slog.Logger
}

// ContactResolver maps raw chat ids to canonical contact ids.
type ContactResolver struct {
	contactDomain string
	lookup        domain.IdentityLookup
	logger        *slog.Logger
}

// NewContactResolver creates a ContactResolver. A nil Lookup disables the
// gateway step.
func NewContactResolver(cfg ContactConfig) *ContactResolver {
	if cfg.ContactDomain == "" {
		cfg.ContactDomain = DefaultContactDomain
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ContactResolver{
		contactDomain: cfg.ContactDomain,
		lookup:        cfg.Lookup,
		logger:        cfg.Logger,
	}
}

// Resolve finds the canonical contact id for a message. Linked-device chat
// ids are mapped through, in order: the alt ids carried by the message, a
// gateway lookup and, for incoming messages, the sender id. When all fail
// the linked-device id is kept and the result is marked Degraded.
func (r *ContactResolver) Resolve(ctx context.Context, info domain.MessageInfo, credential string) ContactResolution {
	chat := info.ChatID
	if IsGroup(chat) {
		return ContactResolution{ContactID: chat, IsGroup: true, Source: SourceDirect}
	}
	if !IsLinkedDevice(chat) {
		return ContactResolution{ContactID: r.direct(chat), Source: SourceDirect}
	}

	alts := []string{info.SenderAltID, info.RecipientAltID}
	if info.FromMe {
		alts = []string{info.RecipientAltID, info.SenderAltID}
	}
	for _, alt := range alts {
		if isPhoneID(alt, r.contactDomain) {
			return ContactResolution{ContactID: r.Canonical(alt), Source: SourceAlt}
		}
	}

	if id := r.lookupLinked(ctx, chat, credential); id != "" {
		return ContactResolution{ContactID: id, Source: SourceLookup}
	}

	if !info.FromMe && isPhoneID(info.SenderID, r.contactDomain) {
		return ContactResolution{ContactID: r.Canonical(info.SenderID), Source: SourceSender}
	}

	r.logger.Warn("linked-device id unresolved, keeping raw id", "chat", chat, "message", info.WireMessageID)
	return ContactResolution{ContactID: chat, Source: SourceUnresolved, Degraded: true}
}

// ResolveChat resolves a bare chat id, as carried by receipts and presence
// updates, without alt ids or sender fallback.
func (r *ContactResolver) ResolveChat(ctx context.Context, chat, credential string) ContactResolution {
	return r.Resolve(ctx, domain.MessageInfo{ChatID: chat, FromMe: true}, credential)
}

func (r *ContactResolver) lookupLinked(ctx context.Context, chat, credential string) string {
	if r.lookup == nil {
		return ""
	}
	id, err := r.lookup.ResolveLinkedDeviceID(ctx, User(chat), credential)
	if err != nil {
		r.logger.Warn("linked-device lookup failed", "chat", chat, "err", err)
		return ""
	}
	if id == "" {
		return ""
	}
	if IsLinkedDevice(id) {
		return ""
	}
	return r.Canonical(id)
}

// direct returns a chat id as the contact id. Only phone-number ids are
// touched, losing their device suffix but keeping their own domain; broadcast,
// newsletter and other ids pass through unchanged.
func (r *ContactResolver) direct(chat string) string {
	chat = strings.TrimSpace(chat)
	d := Domain(chat)
	if !r.isContactDomain(d) {
		return chat
	}
	if user := User(chat); isDigits(user) {
		return user + "@" + d
	}
	return chat
}

func (r *ContactResolver) isContactDomain(d string) bool {
	return d == r.contactDomain || d == DefaultContactDomain || d == "c.us"
}

// Canonical renders id as "<user>@<contact domain>", dropping any device
// suffix and leading "+". Group and linked-device ids are returned as is.
func (r *ContactResolver) Canonical(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || IsGroup(id) || IsLinkedDevice(id) {
		return id
	}
	user := User(id)
	if user == "" {
		return id
	}
	return user + "@" + r.contactDomain
}

// User returns the user part of an id: "5511:3@s.whatsapp.net" yields "5511".
func User(id string) string {
	user, _, _ := strings.Cut(strings.TrimSpace(id), "@")
	user, _, _ = strings.Cut(user, ":")
	user, _, _ = strings.Cut(user, ".")
	return strings.TrimPrefix(user, "+")
}

// Domain returns the server part of an id, or "".
func Domain(id string) string {
	_, server, ok := strings.Cut(id, "@")
	if !ok {
		return ""
	}
	return server
}

// IsGroup reports whether id is a group id.
func IsGroup(id string) bool {
	return Domain(id) == GroupDomain
}

// IsLinkedDevice reports whether id is a linked-device id.
func IsLinkedDevice(id string) bool {
	return Domain(id) == LinkedDeviceDomain
}

// isPhoneID reports whether id is a phone-number contact id. Bare numbers
// count as such.
func isPhoneID(id, contactDomain string) bool {
	if id == "" {
		return false
	}
	d := Domain(id)
	if d != "" && d != contactDomain && d != DefaultContactDomain && d != "c.us" {
		return false
	}
	return isDigits(User(id))
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
