// Package webhook adapts raw gateway webhook payloads into domain shapes.
//
// The gateway delivers message events either nested, as
// {"Info": {...}, "Message": {...}}, or flat, with the identifying fields at
// the top level next to "Message". Keys arrive in PascalCase or camelCase.
package webhook

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"chatinbox/internal/domain"
	"chatinbox/internal/wire"
)

// FallbackPolicy controls how an id is synthesized for messages that arrive
// without one.
type FallbackPolicy string

const (
	// FallbackUnique mints a random id; redeliveries become distinct messages.
	FallbackUnique FallbackPolicy = "unique"
	// FallbackDeterministic hashes chat, sender, timestamp and content so a
	// redelivery yields the same id.
	FallbackDeterministic FallbackPolicy = "deterministic"
)

// FallbackPrefix marks synthesized wire message ids.
const FallbackPrefix = "fallback-"

// MissingInfoError reports a message payload without enough identifying
// fields to route it.
type MissingInfoError struct {
	Reason string
}

func (e *MissingInfoError) Error() string {
	return "missing message info: " + e.Reason
}

// Message is an adapted message event.
type Message struct {
	Info    domain.MessageInfo
	Content gjson.Result
}

// Adapter flattens message payloads into MessageInfo plus raw content.
type Adapter struct {
	policy FallbackPolicy
	now    func() time.Time
}

// NewAdapter returns an Adapter using the given fallback id policy.
// Unknown policies fall back to FallbackUnique.
func NewAdapter(policy FallbackPolicy) *Adapter {
	if policy != FallbackDeterministic {
		policy = FallbackUnique
	}
	return &Adapter{policy: policy, now: time.Now}
}

// Policy returns the adapter's fallback id policy.
func (a *Adapter) Policy() FallbackPolicy { return a.policy }

// Adapt extracts identifying fields and the content object from a message
// payload. received is the envelope timestamp and is used when the payload
// carries none.
func (a *Adapter) Adapt(data []byte, received time.Time) (Message, error) {
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return Message{}, &MissingInfoError{Reason: "payload is not an object"}
	}

	src := wire.Get(root, "Info")
	if !src.IsObject() {
		if !hasIdentifyingFields(root) {
			return Message{}, &MissingInfoError{Reason: "no info object and no top-level id, chat or sender"}
		}
		src = root
	}

	info := domain.MessageInfo{
		ChatID:         wire.Str(src, "Chat", "RemoteJid", "RemoteJID"),
		SenderID:       wire.Str(src, "Sender", "Participant"),
		SenderAltID:    wire.Str(src, "SenderAlt"),
		RecipientAltID: wire.Str(src, "RecipientAlt"),
		WireMessageID:  wire.Str(src, "ID", "Id", "MessageID", "MessageId"),
		FromMe:         wire.Bool(src, "IsFromMe", "FromMe"),
		PushName:       strings.TrimSpace(wire.Str(src, "PushName")),
		GroupName:      strings.TrimSpace(wire.Str(src, "GroupName", "Subject")),
	}
	if info.GroupName == "" && src.Raw != root.Raw {
		info.GroupName = strings.TrimSpace(wire.Str(root, "GroupName", "Subject"))
	}
	if info.ChatID == "" {
		return Message{}, &MissingInfoError{Reason: "chat id is empty"}
	}
	if strings.HasSuffix(info.ChatID, "@g.us") || wire.Bool(src, "IsGroup") {
		info.ParticipantID = info.SenderID
	}

	wireTime, hasTime := wire.Time(wire.Get(src, "Timestamp"))
	switch {
	case hasTime:
		info.Timestamp = wireTime
	case !received.IsZero():
		info.Timestamp = received.UTC()
	default:
		info.Timestamp = a.now().UTC()
	}

	content := wire.Get(root, "Message")
	if !content.Exists() {
		content = wire.Get(src, "Message")
	}

	if info.WireMessageID == "" {
		info.FallbackID = true
		var ts string
		if hasTime {
			ts = strconv.FormatInt(wireTime.UnixMilli(), 10)
		}
		info.WireMessageID = a.fallbackID(info.ChatID, info.SenderID, ts, content.Raw)
	}

	return Message{Info: info, Content: content}, nil
}

func (a *Adapter) fallbackID(chat, sender, ts, content string) string {
	if a.policy == FallbackDeterministic {
		sum := sha256.Sum256([]byte(strings.Join([]string{chat, sender, ts, content}, "|")))
		return FallbackPrefix + hex.EncodeToString(sum[:])[:32]
	}
	return FallbackPrefix + uuid.NewString()
}

func hasIdentifyingFields(r gjson.Result) bool {
	return wire.Str(r, "ID", "Id", "MessageID") != "" ||
		wire.Str(r, "Chat", "RemoteJid") != "" ||
		wire.Str(r, "Sender") != ""
}

// IsFallbackID reports whether id was synthesized by an Adapter.
func IsFallbackID(id string) bool {
	return strings.HasPrefix(id, FallbackPrefix)
}
