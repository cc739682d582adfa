package webhook

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/tidwall/gjson"

	"chatinbox/internal/domain"
	"chatinbox/internal/wire"
)

// ErrInvalidEnvelope is returned for bodies that are not a JSON object.
var ErrInvalidEnvelope = errors.New("invalid webhook envelope")

// ParseEnvelope reads a delivery body of the form
// {"type": ..., "data"|"event": {...}, "timestamp": ...}.
func ParseEnvelope(body []byte) (domain.RawEventEnvelope, error) {
	if !gjson.ValidBytes(body) {
		return domain.RawEventEnvelope{}, ErrInvalidEnvelope
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return domain.RawEventEnvelope{}, ErrInvalidEnvelope
	}

	env := domain.RawEventEnvelope{
		Type: wire.Str(root, "Type", "EventType"),
	}
	if data := wire.Get(root, "Data", "Event"); data.Exists() {
		env.Data = json.RawMessage(data.Raw)
	}
	if ts, ok := wire.Time(wire.Get(root, "Timestamp")); ok {
		env.Timestamp = ts
	}
	return env, nil
}

// NormalizeEventType maps a wire event type name onto the engine's closed set.
func NormalizeEventType(raw string) domain.EventType {
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	switch b.String() {
	case "message", "messages":
		return domain.EventMessage
	case "readreceipt", "receipt":
		return domain.EventReadReceipt
	case "presence", "chatpresence":
		return domain.EventPresence
	case "status", "connected", "disconnected", "loggedout", "connectfailure", "streamreplaced":
		return domain.EventStatus
	case "groupinfo":
		return domain.EventGroupInfo
	case "joinedgroup":
		return domain.EventJoinedGroup
	}
	return domain.EventUnhandled
}
