package webhook

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"chatinbox/internal/domain"
	"chatinbox/internal/wire"
)

// Receipt is an adapted read/delivery receipt.
type Receipt struct {
	ChatID     string
	SenderID   string
	MessageIDs []string
	Status     domain.MessageStatus
	Timestamp  time.Time
}

// Presence is an adapted chat or contact presence update.
type Presence struct {
	ContactID string
	State     string
	LastSeen  time.Time
}

// GroupEvent is an adapted group-info or joined-group event.
type GroupEvent struct {
	GroupID string
	Name    string
}

// SessionStatus is an adapted gateway connection status.
type SessionStatus struct {
	Status string
	Reason string
}

// AdaptReceipt reads a receipt payload. ok is false for receipt types the
// engine does not track (sender, retry, server-error).
func AdaptReceipt(data []byte, received time.Time) (Receipt, bool, error) {
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return Receipt{}, false, &MissingInfoError{Reason: "receipt payload is not an object"}
	}
	src := root
	if ms := wire.Get(root, "MessageSource"); ms.IsObject() {
		src = ms
	}
	rc := Receipt{
		ChatID:   wire.Str(src, "Chat"),
		SenderID: wire.Str(src, "Sender"),
	}
	if rc.ChatID == "" {
		return Receipt{}, false, &MissingInfoError{Reason: "receipt chat id is empty"}
	}
	ids := wire.Get(root, "MessageIDs", "MessageIds", "Ids")
	if ids.IsArray() {
		for _, id := range ids.Array() {
			if s := id.String(); s != "" {
				rc.MessageIDs = append(rc.MessageIDs, s)
			}
		}
	} else if id := wire.Str(root, "MessageID", "ID"); id != "" {
		rc.MessageIDs = []string{id}
	}
	if len(rc.MessageIDs) == 0 {
		return Receipt{}, false, &MissingInfoError{Reason: "receipt carries no message ids"}
	}

	switch strings.ToLower(wire.Str(root, "Type", "State")) {
	case "", "delivered", "delivery":
		rc.Status = domain.StatusDelivered
	case "read", "read-self", "readself":
		rc.Status = domain.StatusRead
	case "played", "played-self":
		rc.Status = domain.StatusPlayed
	default:
		return rc, false, nil
	}

	if ts, ok := wire.Time(wire.Get(root, "Timestamp")); ok {
		rc.Timestamp = ts
	} else {
		rc.Timestamp = received
	}
	return rc, true, nil
}

// AdaptPresence reads a chat presence (typing, recording) or contact
// presence (online, offline) payload.
func AdaptPresence(data []byte) (Presence, error) {
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return Presence{}, &MissingInfoError{Reason: "presence payload is not an object"}
	}
	src := root
	if ms := wire.Get(root, "MessageSource"); ms.IsObject() {
		src = ms
	}
	p := Presence{ContactID: wire.Str(src, "Chat", "From", "Sender")}
	if p.ContactID == "" {
		return Presence{}, &MissingInfoError{Reason: "presence contact is empty"}
	}

	state := strings.ToLower(wire.Str(root, "State"))
	switch {
	case state == "composing" && strings.EqualFold(wire.Str(root, "Media"), "audio"):
		p.State = "recording"
	case state != "":
		p.State = state
	case wire.Get(root, "Unavailable").Exists():
		if wire.Bool(root, "Unavailable") {
			p.State = "unavailable"
		} else {
			p.State = "available"
		}
	default:
		p.State = "unknown"
	}
	if ts, ok := wire.Time(wire.Get(root, "LastSeen")); ok {
		p.LastSeen = ts
	}
	return p, nil
}

// AdaptGroup reads a group-info or joined-group payload. The name may be a
// plain string or a {"Name": ...} object.
func AdaptGroup(data []byte) (GroupEvent, error) {
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return GroupEvent{}, &MissingInfoError{Reason: "group payload is not an object"}
	}
	src := root
	if gi := wire.Get(root, "GroupInfo"); gi.IsObject() {
		src = gi
	}
	g := GroupEvent{GroupID: wire.Str(src, "JID", "Jid", "GroupJID", "Chat")}
	if g.GroupID == "" {
		return GroupEvent{}, &MissingInfoError{Reason: "group id is empty"}
	}
	name := wire.Get(src, "Name", "GroupName", "Subject")
	if name.IsObject() {
		name = wire.Get(name, "Name")
	}
	g.Name = strings.TrimSpace(name.String())
	return g, nil
}

// AdaptStatus reads a connection status payload. eventType is the raw wire
// type, used when the payload names no status of its own.
func AdaptStatus(data []byte, eventType string) SessionStatus {
	root := gjson.ParseBytes(data)
	st := SessionStatus{
		Status: wire.Str(root, "Status", "State"),
		Reason: wire.Str(root, "Reason"),
	}
	if st.Status == "" {
		st.Status = strings.ToLower(eventType)
	}
	return st
}
