package domain

import "time"

// MessageKind classifies decoded message content. The set is closed.
type MessageKind string

const (
	KindText            MessageKind = "text"
	KindImage           MessageKind = "image"
	KindVideo           MessageKind = "video"
	KindAudio           MessageKind = "audio"
	KindDocument        MessageKind = "document"
	KindLocation        MessageKind = "location"
	KindContact         MessageKind = "contact"
	KindSticker         MessageKind = "sticker"
	KindReaction        MessageKind = "reaction"
	KindPoll            MessageKind = "poll"
	KindPollVote        MessageKind = "poll_vote"
	KindButtons         MessageKind = "buttons"
	KindButtonsResponse MessageKind = "buttons_response"
	KindList            MessageKind = "list"
	KindListResponse    MessageKind = "list_response"
	KindTemplate        MessageKind = "template"
	KindChannelComment  MessageKind = "channel_comment"
	KindProtocolEdit    MessageKind = "protocol_edit"
	KindProtocolDelete  MessageKind = "protocol_delete"
	KindUnknown         MessageKind = "unknown"
	KindSystemIgnore    MessageKind = "system_ignore"
)

// IsProtocol reports whether the kind mutates a previously stored message.
func (k MessageKind) IsProtocol() bool {
	return k == KindProtocolEdit || k == KindProtocolDelete
}

// Direction is relative to the tenant's own gateway session.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// MessageStatus tracks delivery state reported by read receipts.
type MessageStatus string

const (
	StatusReceived  MessageStatus = "received"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusPlayed    MessageStatus = "played"
)

// NormalizedMessage is the canonical form of one decoded gateway message.
// Exactly one content branch (Text-only, Media, Location, Contact, Reaction,
// Poll, Interactive) is meaningful for a given Kind.
type NormalizedMessage struct {
	Kind         MessageKind `json:"type"`
	Text         string      `json:"textContent"`
	OriginalType string      `json:"originalType,omitempty"`

	Media       *MediaRef        `json:"media,omitempty"`
	Location    *Location        `json:"location,omitempty"`
	Contact     *ContactCard     `json:"contact,omitempty"`
	Reaction    *Reaction        `json:"reaction,omitempty"`
	Poll        *PollData        `json:"pollData,omitempty"`
	Interactive *InteractiveData `json:"interactiveData,omitempty"`

	// ProtocolTarget is the wire id an edit/delete/comment refers to.
	ProtocolTarget string `json:"protocolTarget,omitempty"`

	QuotedWireID      string `json:"quotedWireId,omitempty"`
	ReplyToInternalID string `json:"replyToInternalId,omitempty"`

	IsEdited  bool `json:"isEdited"`
	IsDeleted bool `json:"isDeleted"`
	ViewOnce  bool `json:"viewOnce,omitempty"`

	ParticipantID   string    `json:"participantId,omitempty"`
	ParticipantName string    `json:"participantName,omitempty"`
	Direction       Direction `json:"direction"`
	WireTimestamp   time.Time `json:"wireTimestamp"`
}

// MediaRef bundles the gateway's pointer to encrypted media.
type MediaRef struct {
	URL           string `json:"url,omitempty"`
	DirectPath    string `json:"directPath,omitempty"`
	MediaKey      string `json:"mediaKey,omitempty"`
	MimeType      string `json:"mimeType,omitempty"`
	FileSHA256    string `json:"fileSha256,omitempty"`
	FileEncSHA256 string `json:"fileEncSha256,omitempty"`
	FileLength    int64  `json:"fileLength,omitempty"`
	Seconds       int    `json:"seconds,omitempty"`
	Width         int    `json:"width,omitempty"`
	Height        int    `json:"height,omitempty"`
	Thumbnail     string `json:"thumbnail,omitempty"`
	PTT           bool   `json:"ptt,omitempty"`
	Filename      string `json:"filename,omitempty"`
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
	Live      bool    `json:"live,omitempty"`
}

type ContactCard struct {
	DisplayName string   `json:"displayName"`
	VCards      []string `json:"vcards,omitempty"`
}

type Reaction struct {
	TargetWireID string `json:"targetWireId"`
	Emoji        string `json:"emoji"`
	Removed      bool   `json:"removed,omitempty"`
}

type PollData struct {
	Question        string   `json:"question,omitempty"`
	Options         []string `json:"options,omitempty"`
	SelectableCount int      `json:"selectableCount,omitempty"`
	// TargetWireID is set on votes and points at the poll creation message.
	TargetWireID string `json:"targetWireId,omitempty"`
}

// InteractiveData covers buttons, lists, templates and the replies to them.
type InteractiveData struct {
	Kind        string              `json:"kind"`
	Title       string              `json:"title,omitempty"`
	Body        string              `json:"body,omitempty"`
	Footer      string              `json:"footer,omitempty"`
	ButtonText  string              `json:"buttonText,omitempty"`
	Options     []InteractiveOption `json:"options,omitempty"`
	SelectedID  string              `json:"selectedId,omitempty"`
	SelectedRow string              `json:"selectedTitle,omitempty"`
}

type InteractiveOption struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Section     string `json:"section,omitempty"`
	URL         string `json:"url,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

// PersistedMessage is a NormalizedMessage after the storage collaborator accepted it.
type PersistedMessage struct {
	NormalizedMessage
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	WireMessageID  string        `json:"wireMessageId"`
	Status         MessageStatus `json:"status"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// MessageFields is a partial update; nil fields are left untouched.
type MessageFields struct {
	Text      *string        `json:"textContent,omitempty"`
	IsEdited  *bool          `json:"isEdited,omitempty"`
	IsDeleted *bool          `json:"isDeleted,omitempty"`
	Status    *MessageStatus `json:"status,omitempty"`
}

// Preview renders a one-line summary used for conversation lists.
func (m NormalizedMessage) Preview() string {
	if m.Text != "" {
		return firstLine(m.Text)
	}
	switch m.Kind {
	case KindImage:
		return "📷 Image"
	case KindVideo:
		return "🎥 Video"
	case KindAudio:
		if m.Media != nil && m.Media.PTT {
			return "🎤 Voice message"
		}
		return "🎵 Audio"
	case KindDocument:
		if m.Media != nil && m.Media.Filename != "" {
			return "📄 " + m.Media.Filename
		}
		return "📄 Document"
	case KindSticker:
		return "🎨 Sticker"
	case KindLocation:
		return "📍 Location"
	case KindContact:
		return "👤 Contact"
	}
	return ""
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

// MutationAction is the kind of change a protocol message applies.
type MutationAction string

const (
	MutationEdit   MutationAction = "edit"
	MutationDelete MutationAction = "delete"
)

// ProtocolMutation is an edit or delete aimed at a stored message.
type ProtocolMutation struct {
	TargetWireMessageID string         `json:"targetWireMessageId"`
	Action              MutationAction `json:"action"`
	NewContent          string         `json:"newContent,omitempty"`
}

// Mutation extracts the protocol mutation carried by m. ok is false for
// non-protocol kinds.
func (m NormalizedMessage) Mutation() (ProtocolMutation, bool) {
	switch m.Kind {
	case KindProtocolEdit:
		return ProtocolMutation{TargetWireMessageID: m.ProtocolTarget, Action: MutationEdit, NewContent: m.Text}, true
	case KindProtocolDelete:
		return ProtocolMutation{TargetWireMessageID: m.ProtocolTarget, Action: MutationDelete}, true
	}
	return ProtocolMutation{}, false
}
