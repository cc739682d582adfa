package domain

import (
	"encoding/json"
	"time"
)

// EventType is the normalized wire event type.
type EventType string

const (
	EventMessage     EventType = "message"
	EventReadReceipt EventType = "read-receipt"
	EventPresence    EventType = "presence"
	EventStatus      EventType = "status"
	EventGroupInfo   EventType = "group-info"
	EventJoinedGroup EventType = "joined-group"
	EventUnhandled   EventType = "unhandled"
)

// RawEventEnvelope is one inbound webhook delivery before decoding.
type RawEventEnvelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// MessageInfo identifies a message independently of its content.
type MessageInfo struct {
	ChatID         string    `json:"chatId"`
	SenderID       string    `json:"senderId,omitempty"`
	SenderAltID    string    `json:"senderAltId,omitempty"`
	RecipientAltID string    `json:"recipientAltId,omitempty"`
	WireMessageID  string    `json:"wireMessageId"`
	FromMe         bool      `json:"fromMe"`
	PushName       string    `json:"pushName,omitempty"`
	ParticipantID  string    `json:"participantId,omitempty"`
	GroupName      string    `json:"groupName,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	// FallbackID is set when WireMessageID was synthesized locally.
	FallbackID bool `json:"fallbackId,omitempty"`
}

// Direction derives the message direction from FromMe.
func (i MessageInfo) Direction() Direction {
	if i.FromMe {
		return DirectionOutgoing
	}
	return DirectionIncoming
}
