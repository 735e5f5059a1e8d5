// ABOUTME: Typed webhook payload with explicit optional fields per event shape
// ABOUTME: Parse rejects malformed JSON; Kind discriminates messaging event variants

package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedPayload is returned when the body is not a valid webhook payload.
var ErrMalformedPayload = errors.New("malformed webhook payload")

// ObjectPage is the object discriminator for page-messaging deliveries.
const ObjectPage = "page"

// EventKind discriminates the variants of a messaging event.
type EventKind string

const (
	KindMessage  EventKind = "message"
	KindEcho     EventKind = "echo"
	KindPostback EventKind = "postback"
	KindDelivery EventKind = "delivery"
	KindRead     EventKind = "read"
	KindUnknown  EventKind = "unknown"
)

// Payload is the top-level webhook delivery.
type Payload struct {
	Object  string  `json:"object"`
	Entries []Entry `json:"entry"`
}

// IsPage reports whether this delivery carries page-messaging events.
func (p *Payload) IsPage() bool {
	return p.Object == ObjectPage
}

// Entry groups the events for one page.
type Entry struct {
	PageID    string           `json:"id"`
	Time      int64            `json:"time"`
	Messaging []MessagingEvent `json:"messaging"`
}

// Participant identifies a sender or recipient by platform-scoped id.
type Participant struct {
	ID string `json:"id"`
}

// MessagingEvent is one event inside an entry. Exactly one of Message,
// Postback, Delivery, or Read is expected to be set.
type MessagingEvent struct {
	Sender    *Participant `json:"sender,omitempty"`
	Recipient *Participant `json:"recipient,omitempty"`
	Timestamp int64        `json:"timestamp"` // milliseconds since epoch
	Message   *MessageBody `json:"message,omitempty"`
	Postback  *Postback    `json:"postback,omitempty"`
	Delivery  *Delivery    `json:"delivery,omitempty"`
	Read      *Read        `json:"read,omitempty"`
}

// MessageBody is the message variant.
type MessageBody struct {
	MID         string       `json:"mid"`
	Text        string       `json:"text,omitempty"`
	IsEcho      bool         `json:"is_echo,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is a non-text message part.
type Attachment struct {
	Type    string `json:"type"`
	Payload struct {
		URL string `json:"url,omitempty"`
	} `json:"payload"`
}

// Postback is the postback-button variant.
type Postback struct {
	MID     string `json:"mid,omitempty"`
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

// Delivery is the delivery-receipt variant.
type Delivery struct {
	MIDs      []string `json:"mids,omitempty"`
	Watermark int64    `json:"watermark"`
}

// Read is the read-receipt variant.
type Read struct {
	Watermark int64 `json:"watermark"`
}

// Kind reports which variant this event carries.
func (e *MessagingEvent) Kind() EventKind {
	switch {
	case e.Message != nil && e.Message.IsEcho:
		return KindEcho
	case e.Message != nil:
		return KindMessage
	case e.Postback != nil:
		return KindPostback
	case e.Delivery != nil:
		return KindDelivery
	case e.Read != nil:
		return KindRead
	default:
		return KindUnknown
	}
}

// SenderID returns the sender's id or "" when absent.
func (e *MessagingEvent) SenderID() string {
	if e.Sender == nil {
		return ""
	}
	return e.Sender.ID
}

// RecipientID returns the recipient's id or "" when absent.
func (e *MessagingEvent) RecipientID() string {
	if e.Recipient == nil {
		return ""
	}
	return e.Recipient.ID
}

// Time converts the millisecond timestamp to a UTC instant. The zero time is
// returned when the platform omitted it.
func (e *MessagingEvent) Time() time.Time {
	if e.Timestamp <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(e.Timestamp).UTC()
}

// Body returns the storable text of a message event and whether there is one.
// Attachment-only messages are summarized by type and URL.
func (e *MessagingEvent) Body() (string, bool) {
	if e.Message == nil {
		return "", false
	}
	if e.Message.Text != "" {
		return e.Message.Text, true
	}
	if len(e.Message.Attachments) == 0 {
		return "", false
	}
	parts := make([]string, 0, len(e.Message.Attachments))
	for _, a := range e.Message.Attachments {
		if a.Payload.URL != "" {
			parts = append(parts, fmt.Sprintf("[%s] %s", a.Type, a.Payload.URL))
		} else {
			parts = append(parts, fmt.Sprintf("[%s]", a.Type))
		}
	}
	return strings.Join(parts, "\n"), true
}

// Parse decodes a webhook body.
func Parse(payload []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.Object == "" {
		return nil, fmt.Errorf("%w: missing object", ErrMalformedPayload)
	}
	return &p, nil
}
