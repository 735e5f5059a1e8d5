// ABOUTME: Real-time push payload for newly persisted messages
// ABOUTME: Shape: {"type":"new_message","data":{id,content,message_type,fb_message_id,timestamp}}

package conversation

import (
	"encoding/json"
	"time"

	"github.com/2389/helpdesk-gateway/internal/store"
)

// EventNewMessage is the push type for a newly persisted message.
const EventNewMessage = "new_message"

// PushEvent is the envelope written to real-time subscribers.
type PushEvent struct {
	Type string      `json:"type"`
	Data MessageData `json:"data"`
}

// MessageData is the message projection carried by a push.
type MessageData struct {
	ID          uint      `json:"id"`
	Content     string    `json:"content"`
	MessageType string    `json:"message_type"`
	FBMessageID *string   `json:"fb_message_id"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewMessageEvent encodes the push for msg.
func NewMessageEvent(msg *store.Message) ([]byte, error) {
	return json.Marshal(PushEvent{
		Type: EventNewMessage,
		Data: MessageData{
			ID:          msg.ID,
			Content:     msg.Content,
			MessageType: msg.Direction,
			FBMessageID: msg.ExternalID,
			Timestamp:   msg.Timestamp,
		},
	})
}
