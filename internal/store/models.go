// ABOUTME: gorm models for users, page connections, conversations and messages
// ABOUTME: Records reference each other by id; JSON tags match the client contract

package store

import (
	"time"

	"gorm.io/gorm"
)

// Direction constants for Message.Direction
const (
	DirectionIncoming = "incoming" // From the external participant to the page
	DirectionOutgoing = "outgoing" // From the helpdesk user to the participant
)

// User is a helpdesk operator account.
type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UUID         string    `gorm:"size:36;uniqueIndex;not null" json:"uuid"`
	Email        string    `gorm:"size:255;uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"not null" json:"-"`
	FullName     *string   `gorm:"size:255" json:"full_name"`
	IsActive     bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PageConnection links a user to a messaging-platform page.
// AccessToken is opaque and only meaningful to the platform API.
type PageConnection struct {
	ID          uint      `gorm:"primaryKey" json:"-"`
	PageID      string    `gorm:"size:64;not null;uniqueIndex:idx_page_user" json:"id"`
	UserID      uint      `gorm:"not null;uniqueIndex:idx_page_user;index" json:"-"`
	Name        string    `gorm:"size:255;not null" json:"name"`
	AccessToken string    `gorm:"not null" json:"-"`
	PictureURL  *string   `json:"picture_url"`
	IsActive    bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time `json:"-"`
	UpdatedAt   time.Time `json:"-"`
}

// Conversation is a continuity window with one external participant.
type Conversation struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	UserID          uint      `gorm:"not null;index:idx_conversation_pair,priority:1" json:"user_id"`
	ParticipantID   string    `gorm:"size:64;not null;index:idx_conversation_pair,priority:2" json:"fb_user_id"`
	ParticipantName string    `gorm:"size:255" json:"fb_user_name"`
	CreatedAt       time.Time `gorm:"index:idx_conversation_pair,priority:3" json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Message is an immutable inbound or outbound message.
type Message struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ConversationID uint      `gorm:"not null;index:idx_message_conversation_ts,priority:1" json:"chat_id"`
	Content        string    `gorm:"type:text" json:"content"`
	Direction      string    `gorm:"size:16;not null" json:"message_type"`
	ExternalID     *string   `gorm:"size:255;index" json:"fb_message_id"`
	Timestamp      time.Time `gorm:"not null;index:idx_message_conversation_ts,priority:2" json:"timestamp"`
}

// BeforeSave stores conversation instants in UTC. Callers may hand in times
// in any zone; the SQLite driver cannot read back arbitrary zone names.
func (c *Conversation) BeforeSave(*gorm.DB) error {
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return nil
}

// BeforeSave stores the message timestamp in UTC.
func (m *Message) BeforeSave(*gorm.DB) error {
	m.Timestamp = m.Timestamp.UTC()
	return nil
}
