// ABOUTME: Conversation and Message repository methods
// ABOUTME: Messages are append-only; appending touches the parent conversation

package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// CreateConversation inserts a new conversation.
func (s *Store) CreateConversation(ctx context.Context, conv *Conversation) error {
	if err := s.db.WithContext(ctx).Create(conv).Error; err != nil {
		return fmt.Errorf("creating conversation: %w", err)
	}
	return nil
}

// GetConversation retrieves a conversation by id.
func (s *Store) GetConversation(ctx context.Context, id uint) (*Conversation, error) {
	var conv Conversation
	if err := s.db.WithContext(ctx).First(&conv, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &conv, nil
}

// GetConversationForUser retrieves a conversation only if userID owns it.
func (s *Store) GetConversationForUser(ctx context.Context, id, userID uint) (*Conversation, error) {
	var conv Conversation
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&conv).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &conv, nil
}

// LatestConversation returns the most recently created conversation between
// a user and an external participant.
func (s *Store) LatestConversation(ctx context.Context, userID uint, participantID string) (*Conversation, error) {
	var conv Conversation
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND participant_id = ?", userID, participantID).
		Order("created_at DESC").
		Order("id DESC").
		First(&conv).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &conv, nil
}

// ListConversations returns a user's conversations, most recently created first.
func (s *Store) ListConversations(ctx context.Context, userID uint) ([]*Conversation, error) {
	var convs []*Conversation
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&convs).Error
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	return convs, nil
}

// AppendMessage inserts a message and bumps its conversation's UpdatedAt in
// one transaction.
func (s *Store) AppendMessage(ctx context.Context, msg *Message) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("creating message: %w", err)
		}
		res := tx.Model(&Conversation{}).
			Where("id = ?", msg.ConversationID).
			UpdateColumn("updated_at", msg.Timestamp.UTC())
		if res.Error != nil {
			return fmt.Errorf("touching conversation: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// LatestMessage returns the newest message of a conversation by timestamp.
func (s *Store) LatestMessage(ctx context.Context, conversationID uint) (*Message, error) {
	var msg Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("timestamp DESC").
		Order("id DESC").
		First(&msg).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &msg, nil
}

// ListMessages returns a conversation's messages in chronological order.
func (s *Store) ListMessages(ctx context.Context, conversationID uint) ([]*Message, error) {
	var msgs []*Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("timestamp ASC").
		Order("id ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	return msgs, nil
}

// MessagesByConversation loads the messages of several conversations at once,
// grouped by conversation id and ordered chronologically.
func (s *Store) MessagesByConversation(ctx context.Context, conversationIDs []uint) (map[uint][]*Message, error) {
	out := make(map[uint][]*Message, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return out, nil
	}
	var msgs []*Message
	err := s.db.WithContext(ctx).
		Where("conversation_id IN ?", conversationIDs).
		Order("timestamp ASC").
		Order("id ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	for _, m := range msgs {
		out[m.ConversationID] = append(out[m.ConversationID], m)
	}
	return out, nil
}

