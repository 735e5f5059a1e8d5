// ABOUTME: PageConnection repository methods
// ABOUTME: Connections are soft-deleted through IsActive; one row per (page, user)

package store

import (
	"context"
	"fmt"
)

// CreatePageConnection inserts a new connection row.
// Returns ErrDuplicatePage if a row for the same (page, user) already exists.
func (s *Store) CreatePageConnection(ctx context.Context, page *PageConnection) error {
	if err := s.db.WithContext(ctx).Create(page).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicatePage
		}
		return fmt.Errorf("creating page connection: %w", err)
	}
	return nil
}

// GetPageConnection returns the (page, user) row regardless of its active flag.
func (s *Store) GetPageConnection(ctx context.Context, pageID string, userID uint) (*PageConnection, error) {
	var page PageConnection
	err := s.db.WithContext(ctx).
		Where("page_id = ? AND user_id = ?", pageID, userID).
		First(&page).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &page, nil
}

// GetActivePageConnection returns the (page, user) row only if it is active.
func (s *Store) GetActivePageConnection(ctx context.Context, pageID string, userID uint) (*PageConnection, error) {
	var page PageConnection
	err := s.db.WithContext(ctx).
		Where("page_id = ? AND user_id = ? AND is_active = ?", pageID, userID, true).
		First(&page).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &page, nil
}

// ReactivatePageConnection marks a row active again with a fresh token.
func (s *Store) ReactivatePageConnection(ctx context.Context, page *PageConnection, accessToken string) error {
	err := s.db.WithContext(ctx).Model(page).Updates(map[string]any{
		"is_active":    true,
		"access_token": accessToken,
	}).Error
	if err != nil {
		return fmt.Errorf("reactivating page connection: %w", err)
	}
	page.IsActive = true
	page.AccessToken = accessToken
	return nil
}

// DeactivatePageConnection soft-deletes the caller's active row for pageID.
// Returns ErrNotFound if there is no active row.
func (s *Store) DeactivatePageConnection(ctx context.Context, pageID string, userID uint) error {
	res := s.db.WithContext(ctx).Model(&PageConnection{}).
		Where("page_id = ? AND user_id = ? AND is_active = ?", pageID, userID, true).
		Update("is_active", false)
	if res.Error != nil {
		return fmt.Errorf("deactivating page connection: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// FirstActivePage returns the user's earliest active connection, the one used
// for outbound sends and profile lookups.
func (s *Store) FirstActivePage(ctx context.Context, userID uint) (*PageConnection, error) {
	var page PageConnection
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("id ASC").
		First(&page).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &page, nil
}

// LatestActivePage returns the user's most recently created active connection.
func (s *Store) LatestActivePage(ctx context.Context, userID uint) (*PageConnection, error) {
	var page PageConnection
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("id DESC").
		First(&page).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &page, nil
}

// OwnerOfPage returns the user owning an active connection for pageID.
// If several users connected the same page, the earliest connection wins.
func (s *Store) OwnerOfPage(ctx context.Context, pageID string) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).
		Joins("JOIN page_connections ON page_connections.user_id = users.id").
		Where("page_connections.page_id = ? AND page_connections.is_active = ?", pageID, true).
		Order("page_connections.id ASC").
		First(&user).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}
