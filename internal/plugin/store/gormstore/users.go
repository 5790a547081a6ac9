package gormstore

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/chat-service/internal/model"
)

// EnsureUser implements ensure-exists semantics for authenticated
// callers: look up by internal id, create if absent, and re-stamp the
// kahaId when the external identity's mapping has drifted.
func (s *Store) EnsureUser(ctx context.Context, userID string, kahaID string) (*model.User, error) {
	var user model.User
	result := s.db.WithContext(ctx).Where("id = ?", userID).Limit(1).Find(&user)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to look up user: %w", result.Error)
	}

	now := time.Now()
	if result.RowsAffected == 0 {
		user = model.User{ID: userID, KahaID: kahaID, CreatedAt: now, UpdatedAt: now}
		if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
			// Concurrent first contact from the same caller: the other
			// request won the insert, reuse its row.
			if isDuplicateKey(err) {
				if ferr := s.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error; ferr == nil {
					return &user, nil
				}
			}
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
		return &user, nil
	}

	if kahaID != "" && user.KahaID != kahaID {
		err := s.db.WithContext(ctx).Model(&model.User{}).
			Where("id = ?", userID).
			Updates(map[string]interface{}{"kaha_id": kahaID, "updated_at": now}).Error
		if err != nil {
			return nil, fmt.Errorf("failed to update kahaId: %w", err)
		}
		user.KahaID = kahaID
		user.UpdatedAt = now
	}
	return &user, nil
}
