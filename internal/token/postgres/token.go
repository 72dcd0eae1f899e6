package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	tokenDatamodel "github.com/frahmantamala/capgate/internal/core/datamodel/token"
	"github.com/frahmantamala/capgate/internal/token"
	"gorm.io/gorm"
)

type TokenRepository struct {
	db *gorm.DB
}

func NewTokenRepository(db *gorm.DB) token.RepositoryAPI {
	return &TokenRepository{db: db}
}

func (r *TokenRepository) Create(ctx context.Context, rec *tokenDatamodel.RefreshToken) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *TokenRepository) GetByTokenID(ctx context.Context, tokenID string) (*tokenDatamodel.RefreshToken, error) {
	var rec tokenDatamodel.RefreshToken
	err := r.db.WithContext(ctx).Where("token_id = ?", tokenID).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Rotate revokes the old record with a conditional update and inserts the new
// one in the same transaction. Only the caller whose update touches the row
// proceeds; everyone else gets token.ErrAlreadyRevoked.
func (r *TokenRepository) Rotate(ctx context.Context, oldTokenID, reason string, at time.Time, next *tokenDatamodel.RefreshToken) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&tokenDatamodel.RefreshToken{}).
			Where("token_id = ? AND revoked = ? AND expires_at > ?", oldTokenID, false, at).
			Updates(map[string]interface{}{
				"revoked":        true,
				"revoked_reason": reason,
				"revoked_at":     at,
				"replaced_by":    next.TokenID,
			})
		if res.Error != nil {
			return fmt.Errorf("revoke old token: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return token.ErrAlreadyRevoked
		}
		if err := tx.Create(next).Error; err != nil {
			return fmt.Errorf("insert new token: %w", err)
		}
		return nil
	})
}

func (r *TokenRepository) Revoke(ctx context.Context, tokenID, reason string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&tokenDatamodel.RefreshToken{}).
		Where("token_id = ? AND revoked = ?", tokenID, false).
		Updates(map[string]interface{}{
			"revoked":        true,
			"revoked_reason": reason,
			"revoked_at":     at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *TokenRepository) RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&tokenDatamodel.RefreshToken{}).
		Where("user_id = ? AND revoked = ?", userID, false).
		Updates(map[string]interface{}{
			"revoked":        true,
			"revoked_reason": reason,
			"revoked_at":     at,
		})
	return res.RowsAffected, res.Error
}

func (r *TokenRepository) CountActive(ctx context.Context, userID string, at time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&tokenDatamodel.RefreshToken{}).
		Where("user_id = ? AND revoked = ? AND expires_at > ?", userID, false, at).
		Count(&n).Error
	return n, err
}

func (r *TokenRepository) PurgeExpired(ctx context.Context, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at <= ?", at).
		Delete(&tokenDatamodel.RefreshToken{})
	return res.RowsAffected, res.Error
}
