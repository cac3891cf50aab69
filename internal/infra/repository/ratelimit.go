package repository

import (
	"context"
	"errors"

	"github.com/goccy/go-json"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/totegamma/ortto-dashboard/internal/domain"
	"github.com/totegamma/ortto-dashboard/internal/infra/database/models"
)

type RateLimitRepository struct {
	db *gorm.DB
}

func NewRateLimitRepository(db *gorm.DB) *RateLimitRepository {
	return &RateLimitRepository{db: db}
}

// Put overwrites the ledger row of the document's key.
func (r *RateLimitRepository) Put(ctx context.Context, doc domain.RateLimitDocument) error {
	items, err := json.Marshal(doc.Items)
	if err != nil {
		return err
	}
	entry := models.RateLimitEntry{
		UserID:        doc.UserID,
		Timeframe:     doc.Timeframe,
		Items:         string(items),
		RateLimitedAt: doc.RateLimitedAt,
		ExpiresAt:     doc.ExpiresAt,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "timeframe"}},
		DoUpdates: clause.AssignmentColumns([]string{"items", "rate_limited_at", "expires_at"}),
	}).Create(&entry).Error
}

func (r *RateLimitRepository) Get(ctx context.Context, userID, timeframe string) (*domain.RateLimitDocument, error) {
	var entry models.RateLimitEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND timeframe = ?", userID, timeframe).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NotFoundError{Resource: "rate limit entry"}
	}
	if err != nil {
		return nil, err
	}

	var items []domain.ReportItem
	if err := json.Unmarshal([]byte(entry.Items), &items); err != nil {
		return nil, err
	}
	return &domain.RateLimitDocument{
		UserID:        entry.UserID,
		Timeframe:     entry.Timeframe,
		Items:         items,
		RateLimitedAt: entry.RateLimitedAt,
		ExpiresAt:     entry.ExpiresAt,
	}, nil
}

func (r *RateLimitRepository) Delete(ctx context.Context, userID, timeframe string) error {
	return r.db.WithContext(ctx).
		Where("user_id = ? AND timeframe = ?", userID, timeframe).
		Delete(&models.RateLimitEntry{}).Error
}
