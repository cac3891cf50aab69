package repository

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/totegamma/ortto-dashboard/internal/domain"
	"github.com/totegamma/ortto-dashboard/internal/infra/database/models"
)

type ReportRepository struct {
	db *gorm.DB
}

func NewReportRepository(db *gorm.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// AddRecords inserts records whose item ID is not yet cached and refreshes the header when any were added.
// The unique (user_id, timeframe, item_id) index turns concurrent writers into a set union.
func (r *ReportRepository) AddRecords(ctx context.Context, userID, timeframe string, records []domain.ReportRecord, now time.Time) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	rows := make([]models.ReportCacheRecord, 0, len(records))
	for _, rec := range records {
		counters, err := json.Marshal(rec.Counters)
		if err != nil {
			return 0, err
		}
		if rec.Counters == nil {
			counters = []byte("{}")
		}
		rows = append(rows, models.ReportCacheRecord{
			UserID:    userID,
			Timeframe: timeframe,
			ItemID:    rec.ID,
			Kind:      string(rec.Kind),
			Name:      rec.Name,
			Counters:  string(counters),
			FetchedAt: rec.FetchedAt,
		})
	}

	var added int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {

		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.ReportCache{
			UserID:      userID,
			Timeframe:   timeframe,
			FetchedAt:   now,
			LastUpdated: now,
		}).Error; err != nil {
			return err
		}

		var header models.ReportCache
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND timeframe = ?", userID, timeframe).
			Take(&header).Error
		if err != nil {
			return err
		}

		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "timeframe"}, {Name: "item_id"}},
			DoNothing: true,
		}).Create(&rows)
		if result.Error != nil {
			return result.Error
		}
		added = result.RowsAffected
		if added == 0 {
			return nil
		}

		var count int64
		if err := tx.Model(&models.ReportCacheRecord{}).
			Where("user_id = ? AND timeframe = ?", userID, timeframe).
			Count(&count).Error; err != nil {
			return err
		}

		return tx.Model(&models.ReportCache{}).
			Where("user_id = ? AND timeframe = ?", userID, timeframe).
			Updates(map[string]any{
				"fetched_at":   now,
				"last_updated": now,
				"count":        count,
			}).Error
	})
	if err != nil {
		return 0, err
	}
	return int(added), nil
}

func (r *ReportRepository) Load(ctx context.Context, userID, timeframe string) (*domain.CacheDocument, error) {
	var header models.ReportCache
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND timeframe = ?", userID, timeframe).
		Take(&header).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NotFoundError{Resource: "report cache"}
	}
	if err != nil {
		return nil, err
	}

	var rows []models.ReportCacheRecord
	err = r.db.WithContext(ctx).
		Where("user_id = ? AND timeframe = ?", userID, timeframe).
		Order("seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	doc := &domain.CacheDocument{
		UserID:      header.UserID,
		Timeframe:   header.Timeframe,
		Records:     make([]domain.ReportRecord, 0, len(rows)),
		FetchedAt:   header.FetchedAt,
		LastUpdated: header.LastUpdated,
		Count:       len(rows),
	}
	for _, row := range rows {
		counters := map[string]int64{}
		if err := json.Unmarshal([]byte(row.Counters), &counters); err != nil {
			return nil, err
		}
		doc.Records = append(doc.Records, domain.ReportRecord{
			ID:        row.ItemID,
			Kind:      domain.ReportKind(row.Kind),
			Name:      row.Name,
			Counters:  counters,
			FetchedAt: row.FetchedAt,
		})
	}
	return doc, nil
}

func (r *ReportRepository) Delete(ctx context.Context, userID, timeframe string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND timeframe = ?", userID, timeframe).
			Delete(&models.ReportCacheRecord{}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ? AND timeframe = ?", userID, timeframe).
			Delete(&models.ReportCache{}).Error
	})
}

func (r *ReportRepository) DeleteAll(ctx context.Context, userID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&models.ReportCacheRecord{}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", userID).Delete(&models.ReportCache{}).Error
	})
}
