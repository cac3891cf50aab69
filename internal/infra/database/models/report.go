package models

import (
	"time"
)

// ReportCache is the header row of one user's cached reports for a timeframe.
type ReportCache struct {
	UserID      string    `json:"userId" gorm:"type:text;primaryKey"`
	Timeframe   string    `json:"timeframe" gorm:"type:text;primaryKey"`
	FetchedAt   time.Time `json:"fetchedAt" gorm:"type:timestamp with time zone;not null"`
	LastUpdated time.Time `json:"lastUpdated" gorm:"type:timestamp with time zone;not null"`
	Count       int       `json:"count" gorm:"not null;default:0"`
}

// ReportCacheRecord is one accumulated record. The unique index makes inserts add-if-absent.
type ReportCacheRecord struct {
	Seq       int64     `json:"seq" gorm:"primaryKey;autoIncrement"`
	UserID    string    `json:"userId" gorm:"type:text;not null;uniqueIndex:report_cache_record_item,priority:1"`
	Timeframe string    `json:"timeframe" gorm:"type:text;not null;uniqueIndex:report_cache_record_item,priority:2"`
	ItemID    string    `json:"itemId" gorm:"type:text;not null;uniqueIndex:report_cache_record_item,priority:3"`
	Kind      string    `json:"kind" gorm:"type:text;not null"`
	Name      string    `json:"name" gorm:"type:text"`
	Counters  string    `json:"counters" gorm:"type:jsonb;not null;default:'{}'"`
	FetchedAt time.Time `json:"fetchedAt" gorm:"type:timestamp with time zone;not null"`
}

// RateLimitEntry is the rate-limit ledger row of a user and timeframe.
type RateLimitEntry struct {
	UserID        string    `json:"userId" gorm:"type:text;primaryKey"`
	Timeframe     string    `json:"timeframe" gorm:"type:text;primaryKey"`
	Items         string    `json:"items" gorm:"type:jsonb;not null;default:'[]'"`
	RateLimitedAt time.Time `json:"rateLimitedAt" gorm:"type:timestamp with time zone;not null"`
	ExpiresAt     time.Time `json:"expiresAt" gorm:"type:timestamp with time zone;not null;index"`
}
