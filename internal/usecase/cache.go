package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/totegamma/ortto-dashboard/internal/domain"
	"github.com/totegamma/ortto-dashboard/internal/logging"
	"github.com/totegamma/ortto-dashboard/internal/metrics"
)

// CacheStore accumulates fetched records per user and timeframe.
// Storage failures never surface: reads degrade to "no cache" and writes to no-ops.
type CacheStore struct {
	repo   ReportRepository
	expiry time.Duration
	now    func() time.Time
	log    zerolog.Logger
}

func NewCacheStore(repo ReportRepository, cfg domain.CacheConfig) *CacheStore {
	return &CacheStore{
		repo:   repo,
		expiry: cfg.WithDefaults().Expiry,
		now:    time.Now,
		log:    logging.Module("cache"),
	}
}

// Write merges records into the document and returns the number of new entries.
func (s *CacheStore) Write(ctx context.Context, userID, timeframe string, records []domain.ReportRecord) int {
	if len(records) == 0 {
		return 0
	}

	seen := make(map[string]struct{}, len(records))
	unique := make([]domain.ReportRecord, 0, len(records))
	for _, r := range records {
		if r.ID == "" {
			continue
		}
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		unique = append(unique, r)
	}
	if len(unique) == 0 {
		return 0
	}

	added, err := s.repo.AddRecords(ctx, userID, timeframe, unique, s.now())
	if err != nil {
		s.log.Warn().Err(err).Str("user", userID).Str("timeframe", timeframe).Int("records", len(unique)).Msg("cache write skipped")
		return 0
	}
	metrics.CacheRecordsAdded.Add(float64(added))
	return added
}

// ReadAll returns the whole document, or nil when absent, stale or unreadable.
func (s *CacheStore) ReadAll(ctx context.Context, userID, timeframe string) *domain.CacheDocument {
	doc := s.load(ctx, userID, timeframe)
	if doc != nil {
		metrics.CacheReads.WithLabelValues("hit").Inc()
	}
	return doc
}

// ReadPartial splits the requested items into cached and missing.
func (s *CacheStore) ReadPartial(ctx context.Context, userID, timeframe string, items []domain.ReportItem) domain.PartialRead {
	read := domain.PartialRead{
		Reports:      []domain.ReportRecord{},
		CachedItems:  []domain.ReportItem{},
		MissingItems: []domain.ReportItem{},
	}

	byID := map[string]domain.ReportRecord{}
	if doc := s.load(ctx, userID, timeframe); doc != nil {
		for _, r := range doc.Records {
			byID[r.ID] = r
		}
	}

	for _, item := range items {
		if rec, ok := byID[item.ID]; ok {
			read.Reports = append(read.Reports, rec)
			read.CachedItems = append(read.CachedItems, item)
			continue
		}
		read.MissingItems = append(read.MissingItems, item)
	}
	read.IsPartial = len(read.MissingItems) > 0

	switch {
	case len(read.CachedItems) == 0:
		metrics.CacheReads.WithLabelValues("miss").Inc()
	case read.IsPartial:
		metrics.CacheReads.WithLabelValues("partial").Inc()
	default:
		metrics.CacheReads.WithLabelValues("hit").Inc()
	}
	return read
}

func (s *CacheStore) load(ctx context.Context, userID, timeframe string) *domain.CacheDocument {
	doc, err := s.repo.Load(ctx, userID, timeframe)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			metrics.CacheReads.WithLabelValues("error").Inc()
			s.log.Warn().Err(err).Str("user", userID).Str("timeframe", timeframe).Msg("cache read failed, serving uncached")
		}
		return nil
	}
	if s.Stale(doc) {
		metrics.CacheReads.WithLabelValues("stale").Inc()
		return nil
	}
	return doc
}

// Stale reports whether the document is past the expiry window.
func (s *CacheStore) Stale(doc *domain.CacheDocument) bool {
	return s.now().Sub(doc.FetchedAt) > s.expiry
}

func (s *CacheStore) Clear(ctx context.Context, userID, timeframe string) error {
	return s.repo.Delete(ctx, userID, timeframe)
}

func (s *CacheStore) ClearAll(ctx context.Context, userID string) error {
	return s.repo.DeleteAll(ctx, userID)
}
