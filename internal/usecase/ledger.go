package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/totegamma/ortto-dashboard/internal/domain"
	"github.com/totegamma/ortto-dashboard/internal/logging"
)

// Ledger remembers items the upstream throttled so they are not retried right away.
type Ledger struct {
	repo   RateLimitRepository
	window time.Duration
	now    func() time.Time
	log    zerolog.Logger
}

func NewLedger(repo RateLimitRepository, cfg domain.CacheConfig) *Ledger {
	return &Ledger{
		repo:   repo,
		window: cfg.WithDefaults().RateLimitWindow,
		now:    time.Now,
		log:    logging.Module("ledger"),
	}
}

// Record replaces the ledger entry for the key with items.
func (l *Ledger) Record(ctx context.Context, userID, timeframe string, items []domain.ReportItem) error {
	if len(items) == 0 {
		return nil
	}
	now := l.now()
	return l.repo.Put(ctx, domain.RateLimitDocument{
		UserID:        userID,
		Timeframe:     timeframe,
		Items:         append([]domain.ReportItem(nil), items...),
		RateLimitedAt: now,
		ExpiresAt:     now.Add(l.window),
	})
}

// Filter partitions items into those that may be fetched and those still quarantined.
// An expired entry is deleted and everything is available.
func (l *Ledger) Filter(ctx context.Context, userID, timeframe string, items []domain.ReportItem) (available, blocked []domain.ReportItem) {
	doc, err := l.Get(ctx, userID, timeframe)
	if err != nil {
		l.log.Warn().Err(err).Str("user", userID).Str("timeframe", timeframe).Msg("ledger unavailable, nothing quarantined")
	}
	if doc == nil {
		return items, nil
	}

	quarantined := make(map[string]struct{}, len(doc.Items))
	for _, it := range doc.Items {
		quarantined[it.ID] = struct{}{}
	}
	for _, it := range items {
		if _, ok := quarantined[it.ID]; ok {
			blocked = append(blocked, it)
		} else {
			available = append(available, it)
		}
	}
	return available, blocked
}

// Get returns the live ledger entry, or nil when none applies.
func (l *Ledger) Get(ctx context.Context, userID, timeframe string) (*domain.RateLimitDocument, error) {
	doc, err := l.repo.Get(ctx, userID, timeframe)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if doc.Expired(l.now()) {
		if err := l.repo.Delete(ctx, userID, timeframe); err != nil {
			l.log.Warn().Err(err).Str("user", userID).Str("timeframe", timeframe).Msg("failed to drop expired ledger entry")
		}
		return nil, nil
	}
	return doc, nil
}

func (l *Ledger) Clear(ctx context.Context, userID, timeframe string) error {
	return l.repo.Delete(ctx, userID, timeframe)
}
