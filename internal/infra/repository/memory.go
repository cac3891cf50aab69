package repository

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/totegamma/ortto-dashboard/internal/domain"
)

type cacheKey struct {
	userID    string
	timeframe string
}

// MemoryReportRepository keeps report caches in process memory. It is used when no database is configured.
type MemoryReportRepository struct {
	mu   sync.Mutex
	docs map[cacheKey]*domain.CacheDocument
}

func NewMemoryReportRepository() *MemoryReportRepository {
	return &MemoryReportRepository{docs: map[cacheKey]*domain.CacheDocument{}}
}

func (r *MemoryReportRepository) AddRecords(ctx context.Context, userID, timeframe string, records []domain.ReportRecord, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := cacheKey{userID, timeframe}
	doc, ok := r.docs[key]
	if !ok {
		doc = &domain.CacheDocument{UserID: userID, Timeframe: timeframe, FetchedAt: now, LastUpdated: now}
		r.docs[key] = doc
	}

	ids := doc.IDs()
	added := 0
	for _, rec := range records {
		if _, dup := ids[rec.ID]; dup {
			continue
		}
		ids[rec.ID] = struct{}{}
		doc.Records = append(doc.Records, rec)
		added++
	}
	if added > 0 {
		doc.Count = len(doc.Records)
		doc.FetchedAt = now
		doc.LastUpdated = now
	}
	return added, nil
}

func (r *MemoryReportRepository) Load(ctx context.Context, userID, timeframe string) (*domain.CacheDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.docs[cacheKey{userID, timeframe}]
	if !ok {
		return nil, domain.NotFoundError{Resource: "report cache"}
	}
	cp := *doc
	cp.Records = slices.Clone(doc.Records)
	return &cp, nil
}

func (r *MemoryReportRepository) Delete(ctx context.Context, userID, timeframe string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.docs, cacheKey{userID, timeframe})
	return nil
}

func (r *MemoryReportRepository) DeleteAll(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.docs {
		if key.userID == userID {
			delete(r.docs, key)
		}
	}
	return nil
}

type MemoryRateLimitRepository struct {
	mu   sync.Mutex
	docs map[cacheKey]domain.RateLimitDocument
}

func NewMemoryRateLimitRepository() *MemoryRateLimitRepository {
	return &MemoryRateLimitRepository{docs: map[cacheKey]domain.RateLimitDocument{}}
}

func (r *MemoryRateLimitRepository) Put(ctx context.Context, doc domain.RateLimitDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc.Items = slices.Clone(doc.Items)
	r.docs[cacheKey{doc.UserID, doc.Timeframe}] = doc
	return nil
}

func (r *MemoryRateLimitRepository) Get(ctx context.Context, userID, timeframe string) (*domain.RateLimitDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[cacheKey{userID, timeframe}]
	if !ok {
		return nil, domain.NotFoundError{Resource: "rate limit entry"}
	}
	doc.Items = slices.Clone(doc.Items)
	return &doc, nil
}

func (r *MemoryRateLimitRepository) Delete(ctx context.Context, userID, timeframe string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.docs, cacheKey{userID, timeframe})
	return nil
}
