package usecase

import (
	"context"
	"time"

	"github.com/totegamma/ortto-dashboard/internal/domain"
)

// ReportRepository persists accumulated report records per user and timeframe.
type ReportRepository interface {
	// AddRecords appends the records whose ID is not yet stored and returns how many were added.
	// Stored records are never dropped. When anything is added, FetchedAt and LastUpdated move to now.
	AddRecords(ctx context.Context, userID, timeframe string, records []domain.ReportRecord, now time.Time) (int, error)
	// Load returns domain.ErrNotFound when the document does not exist.
	Load(ctx context.Context, userID, timeframe string) (*domain.CacheDocument, error)
	Delete(ctx context.Context, userID, timeframe string) error
	DeleteAll(ctx context.Context, userID string) error
}

// RateLimitRepository persists the rate-limit ledger.
type RateLimitRepository interface {
	Put(ctx context.Context, doc domain.RateLimitDocument) error
	// Get returns domain.ErrNotFound when no ledger entry exists.
	Get(ctx context.Context, userID, timeframe string) (*domain.RateLimitDocument, error)
	Delete(ctx context.Context, userID, timeframe string) error
}

// UpstreamGateway fetches report data from the marketing platform.
type UpstreamGateway interface {
	FetchReport(ctx context.Context, item domain.ReportItem, timeframe string) (domain.ReportRecord, error)
	ListItems(ctx context.Context) ([]domain.ReportItem, error)
}

// CatalogInvalidator is implemented by gateways that cache the catalog listing.
type CatalogInvalidator interface {
	InvalidateCatalog() error
}

// Notifier fans refill progress out to interested listeners.
type Notifier interface {
	Publish(ctx context.Context, event domain.RefillEvent) error
}

type nopNotifier struct{}

func (nopNotifier) Publish(context.Context, domain.RefillEvent) error { return nil }
