package gateway

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/goccy/go-json"
	"github.com/zeebo/xxh3"

	"github.com/totegamma/ortto-dashboard/internal/domain"
	"github.com/totegamma/ortto-dashboard/internal/logging"
	"github.com/totegamma/ortto-dashboard/internal/usecase"
)

const catalogTTL = 15 * time.Minute

// ReportClient is the subset of client.Client the gateway needs.
type ReportClient interface {
	FetchReport(ctx context.Context, item domain.ReportItem, timeframe string) (domain.ReportRecord, error)
	ListItems(ctx context.Context) ([]domain.ReportItem, error)
}

// OrttoGateway serves report fetches from the upstream client and keeps the
// catalog listing in memcached so restart-background does not page the API every time.
type OrttoGateway struct {
	client ReportClient
	mc     *memcache.Client
	scope  string
}

// NewOrttoGateway builds a gateway. mc may be nil, then the catalog is never cached.
// scope separates catalog cache entries of different upstream accounts.
func NewOrttoGateway(cl ReportClient, mc *memcache.Client, scope string) *OrttoGateway {
	return &OrttoGateway{client: cl, mc: mc, scope: scope}
}

func (g *OrttoGateway) FetchReport(ctx context.Context, item domain.ReportItem, timeframe string) (domain.ReportRecord, error) {
	return g.client.FetchReport(ctx, item, timeframe)
}

func (g *OrttoGateway) ListItems(ctx context.Context) ([]domain.ReportItem, error) {
	key := g.catalogKey()
	if g.mc != nil {
		item, err := g.mc.Get(key)
		switch {
		case err == nil:
			var items []domain.ReportItem
			if err := json.Unmarshal(item.Value, &items); err == nil {
				return items, nil
			}
		case !errors.Is(err, memcache.ErrCacheMiss):
			logging.Warn().Str("module", "gateway").Err(err).Msg("catalog cache read failed")
		}
	}

	items, err := g.client.ListItems(ctx)
	if err != nil {
		return nil, err
	}

	if g.mc != nil {
		value, err := json.Marshal(items)
		if err == nil {
			err = g.mc.Set(&memcache.Item{Key: key, Value: value, Expiration: int32(catalogTTL.Seconds())})
		}
		if err != nil {
			logging.Warn().Str("module", "gateway").Err(err).Msg("catalog cache write failed")
		}
	}
	return items, nil
}

// InvalidateCatalog drops the cached catalog listing.
func (g *OrttoGateway) InvalidateCatalog() error {
	if g.mc == nil {
		return nil
	}
	err := g.mc.Delete(g.catalogKey())
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	return err
}

// catalogKey is hashed because memcached keys must not contain whitespace or exceed 250 bytes.
func (g *OrttoGateway) catalogKey() string {
	return "ortto:catalog:" + strconv.FormatUint(xxh3.HashString(g.scope), 16)
}

var _ usecase.UpstreamGateway = (*OrttoGateway)(nil)
