package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/totegamma/ortto-dashboard/internal/domain"
	"github.com/totegamma/ortto-dashboard/internal/logging"
)

// ItemInput is an unvalidated item as sent by the dashboard.
type ItemInput struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type DashboardRequest struct {
	Items        []ItemInput `json:"items"`
	Timeframe    string      `json:"timeframe"`
	ForceRefresh bool        `json:"forceRefresh"`
}

type DashboardSummary struct {
	Source            string `json:"source"`
	Total             int    `json:"total"`
	Cached            int    `json:"cached"`
	Missing           int    `json:"missing"`
	Fetched           int    `json:"fetched"`
	Placeholders      int    `json:"placeholders"`
	Unavailable       int    `json:"unavailable"`
	BackgroundStarted bool   `json:"backgroundStarted"`
	Dropped           int    `json:"dropped"`
}

type DashboardResult struct {
	Reports     []domain.Report  `json:"reports"`
	Pending     []string         `json:"pending"`
	Partial     bool             `json:"partial"`
	RateLimited []string         `json:"rateLimited"`
	Message     string           `json:"message"`
	Summary     DashboardSummary `json:"summary"`
}

// RestartResult reports what restart-background found and started.
type RestartResult struct {
	Total   int  `json:"total"`
	Cached  int  `json:"cached"`
	Missing int  `json:"missing"`
	Started bool `json:"started"`
}

// DashboardUsecase decides per request whether to serve the cache, refill in the background or refresh synchronously.
type DashboardUsecase struct {
	cache    *CacheStore
	ledger   *Ledger
	refiller *Refiller
	gateway  UpstreamGateway
	cfg      domain.RefillConfig
	now      func() time.Time
	log      zerolog.Logger
}

var tracer = otel.Tracer("dashboard")

func NewDashboardUsecase(cache *CacheStore, ledger *Ledger, refiller *Refiller, gateway UpstreamGateway, cfg domain.RefillConfig) *DashboardUsecase {
	return &DashboardUsecase{
		cache:    cache,
		ledger:   ledger,
		refiller: refiller,
		gateway:  gateway,
		cfg:      cfg.WithDefaults(),
		now:      time.Now,
		log:      logging.Module("dashboard"),
	}
}

// ValidateItems drops malformed entries and duplicate IDs.
func ValidateItems(inputs []ItemInput) (items []domain.ReportItem, dropped int) {
	seen := make(map[string]struct{}, len(inputs))
	items = make([]domain.ReportItem, 0, len(inputs))
	for _, in := range inputs {
		id := strings.TrimSpace(in.ID)
		kind, ok := domain.ParseReportKind(in.Type)
		if id == "" || !ok {
			dropped++
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		items = append(items, domain.ReportItem{ID: id, Kind: kind})
	}
	return items, dropped
}

func (uc *DashboardUsecase) Reports(ctx context.Context, userID string, req DashboardRequest) (DashboardResult, error) {
	timeframe := req.Timeframe
	if timeframe == "" {
		timeframe = domain.DefaultTimeframe
	}

	ctx, span := tracer.Start(ctx, "Dashboard.Usecase.Reports", trace.WithAttributes(
		attribute.String("timeframe", timeframe),
		attribute.Int("items", len(req.Items)),
		attribute.Bool("force_refresh", req.ForceRefresh),
	))
	defer span.End()

	items, dropped := ValidateItems(req.Items)
	if len(req.Items) > 0 && len(items) == 0 {
		return DashboardResult{}, &domain.ValidationError{Message: "no valid items in request", Dropped: dropped}
	}
	if dropped > 0 {
		uc.log.Warn().Str("user", userID).Int("dropped", dropped).Msg("dropped malformed items")
	}

	var result DashboardResult
	switch {
	case len(items) == 0:
		result = uc.fullCache(ctx, userID, timeframe)
	case req.ForceRefresh:
		result = uc.forceRefresh(ctx, userID, timeframe, items)
	default:
		result = uc.partial(ctx, userID, timeframe, items)
	}
	result.Summary.Dropped = dropped
	span.SetAttributes(attribute.String("source", result.Summary.Source))
	return result, nil
}

func newResult(source string) DashboardResult {
	return DashboardResult{
		Reports:     []domain.Report{},
		Pending:     []string{},
		RateLimited: []string{},
		Summary:     DashboardSummary{Source: source},
	}
}

func (uc *DashboardUsecase) fullCache(ctx context.Context, userID, timeframe string) DashboardResult {
	doc := uc.cache.ReadAll(ctx, userID, timeframe)
	if doc == nil {
		result := newResult(domain.SourceEmpty)
		result.Message = "No cached reports yet"
		return result
	}
	result := newResult(domain.SourceCache)
	result.Reports = domain.AvailableAll(doc.Records)
	result.Message = fmt.Sprintf("Loaded %d cached reports", len(doc.Records))
	result.Summary.Total = len(doc.Records)
	result.Summary.Cached = len(doc.Records)
	return result
}

func (uc *DashboardUsecase) partial(ctx context.Context, userID, timeframe string, items []domain.ReportItem) DashboardResult {
	read := uc.cache.ReadPartial(ctx, userID, timeframe, items)
	if !read.IsPartial {
		result := newResult(domain.SourceCache)
		result.Reports = domain.AvailableAll(read.Reports)
		result.Message = fmt.Sprintf("All %d reports served from cache", len(read.Reports))
		result.Summary.Total = len(items)
		result.Summary.Cached = len(read.Reports)
		return result
	}

	_, blocked := uc.ledger.Filter(ctx, userID, timeframe, read.MissingItems)
	started := uc.refiller.Trigger(userID, timeframe, read.MissingItems)

	result := newResult(domain.SourceBackgroundRefresh)
	result.Reports = domain.AvailableAll(read.Reports)
	result.Pending = domain.ItemIDs(read.MissingItems)
	result.RateLimited = domain.ItemIDs(blocked)
	result.Partial = true
	result.Summary.Total = len(items)
	result.Summary.Cached = len(read.Reports)
	result.Summary.Missing = len(read.MissingItems)
	result.Summary.BackgroundStarted = started

	switch {
	case !started:
		result.Message = fmt.Sprintf("%d reports pending, a background refresh is already running", len(read.MissingItems))
	case len(read.Reports) == 0:
		result.Message = fmt.Sprintf("Fetching %d reports in the background", len(read.MissingItems))
	default:
		result.Message = fmt.Sprintf("Serving %d cached reports, fetching %d in the background", len(read.Reports), len(read.MissingItems))
	}
	return result
}

func (uc *DashboardUsecase) forceRefresh(ctx context.Context, userID, timeframe string, items []domain.ReportItem) DashboardResult {
	result := newResult(domain.SourceForceRefresh)
	result.Reports = make([]domain.Report, len(items))
	result.Summary.Total = len(items)

	var limited []domain.ReportItem
	for begin := 0; begin < len(items); begin += uc.cfg.BatchSize {
		end := min(begin+uc.cfg.BatchSize, len(items))
		batch := items[begin:end]
		records := make([]*domain.ReportRecord, len(batch))
		errs := make([]error, len(batch))

		var g errgroup.Group
		for i, item := range batch {
			g.Go(func() error {
				rec, err := uc.gateway.FetchReport(ctx, item, timeframe)
				if err != nil {
					errs[i] = err
					return nil
				}
				records[i] = &rec
				return nil
			})
		}
		_ = g.Wait()

		fetched := make([]domain.ReportRecord, 0, len(batch))
		for i, item := range batch {
			switch {
			case records[i] != nil:
				fetched = append(fetched, *records[i])
				result.Reports[begin+i] = domain.Available(*records[i])
				result.Summary.Fetched++
			case errors.Is(errs[i], domain.ErrRateLimited):
				limited = append(limited, item)
				result.Reports[begin+i] = domain.Placeholder(item, "rate limited by upstream", uc.now())
				result.Summary.Placeholders++
			default:
				uc.log.Error().Err(errs[i]).Str("item", item.ID).Msg("force refresh fetch failed")
				result.Reports[begin+i] = domain.Unavailable(item, "upstream error")
				result.Summary.Unavailable++
			}
		}
		uc.cache.Write(ctx, userID, timeframe, fetched)
	}

	if len(limited) > 0 {
		if err := uc.ledger.Record(ctx, userID, timeframe, limited); err != nil {
			uc.log.Warn().Err(err).Msg("failed to record rate-limited items")
		}
		result.RateLimited = domain.ItemIDs(limited)
	}
	result.Message = fmt.Sprintf("Refreshed %d of %d reports", result.Summary.Fetched, len(items))
	return result
}

// RestartBackground compares the upstream catalog with the cache and refills what is missing.
func (uc *DashboardUsecase) RestartBackground(ctx context.Context, userID, timeframe string) (RestartResult, error) {
	if timeframe == "" {
		timeframe = domain.DefaultTimeframe
	}
	if inv, ok := uc.gateway.(CatalogInvalidator); ok {
		if err := inv.InvalidateCatalog(); err != nil {
			uc.log.Warn().Err(err).Msg("catalog cache not invalidated, listing may be stale")
		}
	}
	items, err := uc.gateway.ListItems(ctx)
	if err != nil {
		return RestartResult{}, fmt.Errorf("list upstream items: %w", err)
	}

	read := uc.cache.ReadPartial(ctx, userID, timeframe, items)
	result := RestartResult{
		Total:   len(items),
		Cached:  len(read.CachedItems),
		Missing: len(read.MissingItems),
	}
	if len(read.MissingItems) > 0 {
		result.Started = uc.refiller.Trigger(userID, timeframe, read.MissingItems)
	}
	return result, nil
}
