package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/totegamma/ortto-dashboard/internal/domain"
	"github.com/totegamma/ortto-dashboard/internal/logging"
	"github.com/totegamma/ortto-dashboard/internal/metrics"
)

// RefillSummary describes one background refill run.
type RefillSummary struct {
	RunID        string              `json:"runId"`
	UserID       string              `json:"userId"`
	Timeframe    string              `json:"timeframe"`
	Total        int                 `json:"total"`
	Processed    int                 `json:"processed"`
	Fetched      int                 `json:"fetched"`
	Added        int                 `json:"added"`
	Placeholders int                 `json:"placeholders"`
	Unavailable  int                 `json:"unavailable"`
	Skipped      int                 `json:"skipped"`
	RateLimited  []domain.ReportItem `json:"rateLimited"`
	StartedAt    time.Time           `json:"startedAt"`
	FinishedAt   time.Time           `json:"finishedAt,omitzero"`
}

// RefillStatus is the state of the refill worker for one user and timeframe.
type RefillStatus struct {
	Running bool           `json:"running"`
	Current *RefillSummary `json:"current,omitempty"`
	Last    *RefillSummary `json:"last,omitempty"`
}

type refillRun struct {
	mu      sync.Mutex
	summary RefillSummary
}

func (r *refillRun) snapshot() RefillSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.summary
	s.RateLimited = append([]domain.ReportItem(nil), r.summary.RateLimited...)
	return s
}

func (r *refillRun) update(fn func(s *RefillSummary)) RefillSummary {
	r.mu.Lock()
	fn(&r.summary)
	r.mu.Unlock()
	return r.snapshot()
}

// Refiller fills missing cache entries in the background, one run per user and timeframe.
type Refiller struct {
	gateway  UpstreamGateway
	cache    *CacheStore
	ledger   *Ledger
	notifier Notifier
	cfg      domain.RefillConfig
	log      zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running map[string]*refillRun
	last    map[string]RefillSummary
}

func NewRefiller(gateway UpstreamGateway, cache *CacheStore, ledger *Ledger, notifier Notifier, cfg domain.RefillConfig) *Refiller {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	base, cancel := context.WithCancel(context.Background())
	return &Refiller{
		gateway:  gateway,
		cache:    cache,
		ledger:   ledger,
		notifier: notifier,
		cfg:      cfg.WithDefaults(),
		log:      logging.Module("refill"),
		now:      time.Now,
		sleep:    sleepContext,
		base:     base,
		cancel:   cancel,
		running:  map[string]*refillRun{},
		last:     map[string]RefillSummary{},
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func refillKey(userID, timeframe string) string {
	return userID + "\x00" + timeframe
}

// Trigger starts a background run unless one is already running for the key.
// It never blocks on the upstream and reports whether a run was started.
func (r *Refiller) Trigger(userID, timeframe string, items []domain.ReportItem) bool {
	if len(items) == 0 {
		return false
	}

	key := refillKey(userID, timeframe)
	r.mu.Lock()
	if _, busy := r.running[key]; busy {
		r.mu.Unlock()
		metrics.RefillRuns.WithLabelValues("skipped").Inc()
		r.log.Debug().Str("user", userID).Str("timeframe", timeframe).Msg("refill already running")
		return false
	}
	run := &refillRun{summary: RefillSummary{
		RunID:       uuid.NewString(),
		UserID:      userID,
		Timeframe:   timeframe,
		Total:       len(items),
		RateLimited: []domain.ReportItem{},
		StartedAt:   r.now(),
	}}
	r.running[key] = run
	r.mu.Unlock()

	metrics.RefillRuns.WithLabelValues("started").Inc()
	metrics.RefillActive.Inc()

	items = append([]domain.ReportItem(nil), items...)
	r.wg.Go(func() {
		defer func() {
			if p := recover(); p != nil {
				r.log.Error().Interface("panic", p).Str("run", run.summary.RunID).Msg("refill worker crashed")
			}
			summary := run.update(func(s *RefillSummary) { s.FinishedAt = r.now() })
			r.mu.Lock()
			delete(r.running, key)
			r.last[key] = summary
			r.mu.Unlock()
			metrics.RefillActive.Dec()
		}()
		r.run(r.base, run, items)
	})
	return true
}

// Run processes items synchronously and returns the run summary.
func (r *Refiller) Run(ctx context.Context, userID, timeframe string, items []domain.ReportItem) RefillSummary {
	run := &refillRun{summary: RefillSummary{
		RunID:       uuid.NewString(),
		UserID:      userID,
		Timeframe:   timeframe,
		Total:       len(items),
		RateLimited: []domain.ReportItem{},
		StartedAt:   r.now(),
	}}
	r.run(ctx, run, items)
	return run.update(func(s *RefillSummary) { s.FinishedAt = r.now() })
}

func (r *Refiller) run(ctx context.Context, run *refillRun, items []domain.ReportItem) {
	start := run.snapshot()
	userID, timeframe := start.UserID, start.Timeframe
	log := r.log.With().Str("run", start.RunID).Str("user", userID).Str("timeframe", timeframe).Logger()
	log.Info().Int("items", len(items)).Msg("refill started")
	r.publish(ctx, start, domain.RefillStarted, nil, "")

	delay := r.cfg.BaseDelay
	consecutive := 0
	requested := false

	for begin := 0; begin < len(items); begin += r.cfg.BatchSize {
		end := min(begin+r.cfg.BatchSize, len(items))
		available, blocked := r.ledger.Filter(ctx, userID, timeframe, items[begin:end])
		if len(blocked) > 0 {
			run.update(func(s *RefillSummary) {
				s.Skipped += len(blocked)
				s.Processed += len(blocked)
			})
			metrics.RefillItems.WithLabelValues("skipped").Add(float64(len(blocked)))
		}

		var limited []domain.ReportItem
		for _, item := range available {
			if requested {
				if err := r.sleep(ctx, delay); err != nil {
					log.Warn().Err(err).Msg("refill interrupted")
					return
				}
			}
			requested = true

			rec, err := r.gateway.FetchReport(ctx, item, timeframe)
			var status domain.ReportStatus
			added := 0
			switch {
			case err == nil:
				status = domain.StatusAvailable
				added = r.cache.Write(ctx, userID, timeframe, []domain.ReportRecord{rec})
				delay = r.cfg.BaseDelay
				consecutive = 0
			case errors.Is(err, domain.ErrRateLimited):
				status = domain.StatusPlaceholder
				limited = append(limited, item)
				delay = min(delay*2, r.cfg.MaxDelay)
				consecutive++
				log.Warn().Str("item", item.ID).Int("consecutive", consecutive).Dur("delay", delay).Msg("item rate limited")
			default:
				status = domain.StatusUnavailable
				log.Error().Err(err).Str("item", item.ID).Msg("item fetch failed")
			}
			metrics.RefillItems.WithLabelValues(string(status)).Inc()

			summary := run.update(func(s *RefillSummary) {
				s.Processed++
				s.Added += added
				switch status {
				case domain.StatusAvailable:
					s.Fetched++
				case domain.StatusPlaceholder:
					s.Placeholders++
					s.RateLimited = append(s.RateLimited, item)
				default:
					s.Unavailable++
				}
			})
			r.publish(ctx, summary, domain.RefillItem, &item, status)

			if consecutive >= r.cfg.FailureThreshold {
				log.Warn().Int("consecutive", consecutive).Dur("cooldown", r.cfg.FailureCooldown).Msg("too many rate limits, cooling down")
				if err := r.sleep(ctx, r.cfg.FailureCooldown); err != nil {
					log.Warn().Err(err).Msg("refill interrupted")
					return
				}
				consecutive = 0
			}
		}

		if len(limited) == 0 {
			continue
		}
		if err := r.ledger.Record(ctx, userID, timeframe, limited); err != nil {
			log.Warn().Err(err).Int("items", len(limited)).Msg("failed to record rate-limited items")
		}
		if end < len(items) {
			if err := r.sleep(ctx, r.cfg.BatchCooldown); err != nil {
				log.Warn().Err(err).Msg("refill interrupted")
				return
			}
		}
	}

	final := run.snapshot()
	log.Info().
		Int("fetched", final.Fetched).
		Int("added", final.Added).
		Int("placeholders", final.Placeholders).
		Int("unavailable", final.Unavailable).
		Int("skipped", final.Skipped).
		Msg("refill finished")
	r.publish(ctx, final, domain.RefillFinished, nil, "")
}

func (r *Refiller) publish(ctx context.Context, s RefillSummary, typ domain.RefillEventType, item *domain.ReportItem, status domain.ReportStatus) {
	event := domain.RefillEvent{
		Type:      typ,
		RunID:     s.RunID,
		UserID:    s.UserID,
		Timeframe: s.Timeframe,
		Item:      item,
		Status:    status,
		Processed: s.Processed,
		Total:     s.Total,
		Time:      r.now(),
	}
	if err := r.notifier.Publish(ctx, event); err != nil {
		r.log.Debug().Err(err).Str("run", s.RunID).Msg("progress publish failed")
	}
}

// Running reports whether a run is in flight for the key.
func (r *Refiller) Running(userID, timeframe string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[refillKey(userID, timeframe)]
	return ok
}

// Status returns the in-flight and last finished run for the key.
func (r *Refiller) Status(userID, timeframe string) RefillStatus {
	key := refillKey(userID, timeframe)
	r.mu.Lock()
	run, running := r.running[key]
	last, hasLast := r.last[key]
	r.mu.Unlock()

	var status RefillStatus
	if running {
		current := run.snapshot()
		status.Running = true
		status.Current = &current
	}
	if hasLast {
		status.Last = &last
	}
	return status
}

// Wait blocks until every triggered run has finished.
func (r *Refiller) Wait() {
	r.wg.Wait()
}

// Shutdown interrupts running workers at their next sleep and waits for them,
// giving up when ctx is done.
func (r *Refiller) Shutdown(ctx context.Context) error {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
