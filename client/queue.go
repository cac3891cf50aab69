package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/totegamma/ortto-dashboard/internal/logging"
	"github.com/totegamma/ortto-dashboard/internal/metrics"
)

const (
	defaultMinInterval        = time.Second
	defaultRequestsPerWindow  = 20
	defaultWindow             = time.Minute
	defaultRetryAfterFallback = 60 * time.Second
	defaultMaxRateLimitRetry  = 3
	breakerName               = "ortto-api"
)

// QueueOptions configures throttling of outbound calls.
type QueueOptions struct {
	MinInterval         time.Duration `yaml:"minInterval" env:"ORTTO_MIN_INTERVAL"`
	RequestsPerWindow   int           `yaml:"requestsPerWindow" env:"ORTTO_REQUESTS_PER_WINDOW"`
	Window              time.Duration `yaml:"window" env:"ORTTO_WINDOW"`
	RetryAfterFallback  time.Duration `yaml:"retryAfterFallback" env:"ORTTO_RETRY_AFTER_FALLBACK"`
	MaxRateLimitRetries int           `yaml:"maxRateLimitRetries" env:"ORTTO_MAX_RATE_LIMIT_RETRIES"`
}

func DefaultQueueOptions() QueueOptions {
	return QueueOptions{
		MinInterval:         defaultMinInterval,
		RequestsPerWindow:   defaultRequestsPerWindow,
		Window:              defaultWindow,
		RetryAfterFallback:  defaultRetryAfterFallback,
		MaxRateLimitRetries: defaultMaxRateLimitRetry,
	}
}

type result struct {
	resp *http.Response
	err  error
}

type request struct {
	ctx      context.Context
	do       func(ctx context.Context) (*http.Response, error)
	done     chan result
	attempts int
}

// Queue serializes every outbound call of the process through one FIFO.
// A drain goroutine runs while the queue is non-empty and handles one request at a time.
// On HTTP 429 the request goes back to the head and the whole queue waits.
type Queue struct {
	mu       sync.Mutex
	pending  []*request
	draining bool
	closed   chan struct{}
	once     sync.Once

	limiter    *Limiter
	breaker    *gobreaker.CircuitBreaker[*http.Response]
	fallback   time.Duration
	maxRetries int
	now        func() time.Time
}

func NewQueue(limiter *Limiter, opts QueueOptions) *Queue {
	if limiter == nil {
		limiter = Unlimited()
	}
	if opts.RetryAfterFallback <= 0 {
		opts.RetryAfterFallback = defaultRetryAfterFallback
	}
	if opts.MaxRateLimitRetries < 0 {
		opts.MaxRateLimitRetries = 0
	}

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	return &Queue{
		closed:     make(chan struct{}),
		limiter:    limiter,
		breaker:    newBreaker(),
		fallback:   opts.RetryAfterFallback,
		maxRetries: opts.MaxRateLimitRetries,
		now:        time.Now,
	}
}

func newBreaker() *gobreaker.CircuitBreaker[*http.Response] {
	return gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// throttling, client errors and cancellations say nothing about upstream health
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode < http.StatusInternalServerError
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("module", "client").Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
}

// Do enqueues a call and waits for its turn. The returned response body must be closed.
func (q *Queue) Do(ctx context.Context, do func(ctx context.Context) (*http.Response, error)) (*http.Response, error) {
	req := &request{
		ctx:  ctx,
		do:   do,
		done: make(chan result, 1),
	}
	q.push(req, false)

	select {
	case r := <-req.done:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops any backoff wait in progress; pending requests fail fast afterwards.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.closed) })
}

func (q *Queue) push(req *request, front bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if front {
		q.pending = append([]*request{req}, q.pending...)
	} else {
		q.pending = append(q.pending, req)
	}
	metrics.UpstreamQueueDepth.Set(float64(len(q.pending)))

	if !q.draining {
		q.draining = true
		go q.drain()
	}
}

func (q *Queue) pop() *request {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		q.draining = false
		return nil
	}
	req := q.pending[0]
	q.pending = q.pending[1:]
	metrics.UpstreamQueueDepth.Set(float64(len(q.pending)))
	return req
}

func (q *Queue) drain() {
	for {
		req := q.pop()
		if req == nil {
			return
		}
		q.process(req)
	}
}

func (q *Queue) process(req *request) {
	select {
	case <-q.closed:
		req.done <- result{err: errors.New("request queue closed")}
		return
	default:
	}

	if err := req.ctx.Err(); err != nil {
		req.done <- result{err: err}
		return
	}

	if err := q.limiter.Wait(req.ctx); err != nil {
		req.done <- result{err: err}
		return
	}

	resp, err := q.breaker.Execute(func() (*http.Response, error) {
		resp, err := req.do(req.ctx)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, drainError(resp)
		}
		return resp, nil
	})
	if err != nil {
		req.done <- result{err: err}
		return
	}

	if resp.StatusCode != http.StatusTooManyRequests {
		if req.ctx.Err() != nil {
			resp.Body.Close()
		}
		req.done <- result{resp: resp}
		return
	}

	wait := parseRetryAfter(resp.Header.Get("Retry-After"), q.fallback, q.now())
	resp.Body.Close()
	req.attempts++
	metrics.UpstreamBackoffs.Inc()
	q.limiter.Reset()

	logging.Warn().
		Str("module", "client").
		Dur("retry_after", wait).
		Int("attempt", req.attempts).
		Msg("ortto api rate limited, pausing queue")

	if req.attempts > q.maxRetries {
		req.done <- result{err: &APIError{
			StatusCode: http.StatusTooManyRequests,
			Message:    "rate limit exceeded",
			RetryAfter: wait,
		}}
	} else {
		q.push(req, true)
	}

	// the upstream asked everyone to wait, not only this request
	q.sleep(wait)
}

func (q *Queue) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-q.closed:
	}
}

func drainError(resp *http.Response) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &APIError{StatusCode: resp.StatusCode, Message: string(body)}
}
