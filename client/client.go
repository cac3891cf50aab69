package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/totegamma/ortto-dashboard/internal/domain"
	"github.com/totegamma/ortto-dashboard/internal/logging"
	"github.com/totegamma/ortto-dashboard/internal/metrics"
)

const (
	defaultBaseURL  = "https://api.ap3api.com"
	defaultTimeout  = 30 * time.Second
	defaultCacheTTL = 10 * time.Minute
	userAgent       = "ortto-dashboard/1.0"
)

var reportPaths = map[domain.ReportKind]string{
	domain.KindCampaign: "/v1/campaign/reports/get",
	domain.KindJourney:  "/v1/journey/reports/get",
}

// Options configures the Ortto client.
type Options struct {
	BaseURL  string        `yaml:"baseURL" env:"ORTTO_BASE_URL"`
	APIKey   string        `yaml:"apiKey" env:"ORTTO_API_KEY"`
	Timeout  time.Duration `yaml:"timeout" env:"ORTTO_TIMEOUT"`
	CacheTTL time.Duration `yaml:"cacheTTL" env:"ORTTO_CACHE_TTL"`
	Queue    QueueOptions  `yaml:"queue"`
}

// Client fetches campaign and journey reports from Ortto.
// All calls go through a shared Queue; identical in-flight fetches are collapsed
// and successful results are kept in a short-TTL cache.
type Client struct {
	client    *http.Client
	transport http.RoundTripper
	cache     *cache.Cache
	queue     *Queue
	group     singleflight.Group
	baseURL   string
	apiKey    string
	now       func() time.Time
}

func New(opts Options) *Client {
	limiter := NewLimiter(opts.Queue.MinInterval, opts.Queue.RequestsPerWindow, opts.Queue.Window)
	return NewWithQueue(opts, NewQueue(limiter, opts.Queue))
}

// NewWithQueue builds a client on an explicitly constructed queue.
func NewWithQueue(opts Options, queue *Queue) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}

	httpClient := http.Client{
		Timeout: opts.Timeout,
	}
	c := &Client{
		client:    &httpClient,
		transport: http.DefaultTransport,
		cache:     cache.New(opts.CacheTTL, opts.CacheTTL+5*time.Minute),
		queue:     queue,
		baseURL:   strings.TrimSuffix(opts.BaseURL, "/"),
		apiKey:    opts.APIKey,
		now:       time.Now,
	}
	httpClient.Transport = c
	return c
}

func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Api-Key", c.apiKey)
	if req.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return c.transport.RoundTrip(req)
}

// Close releases the request queue.
func (c *Client) Close() {
	c.queue.Close()
}

// FetchReport returns the metrics of one campaign or journey for a timeframe.
// A 404 from the upstream yields a zeroed record rather than an error.
func (c *Client) FetchReport(ctx context.Context, item domain.ReportItem, timeframe string) (domain.ReportRecord, error) {
	key := item.Key(timeframe)
	if x, found := c.cache.Get(key); found {
		metrics.ResponseCacheHits.Inc()
		return x.(domain.ReportRecord), nil
	}

	// the shared fetch outlives any single caller; each caller only stops waiting on its own ctx
	shareCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		if x, found := c.cache.Get(key); found {
			return x, nil
		}
		record, err := c.fetchReport(shareCtx, item, timeframe)
		if err != nil {
			return nil, err
		}
		c.cache.Set(key, record, cache.DefaultExpiration)
		return record, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return domain.ReportRecord{}, res.Err
		}
		if res.Shared {
			logging.Debug().Str("module", "client").Str("key", key).Msg("shared in-flight report fetch")
		}
		return res.Val.(domain.ReportRecord), nil
	case <-ctx.Done():
		return domain.ReportRecord{}, ctx.Err()
	}
}

type reportRequest struct {
	CampaignID string `json:"campaign_id,omitempty"`
	JourneyID  string `json:"journey_id,omitempty"`
	Timeframe  string `json:"timeframe,omitempty"`
}

type reportResponse struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Reports map[string]any `json:"reports"`
}

func (c *Client) fetchReport(ctx context.Context, item domain.ReportItem, timeframe string) (domain.ReportRecord, error) {
	path, ok := reportPaths[item.Kind]
	if !ok {
		return domain.ReportRecord{}, fmt.Errorf("unsupported report kind %q", item.Kind)
	}

	body := reportRequest{Timeframe: timeframe}
	if item.Kind == domain.KindJourney {
		body.JourneyID = item.ID
	} else {
		body.CampaignID = item.ID
	}

	var payload reportResponse
	status, err := c.post(ctx, path, body, &payload)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(string(item.Kind), resultLabel(err)).Inc()
		return domain.ReportRecord{}, err
	}

	record := domain.ReportRecord{
		ID:        item.ID,
		Kind:      item.Kind,
		Name:      payload.Name,
		Counters:  counters(payload.Reports),
		FetchedAt: c.now().UTC(),
	}
	if status == http.StatusNotFound {
		metrics.UpstreamRequests.WithLabelValues(string(item.Kind), "not_found").Inc()
		return record, nil
	}
	metrics.UpstreamRequests.WithLabelValues(string(item.Kind), "ok").Inc()
	return record, nil
}

// post sends a JSON body through the queue. 404 is reported through the status with a nil error.
func (c *Client) post(ctx context.Context, path string, body any, out any) (int, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("failed to encode request: %w", err)
	}

	url := c.baseURL + path
	resp, err := c.queue.Do(ctx, func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to perform request: %w", err)
		}
		return resp, nil
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, &APIError{StatusCode: resp.StatusCode, Message: string(msg)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// counters keeps the numeric fields of an upstream report.
func counters(raw map[string]any) map[string]int64 {
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		switch n := v.(type) {
		case float64:
			out[k] = int64(n)
		case int64:
			out[k] = n
		}
	}
	return out
}

func resultLabel(err error) string {
	if IsRateLimited(err) {
		return "rate_limited"
	}
	return "error"
}
