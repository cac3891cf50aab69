package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/totegamma/ortto-dashboard/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, maxRetries int) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	queue := NewQueue(Unlimited(), QueueOptions{
		RetryAfterFallback:  10 * time.Millisecond,
		MaxRateLimitRetries: maxRetries,
	})
	c := NewWithQueue(Options{BaseURL: srv.URL, APIKey: "test-key"}, queue)
	t.Cleanup(c.Close)
	return c
}

func TestFetchReportParsesCounters(t *testing.T) {
	var gotKey, gotPath string
	var gotBody reportRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"name":"Spring sale","reports":{"opens":12,"clicks":3,"label":"x"}}`))
	}, 0)

	rec, err := c.FetchReport(context.Background(), domain.ReportItem{ID: "c1", Kind: domain.KindCampaign}, "30daysAgo")
	require.NoError(t, err)
	require.Equal(t, "test-key", gotKey)
	require.Equal(t, "/v1/campaign/reports/get", gotPath)
	require.Equal(t, "c1", gotBody.CampaignID)
	require.Equal(t, "30daysAgo", gotBody.Timeframe)
	require.Equal(t, "Spring sale", rec.Name)
	require.Equal(t, map[string]int64{"opens": 12, "clicks": 3}, rec.Counters)
	require.False(t, rec.FetchedAt.IsZero())
}

func TestFetchReportJourneyPath(t *testing.T) {
	var gotBody reportRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/journey/reports/get", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"name":"Welcome","reports":{}}`))
	}, 0)

	_, err := c.FetchReport(context.Background(), domain.ReportItem{ID: "j1", Kind: domain.KindJourney}, "all-time")
	require.NoError(t, err)
	require.Equal(t, "j1", gotBody.JourneyID)
	require.Empty(t, gotBody.CampaignID)
}

func TestFetchReportNotFoundIsEmptyRecord(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, 0)

	rec, err := c.FetchReport(context.Background(), domain.ReportItem{ID: "c404", Kind: domain.KindCampaign}, "all-time")
	require.NoError(t, err)
	require.Equal(t, "c404", rec.ID)
	require.Empty(t, rec.Counters)
}

func TestFetchReportCachesResponses(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"name":"n","reports":{"opens":1}}`))
	}, 0)

	item := domain.ReportItem{ID: "c1", Kind: domain.KindCampaign}
	_, err := c.FetchReport(context.Background(), item, "all-time")
	require.NoError(t, err)
	_, err = c.FetchReport(context.Background(), item, "all-time")
	require.NoError(t, err)
	require.EqualValues(t, 1, hits.Load())

	_, err = c.FetchReport(context.Background(), item, "30daysAgo")
	require.NoError(t, err)
	require.EqualValues(t, 2, hits.Load(), "timeframe is part of the cache key")
}

func TestFetchReportConcurrentCallsShareOneRequest(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"name":"shared","reports":{"opens":5}}`))
	}, 0)

	item := domain.ReportItem{ID: "c1", Kind: domain.KindCampaign}
	var wg sync.WaitGroup
	records := make([]domain.ReportRecord, 2)
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			records[i], errs[i] = c.FetchReport(context.Background(), item, "all-time")
		}()
	}

	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.EqualValues(t, 1, hits.Load())
	require.Equal(t, records[0], records[1])
}

func TestFetchReportSharedCallSurvivesCallerCancel(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"name":"shared","reports":{"opens":5}}`))
	}, 0)

	item := domain.ReportItem{ID: "c1", Kind: domain.KindCampaign}
	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.FetchReport(ctx, item, "all-time")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, 5*time.Millisecond)

	type fetched struct {
		rec domain.ReportRecord
		err error
	}
	second := make(chan fetched, 1)
	go func() {
		rec, err := c.FetchReport(context.Background(), item, "all-time")
		second <- fetched{rec, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(release)
	select {
	case got := <-second:
		require.NoError(t, got.err)
		require.Equal(t, "shared", got.rec.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller never returned")
	}
	require.EqualValues(t, 1, hits.Load())
}

func TestFetchReportRetriesAfterRateLimit(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"name":"ok","reports":{"opens":2}}`))
	}, 3)

	rec, err := c.FetchReport(context.Background(), domain.ReportItem{ID: "c1", Kind: domain.KindCampaign}, "all-time")
	require.NoError(t, err)
	require.EqualValues(t, 2, rec.Counters["opens"])
	require.EqualValues(t, 2, hits.Load())
}

func TestFetchReportGivesUpAfterMaxRateLimitRetries(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}, 2)

	_, err := c.FetchReport(context.Background(), domain.ReportItem{ID: "c1", Kind: domain.KindCampaign}, "all-time")
	require.Error(t, err)
	require.True(t, IsRateLimited(err))
	require.EqualValues(t, 3, hits.Load())
}

func TestFetchReportServerErrorIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}, 3)

	_, err := c.FetchReport(context.Background(), domain.ReportItem{ID: "c1", Kind: domain.KindCampaign}, "all-time")
	require.Error(t, err)
	require.True(t, IsServerError(err))
	require.False(t, IsRateLimited(err))
	require.EqualValues(t, 1, hits.Load())
}

func TestFetchReportClientErrorIsReturned(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad campaign id"}`))
	}, 3)

	_, err := c.FetchReport(context.Background(), domain.ReportItem{ID: "bad", Kind: domain.KindCampaign}, "all-time")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	require.Contains(t, apiErr.Message, "bad campaign id")
}

func TestListItemsPaginates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, catalogPath, r.URL.Path)
		var req catalogRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch req.Offset {
		case 0:
			_, _ = w.Write([]byte(`{"campaigns":[{"id":"c1","type":"email"},{"id":"j1","type":"journey"}],"has_more":true,"next_offset":2}`))
		default:
			_, _ = w.Write([]byte(`{"campaigns":[{"id":"c2","type":"sms"},{"id":"c1","type":"email"}],"has_more":false}`))
		}
	}, 0)

	items, err := c.ListItems(context.Background())
	require.NoError(t, err)
	require.Equal(t, []domain.ReportItem{
		{ID: "c1", Kind: domain.KindCampaign},
		{ID: "j1", Kind: domain.KindJourney},
		{ID: "c2", Kind: domain.KindCampaign},
	}, items)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := map[string]struct {
		value string
		want  time.Duration
	}{
		"Missing uses fallback":  {value: "", want: time.Minute},
		"Seconds":                {value: "7", want: 7 * time.Second},
		"Negative clamps":        {value: "-3", want: 0},
		"HTTP date":              {value: now.Add(90 * time.Second).Format(http.TimeFormat), want: 90 * time.Second},
		"Past date":              {value: now.Add(-time.Hour).Format(http.TimeFormat), want: 0},
		"Garbage uses fallback":  {value: "soon", want: time.Minute},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.want, parseRetryAfter(tc.value, time.Minute, now))
		})
	}
}

func TestAPIErrorMatchesRateLimitedSentinel(t *testing.T) {
	require.ErrorIs(t, &APIError{StatusCode: http.StatusTooManyRequests}, domain.ErrRateLimited)
	require.NotErrorIs(t, &APIError{StatusCode: http.StatusInternalServerError}, domain.ErrRateLimited)
}
