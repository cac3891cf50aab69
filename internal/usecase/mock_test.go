package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/totegamma/ortto-dashboard/internal/domain"
)

type mockReportRepo struct {
	mu   sync.Mutex
	docs map[string]*domain.CacheDocument
	err  error
}

func newMockReportRepo() *mockReportRepo {
	return &mockReportRepo{docs: map[string]*domain.CacheDocument{}}
}

func (m *mockReportRepo) AddRecords(ctx context.Context, userID, timeframe string, records []domain.ReportRecord, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	key := userID + "/" + timeframe
	doc := m.docs[key]
	if doc == nil {
		doc = &domain.CacheDocument{UserID: userID, Timeframe: timeframe, FetchedAt: now, LastUpdated: now}
		m.docs[key] = doc
	}
	ids := doc.IDs()
	added := 0
	for _, r := range records {
		if _, ok := ids[r.ID]; ok {
			continue
		}
		ids[r.ID] = struct{}{}
		doc.Records = append(doc.Records, r)
		added++
	}
	if added > 0 {
		doc.FetchedAt = now
		doc.LastUpdated = now
		doc.Count = len(doc.Records)
	}
	return added, nil
}

func (m *mockReportRepo) Load(ctx context.Context, userID, timeframe string) (*domain.CacheDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	doc, ok := m.docs[userID+"/"+timeframe]
	if !ok {
		return nil, domain.NotFoundError{Resource: "report cache"}
	}
	cp := *doc
	cp.Records = append([]domain.ReportRecord(nil), doc.Records...)
	return &cp, nil
}

func (m *mockReportRepo) Delete(ctx context.Context, userID, timeframe string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, userID+"/"+timeframe)
	return nil
}

func (m *mockReportRepo) DeleteAll(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, doc := range m.docs {
		if doc.UserID == userID {
			delete(m.docs, key)
		}
	}
	return nil
}

type mockRateLimitRepo struct {
	mu      sync.Mutex
	docs    map[string]domain.RateLimitDocument
	deletes int
}

func newMockRateLimitRepo() *mockRateLimitRepo {
	return &mockRateLimitRepo{docs: map[string]domain.RateLimitDocument{}}
}

func (m *mockRateLimitRepo) Put(ctx context.Context, doc domain.RateLimitDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.UserID+"/"+doc.Timeframe] = doc
	return nil
}

func (m *mockRateLimitRepo) Get(ctx context.Context, userID, timeframe string) (*domain.RateLimitDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[userID+"/"+timeframe]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &doc, nil
}

func (m *mockRateLimitRepo) Delete(ctx context.Context, userID, timeframe string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	delete(m.docs, userID+"/"+timeframe)
	return nil
}

func (m *mockRateLimitRepo) has(userID, timeframe string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.docs[userID+"/"+timeframe]
	return ok
}

// mockGateway answers from failures keyed by item ID; anything else succeeds.
type mockGateway struct {
	mu       sync.Mutex
	failures map[string]error
	calls    []string
	block    chan struct{}
	catalog  []domain.ReportItem
	listErr  error

	invalidated int
}

func newMockGateway() *mockGateway {
	return &mockGateway{failures: map[string]error{}}
}

func (m *mockGateway) FetchReport(ctx context.Context, item domain.ReportItem, timeframe string) (domain.ReportRecord, error) {
	m.mu.Lock()
	m.calls = append(m.calls, item.ID)
	err := m.failures[item.ID]
	block := m.block
	m.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return domain.ReportRecord{}, err
	}
	return domain.ReportRecord{
		ID:        item.ID,
		Kind:      item.Kind,
		Name:      "report " + item.ID,
		Counters:  map[string]int64{"opens": 1},
		FetchedAt: time.Now(),
	}, nil
}

func (m *mockGateway) ListItems(ctx context.Context) ([]domain.ReportItem, error) {
	return m.catalog, m.listErr
}

func (m *mockGateway) InvalidateCatalog() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated++
	return nil
}

func (m *mockGateway) called() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.RefillEvent
}

func (n *recordingNotifier) Publish(ctx context.Context, event domain.RefillEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func campaigns(ids ...string) []domain.ReportItem {
	items := make([]domain.ReportItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, domain.ReportItem{ID: id, Kind: domain.KindCampaign})
	}
	return items
}

func records(ids ...string) []domain.ReportRecord {
	recs := make([]domain.ReportRecord, 0, len(ids))
	for _, id := range ids {
		recs = append(recs, domain.ReportRecord{ID: id, Kind: domain.KindCampaign, Counters: map[string]int64{}})
	}
	return recs
}
