package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/totegamma/ortto-dashboard/internal/domain"
)

func newDashboardFixture() (*DashboardUsecase, *refillFixture) {
	f := newRefillFixture(testRefillConfig())
	uc := NewDashboardUsecase(f.cache, f.ledger, f.refiller, f.gateway, testRefillConfig())
	return uc, f
}

func inputs(ids ...string) []ItemInput {
	in := make([]ItemInput, 0, len(ids))
	for _, id := range ids {
		in = append(in, ItemInput{ID: id, Type: "campaign"})
	}
	return in
}

func TestDashboardEmptyItemsServesFullCache(t *testing.T) {
	ctx := context.Background()
	uc, f := newDashboardFixture()
	ids := make([]string, 10)
	for i := range ids {
		ids[i] = fmt.Sprintf("c%d", i)
	}
	f.cache.Write(ctx, "u1", "all-time", records(ids...))

	result, err := uc.Reports(ctx, "u1", DashboardRequest{Items: []ItemInput{}})
	require.NoError(t, err)
	require.Len(t, result.Reports, 10)
	require.Empty(t, result.Pending)
	require.NotNil(t, result.Pending)
	require.Equal(t, domain.SourceCache, result.Summary.Source)
	require.Empty(t, f.gateway.called())
}

func TestDashboardEmptyItemsWithoutCache(t *testing.T) {
	uc, _ := newDashboardFixture()

	result, err := uc.Reports(context.Background(), "u1", DashboardRequest{})
	require.NoError(t, err)
	require.Empty(t, result.Reports)
	require.Equal(t, domain.SourceEmpty, result.Summary.Source)
}

func TestDashboardMissServesEmptyAndRefillsInBackground(t *testing.T) {
	ctx := context.Background()
	uc, f := newDashboardFixture()

	result, err := uc.Reports(ctx, "u1", DashboardRequest{Items: inputs("n1", "n2", "n3"), Timeframe: "all-time"})
	require.NoError(t, err)
	require.Empty(t, result.Reports)
	require.Equal(t, []string{"n1", "n2", "n3"}, result.Pending)
	require.True(t, result.Partial)
	require.True(t, result.Summary.BackgroundStarted)
	require.Equal(t, domain.SourceBackgroundRefresh, result.Summary.Source)

	f.refiller.Wait()
	doc := f.cache.ReadAll(ctx, "u1", "all-time")
	require.NotNil(t, doc)
	require.Equal(t, 3, doc.Count)
}

func TestDashboardPartialHitRefillsOnlyMissing(t *testing.T) {
	ctx := context.Background()
	uc, f := newDashboardFixture()
	f.cache.Write(ctx, "u1", "all-time", records("A", "B"))

	result, err := uc.Reports(ctx, "u1", DashboardRequest{Items: inputs("A", "B", "C")})
	require.NoError(t, err)
	require.Len(t, result.Reports, 2)
	require.Equal(t, domain.StatusAvailable, result.Reports[0].Status)
	require.Equal(t, []string{"C"}, result.Pending)
	require.True(t, result.Partial)

	f.refiller.Wait()
	require.Equal(t, []string{"C"}, f.gateway.called())
}

func TestDashboardFullHitDoesNotTouchUpstream(t *testing.T) {
	ctx := context.Background()
	uc, f := newDashboardFixture()
	f.cache.Write(ctx, "u1", "all-time", records("A", "B"))

	result, err := uc.Reports(ctx, "u1", DashboardRequest{Items: inputs("B")})
	require.NoError(t, err)
	require.False(t, result.Partial)
	require.Len(t, result.Reports, 1)
	require.Equal(t, domain.SourceCache, result.Summary.Source)
	require.False(t, f.refiller.Running("u1", "all-time"))
}

func TestDashboardReportsQuarantinedPendingItems(t *testing.T) {
	ctx := context.Background()
	uc, f := newDashboardFixture()
	require.NoError(t, f.ledger.Record(ctx, "u1", "all-time", campaigns("B")))

	result, err := uc.Reports(ctx, "u1", DashboardRequest{Items: inputs("A", "B")})
	require.NoError(t, err)
	require.Equal(t, []string{"B"}, result.RateLimited)
	f.refiller.Wait()
}

func TestDashboardDuplicateRequestDoesNotStartSecondWorker(t *testing.T) {
	ctx := context.Background()
	uc, f := newDashboardFixture()
	f.gateway.block = make(chan struct{})

	first, err := uc.Reports(ctx, "u1", DashboardRequest{Items: inputs("A")})
	require.NoError(t, err)
	second, err := uc.Reports(ctx, "u1", DashboardRequest{Items: inputs("A")})
	require.NoError(t, err)

	require.True(t, first.Summary.BackgroundStarted)
	require.False(t, second.Summary.BackgroundStarted)
	require.Equal(t, []string{"A"}, second.Pending)

	close(f.gateway.block)
	f.refiller.Wait()
	require.Equal(t, []string{"A"}, f.gateway.called())
}

func TestDashboardValidation(t *testing.T) {
	uc, _ := newDashboardFixture()

	_, err := uc.Reports(context.Background(), "u1", DashboardRequest{Items: []ItemInput{
		{ID: "", Type: "campaign"},
		{ID: "x", Type: "newsletter"},
	}})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, 2, verr.Dropped)
}

func TestDashboardDropsMalformedItems(t *testing.T) {
	uc, f := newDashboardFixture()

	result, err := uc.Reports(context.Background(), "u1", DashboardRequest{Items: []ItemInput{
		{ID: "A", Type: "campaign"},
		{ID: "J", Type: "Journey"},
		{ID: "x"},
	}})
	require.NoError(t, err)
	require.Equal(t, 1, result.Summary.Dropped)
	require.Equal(t, []string{"A", "J"}, result.Pending)
	f.refiller.Wait()
}

func TestValidateItems(t *testing.T) {
	items, dropped := ValidateItems([]ItemInput{
		{ID: " a ", Type: "campaign"},
		{ID: "a", Type: "campaign"},
		{ID: "j", Type: "journey"},
		{ID: "k", Type: ""},
	})
	require.Equal(t, []domain.ReportItem{
		{ID: "a", Kind: domain.KindCampaign},
		{ID: "j", Kind: domain.KindJourney},
	}, items)
	require.Equal(t, 1, dropped)
}

func TestDashboardForceRefresh(t *testing.T) {
	ctx := context.Background()
	uc, f := newDashboardFixture()
	f.gateway.failures["B"] = domain.ErrRateLimited
	f.gateway.failures["C"] = errors.New("bad gateway")
	// the ledger is not consulted for forced refreshes
	require.NoError(t, f.ledger.Record(ctx, "u1", "all-time", campaigns("A")))

	result, err := uc.Reports(ctx, "u1", DashboardRequest{Items: inputs("A", "B", "C"), ForceRefresh: true})
	require.NoError(t, err)
	require.Equal(t, domain.SourceForceRefresh, result.Summary.Source)
	require.Len(t, result.Reports, 3)
	require.Equal(t, domain.StatusAvailable, result.Reports[0].Status)
	require.Equal(t, domain.StatusPlaceholder, result.Reports[1].Status)
	require.Equal(t, domain.StatusUnavailable, result.Reports[2].Status)
	require.Equal(t, []string{"B"}, result.RateLimited)
	require.Equal(t, 1, result.Summary.Fetched)
	require.False(t, f.refiller.Running("u1", "all-time"))

	doc := f.cache.ReadAll(ctx, "u1", "all-time")
	require.NotNil(t, doc)
	require.Len(t, doc.Records, 1)
	require.Equal(t, "A", doc.Records[0].ID)
}

func TestDashboardRestartBackground(t *testing.T) {
	ctx := context.Background()
	uc, f := newDashboardFixture()
	f.gateway.catalog = campaigns("A", "B", "C")
	f.cache.Write(ctx, "u1", "all-time", records("A"))

	result, err := uc.RestartBackground(ctx, "u1", "")
	require.NoError(t, err)
	require.Equal(t, RestartResult{Total: 3, Cached: 1, Missing: 2, Started: true}, result)
	require.Equal(t, 1, f.gateway.invalidated)

	f.refiller.Wait()
	require.ElementsMatch(t, []string{"B", "C"}, f.gateway.called())
}

func TestDashboardRestartBackgroundListFailure(t *testing.T) {
	uc, f := newDashboardFixture()
	f.gateway.listErr = errors.New("upstream down")

	_, err := uc.RestartBackground(context.Background(), "u1", "all-time")
	require.Error(t, err)
}
