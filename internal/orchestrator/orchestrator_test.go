package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fisioflow/backend/internal/cache"
	"github.com/fisioflow/backend/internal/knowledge"
	"github.com/fisioflow/backend/internal/provider"
	"github.com/fisioflow/backend/internal/storage/models"
)

type fakeKnowledge struct {
	result *knowledge.Result
	found  bool
	err    error
	calls  int
}

func (f *fakeKnowledge) Search(ctx context.Context, query string, qctx models.QueryContext) (*knowledge.Result, bool, error) {
	f.calls++
	return f.result, f.found, f.err
}

type fakeCache struct {
	result *cache.Result
	found  bool
	getErr error

	getCalls int
	sets     []string
	setErr   error

	cleanupStats *cache.CleanupStats
}

func (f *fakeCache) Get(ctx context.Context, query string) (*cache.Result, bool, error) {
	f.getCalls++
	return f.result, f.found, f.getErr
}

func (f *fakeCache) Set(ctx context.Context, query, response, source string, confidence float64, ttl time.Duration) error {
	f.sets = append(f.sets, source)
	return f.setErr
}

func (f *fakeCache) Cleanup(ctx context.Context) (*cache.CleanupStats, error) {
	if f.cleanupStats == nil {
		return &cache.CleanupStats{}, nil
	}
	return f.cleanupStats, nil
}

type fakeDispatcher struct {
	result *provider.Result
	err    error
	calls  int
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, query string, qctx models.QueryContext) (*provider.Result, error) {
	f.calls++
	return f.result, f.err
}

func (f *fakeDispatcher) ResetDailyQuota(ctx context.Context) (int64, error) {
	return 0, nil
}

type fakeLogRepo struct {
	records   []*models.QueryLogRecord
	insertErr error

	ratedID       string
	ratedValue    int
	ratedFeedback string
	rateErr       error

	windowRecords []models.QueryLogRecord
}

func (f *fakeLogRepo) InsertQueryLog(ctx context.Context, r *models.QueryLogRecord) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.records = append(f.records, r)
	return nil
}

func (f *fakeLogRepo) UpdateQueryLogRating(ctx context.Context, id string, rating int, feedback string) error {
	if f.rateErr != nil {
		return f.rateErr
	}
	f.ratedID = id
	f.ratedValue = rating
	f.ratedFeedback = feedback
	return nil
}

func (f *fakeLogRepo) QueryLogsSince(ctx context.Context, since time.Time) ([]models.QueryLogRecord, error) {
	return f.windowRecords, nil
}

func newTestOrchestrator(kb *fakeKnowledge, sc *fakeCache, d *fakeDispatcher, logs *fakeLogRepo) *Orchestrator {
	if kb == nil {
		kb = &fakeKnowledge{}
	}
	if sc == nil {
		sc = &fakeCache{}
	}
	if d == nil {
		d = &fakeDispatcher{err: provider.ErrNoActiveAccounts}
	}
	if logs == nil {
		logs = &fakeLogRepo{}
	}
	return New(kb, sc, d, logs)
}

func TestResolveKnowledgeTier(t *testing.T) {
	kb := &fakeKnowledge{result: &knowledge.Result{EntryID: "e1", Response: "resposta curada", Confidence: 0.9}, found: true}
	sc := &fakeCache{}
	d := &fakeDispatcher{}
	logs := &fakeLogRepo{}

	answer, err := newTestOrchestrator(kb, sc, d, logs).Resolve(context.Background(), "protocolo dor lombar", models.QueryContext{})

	require.NoError(t, err)
	assert.Equal(t, SourceKnowledgeBase, answer.Source)
	assert.InDelta(t, 0.9, answer.Confidence, 0.001)

	// A confident curated answer stops the cascade.
	assert.Equal(t, 0, sc.getCalls)
	assert.Equal(t, 0, d.calls)
	require.Len(t, logs.records, 1)
	assert.Equal(t, SourceKnowledgeBase, logs.records[0].SourceTag)
}

func TestResolveLowConfidenceKnowledgeFallsThrough(t *testing.T) {
	// 0.75 is below the knowledge threshold but a cached answer at 0.8
	// clears the cache threshold.
	kb := &fakeKnowledge{result: &knowledge.Result{Response: "resposta fraca", Confidence: 0.75}, found: true}
	sc := &fakeCache{result: &cache.Result{Response: "resposta em cache", Confidence: 0.8, Similarity: 1.0}, found: true}
	d := &fakeDispatcher{}
	logs := &fakeLogRepo{}

	answer, err := newTestOrchestrator(kb, sc, d, logs).Resolve(context.Background(), "dor lombar", models.QueryContext{})

	require.NoError(t, err)
	assert.Equal(t, SourceCache, answer.Source)
	assert.Equal(t, "resposta em cache", answer.Response)
	assert.Equal(t, 1, sc.getCalls)
	assert.Equal(t, 0, d.calls)
}

func TestResolveProviderTierWritesThrough(t *testing.T) {
	d := &fakeDispatcher{result: &provider.Result{Response: "resposta gerada", Confidence: 0.8, ProviderName: "deepseek", AccountID: "acc-1"}}
	sc := &fakeCache{}
	logs := &fakeLogRepo{}

	answer, err := newTestOrchestrator(nil, sc, d, logs).Resolve(context.Background(), "dor lombar", models.QueryContext{})

	require.NoError(t, err)
	assert.Equal(t, "provider:deepseek", answer.Source)
	assert.InDelta(t, 0.8, answer.Confidence, 0.001)

	// The generated answer lands in the cache for the next similar query.
	require.Len(t, sc.sets, 1)
	assert.Equal(t, "provider:deepseek", sc.sets[0])
	require.Len(t, logs.records, 1)
}

func TestResolveFallbackTier(t *testing.T) {
	d := &fakeDispatcher{err: provider.ErrNoActiveAccounts}
	logs := &fakeLogRepo{}

	answer, err := newTestOrchestrator(nil, nil, d, logs).Resolve(context.Background(), "dor lombar", models.QueryContext{Category: models.CategoryExercise})

	require.NoError(t, err)
	assert.Equal(t, SourceFallback, answer.Source)
	assert.InDelta(t, 0.3, answer.Confidence, 0.001)
	assert.NotEmpty(t, answer.Response)
	require.Len(t, logs.records, 1)
}

func TestResolveFallbackOnInternalFault(t *testing.T) {
	d := &fakeDispatcher{err: provider.ErrBackendNotRegistered}

	answer, err := newTestOrchestrator(nil, nil, d, nil).Resolve(context.Background(), "dor lombar", models.QueryContext{})

	require.NoError(t, err)
	assert.Equal(t, SourceFallback, answer.Source)
	// Internal faults report lower confidence than a clean quota miss.
	assert.InDelta(t, 0.2, answer.Confidence, 0.001)
}

func TestResolveTierErrorsAreNotFatal(t *testing.T) {
	kb := &fakeKnowledge{err: errors.New("store unavailable")}
	sc := &fakeCache{getErr: errors.New("store unavailable")}
	d := &fakeDispatcher{result: &provider.Result{Response: "resposta", Confidence: 0.8, ProviderName: "openai"}}

	answer, err := newTestOrchestrator(kb, sc, d, nil).Resolve(context.Background(), "dor lombar", models.QueryContext{})

	require.NoError(t, err)
	assert.Equal(t, "provider:openai", answer.Source)
}

func TestResolveEmptyQuery(t *testing.T) {
	logs := &fakeLogRepo{}

	_, err := newTestOrchestrator(nil, nil, nil, logs).Resolve(context.Background(), "   ", models.QueryContext{})

	assert.Error(t, err)
	assert.Empty(t, logs.records)
}

func TestResolveCancelledWritesNoLog(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	logs := &fakeLogRepo{}

	_, err := newTestOrchestrator(nil, nil, nil, logs).Resolve(ctx, "dor lombar", models.QueryContext{})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, logs.records)
}

func TestResolveDefaultsCategory(t *testing.T) {
	logs := &fakeLogRepo{}

	answer, err := newTestOrchestrator(nil, nil, nil, logs).Resolve(context.Background(), "pergunta qualquer", models.QueryContext{Category: ""})

	require.NoError(t, err)
	// Unknown category resolves with the general fallback template.
	assert.Equal(t, SourceFallback, answer.Source)
	require.Len(t, logs.records, 1)
	assert.Contains(t, logs.records[0].ContextSnapshot, string(models.CategoryGeneral))
}

func TestRate(t *testing.T) {
	logs := &fakeLogRepo{}
	orch := newTestOrchestrator(nil, nil, nil, logs)

	require.NoError(t, orch.Rate(context.Background(), "log-1", 4, "boa resposta"))
	assert.Equal(t, "log-1", logs.ratedID)
	assert.Equal(t, 4, logs.ratedValue)
	assert.Equal(t, "boa resposta", logs.ratedFeedback)

	assert.Error(t, orch.Rate(context.Background(), "log-1", 0, ""))
	assert.Error(t, orch.Rate(context.Background(), "log-1", 6, ""))
}

func TestStats(t *testing.T) {
	rating5 := 5
	rating3 := 3

	logs := &fakeLogRepo{windowRecords: []models.QueryLogRecord{
		{SourceTag: SourceKnowledgeBase, ProcessingTimeMs: 10, Rating: &rating5},
		{SourceTag: SourceCache, ProcessingTimeMs: 20},
		{SourceTag: "provider:openai", ProcessingTimeMs: 3000, Rating: &rating3},
		{SourceTag: SourceFallback, ProcessingTimeMs: 10},
	}}
	orch := newTestOrchestrator(nil, nil, nil, logs)

	stats, err := orch.Stats(context.Background(), 7)

	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalQueries)
	assert.InDelta(t, 760.0, stats.AvgProcessingMs, 0.001)
	assert.Equal(t, 1, stats.SourceCounts[SourceCache])
	assert.Equal(t, 1, stats.SourceCounts["provider:openai"])
	// Only rated queries count toward the mean rating.
	assert.Equal(t, 2, stats.RatedQueries)
	assert.InDelta(t, 4.0, stats.AvgRating, 0.001)
	assert.InDelta(t, 0.25, stats.CacheHitRate, 0.001)
}

func TestStatsEmptyWindow(t *testing.T) {
	orch := newTestOrchestrator(nil, nil, nil, &fakeLogRepo{})

	stats, err := orch.Stats(context.Background(), 7)

	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalQueries)
	assert.Equal(t, 0.0, stats.CacheHitRate)
}
