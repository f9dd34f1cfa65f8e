// Package orchestrator composes the knowledge store, the semantic cache
// and the backend rotator into the four-tier resolution cascade. Every
// resolution returns some answer with an honestly reported confidence.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fisioflow/backend/internal/cache"
	"github.com/fisioflow/backend/internal/knowledge"
	"github.com/fisioflow/backend/internal/metrics"
	"github.com/fisioflow/backend/internal/provider"
	"github.com/fisioflow/backend/internal/storage/models"
	"github.com/fisioflow/backend/pkg/logger"
)

// Tier confidence thresholds: a knowledge answer must clear 0.8 and a
// cache answer 0.7 before the cascade stops.
const (
	knowledgeThreshold = 0.8
	cacheThreshold     = 0.7

	fallbackConfidence      = 0.3
	fallbackErrorConfidence = 0.2
)

const (
	SourceKnowledgeBase  = "knowledge_base"
	SourceCache          = "cache"
	sourceProviderPrefix = "provider:"
	SourceFallback       = "fallback"
)

type KnowledgeSearcher interface {
	Search(ctx context.Context, query string, qctx models.QueryContext) (*knowledge.Result, bool, error)
}

type SemanticCache interface {
	Get(ctx context.Context, query string) (*cache.Result, bool, error)
	Set(ctx context.Context, query, response, source string, confidence float64, ttl time.Duration) error
	Cleanup(ctx context.Context) (*cache.CleanupStats, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, query string, qctx models.QueryContext) (*provider.Result, error)
	ResetDailyQuota(ctx context.Context) (int64, error)
}

// LogRepo is the slice of the persistence collaborator holding query logs.
type LogRepo interface {
	InsertQueryLog(ctx context.Context, r *models.QueryLogRecord) error
	UpdateQueryLogRating(ctx context.Context, id string, rating int, feedback string) error
	QueryLogsSince(ctx context.Context, since time.Time) ([]models.QueryLogRecord, error)
}

type Answer struct {
	LogID            string
	Response         string
	Source           string
	Confidence       float64
	ProcessingTimeMs int
}

type Orchestrator struct {
	kb      KnowledgeSearcher
	cache   SemanticCache
	rotator Dispatcher
	logs    LogRepo
}

func New(kb KnowledgeSearcher, sc SemanticCache, rotator Dispatcher, logs LogRepo) *Orchestrator {
	return &Orchestrator{kb: kb, cache: sc, rotator: rotator, logs: logs}
}

// Resolve walks the cascade in order: knowledge base, cache, provider,
// fallback. Later stages are strictly more expensive and only run on a
// miss, so the stages are sequential by design. Exactly one log record is
// written per completed resolution; a cancelled resolution writes none.
func (o *Orchestrator) Resolve(ctx context.Context, query string, qctx models.QueryContext) (*Answer, error) {
	start := time.Now()

	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query must not be empty")
	}
	if qctx.Category == "" {
		qctx.Category = models.CategoryGeneral
	}
	if qctx.Priority == "" {
		qctx.Priority = models.PriorityNormal
	}

	answer, err := o.cascade(ctx, query, qctx)
	if err != nil {
		return nil, err
	}

	if ctx.Err() != nil {
		// Cancelled mid-flight: the caller is gone and cancelled queries
		// are not counted in usage statistics.
		return nil, ctx.Err()
	}

	answer.ProcessingTimeMs = int(time.Since(start).Milliseconds())
	answer.LogID = uuid.New().String()

	metrics.ResolutionsTotal.WithLabelValues(sourceLabel(answer.Source)).Inc()
	metrics.ResolutionDuration.Observe(time.Since(start).Seconds())
	metrics.ResolutionConfidence.Observe(answer.Confidence)

	snapshot, _ := json.Marshal(map[string]string{
		"user_id":    qctx.UserID,
		"patient_id": qctx.PatientID,
		"category":   string(qctx.Category),
		"priority":   qctx.Priority,
	})

	record := &models.QueryLogRecord{
		ID:               answer.LogID,
		QueryText:        query,
		ResponseText:     answer.Response,
		SourceTag:        answer.Source,
		Confidence:       answer.Confidence,
		ProcessingTimeMs: answer.ProcessingTimeMs,
		ContextSnapshot:  string(snapshot),
		CreatedAt:        time.Now(),
	}
	if err := o.logs.InsertQueryLog(ctx, record); err != nil {
		logger.Warn("Failed to write query log", zap.String("log_id", answer.LogID), zap.Error(err))
	}

	logger.Info("Query resolved",
		zap.String("log_id", answer.LogID),
		zap.String("source", answer.Source),
		zap.Float64("confidence", answer.Confidence),
		zap.Int("processing_time_ms", answer.ProcessingTimeMs),
	)
	return answer, nil
}

func (o *Orchestrator) cascade(ctx context.Context, query string, qctx models.QueryContext) (*Answer, error) {
	kbResult, found, err := o.kb.Search(ctx, query, qctx)
	if err != nil {
		// Store failures are a miss, never fatal.
		logger.Warn("Knowledge lookup failed, continuing cascade", zap.Error(err))
	}
	if found && kbResult.Confidence > knowledgeThreshold {
		return &Answer{Response: kbResult.Response, Source: SourceKnowledgeBase, Confidence: kbResult.Confidence}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cacheResult, found, err := o.cache.Get(ctx, query)
	if err != nil {
		logger.Warn("Cache lookup failed, continuing cascade", zap.Error(err))
	}
	if found && cacheResult.Confidence > cacheThreshold {
		metrics.CacheHits.Inc()
		return &Answer{Response: cacheResult.Response, Source: SourceCache, Confidence: cacheResult.Confidence}, nil
	}
	metrics.CacheMisses.Inc()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	provResult, dispatchErr := o.rotator.Dispatch(ctx, query, qctx)
	if dispatchErr == nil {
		source := sourceProviderPrefix + provResult.ProviderName
		metrics.ProviderDispatches.WithLabelValues(provResult.ProviderName, "ok").Inc()

		// Write-through so the next similar query resolves at cache tier.
		if err := o.cache.Set(ctx, query, provResult.Response, source, provResult.Confidence, 0); err != nil {
			logger.Warn("Cache write-through failed", zap.Error(err))
		}
		return &Answer{Response: provResult.Response, Source: source, Confidence: provResult.Confidence}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	metrics.ProviderDispatches.WithLabelValues("", "error").Inc()
	logger.Warn("Provider dispatch failed, using fallback", zap.Error(dispatchErr))

	return o.fallback(qctx, dispatchErr)
}

// fallback always answers, distinguishing a clean "no provider" from an
// unexpected internal fault only through the reported confidence.
func (o *Orchestrator) fallback(qctx models.QueryContext, cause error) (*Answer, error) {
	template, ok := fallbackTemplates[qctx.Category]
	if !ok {
		// The category enum is closed, so a missing template is a
		// programming error and the one fault that surfaces to the caller.
		return nil, fmt.Errorf("no fallback template for category %q", qctx.Category)
	}

	confidence := fallbackConfidence
	if errors.Is(cause, provider.ErrBackendNotRegistered) {
		confidence = fallbackErrorConfidence
	}

	metrics.FallbacksTotal.Inc()
	return &Answer{Response: template, Source: SourceFallback, Confidence: confidence}, nil
}

// Rate attaches a rating to an existing log record. It never influences
// how future queries resolve.
func (o *Orchestrator) Rate(ctx context.Context, logID string, rating int, feedback string) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("rating %d out of range 1-5", rating)
	}
	if err := o.logs.UpdateQueryLogRating(ctx, logID, rating, feedback); err != nil {
		return err
	}

	metrics.QueryRatings.Observe(float64(rating))
	logger.Info("Query rated", zap.String("log_id", logID), zap.Int("rating", rating))
	return nil
}

type UsageStats struct {
	TotalQueries    int
	AvgProcessingMs float64
	SourceCounts    map[string]int
	AvgRating       float64
	RatedQueries    int
	CacheHitRate    float64
}

// Stats aggregates log records over a trailing window of whole days.
func (o *Orchestrator) Stats(ctx context.Context, windowDays int) (*UsageStats, error) {
	if windowDays <= 0 {
		windowDays = 7
	}

	since := time.Now().AddDate(0, 0, -windowDays)
	records, err := o.logs.QueryLogsSince(ctx, since)
	if err != nil {
		return nil, err
	}

	stats := &UsageStats{SourceCounts: make(map[string]int)}
	stats.TotalQueries = len(records)
	if stats.TotalQueries == 0 {
		return stats, nil
	}

	var totalMs, ratingSum int
	cacheHits := 0
	for _, r := range records {
		totalMs += r.ProcessingTimeMs
		stats.SourceCounts[r.SourceTag]++
		if strings.Contains(r.SourceTag, "cache") {
			cacheHits++
		}
		if r.Rating != nil {
			ratingSum += *r.Rating
			stats.RatedQueries++
		}
	}

	stats.AvgProcessingMs = float64(totalMs) / float64(stats.TotalQueries)
	stats.CacheHitRate = float64(cacheHits) / float64(stats.TotalQueries)
	if stats.RatedQueries > 0 {
		stats.AvgRating = float64(ratingSum) / float64(stats.RatedQueries)
	}
	return stats, nil
}

// CleanupCache runs the cache eviction sweep, safe to call concurrently
// with in-flight resolutions.
func (o *Orchestrator) CleanupCache(ctx context.Context) (*cache.CleanupStats, error) {
	stats, err := o.cache.Cleanup(ctx)
	if err != nil {
		return nil, err
	}

	metrics.CacheEvictions.Add(float64(stats.Expired + stats.Evicted))
	return stats, nil
}

// ResetDailyQuota zeroes every backend account's daily counter.
func (o *Orchestrator) ResetDailyQuota(ctx context.Context) (int64, error) {
	return o.rotator.ResetDailyQuota(ctx)
}

func sourceLabel(source string) string {
	if strings.HasPrefix(source, sourceProviderPrefix) {
		return "provider"
	}
	return source
}
