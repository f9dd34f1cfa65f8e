// Package cache implements the semantic response cache: exact lookups by
// normalized-query hash plus a bounded keyword-similarity scan over the
// most recent live entries.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fisioflow/backend/internal/keywords"
	"github.com/fisioflow/backend/internal/storage/models"
	"github.com/fisioflow/backend/internal/storage/sqlite"
	"github.com/fisioflow/backend/pkg/logger"
	"github.com/fisioflow/backend/pkg/utils"
)

// Repo is the slice of the persistence collaborator the cache needs.
type Repo interface {
	GetCacheEntry(ctx context.Context, queryHash string, now time.Time) (*models.CacheEntry, error)
	RecentCacheEntries(ctx context.Context, now time.Time, limit int) ([]models.CacheEntry, error)
	UpsertCacheEntry(ctx context.Context, e *models.CacheEntry) error
	IncrementCacheUsage(ctx context.Context, queryHash string) error
	DeleteExpiredCacheEntries(ctx context.Context, now time.Time) (int64, error)
	CountLiveCacheEntries(ctx context.Context, now time.Time) (int64, error)
	DeleteLeastUsedCacheEntries(ctx context.Context, batch int) (int64, error)
}

// HotLayer is an optional exact-hash fast path (Redis) in front of the
// store. Failures there are never fatal; lookups fall through.
type HotLayer interface {
	Get(ctx context.Context, queryHash string) (*models.CacheEntry, bool, error)
	Set(ctx context.Context, queryHash string, e *models.CacheEntry, ttl time.Duration) error
}

type Config struct {
	TTL           time.Duration
	ScanLimit     int
	MaxEntries    int64
	EvictionBatch int
	SimilarityMin float64
}

func DefaultConfig() Config {
	return Config{
		TTL:           24 * time.Hour,
		ScanLimit:     50,
		MaxEntries:    10000,
		EvictionBatch: 1000,
		SimilarityMin: 0.75,
	}
}

type Result struct {
	Response   string
	Confidence float64
	Similarity float64
}

type Semantic struct {
	repo Repo
	hot  HotLayer
	cfg  Config
}

// NewSemantic builds the cache. hot may be nil.
func NewSemantic(repo Repo, hot HotLayer, cfg Config) *Semantic {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = DefaultConfig().ScanLimit
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultConfig().MaxEntries
	}
	if cfg.EvictionBatch <= 0 {
		cfg.EvictionBatch = DefaultConfig().EvictionBatch
	}
	if cfg.SimilarityMin <= 0 {
		cfg.SimilarityMin = DefaultConfig().SimilarityMin
	}
	return &Semantic{repo: repo, hot: hot, cfg: cfg}
}

// Get resolves a query against the cache. Exact hash matches always win
// over fuzzy candidates; fuzzy confidence is the stored confidence scaled
// by the similarity.
func (s *Semantic) Get(ctx context.Context, query string) (*Result, bool, error) {
	now := time.Now()
	hash := utils.HashQuery(query)

	if s.hot != nil {
		entry, found, err := s.hot.Get(ctx, hash)
		if err != nil {
			logger.Warn("Cache hot layer lookup failed", zap.Error(err))
		} else if found {
			s.recordHit(ctx, hash)
			return &Result{Response: entry.Response, Confidence: entry.ConfidenceScore, Similarity: 1.0}, true, nil
		}
	}

	entry, err := s.repo.GetCacheEntry(ctx, hash, now)
	if err == nil {
		s.recordHit(ctx, hash)
		return &Result{Response: entry.Response, Confidence: entry.ConfidenceScore, Similarity: 1.0}, true, nil
	}
	if !errors.Is(err, sqlite.ErrNotFound) {
		return nil, false, fmt.Errorf("cache exact lookup: %w", err)
	}

	candidates, err := s.repo.RecentCacheEntries(ctx, now, s.cfg.ScanLimit)
	if err != nil {
		return nil, false, fmt.Errorf("cache candidate scan: %w", err)
	}

	var best *models.CacheEntry
	bestSim := 0.0
	for i := range candidates {
		sim := keywords.Jaccard(query, candidates[i].QueryText)
		if sim > bestSim {
			bestSim = sim
			best = &candidates[i]
		}
	}

	// Strictly above the threshold; a candidate sitting exactly on it is
	// still a miss.
	if best == nil || bestSim <= s.cfg.SimilarityMin {
		return nil, false, nil
	}

	s.recordHit(ctx, best.QueryHash)
	logger.Debug("Semantic cache fuzzy hit",
		zap.String("query_hash", best.QueryHash),
		zap.Float64("similarity", bestSim),
	)
	return &Result{
		Response:   best.Response,
		Confidence: best.ConfidenceScore * bestSim,
		Similarity: bestSim,
	}, true, nil
}

// Set upserts the response keyed by the normalized-query hash, resetting
// the usage counter. ttl <= 0 uses the configured default.
func (s *Semantic) Set(ctx context.Context, query, response, source string, confidence float64, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.cfg.TTL
	}

	now := time.Now()
	entry := &models.CacheEntry{
		QueryHash:       utils.HashQuery(query),
		QueryText:       query,
		Response:        response,
		Source:          source,
		ConfidenceScore: confidence,
		ExpiresAt:       now.Add(ttl),
		UsageCount:      1,
		CreatedAt:       now,
	}

	if err := s.repo.UpsertCacheEntry(ctx, entry); err != nil {
		return fmt.Errorf("cache write: %w", err)
	}

	if s.hot != nil {
		if err := s.hot.Set(ctx, entry.QueryHash, entry, ttl); err != nil {
			logger.Warn("Cache hot layer write failed", zap.Error(err))
		}
	}
	return nil
}

type CleanupStats struct {
	Expired int64
	Evicted int64
}

// Cleanup deletes expired entries and then, when the live set exceeds
// capacity, evicts a batch of the least-used entries (ties broken by
// oldest creation). Invoked by an external scheduler.
func (s *Semantic) Cleanup(ctx context.Context) (*CleanupStats, error) {
	now := time.Now()

	expired, err := s.repo.DeleteExpiredCacheEntries(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("cache cleanup: %w", err)
	}

	stats := &CleanupStats{Expired: expired}

	live, err := s.repo.CountLiveCacheEntries(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("cache cleanup count: %w", err)
	}

	if live > s.cfg.MaxEntries {
		evicted, err := s.repo.DeleteLeastUsedCacheEntries(ctx, s.cfg.EvictionBatch)
		if err != nil {
			return nil, fmt.Errorf("cache eviction: %w", err)
		}
		stats.Evicted = evicted
	}

	logger.Info("Cache cleanup completed",
		zap.Int64("expired", stats.Expired),
		zap.Int64("evicted", stats.Evicted),
	)
	return stats, nil
}

func (s *Semantic) recordHit(ctx context.Context, queryHash string) {
	if err := s.repo.IncrementCacheUsage(ctx, queryHash); err != nil {
		logger.Warn("Failed to increment cache usage", zap.String("query_hash", queryHash), zap.Error(err))
	}
}
