package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/fisioflow/backend/internal/storage/models"
	"github.com/fisioflow/backend/pkg/logger"
)

// ErrUnavailable wraps any I/O-level failure talking to the store. Callers
// treat it as a miss and keep going; it is never fatal to a resolution.
var ErrUnavailable = errors.New("store unavailable")

// ErrNotFound reports a read-by-key that matched no row.
var ErrNotFound = errors.New("record not found")

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS knowledge_entries (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		tags TEXT NOT NULL,
		confidence_score REAL NOT NULL,
		usage_count INTEGER DEFAULT 0,
		author_id TEXT,
		validated_by TEXT,
		validated_at INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_knowledge_type ON knowledge_entries(type);
	CREATE INDEX IF NOT EXISTS idx_knowledge_confidence ON knowledge_entries(confidence_score);

	CREATE TABLE IF NOT EXISTS cache_entries (
		query_hash TEXT PRIMARY KEY,
		query_text TEXT NOT NULL,
		response TEXT NOT NULL,
		source TEXT NOT NULL,
		confidence_score REAL NOT NULL,
		expires_at INTEGER NOT NULL,
		usage_count INTEGER DEFAULT 1,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache_entries(expires_at);
	CREATE INDEX IF NOT EXISTS idx_cache_usage ON cache_entries(usage_count);

	CREATE TABLE IF NOT EXISTS backend_accounts (
		id TEXT PRIMARY KEY,
		provider_name TEXT NOT NULL,
		account_label TEXT NOT NULL,
		is_active INTEGER DEFAULT 1,
		daily_usage_count INTEGER DEFAULT 0,
		daily_limit INTEGER NOT NULL,
		last_used_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_accounts_provider ON backend_accounts(provider_name);

	CREATE TABLE IF NOT EXISTS query_log (
		id TEXT PRIMARY KEY,
		query_text TEXT NOT NULL,
		response_text TEXT NOT NULL,
		source_tag TEXT NOT NULL,
		confidence REAL NOT NULL,
		processing_time_ms INTEGER NOT NULL,
		context_snapshot TEXT,
		rating INTEGER,
		feedback TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_log_created ON query_log(created_at);
	CREATE INDEX IF NOT EXISTS idx_query_log_source ON query_log(source_tag);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}

// --- knowledge entries ---

func (c *Client) InsertKnowledgeEntry(ctx context.Context, e *models.KnowledgeEntry) error {
	tagsJSON, _ := json.Marshal(e.Tags)

	query := `
		INSERT INTO knowledge_entries (id, type, title, content, tags, confidence_score,
			usage_count, author_id, validated_by, validated_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var validatedAt interface{}
	if e.ValidatedAt != nil {
		validatedAt = e.ValidatedAt.Unix()
	}

	_, err := c.db.ExecContext(ctx, query,
		e.ID, e.Type, e.Title, e.Content, string(tagsJSON), e.ConfidenceScore,
		e.UsageCount, e.AuthorID, e.ValidatedBy, validatedAt, e.CreatedAt.Unix(),
	)
	if err != nil {
		return storeErr("insert knowledge entry", err)
	}

	logger.Debug("Knowledge entry inserted", zap.String("entry_id", e.ID), zap.String("title", e.Title))
	return nil
}

// SearchKnowledgeByTags returns entries whose tag set overlaps the given
// tags at or above minConfidence, ordered by confidence then usage count.
// Tags are stored as a JSON array; overlap is matched per-tag with LIKE on
// the quoted value, which is exact for the normalized single-word tags the
// extractor produces.
func (c *Client) SearchKnowledgeByTags(ctx context.Context, tags []string, minConfidence float64, typeFilter string, limit int) ([]models.KnowledgeEntry, error) {
	if len(tags) == 0 {
		return nil, nil
	}

	var conds []string
	var args []interface{}
	for _, tag := range tags {
		conds = append(conds, "tags LIKE ?")
		args = append(args, `%"`+tag+`"%`)
	}

	query := fmt.Sprintf(`
		SELECT id, type, title, content, tags, confidence_score, usage_count,
			author_id, validated_by, validated_at, created_at
		FROM knowledge_entries
		WHERE (%s) AND confidence_score >= ?
	`, strings.Join(conds, " OR "))
	args = append(args, minConfidence)

	if typeFilter != "" {
		query += " AND type = ?"
		args = append(args, typeFilter)
	}

	query += " ORDER BY confidence_score DESC, usage_count DESC LIMIT ?"
	args = append(args, limit)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("search knowledge by tags", err)
	}
	defer rows.Close()

	return scanKnowledgeEntries(rows)
}

// SearchKnowledgeByContent matches the raw query as a substring of entry
// content, for the weaker secondary lookup.
func (c *Client) SearchKnowledgeByContent(ctx context.Context, substring string, minConfidence float64, limit int) ([]models.KnowledgeEntry, error) {
	query := `
		SELECT id, type, title, content, tags, confidence_score, usage_count,
			author_id, validated_by, validated_at, created_at
		FROM knowledge_entries
		WHERE content LIKE ? AND confidence_score >= ?
		ORDER BY confidence_score DESC, usage_count DESC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, "%"+substring+"%", minConfidence, limit)
	if err != nil {
		return nil, storeErr("search knowledge by content", err)
	}
	defer rows.Close()

	return scanKnowledgeEntries(rows)
}

func (c *Client) IncrementKnowledgeUsage(ctx context.Context, id string) error {
	_, err := c.db.ExecContext(ctx,
		"UPDATE knowledge_entries SET usage_count = usage_count + 1 WHERE id = ?", id)
	if err != nil {
		return storeErr("increment knowledge usage", err)
	}
	return nil
}

func (c *Client) ValidateKnowledgeEntry(ctx context.Context, id, validatorID string, score float64, at time.Time) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE knowledge_entries
		SET confidence_score = ?, validated_by = ?, validated_at = ?
		WHERE id = ?
	`, score, validatorID, at.Unix(), id)
	if err != nil {
		return storeErr("validate knowledge entry", err)
	}

	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanKnowledgeEntries(rows *sql.Rows) ([]models.KnowledgeEntry, error) {
	var entries []models.KnowledgeEntry
	for rows.Next() {
		var e models.KnowledgeEntry
		var tagsJSON string
		var authorID, validatedBy sql.NullString
		var validatedAt sql.NullInt64
		var createdAt int64

		err := rows.Scan(&e.ID, &e.Type, &e.Title, &e.Content, &tagsJSON,
			&e.ConfidenceScore, &e.UsageCount, &authorID, &validatedBy,
			&validatedAt, &createdAt)
		if err != nil {
			return nil, storeErr("scan knowledge entry", err)
		}

		json.Unmarshal([]byte(tagsJSON), &e.Tags)
		e.AuthorID = authorID.String
		e.ValidatedBy = validatedBy.String
		if validatedAt.Valid {
			t := time.Unix(validatedAt.Int64, 0)
			e.ValidatedAt = &t
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate knowledge entries", err)
	}
	return entries, nil
}

// --- cache entries ---

func (c *Client) GetCacheEntry(ctx context.Context, queryHash string, now time.Time) (*models.CacheEntry, error) {
	query := `
		SELECT query_hash, query_text, response, source, confidence_score,
			expires_at, usage_count, created_at
		FROM cache_entries
		WHERE query_hash = ? AND expires_at > ?
	`

	var e models.CacheEntry
	var expiresAt, createdAt int64

	err := c.db.QueryRowContext(ctx, query, queryHash, now.Unix()).Scan(
		&e.QueryHash, &e.QueryText, &e.Response, &e.Source,
		&e.ConfidenceScore, &expiresAt, &e.UsageCount, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get cache entry", err)
	}

	e.ExpiresAt = time.Unix(expiresAt, 0)
	e.CreatedAt = time.Unix(createdAt, 0)
	return &e, nil
}

// RecentCacheEntries returns the newest live entries for the similarity
// scan. Equal creation times fall back to insertion order (rowid) so the
// window is deterministic.
func (c *Client) RecentCacheEntries(ctx context.Context, now time.Time, limit int) ([]models.CacheEntry, error) {
	query := `
		SELECT query_hash, query_text, response, source, confidence_score,
			expires_at, usage_count, created_at
		FROM cache_entries
		WHERE expires_at > ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, now.Unix(), limit)
	if err != nil {
		return nil, storeErr("recent cache entries", err)
	}
	defer rows.Close()

	var entries []models.CacheEntry
	for rows.Next() {
		var e models.CacheEntry
		var expiresAt, createdAt int64

		err := rows.Scan(&e.QueryHash, &e.QueryText, &e.Response, &e.Source,
			&e.ConfidenceScore, &expiresAt, &e.UsageCount, &createdAt)
		if err != nil {
			return nil, storeErr("scan cache entry", err)
		}

		e.ExpiresAt = time.Unix(expiresAt, 0)
		e.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate cache entries", err)
	}
	return entries, nil
}

// UpsertCacheEntry overwrites any previous row for the same hash, keeping
// at most one live entry per normalized query.
func (c *Client) UpsertCacheEntry(ctx context.Context, e *models.CacheEntry) error {
	query := `
		INSERT INTO cache_entries (query_hash, query_text, response, source,
			confidence_score, expires_at, usage_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(query_hash) DO UPDATE SET
			query_text = excluded.query_text,
			response = excluded.response,
			source = excluded.source,
			confidence_score = excluded.confidence_score,
			expires_at = excluded.expires_at,
			usage_count = excluded.usage_count,
			created_at = excluded.created_at
	`

	_, err := c.db.ExecContext(ctx, query,
		e.QueryHash, e.QueryText, e.Response, e.Source,
		e.ConfidenceScore, e.ExpiresAt.Unix(), e.UsageCount, e.CreatedAt.Unix(),
	)
	if err != nil {
		return storeErr("upsert cache entry", err)
	}

	logger.Debug("Cache entry upserted", zap.String("query_hash", e.QueryHash))
	return nil
}

func (c *Client) IncrementCacheUsage(ctx context.Context, queryHash string) error {
	_, err := c.db.ExecContext(ctx,
		"UPDATE cache_entries SET usage_count = usage_count + 1 WHERE query_hash = ?", queryHash)
	if err != nil {
		return storeErr("increment cache usage", err)
	}
	return nil
}

func (c *Client) DeleteExpiredCacheEntries(ctx context.Context, now time.Time) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE expires_at <= ?", now.Unix())
	if err != nil {
		return 0, storeErr("delete expired cache entries", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (c *Client) CountLiveCacheEntries(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	err := c.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM cache_entries WHERE expires_at > ?", now.Unix()).Scan(&count)
	if err != nil {
		return 0, storeErr("count cache entries", err)
	}
	return count, nil
}

// DeleteLeastUsedCacheEntries removes the batch of entries with the lowest
// usage count, oldest first among ties.
func (c *Client) DeleteLeastUsedCacheEntries(ctx context.Context, batch int) (int64, error) {
	res, err := c.db.ExecContext(ctx, `
		DELETE FROM cache_entries WHERE query_hash IN (
			SELECT query_hash FROM cache_entries
			ORDER BY usage_count ASC, created_at ASC
			LIMIT ?
		)
	`, batch)
	if err != nil {
		return 0, storeErr("delete least used cache entries", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// --- backend accounts ---

func (c *Client) ActiveBackendAccounts(ctx context.Context) ([]models.BackendAccount, error) {
	query := `
		SELECT id, provider_name, account_label, is_active, daily_usage_count,
			daily_limit, last_used_at
		FROM backend_accounts
		WHERE is_active = 1
	`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, storeErr("list backend accounts", err)
	}
	defer rows.Close()

	var accounts []models.BackendAccount
	for rows.Next() {
		var a models.BackendAccount
		var isActive int
		var lastUsedAt sql.NullInt64

		err := rows.Scan(&a.ID, &a.ProviderName, &a.AccountLabel, &isActive,
			&a.DailyUsageCount, &a.DailyLimit, &lastUsedAt)
		if err != nil {
			return nil, storeErr("scan backend account", err)
		}

		a.IsActive = isActive == 1
		if lastUsedAt.Valid {
			t := time.Unix(lastUsedAt.Int64, 0)
			a.LastUsedAt = &t
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate backend accounts", err)
	}
	return accounts, nil
}

func (c *Client) UpsertBackendAccount(ctx context.Context, a *models.BackendAccount) error {
	isActive := 0
	if a.IsActive {
		isActive = 1
	}

	var lastUsedAt interface{}
	if a.LastUsedAt != nil {
		lastUsedAt = a.LastUsedAt.Unix()
	}

	query := `
		INSERT INTO backend_accounts (id, provider_name, account_label, is_active,
			daily_usage_count, daily_limit, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			provider_name = excluded.provider_name,
			account_label = excluded.account_label,
			is_active = excluded.is_active,
			daily_limit = excluded.daily_limit
	`

	_, err := c.db.ExecContext(ctx, query,
		a.ID, a.ProviderName, a.AccountLabel, isActive,
		a.DailyUsageCount, a.DailyLimit, lastUsedAt,
	)
	if err != nil {
		return storeErr("upsert backend account", err)
	}
	return nil
}

// RecordBackendUsage bumps the daily counter with a single UPDATE so
// concurrent dispatches never lose an increment.
func (c *Client) RecordBackendUsage(ctx context.Context, id string, usedAt time.Time) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE backend_accounts
		SET daily_usage_count = daily_usage_count + 1, last_used_at = ?
		WHERE id = ?
	`, usedAt.Unix(), id)
	if err != nil {
		return storeErr("record backend usage", err)
	}
	return nil
}

// ResetDailyUsage zeroes every account's daily counter. Invoked by an
// external scheduler, never by the rotator itself.
func (c *Client) ResetDailyUsage(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, "UPDATE backend_accounts SET daily_usage_count = 0")
	if err != nil {
		return 0, storeErr("reset daily usage", err)
	}
	n, _ := res.RowsAffected()
	logger.Info("Daily backend quota reset")
	return n, nil
}

// --- query log ---

func (c *Client) InsertQueryLog(ctx context.Context, r *models.QueryLogRecord) error {
	query := `
		INSERT INTO query_log (id, query_text, response_text, source_tag, confidence,
			processing_time_ms, context_snapshot, rating, feedback, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var rating interface{}
	if r.Rating != nil {
		rating = *r.Rating
	}

	_, err := c.db.ExecContext(ctx, query,
		r.ID, r.QueryText, r.ResponseText, r.SourceTag, r.Confidence,
		r.ProcessingTimeMs, r.ContextSnapshot, rating, r.Feedback, r.CreatedAt.Unix(),
	)
	if err != nil {
		return storeErr("insert query log", err)
	}

	logger.Info("Query logged",
		zap.String("log_id", r.ID),
		zap.String("source", r.SourceTag),
		zap.Float64("confidence", r.Confidence),
	)
	return nil
}

func (c *Client) UpdateQueryLogRating(ctx context.Context, id string, rating int, feedback string) error {
	res, err := c.db.ExecContext(ctx,
		"UPDATE query_log SET rating = ?, feedback = ? WHERE id = ?", rating, feedback, id)
	if err != nil {
		return storeErr("update query log rating", err)
	}

	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *Client) QueryLogsSince(ctx context.Context, since time.Time) ([]models.QueryLogRecord, error) {
	query := `
		SELECT id, query_text, response_text, source_tag, confidence,
			processing_time_ms, context_snapshot, rating, feedback, created_at
		FROM query_log
		WHERE created_at >= ?
		ORDER BY created_at DESC
	`

	rows, err := c.db.QueryContext(ctx, query, since.Unix())
	if err != nil {
		return nil, storeErr("query logs since", err)
	}
	defer rows.Close()

	var records []models.QueryLogRecord
	for rows.Next() {
		var r models.QueryLogRecord
		var contextSnapshot, feedback sql.NullString
		var rating sql.NullInt64
		var createdAt int64

		err := rows.Scan(&r.ID, &r.QueryText, &r.ResponseText, &r.SourceTag,
			&r.Confidence, &r.ProcessingTimeMs, &contextSnapshot, &rating,
			&feedback, &createdAt)
		if err != nil {
			return nil, storeErr("scan query log", err)
		}

		r.ContextSnapshot = contextSnapshot.String
		r.Feedback = feedback.String
		if rating.Valid {
			v := int(rating.Int64)
			r.Rating = &v
		}
		r.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate query logs", err)
	}
	return records, nil
}
