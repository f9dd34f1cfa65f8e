package provider

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fisioflow/backend/internal/storage/models"
	"github.com/fisioflow/backend/pkg/logger"
)

// AccountRepo is the slice of the persistence collaborator the rotator
// needs. Usage recording must be atomic at the storage layer; the quota
// is a soft limit and slight overshoot under race is acceptable.
type AccountRepo interface {
	ActiveBackendAccounts(ctx context.Context) ([]models.BackendAccount, error)
	RecordBackendUsage(ctx context.Context, id string, usedAt time.Time) error
	ResetDailyUsage(ctx context.Context) (int64, error)
}

type RotatorConfig struct {
	Priority        []string
	Timeout         time.Duration
	HighPrioTimeout time.Duration
}

type Rotator struct {
	repo     AccountRepo
	backends map[string]Backend // keyed by account id
	cfg      RotatorConfig
}

func NewRotator(repo AccountRepo, backends map[string]Backend, cfg RotatorConfig) *Rotator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HighPrioTimeout <= 0 {
		cfg.HighPrioTimeout = 10 * time.Second
	}
	if len(cfg.Priority) == 0 {
		cfg.Priority = []string{"openai", "deepseek", "groq", "openrouter"}
	}
	return &Rotator{repo: repo, backends: backends, cfg: cfg}
}

// Dispatch selects one account and performs exactly one backend call.
// Retrying against a different backend is a caller policy, not done here.
func (r *Rotator) Dispatch(ctx context.Context, query string, qctx models.QueryContext) (*Result, error) {
	accounts, err := r.repo.ActiveBackendAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("load backend accounts: %w", err)
	}
	if len(accounts) == 0 {
		return nil, ErrNoActiveAccounts
	}

	account := r.selectAccount(accounts)

	backend, ok := r.backends[account.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBackendNotRegistered, account.ID)
	}

	timeout := r.cfg.Timeout
	if qctx.Priority == models.PriorityHigh {
		timeout = r.cfg.HighPrioTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.Info("Dispatching to backend",
		zap.String("provider", account.ProviderName),
		zap.String("account", account.AccountLabel),
		zap.Int("daily_usage", account.DailyUsageCount),
		zap.Int("daily_limit", account.DailyLimit),
	)

	text, confidence, err := backend.Generate(callCtx, query, qctx)
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", account.ProviderName, err)
	}

	if err := r.repo.RecordBackendUsage(ctx, account.ID, time.Now()); err != nil {
		logger.Warn("Failed to record backend usage",
			zap.String("account_id", account.ID), zap.Error(err))
	}

	return &Result{
		Response:     text,
		Confidence:   confidence,
		ProviderName: account.ProviderName,
		AccountID:    account.ID,
	}, nil
}

// selectAccount applies the rotation policy: under-quota accounts in the
// fixed provider priority order, any under-quota account otherwise, and
// when every account is exhausted, the one idle the longest — the service
// degrades gracefully instead of refusing to answer.
func (r *Rotator) selectAccount(accounts []models.BackendAccount) models.BackendAccount {
	var qualifying []models.BackendAccount
	for _, a := range accounts {
		if a.DailyUsageCount < a.DailyLimit {
			qualifying = append(qualifying, a)
		}
	}

	if len(qualifying) == 0 {
		oldest := accounts[0]
		for _, a := range accounts[1:] {
			if olderThan(a.LastUsedAt, oldest.LastUsedAt) {
				oldest = a
			}
		}
		logger.Warn("All backend accounts over quota, using least recently used",
			zap.String("provider", oldest.ProviderName),
			zap.String("account", oldest.AccountLabel),
		)
		return oldest
	}

	for _, provider := range r.cfg.Priority {
		for _, a := range qualifying {
			if a.ProviderName == provider {
				return a
			}
		}
	}

	// None of the priority names qualified; load spreading is approximate,
	// so whatever the store returned first is fine.
	return qualifying[0]
}

func olderThan(a, b *time.Time) bool {
	if a == nil {
		return true
	}
	if b == nil {
		return false
	}
	return a.Before(*b)
}

// ResetDailyQuota zeroes every account's counter. Intended for an
// external daily scheduler.
func (r *Rotator) ResetDailyQuota(ctx context.Context) (int64, error) {
	return r.repo.ResetDailyUsage(ctx)
}
