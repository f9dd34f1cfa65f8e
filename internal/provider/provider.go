// Package provider dispatches queries to external answer-generation
// backends, rotating across quota-limited accounts.
package provider

import (
	"context"
	"errors"

	"github.com/fisioflow/backend/internal/storage/models"
)

// ErrNoActiveAccounts means no backend account is configured or active.
// The orchestrator degrades to the fallback tier.
var ErrNoActiveAccounts = errors.New("no active backend account")

// ErrBackendNotRegistered means an account row references a provider with
// no constructed backend, usually a config/database mismatch.
var ErrBackendNotRegistered = errors.New("backend not registered for account")

// Backend is the single narrow interface every concrete answer backend
// satisfies. Credential and transport handling live behind it.
type Backend interface {
	Name() string
	Generate(ctx context.Context, query string, qctx models.QueryContext) (text string, confidence float64, err error)
}

type Result struct {
	Response     string
	Confidence   float64
	ProviderName string
	AccountID    string
}
