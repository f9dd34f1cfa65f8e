package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fisioflow/backend/internal/keywords"
	"github.com/fisioflow/backend/internal/storage/models"
	"github.com/fisioflow/backend/pkg/logger"
)

// contentPenalty discounts secondary (content-substring) matches relative
// to tag matches.
const contentPenalty = 0.8

// initialConfidence is assigned to every contributed entry until a
// validator reviews it.
const initialConfidence = 0.7

const searchLimit = 5

// Repo is the slice of the persistence collaborator the store needs.
type Repo interface {
	InsertKnowledgeEntry(ctx context.Context, e *models.KnowledgeEntry) error
	SearchKnowledgeByTags(ctx context.Context, tags []string, minConfidence float64, typeFilter string, limit int) ([]models.KnowledgeEntry, error)
	SearchKnowledgeByContent(ctx context.Context, substring string, minConfidence float64, limit int) ([]models.KnowledgeEntry, error)
	IncrementKnowledgeUsage(ctx context.Context, id string) error
	ValidateKnowledgeEntry(ctx context.Context, id, validatorID string, score float64, at time.Time) error
}

type Result struct {
	EntryID    string
	Response   string
	Confidence float64
}

type Store struct {
	repo                 Repo
	minConfidence        float64
	contentMinConfidence float64
}

func NewStore(repo Repo, minConfidence, contentMinConfidence float64) *Store {
	return &Store{
		repo:                 repo,
		minConfidence:        minConfidence,
		contentMinConfidence: contentMinConfidence,
	}
}

// Search runs the curated-knowledge lookup: tag overlap first, then a
// penalized content-substring fallback. A store failure is returned as an
// error with found=false; the caller continues the cascade.
func (s *Store) Search(ctx context.Context, query string, qctx models.QueryContext) (*Result, bool, error) {
	tags := keywords.Extract(query)
	if len(tags) == 0 {
		return nil, false, nil
	}

	typeFilter := typeFilterFor(query, qctx)

	entries, err := s.repo.SearchKnowledgeByTags(ctx, tags, s.minConfidence, typeFilter, searchLimit)
	if err != nil {
		return nil, false, fmt.Errorf("knowledge tag lookup: %w", err)
	}

	if len(entries) > 0 {
		entry := entries[0]
		s.recordUsage(ctx, entry.ID)
		return &Result{
			EntryID:    entry.ID,
			Response:   formatResponse(entry),
			Confidence: entry.ConfidenceScore,
		}, true, nil
	}

	entries, err = s.repo.SearchKnowledgeByContent(ctx, strings.TrimSpace(query), s.contentMinConfidence, searchLimit)
	if err != nil {
		return nil, false, fmt.Errorf("knowledge content lookup: %w", err)
	}
	if len(entries) == 0 {
		return nil, false, nil
	}

	entry := entries[0]
	s.recordUsage(ctx, entry.ID)
	return &Result{
		EntryID:    entry.ID,
		Response:   formatResponse(entry),
		Confidence: entry.ConfidenceScore * contentPenalty,
	}, true, nil
}

// ContributionInput is a new curated entry authored by a professional.
type ContributionInput struct {
	Type     string
	Title    string
	Content  string
	Tags     []string
	AuthorID string
}

// Contribute creates an entry at the initial confidence score. Tags are
// the union of the caller's tags and the ones extracted from the text.
func (s *Store) Contribute(ctx context.Context, input ContributionInput) (*models.KnowledgeEntry, error) {
	if strings.TrimSpace(input.Title) == "" || strings.TrimSpace(input.Content) == "" {
		return nil, errors.New("title and content are required")
	}
	if !validEntryType(input.Type) {
		return nil, fmt.Errorf("invalid entry type %q", input.Type)
	}

	tagSet := make(map[string]bool)
	for _, t := range input.Tags {
		if folded := keywords.Fold(t); folded != "" {
			tagSet[folded] = true
		}
	}
	for _, t := range keywords.Extract(input.Title + " " + input.Content) {
		tagSet[t] = true
	}

	tags := make([]string, 0, len(tagSet))
	for t := range tagSet {
		tags = append(tags, t)
	}

	entry := &models.KnowledgeEntry{
		ID:              uuid.New().String(),
		Type:            input.Type,
		Title:           strings.TrimSpace(input.Title),
		Content:         strings.TrimSpace(input.Content),
		Tags:            tags,
		ConfidenceScore: initialConfidence,
		AuthorID:        input.AuthorID,
		CreatedAt:       time.Now(),
	}

	if err := s.repo.InsertKnowledgeEntry(ctx, entry); err != nil {
		return nil, err
	}

	logger.Info("Knowledge entry contributed",
		zap.String("entry_id", entry.ID),
		zap.String("type", entry.Type),
		zap.Int("tags", len(entry.Tags)),
	)
	return entry, nil
}

// Validate records a reviewer's confidence score on an existing entry.
func (s *Store) Validate(ctx context.Context, id, validatorID string, score float64) error {
	if score < 0 || score > 1 {
		return fmt.Errorf("confidence score %v out of range", score)
	}
	if err := s.repo.ValidateKnowledgeEntry(ctx, id, validatorID, score, time.Now()); err != nil {
		return err
	}

	logger.Info("Knowledge entry validated",
		zap.String("entry_id", id),
		zap.String("validated_by", validatorID),
		zap.Float64("score", score),
	)
	return nil
}

func (s *Store) recordUsage(ctx context.Context, id string) {
	if err := s.repo.IncrementKnowledgeUsage(ctx, id); err != nil {
		logger.Warn("Failed to increment knowledge usage", zap.String("entry_id", id), zap.Error(err))
	}
}

func typeFilterFor(query string, qctx models.QueryContext) string {
	// An explicit context category always wins over wording heuristics.
	switch qctx.Category {
	case models.CategoryProtocol:
		return models.EntryTypeProtocol
	case models.CategoryDiagnosis:
		return models.EntryTypeDiagnosis
	case models.CategoryExercise:
		return models.EntryTypeExercise
	}
	return keywords.GuessType(query)
}

func formatResponse(e models.KnowledgeEntry) string {
	var b strings.Builder
	b.WriteString("**" + e.Title + "**\n\n")
	b.WriteString(e.Content)
	b.WriteString("\n\n_Fonte: Base de Conhecimento FisioFlow")
	if e.ValidatedBy != "" {
		b.WriteString(" (conteúdo validado)")
	}
	b.WriteString("_")
	return b.String()
}

func validEntryType(t string) bool {
	switch t {
	case models.EntryTypeProtocol, models.EntryTypeDiagnosis, models.EntryTypeExercise,
		models.EntryTypeTechnique, models.EntryTypeClinicalCase:
		return true
	}
	return false
}
