package models

import (
	"strings"
	"time"
)

// EntryType classifies curated knowledge entries.
const (
	EntryTypeProtocol     = "protocol"
	EntryTypeDiagnosis    = "diagnosis"
	EntryTypeExercise     = "exercise"
	EntryTypeTechnique    = "technique"
	EntryTypeClinicalCase = "clinical_case"
)

// Category is the closed set of query categories used for type narrowing
// and fallback template selection.
type Category string

const (
	CategoryProtocol  Category = "protocol"
	CategoryDiagnosis Category = "diagnosis"
	CategoryExercise  Category = "exercise"
	CategoryGeneral   Category = "general"
)

// ParseCategory maps a free-form category string to the closed enumeration.
// Unknown values default to general rather than failing the query.
func ParseCategory(s string) Category {
	switch Category(strings.ToLower(strings.TrimSpace(s))) {
	case CategoryProtocol:
		return CategoryProtocol
	case CategoryDiagnosis:
		return CategoryDiagnosis
	case CategoryExercise:
		return CategoryExercise
	default:
		return CategoryGeneral
	}
}

// Priority hints only affect how aggressively provider timeouts are set.
const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// QueryContext carries caller-supplied context through the cascade.
type QueryContext struct {
	UserID    string
	PatientID string
	Category  Category
	Priority  string
}

type KnowledgeEntry struct {
	ID              string
	Type            string
	Title           string
	Content         string
	Tags            []string
	ConfidenceScore float64
	UsageCount      int
	AuthorID        string
	ValidatedBy     string
	ValidatedAt     *time.Time
	CreatedAt       time.Time
}

type CacheEntry struct {
	QueryHash       string
	QueryText       string
	Response        string
	Source          string
	ConfidenceScore float64
	ExpiresAt       time.Time
	UsageCount      int
	CreatedAt       time.Time
}

type BackendAccount struct {
	ID              string
	ProviderName    string
	AccountLabel    string
	IsActive        bool
	DailyUsageCount int
	DailyLimit      int
	LastUsedAt      *time.Time
}

type QueryLogRecord struct {
	ID               string
	QueryText        string
	ResponseText     string
	SourceTag        string
	Confidence       float64
	ProcessingTimeMs int
	ContextSnapshot  string
	Rating           *int
	Feedback         string
	CreatedAt        time.Time
}
