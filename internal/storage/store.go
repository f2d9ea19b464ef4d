package storage

import (
	"context"
	"errors"
	"time"

	"github.com/nextlinkers/digicon/internal/models"
)

// Outcomes of the atomic registration operation. Both backends report the
// same sentinels so callers never need backend-specific failure codes.
var (
	ErrTeamExists      = errors.New("team already registered")
	ErrProblemNotFound = errors.New("problem statement not found")
	ErrProblemFull     = errors.New("problem statement is full")
	ErrLockTimeout     = errors.New("could not acquire store lock")
)

// Store is the contract every registration backend satisfies. The one
// operation with real teeth is CreateRegistration: reserve exactly one
// capacity slot and insert exactly one registration, or do neither, no
// matter how many callers race on the same statement or team number.
type Store interface {
	// Init is idempotent: it creates schema/indexes if absent and seeds the
	// default catalog only when the statement collection is empty. Safe to
	// call repeatedly, including from concurrent instances.
	Init(ctx context.Context) error

	// ListProblemStatements returns every statement annotated with a freshly
	// computed selected count and availability.
	ListProblemStatements(ctx context.Context) ([]models.ProblemStatementView, error)

	// GetProblemStatement returns one statement's availability view, or
	// ErrProblemNotFound.
	GetProblemStatement(ctx context.Context, id string) (*models.ProblemStatementView, error)

	// CreateRegistration atomically reserves a slot and inserts the record.
	// Failure sentinels: ErrTeamExists, ErrProblemNotFound, ErrProblemFull,
	// ErrLockTimeout. A failed call leaves no visible state change.
	CreateRegistration(ctx context.Context, reg models.Registration) (*models.Registration, error)

	// DeleteRegistration removes the registration if present and reconciles
	// the owning statement's cached count. Returns rows affected; 0 means
	// the team was not registered, which is not an error.
	DeleteRegistration(ctx context.Context, teamNumber string) (int64, error)

	// ListRegistrations returns registrations joined with statement labels,
	// timestamps rendered in the display timezone.
	ListRegistrations(ctx context.Context) ([]models.RegistrationDetail, error)

	// ResetAll destroys both collections and re-seeds the default catalog.
	ResetAll(ctx context.Context) error

	// ReplaceCatalog destructively overwrites both collections with the
	// given statements. ImportCatalog is additive and skips existing IDs.
	// Both return the number of statements written.
	ReplaceCatalog(ctx context.Context, stmts []models.ProblemStatement) (int, error)
	ImportCatalog(ctx context.Context, stmts []models.ProblemStatement) (int, error)

	// Settings reads the single settings record; SaveSettings merges the
	// given record onto the stored one.
	Settings(ctx context.Context) (models.Settings, error)
	SaveSettings(ctx context.Context, s models.Settings) error

	Ping(ctx context.Context) error
	Close() error
}

// DefaultCatalog is written by Init on an empty store and by ResetAll.
func DefaultCatalog() []models.ProblemStatement {
	return []models.ProblemStatement{
		{
			ID:            "ps001",
			Title:         "Smart Campus Navigation",
			Description:   "Build an indoor navigation assistant for a multi-building campus, including accessible-route planning.",
			Category:      "Mobility",
			Difficulty:    "Medium",
			Technologies:  []string{"Flutter", "Node.js", "PostgreSQL"},
			MaxSelections: 2,
		},
		{
			ID:            "ps002",
			Title:         "Community Skill Exchange",
			Description:   "A barter platform where residents trade skills and time instead of money, with reputation scoring.",
			Category:      "Social",
			Difficulty:    "Easy",
			Technologies:  []string{"React", "Go", "Redis"},
			MaxSelections: 2,
		},
		{
			ID:            "ps003",
			Title:         "Grid Load Forecaster",
			Description:   "Forecast neighbourhood-level power demand from smart-meter feeds and publish live alerts for overload risk.",
			Category:      "Energy",
			Difficulty:    "Hard",
			Technologies:  []string{"Python", "Kafka", "TimescaleDB"},
			MaxSelections: 2,
		},
	}
}

// displayTime renders a registration timestamp for admin views. A nil
// location falls back to UTC rather than failing the listing.
func displayTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(models.DisplayTimeFormat)
}
