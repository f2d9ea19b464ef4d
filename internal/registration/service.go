package registration

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/nextlinkers/digicon/internal/models"
	"github.com/nextlinkers/digicon/internal/notify"
	"github.com/nextlinkers/digicon/internal/roster"
	"github.com/nextlinkers/digicon/internal/storage"
)

// Common errors
var (
	ErrMissingFields = errors.New("missing required fields")
	ErrNotOnRoster   = errors.New("team number not on roster")
)

// ValidationError reports which required fields were absent.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

func (e *ValidationError) Unwrap() error { return ErrMissingFields }

// PublicCatalog is the public problem listing. Until the release flag is
// on, Released is false and the list is empty.
type PublicCatalog struct {
	Released          bool                          `json:"released"`
	ProblemStatements []models.ProblemStatementView `json:"problemStatements"`
}

// EventPublisher receives change notifications. Implementations must not
// block; publishing never fails a request.
type EventPublisher interface {
	Publish(e notify.Event)
}

// Service defines the interface for registration operations.
type Service interface {
	PublicProblems(ctx context.Context) (*PublicCatalog, error)
	Problems(ctx context.Context) ([]models.ProblemStatementView, error)
	Register(ctx context.Context, req models.RegisterRequest) (*models.RegisterResult, error)
	Deregister(ctx context.Context, teamNumber string) (int64, error)
	Registrations(ctx context.Context) ([]models.RegistrationDetail, error)
	ExportCSV(ctx context.Context, w io.Writer) error
	Reset(ctx context.Context) error
	ReplaceCatalog(ctx context.Context, doc models.CatalogDocument) (int, error)
	ImportCatalog(ctx context.Context, doc models.CatalogDocument) (int, error)
	Settings(ctx context.Context) (models.Settings, error)
	SetProblemsReleased(ctx context.Context, released bool) (models.Settings, error)
	SetRoster(entries []roster.Entry) int
	RosterSize() int
	Ping(ctx context.Context) error
}

// StoreService implements Service on top of a storage.Store.
type StoreService struct {
	store  storage.Store
	events EventPublisher
	roster *roster.Roster
}

// NewService creates a StoreService. events may be nil when live
// notifications are disabled.
func NewService(store storage.Store, events EventPublisher) *StoreService {
	return &StoreService{
		store:  store,
		events: events,
		roster: roster.New(),
	}
}

// Ping checks the backing store.
func (s *StoreService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PublicProblems returns the availability view for the public site. While
// the release flag is off it returns an empty, not-released catalog.
func (s *StoreService) PublicProblems(ctx context.Context) (*PublicCatalog, error) {
	settings, err := s.store.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	if !settings.ProblemsReleased {
		return &PublicCatalog{Released: false, ProblemStatements: []models.ProblemStatementView{}}, nil
	}

	views, err := s.store.ListProblemStatements(ctx)
	if err != nil {
		return nil, err
	}
	return &PublicCatalog{Released: true, ProblemStatements: views}, nil
}

// Problems returns the full availability view regardless of release state.
func (s *StoreService) Problems(ctx context.Context) ([]models.ProblemStatementView, error) {
	return s.store.ListProblemStatements(ctx)
}

// Register validates the request, runs the atomic reservation, and enriches
// the response with the statement's updated availability.
func (s *StoreService) Register(ctx context.Context, req models.RegisterRequest) (*models.RegisterResult, error) {
	if missing := req.MissingFields(); len(missing) > 0 {
		return nil, &ValidationError{Fields: missing}
	}

	reg := req.Registration()
	if s.roster.Size() > 0 && !s.roster.Contains(reg.TeamNumber) {
		return nil, fmt.Errorf("team %s: %w", reg.TeamNumber, ErrNotOnRoster)
	}

	created, err := s.store.CreateRegistration(ctx, reg)
	if err != nil {
		return nil, err
	}

	result := &models.RegisterResult{Registration: *created}
	view, err := s.store.GetProblemStatement(ctx, created.ProblemStatementID)
	if err != nil {
		// The registration stands; only the enrichment is missing.
		slog.Warn("could not load statement view after registration",
			"problem_id", created.ProblemStatementID, "error", err)
	} else {
		result.Problem = view
	}

	slog.Info("team registered",
		"team_number", created.TeamNumber,
		"problem_id", created.ProblemStatementID,
	)
	s.publish(notify.EventRegistrationCreated, map[string]any{
		"teamNumber":         created.TeamNumber,
		"problemStatementId": created.ProblemStatementID,
	})
	return result, nil
}

// Deregister removes a team's registration. Removing an unknown team is a
// no-op reported as zero rows.
func (s *StoreService) Deregister(ctx context.Context, teamNumber string) (int64, error) {
	n, err := s.store.DeleteRegistration(ctx, teamNumber)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("registration removed", "team_number", strings.TrimSpace(teamNumber), "rows", n)
		s.publish(notify.EventRegistrationDeleted, map[string]any{
			"teamNumber": strings.TrimSpace(teamNumber),
		})
	}
	return n, nil
}

// Registrations returns the enriched admin listing.
func (s *StoreService) Registrations(ctx context.Context) ([]models.RegistrationDetail, error) {
	return s.store.ListRegistrations(ctx)
}

// ExportCSV streams the registration report.
func (s *StoreService) ExportCSV(ctx context.Context, w io.Writer) error {
	details, err := s.store.ListRegistrations(ctx)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	header := []string{
		"Team Number", "Team Name", "Team Leader",
		"Problem Statement ID", "Problem Title", "Category", "Difficulty",
		"Registered At",
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write report header: %w", err)
	}
	for _, d := range details {
		row := []string{
			d.TeamNumber, d.TeamName, d.TeamLeader,
			d.ProblemStatementID, d.ProblemTitle, d.ProblemCategory, d.ProblemDifficulty,
			d.RegisteredAtLocal,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write report row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Reset destroys both collections and restores the default catalog.
func (s *StoreService) Reset(ctx context.Context) error {
	if err := s.store.ResetAll(ctx); err != nil {
		return err
	}
	slog.Info("store reset to default catalog")
	s.publish(notify.EventCatalogReset, nil)
	return nil
}

// ReplaceCatalog destructively replaces the catalog. The payload must carry
// at least one usable statement.
func (s *StoreService) ReplaceCatalog(ctx context.Context, doc models.CatalogDocument) (int, error) {
	stmts := sanitizeStatements(doc.Statements())
	if len(stmts) == 0 {
		return 0, &ValidationError{Fields: []string{"problemStatements"}}
	}

	n, err := s.store.ReplaceCatalog(ctx, stmts)
	if err != nil {
		return 0, err
	}
	slog.Info("catalog replaced", "statements", n)
	s.publish(notify.EventCatalogReplaced, map[string]any{"statements": n})
	return n, nil
}

// ImportCatalog adds new statements, skipping IDs already present.
func (s *StoreService) ImportCatalog(ctx context.Context, doc models.CatalogDocument) (int, error) {
	stmts := sanitizeStatements(doc.Statements())
	if len(stmts) == 0 {
		return 0, &ValidationError{Fields: []string{"problemStatements"}}
	}

	n, err := s.store.ImportCatalog(ctx, stmts)
	if err != nil {
		return 0, err
	}
	slog.Info("catalog imported", "added", n, "submitted", len(stmts))
	s.publish(notify.EventCatalogImported, map[string]any{"added": n})
	return n, nil
}

// Settings reads the current settings.
func (s *StoreService) Settings(ctx context.Context) (models.Settings, error) {
	return s.store.Settings(ctx)
}

// SetProblemsReleased flips the public release flag and returns the saved
// settings.
func (s *StoreService) SetProblemsReleased(ctx context.Context, released bool) (models.Settings, error) {
	settings, err := s.store.Settings(ctx)
	if err != nil {
		return settings, fmt.Errorf("failed to read settings: %w", err)
	}
	settings.ProblemsReleased = released
	if err := s.store.SaveSettings(ctx, settings); err != nil {
		return settings, err
	}

	slog.Info("release flag updated", "released", released)
	s.publish(notify.EventSettingsUpdated, map[string]any{"problemsReleased": released})
	return settings, nil
}

// SetRoster replaces the team allow list and returns its new size.
func (s *StoreService) SetRoster(entries []roster.Entry) int {
	s.roster.Replace(entries)
	size := s.roster.Size()
	slog.Info("team roster loaded", "teams", size)
	return size
}

// RosterSize returns the number of teams on the allow list.
func (s *StoreService) RosterSize() int {
	return s.roster.Size()
}

func (s *StoreService) publish(eventType string, data any) {
	if s.events == nil {
		return
	}
	s.events.Publish(notify.Event{Type: eventType, Data: data})
}

// sanitizeStatements drops entries without an ID and collapses duplicate
// IDs to their first occurrence.
func sanitizeStatements(stmts []models.ProblemStatement) []models.ProblemStatement {
	out := make([]models.ProblemStatement, 0, len(stmts))
	seen := make(map[string]bool, len(stmts))
	for _, p := range stmts {
		if p.ID == "" || seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		out = append(out, p)
	}
	return out
}

var _ Service = (*StoreService)(nil)
