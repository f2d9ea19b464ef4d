package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nextlinkers/digicon/internal/models"
)

// FileStore implements Store on a single JSON document. Mutual exclusion
// across processes comes from an exclusive-create lock marker next to the
// data file; every mutation re-reads the document under the lock, counts
// capacity from the actual registration entries, and replaces the file via
// an atomic rename. Readers never take the lock: rename guarantees they see
// either the old document or the new one, never a partial write.
type FileStore struct {
	path       string
	lockPath   string
	retries    int
	retryDelay time.Duration
	loc        *time.Location
}

// FileConfig holds flat-file store configuration.
type FileConfig struct {
	Path            string
	LockRetries     int
	LockRetryDelay  time.Duration
	DisplayLocation *time.Location
}

// NewFileStore builds the store. No IO happens until Init.
func NewFileStore(cfg FileConfig) *FileStore {
	retries := cfg.LockRetries
	if retries <= 0 {
		retries = 50
	}
	delay := cfg.LockRetryDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	return &FileStore{
		path:       cfg.Path,
		lockPath:   cfg.Path + ".lock",
		retries:    retries,
		retryDelay: delay,
		loc:        cfg.DisplayLocation,
	}
}

// fileDocument is the persisted layout. Statements use the lenient wire
// form so a hand-edited maxSelections survives loading; their counts are
// never stored authoritatively, capacity is recounted on every decision.
type fileDocument struct {
	ProblemStatements []models.CatalogStatement `json:"problemStatements"`
	Registrations     []models.Registration     `json:"registrations"`
	Settings          models.Settings           `json:"settings"`
}

func (d fileDocument) statements() []models.ProblemStatement {
	return models.CatalogDocument{ProblemStatements: d.ProblemStatements}.Statements()
}

func toWireStatement(p models.ProblemStatement) models.CatalogStatement {
	p.Normalize()
	return models.CatalogStatement{
		ID:            p.ID,
		Title:         p.Title,
		Description:   p.Description,
		Category:      p.Category,
		Difficulty:    p.Difficulty,
		Technologies:  p.Technologies,
		MaxSelections: models.FlexInt(p.MaxSelections),
	}
}

func toWireStatements(stmts []models.ProblemStatement) []models.CatalogStatement {
	out := make([]models.CatalogStatement, 0, len(stmts))
	for _, p := range stmts {
		out = append(out, toWireStatement(p))
	}
	return out
}

// acquireLock creates the lock marker, retrying with a fixed delay while a
// concurrent holder exists. The returned release function removes the
// marker and must run unconditionally.
func (s *FileStore) acquireLock(ctx context.Context) (func(), error) {
	for attempt := 0; ; attempt++ {
		f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			if _, werr := f.WriteString(strconv.Itoa(os.Getpid())); werr != nil {
				f.Close()
				os.Remove(s.lockPath)
				return nil, fmt.Errorf("failed to write lock file: %w", werr)
			}
			if cerr := f.Close(); cerr != nil {
				os.Remove(s.lockPath)
				return nil, fmt.Errorf("failed to close lock file: %w", cerr)
			}
			return func() { os.Remove(s.lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}
		if attempt >= s.retries {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.retryDelay):
		}
	}
}

// load parses the current document. A missing or empty file yields an empty
// document rather than an error.
func (s *FileStore) load() (fileDocument, error) {
	var doc fileDocument
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return doc, fmt.Errorf("failed to read store file: %w", err)
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("failed to parse store file %s: %w", s.path, err)
	}
	return doc, nil
}

// write replaces the data file atomically: full document to a temp file in
// the same directory, fsync, then rename over the old one.
func (s *FileStore) write(doc fileDocument) error {
	if doc.ProblemStatements == nil {
		doc.ProblemStatements = []models.CatalogStatement{}
	}
	if doc.Registrations == nil {
		doc.Registrations = []models.Registration{}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode store document: %w", err)
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	return nil
}

// countSelections tallies registrations per statement ID.
func countSelections(regs []models.Registration) map[string]int {
	counts := make(map[string]int, len(regs))
	for _, r := range regs {
		counts[strings.TrimSpace(r.ProblemStatementID)]++
	}
	return counts
}

// Init creates the data directory and, under the lock, seeds the document
// with the default catalog when the file is missing or has no statements.
// An already-populated file is left untouched.
func (s *FileStore) Init(ctx context.Context) error {
	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	release, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer release()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if len(doc.ProblemStatements) > 0 {
		return nil
	}

	doc.ProblemStatements = toWireStatements(DefaultCatalog())
	if doc.Registrations == nil {
		doc.Registrations = []models.Registration{}
	}
	return s.write(doc)
}

// ListProblemStatements reads lock-free and computes availability from the
// registration entries in the same document snapshot.
func (s *FileStore) ListProblemStatements(ctx context.Context) ([]models.ProblemStatementView, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	counts := countSelections(doc.Registrations)

	views := make([]models.ProblemStatementView, 0, len(doc.ProblemStatements))
	for _, p := range doc.statements() {
		p.SelectedCount = counts[p.ID]
		views = append(views, models.NewProblemStatementView(p))
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views, nil
}

// GetProblemStatement returns one statement's availability view.
func (s *FileStore) GetProblemStatement(ctx context.Context, id string) (*models.ProblemStatementView, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	id = strings.TrimSpace(id)
	counts := countSelections(doc.Registrations)
	for _, p := range doc.statements() {
		if p.ID == id {
			p.SelectedCount = counts[p.ID]
			view := models.NewProblemStatementView(p)
			return &view, nil
		}
	}
	return nil, ErrProblemNotFound
}

// CreateRegistration acquires the lock, re-reads the document, and validates
// duplicate and capacity against that fresh snapshot before a single atomic
// file replacement. Nothing is written on any rejection.
func (s *FileStore) CreateRegistration(ctx context.Context, reg models.Registration) (*models.Registration, error) {
	reg.Normalize()
	if reg.RegisteredAt.IsZero() {
		reg.RegisteredAt = time.Now().UTC()
	}

	release, err := s.acquireLock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}

	for _, r := range doc.Registrations {
		if strings.TrimSpace(r.TeamNumber) == reg.TeamNumber {
			return nil, ErrTeamExists
		}
	}

	var target *models.ProblemStatement
	for _, p := range doc.statements() {
		if p.ID == reg.ProblemStatementID {
			stmt := p
			target = &stmt
			break
		}
	}
	if target == nil {
		return nil, ErrProblemNotFound
	}

	taken := 0
	for _, r := range doc.Registrations {
		if strings.TrimSpace(r.ProblemStatementID) == reg.ProblemStatementID {
			taken++
		}
	}
	if taken >= target.MaxSelections {
		return nil, ErrProblemFull
	}

	doc.Registrations = append(doc.Registrations, reg)
	if err := s.write(doc); err != nil {
		return nil, err
	}
	return &reg, nil
}

// DeleteRegistration removes a team's entry under the lock. When the team
// is absent the document is not rewritten.
func (s *FileStore) DeleteRegistration(ctx context.Context, teamNumber string) (int64, error) {
	teamNumber = strings.TrimSpace(teamNumber)

	release, err := s.acquireLock(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	doc, err := s.load()
	if err != nil {
		return 0, err
	}

	kept := doc.Registrations[:0]
	var removed int64
	for _, r := range doc.Registrations {
		if strings.TrimSpace(r.TeamNumber) == teamNumber {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	if removed == 0 {
		return 0, nil
	}

	doc.Registrations = kept
	if err := s.write(doc); err != nil {
		return 0, err
	}
	return removed, nil
}

// ListRegistrations returns all registrations joined with statement labels,
// oldest first.
func (s *FileStore) ListRegistrations(ctx context.Context) ([]models.RegistrationDetail, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}

	labels := make(map[string]models.ProblemStatement, len(doc.ProblemStatements))
	for _, p := range doc.statements() {
		labels[p.ID] = p
	}

	details := make([]models.RegistrationDetail, 0, len(doc.Registrations))
	for _, r := range doc.Registrations {
		r.Normalize()
		d := models.RegistrationDetail{
			Registration:      r,
			RegisteredAtLocal: displayTime(r.RegisteredAt, s.loc),
		}
		if p, ok := labels[r.ProblemStatementID]; ok {
			d.ProblemTitle = p.Title
			d.ProblemCategory = p.Category
			d.ProblemDifficulty = p.Difficulty
		}
		details = append(details, d)
	}
	sort.SliceStable(details, func(i, j int) bool {
		return details[i].RegisteredAt.Before(details[j].RegisteredAt)
	})
	return details, nil
}

// ResetAll restores the default catalog and clears registrations. Settings
// survive a reset.
func (s *FileStore) ResetAll(ctx context.Context) error {
	_, err := s.replaceStatements(ctx, DefaultCatalog())
	return err
}

// ReplaceCatalog destructively overwrites the catalog and clears all
// registrations.
func (s *FileStore) ReplaceCatalog(ctx context.Context, stmts []models.ProblemStatement) (int, error) {
	return s.replaceStatements(ctx, stmts)
}

func (s *FileStore) replaceStatements(ctx context.Context, stmts []models.ProblemStatement) (int, error) {
	release, err := s.acquireLock(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	doc, err := s.load()
	if err != nil {
		return 0, err
	}

	seen := make(map[string]bool, len(stmts))
	wire := make([]models.CatalogStatement, 0, len(stmts))
	for _, p := range stmts {
		ws := toWireStatement(p)
		if ws.ID == "" || seen[ws.ID] {
			continue
		}
		seen[ws.ID] = true
		wire = append(wire, ws)
	}

	doc.ProblemStatements = wire
	doc.Registrations = []models.Registration{}
	if err := s.write(doc); err != nil {
		return 0, err
	}
	return len(doc.ProblemStatements), nil
}

// ImportCatalog appends statements whose IDs are not already present.
func (s *FileStore) ImportCatalog(ctx context.Context, stmts []models.ProblemStatement) (int, error) {
	release, err := s.acquireLock(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	doc, err := s.load()
	if err != nil {
		return 0, err
	}

	existing := make(map[string]bool, len(doc.ProblemStatements))
	for _, p := range doc.statements() {
		existing[p.ID] = true
	}

	added := 0
	for _, p := range stmts {
		p.Normalize()
		if p.ID == "" || existing[p.ID] {
			continue
		}
		existing[p.ID] = true
		doc.ProblemStatements = append(doc.ProblemStatements, toWireStatement(p))
		added++
	}
	if added == 0 {
		return 0, nil
	}

	if err := s.write(doc); err != nil {
		return 0, err
	}
	return added, nil
}

// Settings reads the settings block from the current document.
func (s *FileStore) Settings(ctx context.Context) (models.Settings, error) {
	doc, err := s.load()
	if err != nil {
		return models.Settings{}, err
	}
	return doc.Settings, nil
}

// SaveSettings rewrites the settings block under the lock, leaving both
// collections untouched.
func (s *FileStore) SaveSettings(ctx context.Context, settings models.Settings) error {
	release, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer release()

	doc, err := s.load()
	if err != nil {
		return err
	}
	doc.Settings = settings
	return s.write(doc)
}

// Ping reports whether the data directory is reachable.
func (s *FileStore) Ping(ctx context.Context) error {
	if _, err := os.Stat(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("store directory unavailable: %w", err)
	}
	return nil
}

// Close is a no-op; the store holds no open handles between operations.
func (s *FileStore) Close() error {
	return nil
}

// CheckWritable proves a directory can host the data file by creating and
// removing a probe file. Used before falling back from an unreachable
// database to the flat-file backend.
func CheckWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	probe := filepath.Join(dir, ".write-probe")
	f, err := os.OpenFile(probe, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("directory not writable: %w", err)
	}
	f.Close()
	if err := os.Remove(probe); err != nil {
		return fmt.Errorf("failed to remove probe file: %w", err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
var _ Store = (*PostgresStore)(nil)
