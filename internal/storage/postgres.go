package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nextlinkers/digicon/internal/models"
)

// PostgresStore implements Store on PostgreSQL. Capacity safety comes from
// running every registration inside one transaction whose reservation step
// is a single conditional UPDATE, so two racing callers can never both pass
// the capacity check.
type PostgresStore struct {
	pool *pgxpool.Pool
	loc  *time.Location
}

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	DSN             string
	ConnectTimeout  time.Duration
	MaxConns        int32
	MinConns        int32
	DisplayLocation *time.Location
}

// NewPostgresStore connects with a bounded timeout so an unreachable server
// surfaces as a connectivity error instead of hanging startup.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	} else {
		poolConfig.MaxConns = 10
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool, loc: cfg.DisplayLocation}, nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Init creates the schema, backs team uniqueness with a unique index, and
// seeds the default catalog when the statement table is empty. Safe to call
// on every startup.
func (s *PostgresStore) Init(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS problem_statements (
			id             TEXT PRIMARY KEY,
			title          TEXT NOT NULL,
			description    TEXT NOT NULL DEFAULT '',
			category       TEXT NOT NULL DEFAULT '',
			difficulty     TEXT NOT NULL DEFAULT '',
			technologies   TEXT[] NOT NULL DEFAULT '{}',
			max_selections INT  NOT NULL DEFAULT 1,
			selected_count INT  NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS registrations (
			team_number           TEXT NOT NULL,
			team_name             TEXT NOT NULL,
			team_leader           TEXT NOT NULL,
			problem_statement_id  TEXT NOT NULL REFERENCES problem_statements(id) ON DELETE CASCADE,
			registration_datetime TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			id   SMALLINT PRIMARY KEY CHECK (id = 1),
			data JSONB NOT NULL DEFAULT '{}'::jsonb
		)`,
	}

	for _, stmt := range ddl {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	if err := s.ensureTeamIndex(ctx); err != nil {
		return err
	}

	return s.seedIfEmpty(ctx)
}

// ensureTeamIndex builds the unique index on team_number. If historical
// duplicate rows block it, each duplicate group is collapsed to its earliest
// registration and the index is retried once; a second failure degrades to
// running without the index, leaving the in-transaction duplicate check as
// the only guard.
func (s *PostgresStore) ensureTeamIndex(ctx context.Context) error {
	const createIndex = `CREATE UNIQUE INDEX IF NOT EXISTS ux_registrations_team_number
		ON registrations (team_number)`

	_, err := s.pool.Exec(ctx, createIndex)
	if err == nil {
		return nil
	}
	if !isUniqueViolation(err) {
		return fmt.Errorf("failed to create team number index: %w", err)
	}

	slog.Warn("duplicate team numbers block unique index, deduplicating")

	dedup := `DELETE FROM registrations a
		USING registrations b
		WHERE a.team_number = b.team_number
		  AND (a.registration_datetime > b.registration_datetime
		       OR (a.registration_datetime = b.registration_datetime AND a.ctid > b.ctid))`
	tag, derr := s.pool.Exec(ctx, dedup)
	if derr != nil {
		return fmt.Errorf("failed to deduplicate registrations: %w", derr)
	}
	slog.Info("removed duplicate registrations", "count", tag.RowsAffected())

	if _, err := s.pool.Exec(ctx, createIndex); err != nil {
		slog.Warn("unique index still unavailable, relying on transactional duplicate check", "error", err)
	}
	return nil
}

// seedIfEmpty loads the default catalog on a fresh database. ON CONFLICT in
// the insert keeps concurrent Init calls from tripping over each other.
func (s *PostgresStore) seedIfEmpty(ctx context.Context) error {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM problem_statements`).Scan(&count); err != nil {
		return fmt.Errorf("failed to count problem statements: %w", err)
	}
	if count > 0 {
		return nil
	}

	seed := DefaultCatalog()
	for _, p := range seed {
		if _, err := s.insertStatement(ctx, s.pool, p); err != nil {
			return fmt.Errorf("failed to seed catalog: %w", err)
		}
	}
	slog.Info("seeded default problem statement catalog", "count", len(seed))
	return nil
}

// execer covers both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// insertStatement returns the number of rows written (0 when the ID was
// already present).
func (s *PostgresStore) insertStatement(ctx context.Context, db execer, p models.ProblemStatement) (int64, error) {
	p.Normalize()
	tag, err := db.Exec(ctx, `
		INSERT INTO problem_statements (id, title, description, category, difficulty, technologies, max_selections, selected_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		p.ID, p.Title, p.Description, p.Category, p.Difficulty, p.Technologies, p.MaxSelections, p.SelectedCount,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const statementViewQuery = `
	SELECT p.id, p.title, p.description, p.category, p.difficulty, p.technologies,
	       p.max_selections, COUNT(r.team_number)::int AS selected_count
	FROM problem_statements p
	LEFT JOIN registrations r ON r.problem_statement_id = p.id`

// ListProblemStatements computes each statement's availability from the
// actual registration rows, never from the cached counter.
func (s *PostgresStore) ListProblemStatements(ctx context.Context) ([]models.ProblemStatementView, error) {
	rows, err := s.pool.Query(ctx, statementViewQuery+` GROUP BY p.id ORDER BY p.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list problem statements: %w", err)
	}
	defer rows.Close()

	views := make([]models.ProblemStatementView, 0)
	for rows.Next() {
		p, err := scanStatement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan problem statement: %w", err)
		}
		views = append(views, models.NewProblemStatementView(p))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating problem statements: %w", err)
	}
	return views, nil
}

// GetProblemStatement returns one statement's availability view.
func (s *PostgresStore) GetProblemStatement(ctx context.Context, id string) (*models.ProblemStatementView, error) {
	row := s.pool.QueryRow(ctx, statementViewQuery+` WHERE p.id = $1 GROUP BY p.id`, strings.TrimSpace(id))
	p, err := scanStatement(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProblemNotFound
		}
		return nil, fmt.Errorf("failed to get problem statement: %w", err)
	}
	view := models.NewProblemStatementView(p)
	return &view, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStatement(row rowScanner) (models.ProblemStatement, error) {
	var p models.ProblemStatement
	err := row.Scan(&p.ID, &p.Title, &p.Description, &p.Category, &p.Difficulty,
		&p.Technologies, &p.MaxSelections, &p.SelectedCount)
	return p, err
}

// CreateRegistration runs the reservation algorithm in one transaction:
// duplicate check, statement lookup with a row lock, cached-count
// reconciliation, conditional increment, insert. Any failure rolls the
// transaction back, so a rejected call leaves no trace.
func (s *PostgresStore) CreateRegistration(ctx context.Context, reg models.Registration) (*models.Registration, error) {
	reg.Normalize()
	if reg.RegisteredAt.IsZero() {
		reg.RegisteredAt = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Step 1: duplicate team.
	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM registrations WHERE team_number = $1)`,
		reg.TeamNumber,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing registration: %w", err)
	}
	if exists {
		return nil, ErrTeamExists
	}

	// Step 2: statement lookup. The row lock serializes concurrent
	// reconcile-then-increment pairs on the same statement.
	var maxSelections, cached int
	err = tx.QueryRow(ctx,
		`SELECT max_selections, selected_count FROM problem_statements WHERE id = $1 FOR UPDATE`,
		reg.ProblemStatementID,
	).Scan(&maxSelections, &cached)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProblemNotFound
		}
		return nil, fmt.Errorf("failed to load problem statement: %w", err)
	}

	// Step 3: heal cached-counter drift before trusting it.
	var actual int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM registrations WHERE problem_statement_id = $1`,
		reg.ProblemStatementID,
	).Scan(&actual)
	if err != nil {
		return nil, fmt.Errorf("failed to count registrations: %w", err)
	}
	if actual != cached {
		if _, err := tx.Exec(ctx,
			`UPDATE problem_statements SET selected_count = $1 WHERE id = $2`,
			actual, reg.ProblemStatementID,
		); err != nil {
			return nil, fmt.Errorf("failed to reconcile selected count: %w", err)
		}
	}

	// Step 4: the reservation itself, a single conditional increment.
	tag, err := tx.Exec(ctx,
		`UPDATE problem_statements
		 SET selected_count = selected_count + 1
		 WHERE id = $1 AND selected_count < max_selections`,
		reg.ProblemStatementID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve capacity slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrProblemFull
	}

	// Step 5: insert. A unique violation here means a concurrent duplicate
	// slipped past step 1; the rollback hands the reserved slot back.
	_, err = tx.Exec(ctx,
		`INSERT INTO registrations (team_number, team_name, team_leader, problem_statement_id, registration_datetime)
		 VALUES ($1, $2, $3, $4, $5)`,
		reg.TeamNumber, reg.TeamName, reg.TeamLeader, reg.ProblemStatementID, reg.RegisteredAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrTeamExists
		}
		return nil, fmt.Errorf("failed to insert registration: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit registration: %w", err)
	}
	return &reg, nil
}

// DeleteRegistration removes a team's registration and recomputes the
// owning statement's cached count from the remaining rows. Returns the
// number of rows removed; an unknown team is 0, not an error.
func (s *PostgresStore) DeleteRegistration(ctx context.Context, teamNumber string) (int64, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`DELETE FROM registrations WHERE team_number = $1 RETURNING problem_statement_id`,
		strings.TrimSpace(teamNumber),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete registration: %w", err)
	}
	statementIDs := make([]string, 0, 1)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan deleted registration: %w", err)
		}
		statementIDs = append(statementIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("error iterating deleted registrations: %w", err)
	}

	if len(statementIDs) == 0 {
		return 0, nil
	}

	for _, id := range statementIDs {
		if _, err := tx.Exec(ctx,
			`UPDATE problem_statements
			 SET selected_count = (SELECT COUNT(*) FROM registrations WHERE problem_statement_id = $1)
			 WHERE id = $1`,
			id,
		); err != nil {
			return 0, fmt.Errorf("failed to reconcile selected count: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit delete: %w", err)
	}
	return int64(len(statementIDs)), nil
}

// ListRegistrations returns all registrations joined with their statement's
// display labels, oldest first.
func (s *PostgresStore) ListRegistrations(ctx context.Context) ([]models.RegistrationDetail, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.team_number, r.team_name, r.team_leader, r.problem_statement_id, r.registration_datetime,
		       COALESCE(p.title, ''), COALESCE(p.category, ''), COALESCE(p.difficulty, '')
		FROM registrations r
		LEFT JOIN problem_statements p ON p.id = r.problem_statement_id
		ORDER BY r.registration_datetime`)
	if err != nil {
		return nil, fmt.Errorf("failed to list registrations: %w", err)
	}
	defer rows.Close()

	details := make([]models.RegistrationDetail, 0)
	for rows.Next() {
		var d models.RegistrationDetail
		err := rows.Scan(&d.TeamNumber, &d.TeamName, &d.TeamLeader, &d.ProblemStatementID,
			&d.RegisteredAt, &d.ProblemTitle, &d.ProblemCategory, &d.ProblemDifficulty)
		if err != nil {
			return nil, fmt.Errorf("failed to scan registration: %w", err)
		}
		d.RegisteredAtLocal = displayTime(d.RegisteredAt, s.loc)
		details = append(details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating registrations: %w", err)
	}
	return details, nil
}

// ResetAll wipes both collections and restores the default catalog.
func (s *PostgresStore) ResetAll(ctx context.Context) error {
	_, err := s.replaceStatements(ctx, DefaultCatalog())
	return err
}

// ReplaceCatalog destructively overwrites the catalog and clears all
// registrations. Returns the number of statements written.
func (s *PostgresStore) ReplaceCatalog(ctx context.Context, stmts []models.ProblemStatement) (int, error) {
	return s.replaceStatements(ctx, stmts)
}

func (s *PostgresStore) replaceStatements(ctx context.Context, stmts []models.ProblemStatement) (int, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM registrations`); err != nil {
		return 0, fmt.Errorf("failed to clear registrations: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM problem_statements`); err != nil {
		return 0, fmt.Errorf("failed to clear problem statements: %w", err)
	}

	written := 0
	for _, p := range stmts {
		p.SelectedCount = 0
		n, err := s.insertStatement(ctx, tx, p)
		if err != nil {
			return 0, fmt.Errorf("failed to insert problem statement %q: %w", p.ID, err)
		}
		written += int(n)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit catalog replace: %w", err)
	}
	return written, nil
}

// ImportCatalog adds statements, skipping IDs already present. Returns the
// number actually inserted.
func (s *PostgresStore) ImportCatalog(ctx context.Context, stmts []models.ProblemStatement) (int, error) {
	imported := 0
	for _, p := range stmts {
		p.Normalize()
		tag, err := s.pool.Exec(ctx, `
			INSERT INTO problem_statements (id, title, description, category, difficulty, technologies, max_selections, selected_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 0)
			ON CONFLICT (id) DO NOTHING`,
			p.ID, p.Title, p.Description, p.Category, p.Difficulty, p.Technologies, p.MaxSelections,
		)
		if err != nil {
			return imported, fmt.Errorf("failed to import problem statement %q: %w", p.ID, err)
		}
		imported += int(tag.RowsAffected())
	}
	return imported, nil
}

// ReconcileCounts heals every statement whose cached selected_count has
// drifted from the actual registration count. Returns the number of rows
// corrected.
func (s *PostgresStore) ReconcileCounts(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE problem_statements p
		SET selected_count = sub.actual
		FROM (
			SELECT ps.id, COUNT(r.team_number)::int AS actual
			FROM problem_statements ps
			LEFT JOIN registrations r ON r.problem_statement_id = ps.id
			GROUP BY ps.id
		) sub
		WHERE sub.id = p.id AND p.selected_count <> sub.actual`)
	if err != nil {
		return 0, fmt.Errorf("failed to reconcile selected counts: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Settings reads the single settings record. A missing row yields defaults.
func (s *PostgresStore) Settings(ctx context.Context) (models.Settings, error) {
	var settings models.Settings
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM settings WHERE id = 1`).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return settings, nil
		}
		return settings, fmt.Errorf("failed to read settings: %w", err)
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		return settings, fmt.Errorf("failed to decode settings: %w", err)
	}
	return settings, nil
}

// SaveSettings merges the record onto the stored document so keys written
// by other builds survive.
func (s *PostgresStore) SaveSettings(ctx context.Context, settings models.Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO settings (id, data) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET data = settings.data || EXCLUDED.data`,
		data,
	)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
