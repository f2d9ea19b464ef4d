// Package catalog loads problem statement seed documents from YAML files.
// Seed files are read once at startup and imported into the configured
// store; they never clobber statements that already exist there.
package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nextlinkers/digicon/internal/models"
)

// LoadDir scans a directory for YAML seed files and returns every problem
// statement they define. Files that fail to parse or validate are logged
// and skipped so one bad seed file cannot block startup. Statements are
// deduplicated by ID, first occurrence wins.
func LoadDir(dir string) ([]models.ProblemStatement, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, fmt.Errorf("seed directory does not exist: %s", dir)
	}

	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("scanning seed directory: %w", err)
		}
		paths = append(paths, matches...)
	}

	seen := make(map[string]bool)
	var statements []models.ProblemStatement
	for _, path := range paths {
		loaded, err := LoadFile(path)
		if err != nil {
			slog.Warn("skipping seed file", "file", path, "error", err)
			continue
		}
		for _, st := range loaded {
			if seen[st.ID] {
				slog.Warn("duplicate statement id in seed files", "id", st.ID, "file", path)
				continue
			}
			seen[st.ID] = true
			statements = append(statements, st)
		}
	}

	slog.Info("seed catalog loaded", "dir", dir, "files", len(paths), "statements", len(statements))
	return statements, nil
}

// LoadFile parses a single seed file. A file either carries a
// problem_statements list or describes exactly one statement at the top
// level.
func LoadFile(path string) ([]models.ProblemStatement, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}

	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing seed file: %w", err)
	}

	entries := file.ProblemStatements
	if len(entries) == 0 {
		var single seedStatement
		if err := yaml.Unmarshal(data, &single); err != nil {
			return nil, fmt.Errorf("parsing seed file: %w", err)
		}
		if single.ID == "" && single.Title == "" {
			return nil, fmt.Errorf("seed file defines no problem statements")
		}
		entries = []seedStatement{single}
	}

	statements := make([]models.ProblemStatement, 0, len(entries))
	for i, entry := range entries {
		st, err := entry.toStatement()
		if err != nil {
			return nil, fmt.Errorf("statement %d: %w", i+1, err)
		}
		statements = append(statements, st)
	}
	return statements, nil
}

func (e seedStatement) toStatement() (models.ProblemStatement, error) {
	id := strings.TrimSpace(e.ID)
	if id == "" {
		return models.ProblemStatement{}, fmt.Errorf("statement id is required")
	}
	if strings.TrimSpace(e.Title) == "" {
		return models.ProblemStatement{}, fmt.Errorf("statement title is required")
	}

	st := models.ProblemStatement{
		ID:            id,
		Title:         strings.TrimSpace(e.Title),
		Description:   e.Description,
		Category:      e.Category,
		Difficulty:    e.Difficulty,
		Technologies:  e.Technologies,
		MaxSelections: e.MaxSelections,
	}
	st.Normalize()
	return st, nil
}

// seedFile is the on-disk layout of a multi-statement seed document.
type seedFile struct {
	ProblemStatements []seedStatement `yaml:"problem_statements"`
}

// seedStatement is a single statement entry in a seed file.
type seedStatement struct {
	ID            string   `yaml:"id"`
	Title         string   `yaml:"title"`
	Description   string   `yaml:"description"`
	Category      string   `yaml:"category"`
	Difficulty    string   `yaml:"difficulty"`
	Technologies  []string `yaml:"technologies"`
	MaxSelections int      `yaml:"max_selections"`
}
