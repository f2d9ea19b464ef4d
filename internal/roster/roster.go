// Package roster holds the uploaded team roster used to vet registrations.
// When a roster is loaded, only team numbers on it may register; an empty
// roster admits everyone.
package roster

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// Entry is one roster row. Only TeamNumber is required.
type Entry struct {
	TeamNumber string `json:"teamNumber"`
	TeamName   string `json:"teamName,omitempty"`
	TeamLeader string `json:"teamLeader,omitempty"`
}

// Roster is a concurrency-safe team-number allow list.
type Roster struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New creates an empty roster.
func New() *Roster {
	return &Roster{entries: make(map[string]Entry)}
}

// Replace swaps the whole roster for the given entries.
func (r *Roster) Replace(entries []Entry) {
	next := make(map[string]Entry, len(entries))
	for _, e := range entries {
		key := strings.TrimSpace(e.TeamNumber)
		if key == "" {
			continue
		}
		if _, ok := next[key]; ok {
			continue
		}
		e.TeamNumber = key
		next[key] = e
	}

	r.mu.Lock()
	r.entries = next
	r.mu.Unlock()
}

// Contains reports whether the team number is on the roster.
func (r *Roster) Contains(teamNumber string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[strings.TrimSpace(teamNumber)]
	return ok
}

// Get returns the roster entry for a team number.
func (r *Roster) Get(teamNumber string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[strings.TrimSpace(teamNumber)]
	return e, ok
}

// Size returns the number of roster entries.
func (r *Roster) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Entries returns the roster sorted by team number.
func (r *Roster) Entries() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].TeamNumber < out[j].TeamNumber })
	return out
}

// Parse reads a CSV roster: teamNumber[,teamName[,teamLeader]]. A header
// row is skipped when its first cell names the team-number column. Rows
// without a team number are ignored; the first occurrence wins when a team
// number repeats.
func Parse(reader io.Reader) ([]Entry, error) {
	cr := csv.NewReader(reader)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var entries []Entry
	seen := make(map[string]bool)
	first := true

	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse roster CSV: %w", err)
		}
		if len(record) == 0 {
			continue
		}

		if first {
			first = false
			if isHeaderCell(record[0]) {
				continue
			}
		}

		e := Entry{TeamNumber: strings.TrimSpace(record[0])}
		if e.TeamNumber == "" || seen[e.TeamNumber] {
			continue
		}
		if len(record) > 1 {
			e.TeamName = strings.TrimSpace(record[1])
		}
		if len(record) > 2 {
			e.TeamLeader = strings.TrimSpace(record[2])
		}
		seen[e.TeamNumber] = true
		entries = append(entries, e)
	}
	return entries, nil
}

func isHeaderCell(cell string) bool {
	normalized := strings.ToLower(strings.NewReplacer(" ", "", "_", "", "-", "").Replace(cell))
	switch normalized {
	case "teamnumber", "teamno", "team#":
		return true
	}
	return false
}
