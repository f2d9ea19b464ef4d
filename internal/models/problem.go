package models

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ProblemStatement is a catalog entry teams register against.
// SelectedCount is a cached counter; backends reconcile it against the
// actual registration count before trusting it for a capacity decision.
type ProblemStatement struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Category      string   `json:"category,omitempty"`
	Difficulty    string   `json:"difficulty,omitempty"`
	Technologies  []string `json:"technologies,omitempty"`
	MaxSelections int      `json:"maxSelections"`
	SelectedCount int      `json:"selectedCount"`
}

// Normalize enforces the ingest rules: a statement always admits at least
// one team, and a cached counter is never negative.
func (p *ProblemStatement) Normalize() {
	p.ID = strings.TrimSpace(p.ID)
	if p.MaxSelections < 1 {
		p.MaxSelections = 1
	}
	if p.SelectedCount < 0 {
		p.SelectedCount = 0
	}
}

// SlotsLeft returns the remaining capacity given a fresh count.
func (p ProblemStatement) SlotsLeft() int {
	left := p.MaxSelections - p.SelectedCount
	if left < 0 {
		return 0
	}
	return left
}

// ProblemStatementView is a ProblemStatement annotated with availability
// computed from a freshly reconciled count.
type ProblemStatementView struct {
	ProblemStatement
	IsAvailable bool `json:"isAvailable"`
	Slots       int  `json:"slotsLeft"`
}

// NewProblemStatementView builds the availability view from a statement
// whose SelectedCount has just been recomputed.
func NewProblemStatementView(p ProblemStatement) ProblemStatementView {
	return ProblemStatementView{
		ProblemStatement: p,
		IsAvailable:      p.SelectedCount < p.MaxSelections,
		Slots:            p.SlotsLeft(),
	}
}

// FlexInt decodes JSON integers that external catalog documents may carry
// as numbers, numeric strings, or garbage. Non-numeric input decodes to 0
// so that Normalize can coerce it up to 1.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		// Tolerate fractional input like 2.0 from hand-edited documents.
		if fl, ferr := strconv.ParseFloat(s, 64); ferr == nil {
			*f = FlexInt(int(fl))
			return nil
		}
		*f = 0
		return nil
	}
	*f = FlexInt(n)
	return nil
}

// CatalogStatement is the lenient wire form used by bulk replace/import.
type CatalogStatement struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Category      string   `json:"category"`
	Difficulty    string   `json:"difficulty"`
	Technologies  []string `json:"technologies"`
	MaxSelections FlexInt  `json:"maxSelections"`
}

// CatalogDocument is the bulk-load payload accepted by replace/import.
type CatalogDocument struct {
	ProblemStatements []CatalogStatement `json:"problemStatements"`
}

// Statements converts the wire form into normalized domain statements.
func (d CatalogDocument) Statements() []ProblemStatement {
	out := make([]ProblemStatement, 0, len(d.ProblemStatements))
	for _, cs := range d.ProblemStatements {
		p := ProblemStatement{
			ID:            cs.ID,
			Title:         cs.Title,
			Description:   cs.Description,
			Category:      cs.Category,
			Difficulty:    cs.Difficulty,
			Technologies:  cs.Technologies,
			MaxSelections: int(cs.MaxSelections),
		}
		p.Normalize()
		out = append(out, p)
	}
	return out
}

// ParseCatalogDocument decodes a bulk catalog payload.
func ParseCatalogDocument(data []byte) (CatalogDocument, error) {
	var doc CatalogDocument
	err := json.Unmarshal(data, &doc)
	return doc, err
}
