package models

// Settings is the single process-wide settings record persisted by every
// backend. Saving merges onto the stored record rather than dropping
// unknown keys written by older builds.
type Settings struct {
	ProblemsReleased bool `json:"problemsReleased"`
}
