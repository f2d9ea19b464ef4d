package models

import (
	"strings"
	"time"
)

// DisplayTimeFormat renders registration timestamps for admin views and
// report exports, in the configured display timezone.
const DisplayTimeFormat = "02 Jan 2006, 03:04 PM"

// Registration binds one team to exactly one problem statement.
// TeamNumber is the unique key; it is trimmed before comparison and storage.
type Registration struct {
	TeamNumber         string    `json:"teamNumber"`
	TeamName           string    `json:"teamName"`
	TeamLeader         string    `json:"teamLeader"`
	ProblemStatementID string    `json:"problemStatementId"`
	RegisteredAt       time.Time `json:"registrationDateTime"`
}

// Normalize trims the fields used for identity and matching.
func (r *Registration) Normalize() {
	r.TeamNumber = strings.TrimSpace(r.TeamNumber)
	r.TeamName = strings.TrimSpace(r.TeamName)
	r.TeamLeader = strings.TrimSpace(r.TeamLeader)
	r.ProblemStatementID = strings.TrimSpace(r.ProblemStatementID)
}

// RegistrationDetail joins a registration with its statement's labels and a
// timestamp rendered in the display timezone.
type RegistrationDetail struct {
	Registration
	ProblemTitle      string `json:"problemTitle"`
	ProblemCategory   string `json:"problemCategory,omitempty"`
	ProblemDifficulty string `json:"problemDifficulty,omitempty"`
	RegisteredAtLocal string `json:"registrationDateTimeDisplay"`
}

// RegisterRequest is the inbound payload for the registration operation.
type RegisterRequest struct {
	TeamNumber         string `json:"teamNumber"`
	TeamName           string `json:"teamName"`
	TeamLeader         string `json:"teamLeader"`
	ProblemStatementID string `json:"problemStatementId"`
}

// MissingFields lists the required fields absent from the request.
func (r RegisterRequest) MissingFields() []string {
	var missing []string
	if strings.TrimSpace(r.TeamNumber) == "" {
		missing = append(missing, "teamNumber")
	}
	if strings.TrimSpace(r.TeamName) == "" {
		missing = append(missing, "teamName")
	}
	if strings.TrimSpace(r.TeamLeader) == "" {
		missing = append(missing, "teamLeader")
	}
	if strings.TrimSpace(r.ProblemStatementID) == "" {
		missing = append(missing, "problemStatementId")
	}
	return missing
}

// Registration builds the domain record from the request. The timestamp is
// assigned by the storage layer at insert time.
func (r RegisterRequest) Registration() Registration {
	reg := Registration{
		TeamNumber:         r.TeamNumber,
		TeamName:           r.TeamName,
		TeamLeader:         r.TeamLeader,
		ProblemStatementID: r.ProblemStatementID,
	}
	reg.Normalize()
	return reg
}

// RegisterResult is the enriched success response for a registration.
type RegisterResult struct {
	Registration Registration          `json:"registration"`
	Problem      *ProblemStatementView `json:"problemStatement,omitempty"`
}
