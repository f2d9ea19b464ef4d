package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"
)

// Client is a Go SDK for the digicon registration API. Admin calls require
// Login first; the session cookie is held in the HTTP client's jar.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client. Provide one with a cookie jar
// when admin endpoints are used.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the client timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new digicon client
func NewClient(baseURL string, opts ...Option) *Client {
	jar, _ := cookiejar.New(nil)
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Jar:     jar,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError is the structured error the service returns for failed calls.
// Code distinguishes outcomes like "duplicate_team" or "problem_full".
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: %s - %s", e.Code, e.Message)
}

// ProblemStatement is a catalog entry with its availability view.
type ProblemStatement struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Category      string   `json:"category,omitempty"`
	Difficulty    string   `json:"difficulty,omitempty"`
	Technologies  []string `json:"technologies,omitempty"`
	MaxSelections int      `json:"maxSelections"`
	SelectedCount int      `json:"selectedCount"`
	IsAvailable   bool     `json:"isAvailable"`
	SlotsLeft     int      `json:"slotsLeft"`
}

// PublicCatalog is the public problems listing. ProblemStatements is empty
// until the release flag is on.
type PublicCatalog struct {
	Released          bool               `json:"released"`
	ProblemStatements []ProblemStatement `json:"problemStatements"`
}

// RegisterRequest is the payload for registering a team.
type RegisterRequest struct {
	TeamNumber         string `json:"teamNumber"`
	TeamName           string `json:"teamName"`
	TeamLeader         string `json:"teamLeader"`
	ProblemStatementID string `json:"problemStatementId"`
}

// Registration is a stored team registration.
type Registration struct {
	TeamNumber         string    `json:"teamNumber"`
	TeamName           string    `json:"teamName"`
	TeamLeader         string    `json:"teamLeader"`
	ProblemStatementID string    `json:"problemStatementId"`
	RegisteredAt       time.Time `json:"registrationDateTime"`
}

// RegisterResult is the enriched success response for a registration.
type RegisterResult struct {
	Registration Registration      `json:"registration"`
	Problem      *ProblemStatement `json:"problemStatement,omitempty"`
}

// RegistrationDetail joins a registration with its statement labels.
type RegistrationDetail struct {
	Registration
	ProblemTitle        string `json:"problemTitle"`
	ProblemCategory     string `json:"problemCategory,omitempty"`
	ProblemDifficulty   string `json:"problemDifficulty,omitempty"`
	RegisteredAtDisplay string `json:"registrationDateTimeDisplay"`
}

// CatalogStatement is one entry of a bulk replace/import payload.
type CatalogStatement struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	Category      string   `json:"category,omitempty"`
	Difficulty    string   `json:"difficulty,omitempty"`
	Technologies  []string `json:"technologies,omitempty"`
	MaxSelections int      `json:"maxSelections"`
}

// Settings carries the public release flag.
type Settings struct {
	ProblemsReleased bool `json:"problemsReleased"`
}

// Health checks if the service is healthy
func (c *Client) Health(ctx context.Context) error {
	_, err := c.doRequest(ctx, "GET", "/health", nil)
	return err
}

// Ready checks if the storage backend is reachable
func (c *Client) Ready(ctx context.Context) error {
	_, err := c.doRequest(ctx, "GET", "/ready", nil)
	return err
}

// Problems retrieves the public catalog view
func (c *Client) Problems(ctx context.Context) (*PublicCatalog, error) {
	resp, err := c.doRequest(ctx, "GET", "/api/v1/problems", nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Success bool           `json:"success"`
		Data    *PublicCatalog `json:"data"`
		Error   *APIError      `json:"error"`
	}

	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !result.Success {
		return nil, result.Error
	}

	return result.Data, nil
}

// Register registers a team for a problem statement
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.doRequest(ctx, "POST", "/api/v1/registrations", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var result struct {
		Success bool            `json:"success"`
		Data    *RegisterResult `json:"data"`
		Error   *APIError       `json:"error"`
	}

	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !result.Success {
		return nil, result.Error
	}

	return result.Data, nil
}

// Login opens an admin session. The session cookie is stored in the
// client's cookie jar for subsequent admin calls.
func (c *Client) Login(ctx context.Context, password string) error {
	body, err := json.Marshal(map[string]string{"password": password})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	_, err = c.doRequest(ctx, "POST", "/api/v1/admin/login", bytes.NewReader(body))
	return err
}

// Logout ends the admin session
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.doRequest(ctx, "POST", "/api/v1/admin/logout", nil)
	return err
}

// AdminProblems retrieves the full catalog regardless of the release flag
func (c *Client) AdminProblems(ctx context.Context) ([]ProblemStatement, error) {
	resp, err := c.doRequest(ctx, "GET", "/api/v1/admin/problems", nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			ProblemStatements []ProblemStatement `json:"problemStatements"`
			Total             int                `json:"total"`
		} `json:"data"`
		Error *APIError `json:"error"`
	}

	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !result.Success {
		return nil, result.Error
	}

	return result.Data.ProblemStatements, nil
}

// Registrations retrieves all registrations with statement labels
func (c *Client) Registrations(ctx context.Context) ([]RegistrationDetail, error) {
	resp, err := c.doRequest(ctx, "GET", "/api/v1/admin/registrations", nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			Registrations []RegistrationDetail `json:"registrations"`
			Total         int                  `json:"total"`
		} `json:"data"`
		Error *APIError `json:"error"`
	}

	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !result.Success {
		return nil, result.Error
	}

	return result.Data.Registrations, nil
}

// DeleteRegistration removes a team's registration and returns how many
// records were deleted (0 when the team was not registered)
func (c *Client) DeleteRegistration(ctx context.Context, teamNumber string) (int64, error) {
	resp, err := c.doRequest(ctx, "DELETE", fmt.Sprintf("/api/v1/admin/registrations/%s", teamNumber), nil)
	if err != nil {
		return 0, err
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			Deleted int64 `json:"deleted"`
		} `json:"data"`
		Error *APIError `json:"error"`
	}

	if err := json.Unmarshal(resp, &result); err != nil {
		return 0, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !result.Success {
		return 0, result.Error
	}

	return result.Data.Deleted, nil
}

// ExportRegistrations streams the CSV report into w
func (c *Client) ExportRegistrations(ctx context.Context, w io.Writer) error {
	resp, err := c.doRequest(ctx, "GET", "/api/v1/admin/registrations/export", nil)
	if err != nil {
		return err
	}

	if _, err := w.Write(resp); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	return nil
}

// ReplaceCatalog replaces the whole catalog and clears all registrations
func (c *Client) ReplaceCatalog(ctx context.Context, statements []CatalogStatement) (int, error) {
	return c.bulkCatalog(ctx, "/api/v1/admin/catalog/replace", "replaced", statements)
}

// ImportCatalog adds new statements, skipping IDs that already exist
func (c *Client) ImportCatalog(ctx context.Context, statements []CatalogStatement) (int, error) {
	return c.bulkCatalog(ctx, "/api/v1/admin/catalog/import", "imported", statements)
}

func (c *Client) bulkCatalog(ctx context.Context, path, countKey string, statements []CatalogStatement) (int, error) {
	body, err := json.Marshal(map[string]interface{}{"problemStatements": statements})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.doRequest(ctx, "POST", path, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}

	var result struct {
		Success bool           `json:"success"`
		Data    map[string]int `json:"data"`
		Error   *APIError      `json:"error"`
	}

	if err := json.Unmarshal(resp, &result); err != nil {
		return 0, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !result.Success {
		return 0, result.Error
	}

	return result.Data[countKey], nil
}

// Reset restores the default catalog and clears all registrations
func (c *Client) Reset(ctx context.Context) error {
	_, err := c.doRequest(ctx, "POST", "/api/v1/admin/reset", nil)
	return err
}

// Release reads the current release flag
func (c *Client) Release(ctx context.Context) (Settings, error) {
	resp, err := c.doRequest(ctx, "GET", "/api/v1/admin/release", nil)
	if err != nil {
		return Settings{}, err
	}
	return decodeSettings(resp)
}

// SetRelease toggles whether the public listing shows the catalog
func (c *Client) SetRelease(ctx context.Context, released bool) (Settings, error) {
	body, err := json.Marshal(map[string]bool{"problemsReleased": released})
	if err != nil {
		return Settings{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.doRequest(ctx, "PUT", "/api/v1/admin/release", bytes.NewReader(body))
	if err != nil {
		return Settings{}, err
	}
	return decodeSettings(resp)
}

func decodeSettings(resp []byte) (Settings, error) {
	var result struct {
		Success bool      `json:"success"`
		Data    Settings  `json:"data"`
		Error   *APIError `json:"error"`
	}

	if err := json.Unmarshal(resp, &result); err != nil {
		return Settings{}, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !result.Success {
		return Settings{}, result.Error
	}

	return result.Data, nil
}

// UploadRoster replaces the team roster with the CSV read from r and
// returns the number of accepted teams
func (c *Client) UploadRoster(ctx context.Context, r io.Reader) (int, error) {
	resp, err := c.doRequestWithType(ctx, "POST", "/api/v1/admin/roster", r, "text/csv")
	if err != nil {
		return 0, err
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			Teams int `json:"teams"`
		} `json:"data"`
		Error *APIError `json:"error"`
	}

	if err := json.Unmarshal(resp, &result); err != nil {
		return 0, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !result.Success {
		return 0, result.Error
	}

	return result.Data.Teams, nil
}

// doRequest performs an HTTP request with a JSON body
func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	return c.doRequestWithType(ctx, method, path, body, "application/json")
}

func (c *Client) doRequestWithType(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, error) {
	url := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var envelope struct {
			Error *APIError `json:"error"`
		}
		if jsonErr := json.Unmarshal(respBody, &envelope); jsonErr == nil && envelope.Error != nil {
			envelope.Error.Status = resp.StatusCode
			return nil, envelope.Error
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}
