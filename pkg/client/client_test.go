package client_test

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nextlinkers/digicon/internal/api"
	"github.com/nextlinkers/digicon/internal/config"
	"github.com/nextlinkers/digicon/internal/notify"
	"github.com/nextlinkers/digicon/internal/registration"
	"github.com/nextlinkers/digicon/internal/storage"
	"github.com/nextlinkers/digicon/pkg/client"
)

const adminPassword = "pw"

// newTestService runs the full stack on the file backend: store, service,
// router, all behind an httptest server.
func newTestService(t *testing.T) *client.Client {
	t.Helper()

	store := storage.NewFileStore(storage.FileConfig{
		Path:           filepath.Join(t.TempDir(), "digicon.json"),
		LockRetries:    200,
		LockRetryDelay: 2 * time.Millisecond,
	})
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("store init failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	hub := notify.NewHub()
	t.Cleanup(hub.Close)

	service := registration.NewService(store, hub)
	auth := api.NewAdminAuth(bytes.Repeat([]byte("h"), 32), bytes.Repeat([]byte("b"), 32), adminPassword)
	server := api.NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 8080}, service, hub, auth)

	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)

	return client.NewClient(ts.URL)
}

func register(t *testing.T, c *client.Client, team, statement string) (*client.RegisterResult, error) {
	t.Helper()
	return c.Register(context.Background(), client.RegisterRequest{
		TeamNumber:         team,
		TeamName:           "Team " + team,
		TeamLeader:         "Lead " + team,
		ProblemStatementID: statement,
	})
}

func TestClientPublicSurface(t *testing.T) {
	c := newTestService(t)
	ctx := context.Background()

	if err := c.Health(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := c.Ready(ctx); err != nil {
		t.Fatalf("ready check failed: %v", err)
	}

	catalog, err := c.Problems(ctx)
	if err != nil {
		t.Fatalf("problems failed: %v", err)
	}
	if catalog.Released {
		t.Error("expected catalog unreleased on a fresh store")
	}
	if len(catalog.ProblemStatements) != 0 {
		t.Errorf("expected empty public listing before release, got %d", len(catalog.ProblemStatements))
	}
}

func TestClientReleaseFlow(t *testing.T) {
	c := newTestService(t)
	ctx := context.Background()

	if err := c.Login(ctx, adminPassword); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	settings, err := c.SetRelease(ctx, true)
	if err != nil {
		t.Fatalf("set release failed: %v", err)
	}
	if !settings.ProblemsReleased {
		t.Error("expected release flag on")
	}

	catalog, err := c.Problems(ctx)
	if err != nil {
		t.Fatalf("problems failed: %v", err)
	}
	if !catalog.Released || len(catalog.ProblemStatements) != 3 {
		t.Fatalf("expected released catalog with 3 seeded statements, got released=%v n=%d",
			catalog.Released, len(catalog.ProblemStatements))
	}
	if catalog.ProblemStatements[0].SlotsLeft != catalog.ProblemStatements[0].MaxSelections {
		t.Error("expected full availability on a fresh catalog")
	}
}

func TestClientLoginRequired(t *testing.T) {
	c := newTestService(t)
	ctx := context.Background()

	if _, err := c.Registrations(ctx); err == nil {
		t.Fatal("expected error without a session")
	} else if !strings.Contains(err.Error(), "401") {
		t.Errorf("expected a 401 error, got %v", err)
	}

	err := c.Login(ctx, "wrong")
	if err == nil {
		t.Fatal("expected error for wrong password")
	}
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "invalid_credentials" {
		t.Errorf("expected invalid_credentials, got %v", err)
	}
}

func TestClientRegistrationLifecycle(t *testing.T) {
	c := newTestService(t)
	ctx := context.Background()

	result, err := register(t, c, "T-01", "ps001")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if result.Registration.TeamNumber != "T-01" {
		t.Errorf("unexpected registration: %+v", result.Registration)
	}
	if result.Problem == nil || result.Problem.SlotsLeft != 1 {
		t.Errorf("expected 1 slot left on ps001, got %+v", result.Problem)
	}

	var apiErr *client.APIError

	// A team registers once.
	if _, err := register(t, c, "T-01", "ps002"); !errors.As(err, &apiErr) || apiErr.Code != "duplicate_team" {
		t.Errorf("expected duplicate_team, got %v", err)
	}

	// Capacity is two on the seeded statements.
	if _, err := register(t, c, "T-02", "ps001"); err != nil {
		t.Fatalf("second registration failed: %v", err)
	}
	if _, err := register(t, c, "T-03", "ps001"); !errors.As(err, &apiErr) || apiErr.Code != "problem_full" {
		t.Errorf("expected problem_full, got %v", err)
	}

	if _, err := register(t, c, "T-04", "ps999"); !errors.As(err, &apiErr) || apiErr.Code != "not_found" {
		t.Errorf("expected not_found, got %v", err)
	}

	if _, err := c.Register(ctx, client.RegisterRequest{TeamNumber: "T-05"}); !errors.As(err, &apiErr) || apiErr.Code != "validation_error" {
		t.Errorf("expected validation_error, got %v", err)
	}

	if err := c.Login(ctx, adminPassword); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	details, err := c.Registrations(ctx)
	if err != nil {
		t.Fatalf("registrations failed: %v", err)
	}
	if len(details) != 2 {
		t.Fatalf("expected 2 registrations, got %d", len(details))
	}
	if details[0].ProblemTitle != "Smart Campus Navigation" {
		t.Errorf("expected joined problem title, got %q", details[0].ProblemTitle)
	}
	if details[0].RegisteredAtDisplay == "" {
		t.Error("expected a localized display timestamp")
	}

	var export bytes.Buffer
	if err := c.ExportRegistrations(ctx, &export); err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if !strings.Contains(export.String(), "Team Number") || !strings.Contains(export.String(), "T-01") {
		t.Errorf("unexpected export content: %q", export.String())
	}

	deleted, err := c.DeleteRegistration(ctx, "T-01")
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}
	if deleted, _ = c.DeleteRegistration(ctx, "T-01"); deleted != 0 {
		t.Errorf("expected 0 on repeat delete, got %d", deleted)
	}

	// The freed slot is usable again.
	if _, err := register(t, c, "T-03", "ps001"); err != nil {
		t.Fatalf("register after delete failed: %v", err)
	}
}

func TestClientCatalogManagement(t *testing.T) {
	c := newTestService(t)
	ctx := context.Background()

	if err := c.Login(ctx, adminPassword); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	replaced, err := c.ReplaceCatalog(ctx, []client.CatalogStatement{
		{ID: "x1", Title: "Fresh One", MaxSelections: 1},
		{ID: "x2", Title: "Fresh Two", MaxSelections: 3},
	})
	if err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	if replaced != 2 {
		t.Errorf("expected 2 replaced, got %d", replaced)
	}

	imported, err := c.ImportCatalog(ctx, []client.CatalogStatement{
		{ID: "x2", Title: "Already There", MaxSelections: 1},
		{ID: "x3", Title: "Fresh Three", MaxSelections: 1},
	})
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if imported != 1 {
		t.Errorf("expected 1 imported (x2 exists), got %d", imported)
	}

	statements, err := c.AdminProblems(ctx)
	if err != nil {
		t.Fatalf("admin problems failed: %v", err)
	}
	if len(statements) != 3 {
		t.Errorf("expected 3 statements after replace+import, got %d", len(statements))
	}

	var apiErr *client.APIError
	if _, err := c.ReplaceCatalog(ctx, nil); !errors.As(err, &apiErr) || apiErr.Code != "validation_error" {
		t.Errorf("expected validation_error for empty replace, got %v", err)
	}

	if err := c.Reset(ctx); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	statements, err = c.AdminProblems(ctx)
	if err != nil {
		t.Fatalf("admin problems failed: %v", err)
	}
	if len(statements) != 3 || statements[0].ID != "ps001" {
		t.Errorf("expected default catalog after reset, got %+v", statements)
	}
}

func TestClientRosterGate(t *testing.T) {
	c := newTestService(t)
	ctx := context.Background()

	if err := c.Login(ctx, adminPassword); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	teams, err := c.UploadRoster(ctx, strings.NewReader(
		"Team Number,Team Name,Team Leader\nT-10,Gamma,Lee\nT-11,Delta,Mo\n"))
	if err != nil {
		t.Fatalf("roster upload failed: %v", err)
	}
	if teams != 2 {
		t.Errorf("expected 2 roster teams, got %d", teams)
	}

	var apiErr *client.APIError
	if _, err := register(t, c, "T-99", "ps001"); !errors.As(err, &apiErr) || apiErr.Code != "validation_error" {
		t.Errorf("expected roster rejection, got %v", err)
	}

	if _, err := register(t, c, "T-10", "ps001"); err != nil {
		t.Fatalf("on-roster registration failed: %v", err)
	}
}
