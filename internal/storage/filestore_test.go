package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/nextlinkers/digicon/internal/models"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	store := NewFileStore(FileConfig{
		Path:           filepath.Join(t.TempDir(), "digicon.json"),
		LockRetries:    200,
		LockRetryDelay: 2 * time.Millisecond,
	})
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return store
}

func TestFileStoreInitSeedsDefaultCatalog(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	views, err := store.ListProblemStatements(ctx)
	if err != nil {
		t.Fatalf("ListProblemStatements failed: %v", err)
	}
	if len(views) != len(DefaultCatalog()) {
		t.Fatalf("expected %d seeded statements, got %d", len(DefaultCatalog()), len(views))
	}
	for _, v := range views {
		if v.SelectedCount != 0 {
			t.Errorf("expected fresh statement %s to have 0 selections, got %d", v.ID, v.SelectedCount)
		}
		if !v.IsAvailable {
			t.Errorf("expected fresh statement %s to be available", v.ID)
		}
	}

	// Repeat init must not duplicate the seed
	if err := store.Init(ctx); err != nil {
		t.Fatalf("second Init failed: %v", err)
	}
	views, err = store.ListProblemStatements(ctx)
	if err != nil {
		t.Fatalf("ListProblemStatements after re-init failed: %v", err)
	}
	if len(views) != len(DefaultCatalog()) {
		t.Errorf("expected %d statements after re-init, got %d", len(DefaultCatalog()), len(views))
	}
}

func TestFileStorePersistedLayout(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	if _, err := store.CreateRegistration(ctx, models.Registration{
		TeamNumber: "T-01", TeamName: "Alpha", TeamLeader: "Asha", ProblemStatementID: "ps001",
	}); err != nil {
		t.Fatalf("CreateRegistration failed: %v", err)
	}

	data, err := os.ReadFile(store.path)
	if err != nil {
		t.Fatalf("reading store file failed: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("store file is not valid JSON: %v", err)
	}
	// Check top-level document keys
	for _, key := range []string{"problemStatements", "registrations"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("expected top-level key %q in store file", key)
		}
	}

	var regs []map[string]any
	if err := json.Unmarshal(raw["registrations"], &regs); err != nil {
		t.Fatalf("registrations block is not valid: %v", err)
	}
	if len(regs) != 1 {
		t.Fatalf("expected 1 persisted registration, got %d", len(regs))
	}
	if _, ok := regs[0]["registrationDateTime"]; !ok {
		t.Error("expected registration to persist a registrationDateTime field")
	}
}

func TestFileStoreRegisterLifecycle(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	reg, err := store.CreateRegistration(ctx, models.Registration{
		TeamNumber: "  T-10  ", TeamName: "Alpha", TeamLeader: "Asha", ProblemStatementID: "ps001",
	})
	if err != nil {
		t.Fatalf("CreateRegistration failed: %v", err)
	}
	if reg.TeamNumber != "T-10" {
		t.Errorf("expected trimmed team number 'T-10', got %q", reg.TeamNumber)
	}
	if reg.RegisteredAt.IsZero() {
		t.Error("expected RegisteredAt to be assigned")
	}

	// Duplicate team is rejected even when padded with whitespace
	_, err = store.CreateRegistration(ctx, models.Registration{
		TeamNumber: "T-10", TeamName: "Other", TeamLeader: "Ben", ProblemStatementID: "ps002",
	})
	if !errors.Is(err, ErrTeamExists) {
		t.Fatalf("expected ErrTeamExists, got %v", err)
	}

	// Unknown statement
	_, err = store.CreateRegistration(ctx, models.Registration{
		TeamNumber: "T-11", TeamName: "Beta", TeamLeader: "Ben", ProblemStatementID: "nope",
	})
	if !errors.Is(err, ErrProblemNotFound) {
		t.Fatalf("expected ErrProblemNotFound, got %v", err)
	}

	// Fill the second slot of ps001 (seed capacity is 2), then overflow
	if _, err := store.CreateRegistration(ctx, models.Registration{
		TeamNumber: "T-12", TeamName: "Gamma", TeamLeader: "Carol", ProblemStatementID: "ps001",
	}); err != nil {
		t.Fatalf("second registration failed: %v", err)
	}
	_, err = store.CreateRegistration(ctx, models.Registration{
		TeamNumber: "T-13", TeamName: "Delta", TeamLeader: "Dev", ProblemStatementID: "ps001",
	})
	if !errors.Is(err, ErrProblemFull) {
		t.Fatalf("expected ErrProblemFull, got %v", err)
	}

	view, err := store.GetProblemStatement(ctx, "ps001")
	if err != nil {
		t.Fatalf("GetProblemStatement failed: %v", err)
	}
	if view.SelectedCount != 2 {
		t.Errorf("expected selectedCount 2, got %d", view.SelectedCount)
	}
	if view.IsAvailable {
		t.Error("expected full statement to be unavailable")
	}
	if view.Slots != 0 {
		t.Errorf("expected 0 slots left, got %d", view.Slots)
	}
}

func TestFileStoreRejectionLeavesNoTrace(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	seed := []models.Registration{
		{TeamNumber: "T-20", TeamName: "Alpha", TeamLeader: "Asha", ProblemStatementID: "ps001"},
		{TeamNumber: "T-21", TeamName: "Beta", TeamLeader: "Ben", ProblemStatementID: "ps001"},
	}
	for _, r := range seed {
		if _, err := store.CreateRegistration(ctx, r); err != nil {
			t.Fatalf("seeding registration %s failed: %v", r.TeamNumber, err)
		}
	}
	before, err := os.ReadFile(store.path)
	if err != nil {
		t.Fatalf("reading store file failed: %v", err)
	}

	// Full statement rejection must not touch the document
	_, err = store.CreateRegistration(ctx, models.Registration{
		TeamNumber: "T-22", TeamName: "Gamma", TeamLeader: "Carol", ProblemStatementID: "ps001",
	})
	if !errors.Is(err, ErrProblemFull) {
		t.Fatalf("expected ErrProblemFull, got %v", err)
	}
	// Duplicate rejection must not touch the document either
	_, err = store.CreateRegistration(ctx, models.Registration{
		TeamNumber: "T-20", TeamName: "Echo", TeamLeader: "Eva", ProblemStatementID: "ps002",
	})
	if !errors.Is(err, ErrTeamExists) {
		t.Fatalf("expected ErrTeamExists, got %v", err)
	}
	// Unknown statement rejection must not touch the document
	_, err = store.CreateRegistration(ctx, models.Registration{
		TeamNumber: "T-23", TeamName: "Delta", TeamLeader: "Dev", ProblemStatementID: "ps404",
	})
	if !errors.Is(err, ErrProblemNotFound) {
		t.Fatalf("expected ErrProblemNotFound, got %v", err)
	}

	after, err := os.ReadFile(store.path)
	if err != nil {
		t.Fatalf("re-reading store file failed: %v", err)
	}
	if string(before) != string(after) {
		t.Error("rejected registrations must leave the store file unchanged")
	}

	// Lock marker must be gone after rejected calls
	if _, err := os.Stat(store.lockPath); !os.IsNotExist(err) {
		t.Errorf("expected lock marker to be released, stat err = %v", err)
	}
}

func TestFileStoreConcurrentCapacityRace(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	const racers = 8
	results := make(chan error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := store.CreateRegistration(ctx, models.Registration{
				TeamNumber:         "R-" + string(rune('A'+n)),
				TeamName:           "Racer",
				TeamLeader:         "Lead",
				ProblemStatementID: "ps002",
			})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var ok, full int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrProblemFull):
			full++
		default:
			t.Errorf("unexpected error from racer: %v", err)
		}
	}
	// Seed capacity is 2: exactly two winners, everyone else turned away
	if ok != 2 {
		t.Errorf("expected exactly 2 successful registrations, got %d", ok)
	}
	if full != racers-2 {
		t.Errorf("expected %d ErrProblemFull results, got %d", racers-2, full)
	}

	regs, err := store.ListRegistrations(ctx)
	if err != nil {
		t.Fatalf("ListRegistrations failed: %v", err)
	}
	if len(regs) != 2 {
		t.Errorf("expected 2 stored registrations, got %d", len(regs))
	}
}

func TestFileStoreConcurrentDuplicateRace(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	const racers = 6
	results := make(chan error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.CreateRegistration(ctx, models.Registration{
				TeamNumber:         "T-SAME",
				TeamName:           "Clash",
				TeamLeader:         "Lead",
				ProblemStatementID: "ps003",
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, dup int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrTeamExists):
			dup++
		default:
			t.Errorf("unexpected error from racer: %v", err)
		}
	}
	if ok != 1 {
		t.Errorf("expected exactly 1 winner for the same team number, got %d", ok)
	}
	if dup != racers-1 {
		t.Errorf("expected %d ErrTeamExists results, got %d", racers-1, dup)
	}
}

func TestFileStoreConcurrentUnknownStatementRace(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	const racers = 10
	results := make(chan error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := store.CreateRegistration(ctx, models.Registration{
				TeamNumber:         "U-" + string(rune('A'+n)),
				TeamName:           "Racer",
				TeamLeader:         "Lead",
				ProblemStatementID: "ps999",
			})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	// Every racer fails not-found, nobody slips through
	for err := range results {
		if !errors.Is(err, ErrProblemNotFound) {
			t.Errorf("expected ErrProblemNotFound from racer, got %v", err)
		}
	}

	regs, err := store.ListRegistrations(ctx)
	if err != nil {
		t.Fatalf("ListRegistrations failed: %v", err)
	}
	if len(regs) != 0 {
		t.Errorf("expected 0 stored registrations, got %d", len(regs))
	}
}

func TestFileStoreLockTimeout(t *testing.T) {
	store := NewFileStore(FileConfig{
		Path:           filepath.Join(t.TempDir(), "digicon.json"),
		LockRetries:    3,
		LockRetryDelay: time.Millisecond,
	})
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	// Simulate another process holding the lock
	if err := os.WriteFile(store.lockPath, []byte("held"), 0o644); err != nil {
		t.Fatalf("planting lock marker failed: %v", err)
	}

	_, err := store.CreateRegistration(ctx, models.Registration{
		TeamNumber: "T-30", TeamName: "Held", TeamLeader: "Lead", ProblemStatementID: "ps001",
	})
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}

	// Releasing the stale marker unblocks the store
	if err := os.Remove(store.lockPath); err != nil {
		t.Fatalf("removing lock marker failed: %v", err)
	}
	if _, err := store.CreateRegistration(ctx, models.Registration{
		TeamNumber: "T-30", TeamName: "Held", TeamLeader: "Lead", ProblemStatementID: "ps001",
	}); err != nil {
		t.Fatalf("CreateRegistration after release failed: %v", err)
	}
}

func TestFileStoreLockMarker(t *testing.T) {
	store := newTestFileStore(t)

	release, err := store.acquireLock(context.Background())
	if err != nil {
		t.Fatalf("acquireLock failed: %v", err)
	}

	data, err := os.ReadFile(store.lockPath)
	if err != nil {
		t.Fatalf("reading lock marker failed: %v", err)
	}
	if string(data) != strconv.Itoa(os.Getpid()) {
		t.Errorf("expected marker to record the holder pid, got %q", string(data))
	}

	release()
	if _, err := os.Stat(store.lockPath); !os.IsNotExist(err) {
		t.Errorf("expected release to remove the marker, stat err = %v", err)
	}
}

func TestFileStoreDeleteFreesCapacity(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	for _, team := range []string{"T-40", "T-41"} {
		if _, err := store.CreateRegistration(ctx, models.Registration{
			TeamNumber: team, TeamName: "Team " + team, TeamLeader: "Lead", ProblemStatementID: "ps001",
		}); err != nil {
			t.Fatalf("registering %s failed: %v", team, err)
		}
	}

	n, err := store.DeleteRegistration(ctx, "T-40")
	if err != nil {
		t.Fatalf("DeleteRegistration failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 deleted row, got %d", n)
	}

	// Unknown team deletes nothing and is not an error
	n, err = store.DeleteRegistration(ctx, "T-99")
	if err != nil {
		t.Fatalf("DeleteRegistration of unknown team failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 deleted rows for unknown team, got %d", n)
	}

	// The freed slot is usable again
	if _, err := store.CreateRegistration(ctx, models.Registration{
		TeamNumber: "T-42", TeamName: "Refill", TeamLeader: "Lead", ProblemStatementID: "ps001",
	}); err != nil {
		t.Fatalf("registration into freed slot failed: %v", err)
	}
}

func TestFileStoreMalformedMaxSelections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "digicon.json")
	doc := `{
		"problemStatements": [
			{"id": "psx1", "title": "Hand Edited", "maxSelections": "not-a-number"},
			{"id": "psx2", "title": "Stringly Typed", "maxSelections": "3"}
		],
		"registrations": []
	}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("writing seed document failed: %v", err)
	}

	store := NewFileStore(FileConfig{Path: path, LockRetries: 10, LockRetryDelay: time.Millisecond})
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init over hand-edited file failed: %v", err)
	}

	// Garbage coerces to the minimum of 1
	v1, err := store.GetProblemStatement(ctx, "psx1")
	if err != nil {
		t.Fatalf("GetProblemStatement psx1 failed: %v", err)
	}
	if v1.MaxSelections != 1 {
		t.Errorf("expected coerced maxSelections 1, got %d", v1.MaxSelections)
	}

	// Numeric strings parse through
	v2, err := store.GetProblemStatement(ctx, "psx2")
	if err != nil {
		t.Fatalf("GetProblemStatement psx2 failed: %v", err)
	}
	if v2.MaxSelections != 3 {
		t.Errorf("expected maxSelections 3, got %d", v2.MaxSelections)
	}

	// The coerced statement admits exactly one team
	if _, err := store.CreateRegistration(ctx, models.Registration{
		TeamNumber: "T-50", TeamName: "One", TeamLeader: "Lead", ProblemStatementID: "psx1",
	}); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}
	_, err = store.CreateRegistration(ctx, models.Registration{
		TeamNumber: "T-51", TeamName: "Two", TeamLeader: "Lead", ProblemStatementID: "psx1",
	})
	if !errors.Is(err, ErrProblemFull) {
		t.Fatalf("expected ErrProblemFull on coerced statement, got %v", err)
	}
}

func TestFileStoreReplaceAndImport(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	if _, err := store.CreateRegistration(ctx, models.Registration{
		TeamNumber: "T-60", TeamName: "Old", TeamLeader: "Lead", ProblemStatementID: "ps001",
	}); err != nil {
		t.Fatalf("seeding registration failed: %v", err)
	}
	if err := store.SaveSettings(ctx, models.Settings{ProblemsReleased: true}); err != nil {
		t.Fatalf("SaveSettings failed: %v", err)
	}

	replacement := []models.ProblemStatement{
		{ID: "new1", Title: "Replacement One", MaxSelections: 1},
		{ID: "new2", Title: "Replacement Two", MaxSelections: 4},
	}
	n, err := store.ReplaceCatalog(ctx, replacement)
	if err != nil {
		t.Fatalf("ReplaceCatalog failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 replaced statements, got %d", n)
	}

	// Replace clears registrations but keeps settings
	regs, err := store.ListRegistrations(ctx)
	if err != nil {
		t.Fatalf("ListRegistrations failed: %v", err)
	}
	if len(regs) != 0 {
		t.Errorf("expected 0 registrations after replace, got %d", len(regs))
	}
	settings, err := store.Settings(ctx)
	if err != nil {
		t.Fatalf("Settings failed: %v", err)
	}
	if !settings.ProblemsReleased {
		t.Error("expected settings to survive catalog replace")
	}

	// Import skips an existing ID and adds the new one
	added, err := store.ImportCatalog(ctx, []models.ProblemStatement{
		{ID: "new1", Title: "Shadow", MaxSelections: 9},
		{ID: "new3", Title: "Imported", MaxSelections: 2},
	})
	if err != nil {
		t.Fatalf("ImportCatalog failed: %v", err)
	}
	if added != 1 {
		t.Errorf("expected 1 imported statement, got %d", added)
	}

	views, err := store.ListProblemStatements(ctx)
	if err != nil {
		t.Fatalf("ListProblemStatements failed: %v", err)
	}
	if len(views) != 3 {
		t.Fatalf("expected 3 statements after import, got %d", len(views))
	}
	for _, v := range views {
		if v.ID == "new1" && v.Title != "Replacement One" {
			t.Errorf("import must not overwrite existing statement, title = %q", v.Title)
		}
	}

	// ResetAll restores the default catalog and keeps settings
	if err := store.ResetAll(ctx); err != nil {
		t.Fatalf("ResetAll failed: %v", err)
	}
	views, err = store.ListProblemStatements(ctx)
	if err != nil {
		t.Fatalf("ListProblemStatements after reset failed: %v", err)
	}
	if len(views) != len(DefaultCatalog()) {
		t.Errorf("expected default catalog after reset, got %d statements", len(views))
	}
	settings, err = store.Settings(ctx)
	if err != nil {
		t.Fatalf("Settings after reset failed: %v", err)
	}
	if !settings.ProblemsReleased {
		t.Error("expected settings to survive reset")
	}
}

func TestFileStoreListRegistrationsDetails(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	first := models.Registration{
		TeamNumber: "T-70", TeamName: "Early", TeamLeader: "Eva", ProblemStatementID: "ps002",
		RegisteredAt: time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC),
	}
	second := models.Registration{
		TeamNumber: "T-71", TeamName: "Late", TeamLeader: "Liam", ProblemStatementID: "ps003",
		RegisteredAt: time.Date(2026, 2, 1, 14, 0, 0, 0, time.UTC),
	}
	// Insert newest first to prove the listing sorts by time
	for _, r := range []models.Registration{second, first} {
		if _, err := store.CreateRegistration(ctx, r); err != nil {
			t.Fatalf("registering %s failed: %v", r.TeamNumber, err)
		}
	}

	details, err := store.ListRegistrations(ctx)
	if err != nil {
		t.Fatalf("ListRegistrations failed: %v", err)
	}
	if len(details) != 2 {
		t.Fatalf("expected 2 registrations, got %d", len(details))
	}
	if details[0].TeamNumber != "T-70" {
		t.Errorf("expected oldest registration first, got %s", details[0].TeamNumber)
	}
	if details[0].ProblemTitle != "Community Skill Exchange" {
		t.Errorf("expected joined statement title, got %q", details[0].ProblemTitle)
	}
	if details[0].RegisteredAtLocal != "01 Feb 2026, 09:30 AM" {
		t.Errorf("unexpected display timestamp: %q", details[0].RegisteredAtLocal)
	}
}

func TestCheckWritable(t *testing.T) {
	dir := t.TempDir()
	if err := CheckWritable(dir); err != nil {
		t.Fatalf("CheckWritable on temp dir failed: %v", err)
	}
	// Probe file must not linger
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected probe file to be removed, found %d entries", len(entries))
	}
}
