package history

import (
	"path/filepath"
	"testing"
	"time"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunRoundTrip(t *testing.T) {
	s := openTemp(t)

	if err := s.CreateRun("run-1", "public", "public", "", 2, false); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := s.RecordTable("run-1", "events", ActionPlanned, "", 1500*time.Millisecond); err != nil {
		t.Fatalf("RecordTable: %v", err)
	}
	if err := s.RecordTable("run-1", "dim_users", ActionSkipped, "", 200*time.Millisecond); err != nil {
		t.Fatalf("RecordTable: %v", err)
	}
	if err := s.CompleteRun("run-1", "success", ""); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}

	runs, err := s.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}

	run := runs[0]
	if run.ID != "run-1" || run.Schema != "public" || run.Workers != 2 {
		t.Errorf("unexpected run: %+v", run)
	}
	if run.Status != "success" {
		t.Errorf("status = %q", run.Status)
	}
	if run.CompletedAt == nil {
		t.Error("completed run should have a completion time")
	}

	tables, err := s.RunTables("run-1")
	if err != nil {
		t.Fatalf("RunTables: %v", err)
	}
	if len(tables) != 2 {
		t.Fatalf("expected 2 table records, got %d", len(tables))
	}
	if tables[0].Table != "events" || tables[0].Action != ActionPlanned {
		t.Errorf("unexpected first record: %+v", tables[0])
	}
	if tables[0].Duration != 1500*time.Millisecond {
		t.Errorf("duration = %v", tables[0].Duration)
	}
}

func TestFailedTableCarriesError(t *testing.T) {
	s := openTemp(t)

	if err := s.CreateRun("run-2", "public", "public", "events", 1, true); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordTable("run-2", "events", ActionFailed, "disk full", time.Second); err != nil {
		t.Fatal(err)
	}

	tables, err := s.RunTables("run-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(tables) != 1 || tables[0].Error != "disk full" {
		t.Errorf("unexpected records: %+v", tables)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	s := openTemp(t)

	if err := s.CreateRun("run-a", "public", "public", "", 2, false); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := s.CreateRun("run-b", "public", "public", "", 2, false); err != nil {
		t.Fatal(err)
	}

	runs, err := s.ListRuns()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "run-b" {
		t.Errorf("expected newest run first, got %q", runs[0].ID)
	}
}
