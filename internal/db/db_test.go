package db

import (
	"path/filepath"
	"testing"
	"time"
)

func TestNewCreatesSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "data", "test.db")

	database, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer database.Close()

	for _, table := range []string{"config", "cameras", "tracks", "associations", "media_segments", "export_jobs"} {
		var name string
		err := database.Conn().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	first, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("first New: %v", err)
	}
	first.Close()

	// Reopening must not re-run applied migrations.
	second, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("second New: %v", err)
	}
	defer second.Close()

	var count int
	if err := second.Conn().QueryRow("SELECT COUNT(*) FROM _migrations").Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count == 0 {
		t.Error("no migrations recorded")
	}
}

func TestRequeueInterruptedJobs(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	database, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	now := FormatTime(time.Now())
	_, err = database.Conn().Exec(`
		INSERT INTO export_jobs (job_id, global_track_id, mode, status, payload_json,
			retry_count, max_retries, started_at, created_at)
		VALUES ('j1', 'gt-1', 'full', 'running', '{}', 1, 3, ?, ?),
		       ('j2', 'gt-2', 'full', 'done', '{}', 0, 3, ?, ?)
	`, now, now, now, now)
	if err != nil {
		t.Fatalf("seed jobs: %v", err)
	}
	database.Close()

	// A restart requeues the interrupted job without touching its retry
	// accounting, and leaves terminal jobs alone.
	reopened, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	var status string
	var retryCount int
	var startedAt any
	err = reopened.Conn().QueryRow(
		"SELECT status, retry_count, started_at FROM export_jobs WHERE job_id = 'j1'").
		Scan(&status, &retryCount, &startedAt)
	if err != nil {
		t.Fatalf("query j1: %v", err)
	}
	if status != "pending" {
		t.Errorf("interrupted job status = %q, want pending", status)
	}
	if retryCount != 1 {
		t.Errorf("retry count changed to %d", retryCount)
	}
	if startedAt != nil {
		t.Errorf("started_at not cleared: %v", startedAt)
	}

	if err := reopened.Conn().QueryRow(
		"SELECT status FROM export_jobs WHERE job_id = 'j2'").Scan(&status); err != nil {
		t.Fatalf("query j2: %v", err)
	}
	if status != "done" {
		t.Errorf("done job status = %q after restart", status)
	}
}

func TestTimeRoundTrip(t *testing.T) {
	orig := time.Date(2025, 6, 1, 10, 30, 45, 123_000_000, time.UTC)

	s := FormatTime(orig)
	if s != "2025-06-01T10:30:45.123Z" {
		t.Errorf("FormatTime = %q", s)
	}
	parsed := ParseTime(s)
	if !parsed.Equal(orig) {
		t.Errorf("ParseTime(FormatTime(t)) = %v, want %v", parsed, orig)
	}

	// RFC3339 fallback for rows written by other tooling.
	fallback := ParseTime("2025-06-01T10:30:45Z")
	if fallback.IsZero() {
		t.Error("RFC3339 fallback failed")
	}
}

func TestTimeFormatOrdering(t *testing.T) {
	// The stored format is fixed width, so string comparison must match
	// chronological comparison. The scheduler relies on this in SQL.
	times := []time.Time{
		time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		time.Date(2025, 1, 2, 3, 4, 5, 999_000_000, time.UTC),
		time.Date(2025, 1, 2, 3, 4, 6, 0, time.UTC),
		time.Date(2025, 11, 30, 23, 59, 59, 0, time.UTC),
	}
	for i := 1; i < len(times); i++ {
		a, b := FormatTime(times[i-1]), FormatTime(times[i])
		if !(a < b) {
			t.Errorf("ordering broken: %q >= %q", a, b)
		}
	}
}
