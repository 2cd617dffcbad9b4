package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/denwatch/denwatch-exporter/internal/db"
	"github.com/denwatch/denwatch-exporter/internal/export"
	"github.com/denwatch/denwatch-exporter/internal/jobs"
	"github.com/denwatch/denwatch-exporter/internal/media"
	"github.com/denwatch/denwatch-exporter/internal/tracking"
)

const testToken = "test-token-123"

type apiFixture struct {
	router   http.Handler
	tracking tracking.Repository
	jobs     jobs.Repository
	store    *export.ManifestStore
	srcPath  string
}

func setupAPI(t *testing.T) *apiFixture {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	database, err := db.New(dbPath, nil)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	trackRepo := tracking.NewRepository(database.Conn())
	jobRepo := jobs.NewRepository(database.Conn())
	if err := trackRepo.SetConfig(context.Background(), "auth_token", testToken); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	if err := trackRepo.CreateCamera(context.Background(), &tracking.Camera{
		CameraID:  "cam-1",
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("CreateCamera: %v", err)
	}

	store, err := export.NewManifestStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewManifestStore: %v", err)
	}

	src := filepath.Join(t.TempDir(), "seg.mp4")
	if err := os.WriteFile(src, []byte("source"), 0644); err != nil {
		t.Fatalf("failed to write source: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	planner := export.NewPlanner(trackRepo, logger)
	renderer := export.NewRenderer("/nonexistent/ffmpeg", store, logger)
	svc := export.NewService(planner, store, renderer, logger)

	router := NewRouter(ServerConfig{
		Exports:   svc,
		Jobs:      jobRepo,
		Store:     store,
		Media:     media.NewServer(logger),
		Tracking:  trackRepo,
		Logger:    logger,
		StartTime: time.Now(),
		Version:   "test",
	})

	return &apiFixture{
		router:   router,
		tracking: trackRepo,
		jobs:     jobRepo,
		store:    store,
		srcPath:  src,
	}
}

func (f *apiFixture) seedTrack(t *testing.T, globalID string) {
	t.Helper()
	ctx := context.Background()
	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(20 * time.Second)

	trackID := tracking.NewID()
	if err := f.tracking.CreateTrack(ctx, &tracking.Track{
		TrackID: trackID, CameraID: "cam-1", StartTS: start, EndTS: &end,
	}); err != nil {
		t.Fatalf("CreateTrack: %v", err)
	}
	if err := f.tracking.CreateAssociation(ctx, &tracking.Association{
		AssociationID: tracking.NewID(),
		GlobalTrackID: globalID,
		TrackID:       trackID,
		Confidence:    0.9,
		CreatedAt:     start,
	}); err != nil {
		t.Fatalf("CreateAssociation: %v", err)
	}

	segEnd := start.Add(40 * time.Second)
	if err := f.tracking.CreateSegment(ctx, &tracking.MediaSegment{
		SegmentID: tracking.NewID(),
		CameraID:  "cam-1",
		StartTS:   start.Add(-30 * time.Second),
		EndTS:     &segEnd,
		Path:      f.srcPath,
	}); err != nil {
		t.Fatalf("CreateSegment: %v", err)
	}
}

func (f *apiFixture) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeResponse[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealthNoAuth(t *testing.T) {
	f := setupAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decodeResponse[HealthResponse](t, rec)
	if resp.Status != "ok" {
		t.Errorf("health status = %q", resp.Status)
	}
}

func TestAuthRequired(t *testing.T) {
	f := setupAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no header: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	f := setupAPI(t)

	rec := f.request(t, http.MethodGet, "/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decodeResponse[StatusResponse](t, rec)
	if resp.State != "idle" {
		t.Errorf("state = %q, want idle", resp.State)
	}
}

func TestExportTrack(t *testing.T) {
	f := setupAPI(t)
	f.seedTrack(t, "gt-1")

	rec := f.request(t, http.MethodPost, "/exports/global-track/gt-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse[ExportResponse](t, rec)
	if resp.ExportID == "" {
		t.Error("no export id in response")
	}
	if resp.Summary.ExcerptCount != 1 {
		t.Errorf("excerpt count = %d, want 1", resp.Summary.ExcerptCount)
	}
	// Defaults applied on empty body.
	if resp.Summary.PaddingSeconds != 3.0 {
		t.Errorf("padding = %v, want default 3.0", resp.Summary.PaddingSeconds)
	}
}

func TestExportTrackNotFound(t *testing.T) {
	f := setupAPI(t)

	rec := f.request(t, http.MethodPost, "/exports/global-track/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestExportHighlightsNotFound(t *testing.T) {
	f := setupAPI(t)

	rec := f.request(t, http.MethodPost, "/exports/global-track/nope/highlights", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestCreateJobAndGet(t *testing.T) {
	f := setupAPI(t)

	rec := f.request(t, http.MethodPost, "/exports/global-track/gt-1/jobs",
		map[string]any{"render_video": false})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	created := decodeResponse[JobResponse](t, rec)
	if created.Status != jobs.StatusPending {
		t.Errorf("status = %q, want pending", created.Status)
	}
	if created.Mode != export.ModeFull {
		t.Errorf("mode = %q, want full (default)", created.Mode)
	}
	if created.MaxRetries != 3 {
		t.Errorf("max retries = %d, want default 3", created.MaxRetries)
	}

	rec = f.request(t, http.MethodGet, "/exports/jobs/"+created.JobID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get job status = %d", rec.Code)
	}
	got := decodeResponse[JobResponse](t, rec)
	if got.JobID != created.JobID {
		t.Errorf("job id = %q, want %q", got.JobID, created.JobID)
	}
}

func TestCreateJobDedupe(t *testing.T) {
	f := setupAPI(t)

	body := map[string]any{"render_video": false}
	first := f.request(t, http.MethodPost, "/exports/global-track/gt-1/jobs", body)
	if first.Code != http.StatusCreated {
		t.Fatalf("first status = %d", first.Code)
	}
	firstJob := decodeResponse[JobResponse](t, first)

	// An identical enqueue returns the existing job with 200.
	second := f.request(t, http.MethodPost, "/exports/global-track/gt-1/jobs", body)
	if second.Code != http.StatusOK {
		t.Fatalf("duplicate status = %d, want 200", second.Code)
	}
	secondJob := decodeResponse[JobResponse](t, second)
	if secondJob.JobID != firstJob.JobID {
		t.Errorf("duplicate created new job %q, want %q", secondJob.JobID, firstJob.JobID)
	}

	// Different parameters enqueue a fresh job.
	third := f.request(t, http.MethodPost, "/exports/global-track/gt-1/jobs",
		map[string]any{"render_video": false, "padding_seconds": 10})
	if third.Code != http.StatusCreated {
		t.Fatalf("distinct status = %d, want 201", third.Code)
	}

	// Dedupe can be opted out of.
	fourth := f.request(t, http.MethodPost, "/exports/global-track/gt-1/jobs",
		map[string]any{"render_video": false, "dedupe": false})
	if fourth.Code != http.StatusCreated {
		t.Fatalf("dedupe=false status = %d, want 201", fourth.Code)
	}
}

func TestCreateJobValidation(t *testing.T) {
	f := setupAPI(t)

	rec := f.request(t, http.MethodPost, "/exports/global-track/gt-1/jobs",
		map[string]any{"mode": "montage"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad mode status = %d, want 400", rec.Code)
	}

	rec = f.request(t, http.MethodPost, "/exports/global-track/gt-1/jobs",
		map[string]any{"max_retries": -1})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("negative retries status = %d, want 400", rec.Code)
	}
}

func TestCancelAndRetryJob(t *testing.T) {
	f := setupAPI(t)

	rec := f.request(t, http.MethodPost, "/exports/global-track/gt-1/jobs", nil)
	created := decodeResponse[JobResponse](t, rec)

	rec = f.request(t, http.MethodPost, "/exports/jobs/"+created.JobID+"/cancel", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d", rec.Code)
	}
	canceled := decodeResponse[JobResponse](t, rec)
	if canceled.Status != jobs.StatusCanceled {
		t.Errorf("status after cancel = %q", canceled.Status)
	}

	rec = f.request(t, http.MethodPost, "/exports/jobs/"+created.JobID+"/retry", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("retry status = %d", rec.Code)
	}
	retried := decodeResponse[JobResponse](t, rec)
	if retried.Status != jobs.StatusPending {
		t.Errorf("status after retry = %q", retried.Status)
	}
	if retried.RetryCount != 0 {
		t.Errorf("retry count = %d, want 0", retried.RetryCount)
	}

	// Retrying a pending job is rejected.
	rec = f.request(t, http.MethodPost, "/exports/jobs/"+created.JobID+"/retry", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("retry of pending job status = %d, want 400", rec.Code)
	}
}

func TestJobNotFound(t *testing.T) {
	f := setupAPI(t)

	for _, path := range []string{
		"/exports/jobs/no-such-job",
	} {
		rec := f.request(t, http.MethodGet, path, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", path, rec.Code)
		}
	}
	rec := f.request(t, http.MethodPost, "/exports/jobs/no-such-job/cancel", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("cancel status = %d, want 404", rec.Code)
	}
}

func TestListJobs(t *testing.T) {
	f := setupAPI(t)

	f.request(t, http.MethodPost, "/exports/global-track/gt-1/jobs", nil)
	f.request(t, http.MethodPost, "/exports/global-track/gt-2/jobs", nil)

	rec := f.request(t, http.MethodGet, "/exports/jobs", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	list := decodeResponse[[]JobResponse](t, rec)
	if len(list) != 2 {
		t.Errorf("got %d jobs, want 2", len(list))
	}
}

func TestGetExport(t *testing.T) {
	f := setupAPI(t)
	f.seedTrack(t, "gt-1")

	rec := f.request(t, http.MethodPost, "/exports/global-track/gt-1", nil)
	exported := decodeResponse[ExportResponse](t, rec)

	rec = f.request(t, http.MethodGet, "/exports/"+exported.ExportID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get export status = %d", rec.Code)
	}
	resp := decodeResponse[GetExportResponse](t, rec)
	if resp.Manifest == nil {
		t.Fatal("manifest not inlined in response")
	}
	if resp.Manifest.GlobalTrackID != "gt-1" {
		t.Errorf("manifest global track = %q", resp.Manifest.GlobalTrackID)
	}
}

func TestGetExportNotFound(t *testing.T) {
	f := setupAPI(t)

	rec := f.request(t, http.MethodGet, "/exports/no-such-export", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestDownloadManifest(t *testing.T) {
	f := setupAPI(t)
	f.seedTrack(t, "gt-1")

	rec := f.request(t, http.MethodPost, "/exports/global-track/gt-1", nil)
	exported := decodeResponse[ExportResponse](t, rec)

	rec = f.request(t, http.MethodGet, "/exports/"+exported.ExportID+"?download=manifest", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("download status = %d", rec.Code)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd == "" {
		t.Error("no Content-Disposition on download")
	}
	var m export.Manifest
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("downloaded manifest not valid JSON: %v", err)
	}
	if m.ExportID != exported.ExportID {
		t.Errorf("downloaded manifest id = %q", m.ExportID)
	}

	rec = f.request(t, http.MethodGet, "/exports/"+exported.ExportID+"?download=banana", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad download kind status = %d, want 400", rec.Code)
	}

	// No rendered video exists for this export.
	rec = f.request(t, http.MethodGet, "/exports/"+exported.ExportID+"?download=video", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing video download status = %d, want 404", rec.Code)
	}
}
