package media

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func serveTestFile(t *testing.T, rangeHeader, downloadName string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	content := "0123456789abcdefghij"
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	srv := NewServer(slog.New(slog.NewTextHandler(io.Discard, nil)))
	req := httptest.NewRequest(http.MethodGet, "/file", nil)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	rec := httptest.NewRecorder()
	if err := srv.ServeFile(rec, req, path, downloadName); err != nil {
		t.Fatalf("ServeFile: %v", err)
	}
	return rec, content
}

func TestServeFile_Whole(t *testing.T) {
	rec, content := serveTestFile(t, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != content {
		t.Errorf("body = %q", rec.Body.String())
	}
	if rec.Header().Get("Accept-Ranges") != "bytes" {
		t.Error("Accept-Ranges not advertised")
	}
	if rec.Header().Get("Content-Disposition") != "" {
		t.Error("unexpected Content-Disposition without download name")
	}
}

func TestServeFile_Range(t *testing.T) {
	rec, content := serveTestFile(t, "bytes=5-9", "")
	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", rec.Code)
	}
	if rec.Body.String() != content[5:10] {
		t.Errorf("body = %q, want %q", rec.Body.String(), content[5:10])
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 5-9/20" {
		t.Errorf("Content-Range = %q", got)
	}
}

func TestServeFile_UnsatisfiableRange(t *testing.T) {
	rec, _ := serveTestFile(t, "bytes=100-", "")
	if rec.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("status = %d, want 416", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes */20" {
		t.Errorf("Content-Range = %q", got)
	}
}

func TestServeFile_DownloadName(t *testing.T) {
	rec, _ := serveTestFile(t, "", "export.mp4")
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="export.mp4"` {
		t.Errorf("Content-Disposition = %q", got)
	}
}

func TestServeFile_Missing(t *testing.T) {
	srv := NewServer(slog.New(slog.NewTextHandler(io.Discard, nil)))
	req := httptest.NewRequest(http.MethodGet, "/file", nil)
	rec := httptest.NewRecorder()
	if err := srv.ServeFile(rec, req, "/nonexistent/clip.mp4", ""); err != nil {
		t.Fatalf("ServeFile: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
