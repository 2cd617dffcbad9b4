package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const maxStderrBytes = 8 * 1024 // tail of ffmpeg stderr kept for diagnostics

// Renderer cuts each excerpt from its source segment with ffmpeg and
// concatenates the parts into one output video named after the export
// identifier.
type Renderer struct {
	ffmpegBin string
	store     *ManifestStore
	logger    *slog.Logger
}

func NewRenderer(ffmpegBin string, store *ManifestStore, logger *slog.Logger) *Renderer {
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	return &Renderer{ffmpegBin: ffmpegBin, store: store, logger: logger}
}

// Render produces <videos>/<exportID>.mp4 from the excerpt list. Each ffmpeg
// invocation is bounded by timeout when timeout > 0. Excerpts whose source
// file is missing are skipped; if nothing remains a RenderError is returned.
// The per-part working directory is removed on every exit path.
func (r *Renderer) Render(ctx context.Context, exportID string, excerpts []Excerpt, timeout time.Duration) (string, error) {
	workDir := filepath.Join(r.store.VideosDir(), exportID+"_parts")
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create render workspace: %w", err)
	}
	defer os.RemoveAll(workDir)

	var parts []string
	for idx, excerpt := range excerpts {
		if _, err := os.Stat(excerpt.SegmentPath); err != nil {
			if r.logger != nil {
				r.logger.Warn("skipping excerpt with missing source",
					"export_id", exportID, "path", excerpt.SegmentPath)
			}
			continue
		}

		part := filepath.Join(workDir, fmt.Sprintf("part_%04d.mp4", idx))
		args := cutArgs(excerpt, part)
		if err := r.run(ctx, args, timeout); err != nil {
			return "", err
		}
		parts = append(parts, part)
	}

	if len(parts) == 0 {
		return "", &RenderError{Stderr: "no valid source files"}
	}

	listPath := filepath.Join(workDir, "concat.txt")
	var list strings.Builder
	for _, p := range parts {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		fmt.Fprintf(&list, "file '%s'\n", abs)
	}
	if err := os.WriteFile(listPath, []byte(list.String()), 0644); err != nil {
		return "", fmt.Errorf("failed to write concat list: %w", err)
	}

	output := r.store.VideoPath(exportID)
	if err := r.run(ctx, concatArgs(listPath, output), timeout); err != nil {
		return "", err
	}
	return output, nil
}

// cutArgs builds the ffmpeg arguments for one excerpt: seek to the source
// offset, cut the excerpt duration, drop audio, re-encode with a fast
// preset.
func cutArgs(e Excerpt, outPath string) []string {
	return []string{
		"-y",
		"-ss", fmt.Sprintf("%.3f", e.OffsetSec),
		"-i", e.SegmentPath,
		"-t", fmt.Sprintf("%.3f", e.DurationSec),
		"-an",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "24",
		outPath,
	}
}

// concatArgs builds the lossless concat-demuxer arguments.
func concatArgs(listPath, outPath string) []string {
	return []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		outPath,
	}
}

func (r *Renderer) run(ctx context.Context, args []string, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.ffmpegBin, args...)

	var stderrBuf bytes.Buffer
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderrBuf, limit: maxStderrBytes})
	cmd.Stdout = io.Discard

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("ffmpeg timeout exceeded after %s: %w", elapsed.Round(time.Millisecond), context.DeadlineExceeded)
		}
		tail := strings.TrimSpace(stderrBuf.String())
		if r.logger != nil {
			r.logger.Warn("ffmpeg invocation failed",
				"duration_ms", elapsed.Milliseconds(),
				"stderr_tail", truncate(tail, 512),
			)
		}
		return &RenderError{Stderr: tail}
	}

	if r.logger != nil {
		r.logger.Debug("ffmpeg invocation succeeded", "duration_ms", elapsed.Milliseconds())
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter keeps only the last `limit` bytes written.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if _, err := lw.w.Write(p); err != nil {
		return 0, err
	}
	if lw.w.Len() > lw.limit {
		excess := lw.w.Len() - lw.limit
		lw.w.Next(excess)
	}
	return n, nil
}
