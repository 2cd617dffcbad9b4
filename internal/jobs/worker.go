package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/denwatch/denwatch-exporter/internal/export"
)

// Worker polls the queue, claims one job at a time, and runs the export
// pipeline for it. Multiple workers may run against the same store; the
// atomic claim keeps them from ever processing the same job.
type Worker struct {
	repo         Repository
	exports      *export.Service
	logger       *slog.Logger
	pollInterval time.Duration
	running      atomic.Bool
}

func NewWorker(repo Repository, exports *export.Service, logger *slog.Logger, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 1500 * time.Millisecond
	}
	return &Worker{
		repo:         repo,
		exports:      exports,
		logger:       logger,
		pollInterval: pollInterval,
	}
}

// Start runs the poll loop until ctx is canceled. Job execution errors are
// absorbed into the retry/backoff state transition and never stop the loop.
func (w *Worker) Start(ctx context.Context) {
	if w.running.Swap(true) {
		return
	}
	defer w.running.Store(false)

	w.logger.Info("export worker started", "poll_interval", w.pollInterval)

	for {
		processed, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("export worker poll failed", "error", err)
		}
		if processed {
			continue
		}

		select {
		case <-ctx.Done():
			w.logger.Info("export worker stopping")
			return
		case <-time.After(w.pollInterval):
		}
	}
}

// IsRunning reports whether the poll loop is active.
func (w *Worker) IsRunning() bool {
	return w.running.Load()
}

// RunOnce claims and processes at most one eligible job. Returns whether a
// job was claimed. The returned error covers store access only; execution
// failures are recorded on the job.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.repo.ClaimNext(ctx, time.Now())
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	logger := w.logger.With("job_id", job.JobID, "global_track_id", job.GlobalTrackID, "mode", job.Mode)
	logger.Info("processing export job", "retry_count", job.RetryCount)

	exportID, manifestPath, videoPath, execErr := w.process(ctx, job)
	now := time.Now()

	if execErr != nil {
		updated, err := w.repo.RecordFailure(ctx, job, execErr.Error(), now)
		if err != nil {
			return true, fmt.Errorf("failed to record job failure: %w", err)
		}
		if updated != nil && updated.Status == StatusFailed {
			logger.Error("export job failed permanently", "error", execErr, "retry_count", updated.RetryCount)
		} else {
			logger.Warn("export job failed, scheduled for retry", "error", execErr)
		}
		return true, nil
	}

	if err := w.repo.Complete(ctx, job.JobID, exportID, manifestPath, videoPath, now); err != nil {
		return true, fmt.Errorf("failed to record job completion: %w", err)
	}
	logger.Info("export job done", "export_id", exportID, "rendered", videoPath != "")
	return true, nil
}

// process runs the export pipeline for one claimed job, enforcing the
// job's wall-clock budget at each step boundary.
func (w *Worker) process(ctx context.Context, job *ExportJob) (exportID, manifestPath, videoPath string, err error) {
	var (
		full        FullRequest
		highlight   HighlightRequest
		isHighlight bool
	)
	switch job.Mode {
	case export.ModeHighlights:
		highlight, err = DecodeHighlightPayload(job.PayloadJSON)
		if err != nil {
			return "", "", "", err
		}
		full = highlight.FullRequest
		isHighlight = true
	case export.ModeFull, "":
		full, err = DecodeFullPayload(job.PayloadJSON)
		if err != nil {
			return "", "", "", err
		}
	default:
		return "", "", "", fmt.Errorf("unknown export mode %q", job.Mode)
	}

	started := time.Now()
	timeout := full.TimeoutSeconds
	checkTimeout := func() error {
		if timeout > 0 && time.Since(started).Seconds() > timeout {
			return fmt.Errorf("export job timeout exceeded (%gs)", timeout)
		}
		return nil
	}

	planner := w.exports.Planner()
	excerpts, summary, err := planner.Plan(ctx, job.GlobalTrackID,
		full.PaddingSeconds, full.MergeGapSeconds, full.MinDurationSeconds)
	if err != nil {
		return "", "", "", err
	}
	if err := checkTimeout(); err != nil {
		return "", "", "", err
	}

	if isHighlight {
		excerpts = export.SelectHighlights(excerpts, highlight.TargetSeconds, highlight.PerClipSeconds)
		summary.Mode = export.ModeHighlights
		summary.TargetSeconds = highlight.TargetSeconds
		summary.PerClipSeconds = highlight.PerClipSeconds
		summary.HighlightExcerptCount = len(excerpts)
	}
	if err := checkTimeout(); err != nil {
		return "", "", "", err
	}

	if len(excerpts) == 0 {
		return "", "", "", export.ErrNoExcerpts
	}

	exportID, manifestPath, err = w.exports.Store().Save(job.GlobalTrackID, summary, excerpts)
	if err != nil {
		return "", "", "", err
	}

	if full.RenderVideo {
		var renderTimeout time.Duration
		if timeout > 0 {
			remaining := timeout - time.Since(started).Seconds()
			if remaining < 0.1 {
				remaining = 0.1
			}
			renderTimeout = time.Duration(remaining * float64(time.Second))
		}
		videoPath, err = w.exports.Renderer().Render(ctx, exportID, excerpts, renderTimeout)
		if err != nil {
			// Job-path render failures are job failures, unlike the
			// synchronous path where the manifest survives as a
			// partial success.
			return "", "", "", err
		}
	}

	return exportID, manifestPath, videoPath, nil
}
