package api

import (
	"time"

	"github.com/denwatch/denwatch-exporter/internal/export"
	"github.com/denwatch/denwatch-exporter/internal/jobs"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State       string         `json:"state"`
	JobCounts   map[string]int `json:"job_counts"`
	JobsRunning int            `json:"jobs_running"`
}

// ExportTrackRequest carries the parameters for a synchronous full export.
// Defaults match DefaultExportTrackRequest.
type ExportTrackRequest struct {
	PaddingSeconds     float64 `json:"padding_seconds"`
	MergeGapSeconds    float64 `json:"merge_gap_seconds"`
	MinDurationSeconds float64 `json:"min_duration_seconds"`
	RenderVideo        bool    `json:"render_video"`
}

func DefaultExportTrackRequest() ExportTrackRequest {
	return ExportTrackRequest{
		PaddingSeconds:     3.0,
		MergeGapSeconds:    0.2,
		MinDurationSeconds: 0.3,
		RenderVideo:        false,
	}
}

// HighlightTrackRequest carries the parameters for a synchronous highlight
// export.
type HighlightTrackRequest struct {
	PaddingSeconds     float64 `json:"padding_seconds"`
	TargetSeconds      float64 `json:"target_seconds"`
	PerClipSeconds     float64 `json:"per_clip_seconds"`
	MergeGapSeconds    float64 `json:"merge_gap_seconds"`
	MinDurationSeconds float64 `json:"min_duration_seconds"`
}

func DefaultHighlightTrackRequest() HighlightTrackRequest {
	return HighlightTrackRequest{
		PaddingSeconds:     2.0,
		TargetSeconds:      30.0,
		PerClipSeconds:     4.0,
		MergeGapSeconds:    0.2,
		MinDurationSeconds: 0.3,
	}
}

// CreateJobRequest enqueues an asynchronous export job.
type CreateJobRequest struct {
	Mode               string  `json:"mode"`
	PaddingSeconds     float64 `json:"padding_seconds"`
	MergeGapSeconds    float64 `json:"merge_gap_seconds"`
	MinDurationSeconds float64 `json:"min_duration_seconds"`
	RenderVideo        bool    `json:"render_video"`
	TargetSeconds      float64 `json:"target_seconds"`
	PerClipSeconds     float64 `json:"per_clip_seconds"`
	TimeoutSeconds     float64 `json:"timeout_seconds"`
	MaxRetries         int     `json:"max_retries"`
	Dedupe             bool    `json:"dedupe"`
}

func DefaultCreateJobRequest() CreateJobRequest {
	return CreateJobRequest{
		Mode:               export.ModeFull,
		PaddingSeconds:     3.0,
		MergeGapSeconds:    0.2,
		MinDurationSeconds: 0.3,
		RenderVideo:        true,
		TargetSeconds:      30.0,
		PerClipSeconds:     4.0,
		TimeoutSeconds:     600.0,
		MaxRetries:         3,
		Dedupe:             true,
	}
}

type ExportResponse struct {
	ExportID      string         `json:"export_id"`
	GlobalTrackID string         `json:"global_track_id"`
	Summary       export.Summary `json:"summary"`
	ManifestPath  string         `json:"manifest_path"`
	VideoPath     string         `json:"video_path,omitempty"`
	RenderError   string         `json:"render_error,omitempty"`
}

type JobResponse struct {
	JobID         string `json:"job_id"`
	GlobalTrackID string `json:"global_track_id"`
	Mode          string `json:"mode"`
	Status        string `json:"status"`
	RetryCount    int    `json:"retry_count"`
	MaxRetries    int    `json:"max_retries"`
	NextRunAt     string `json:"next_run_at,omitempty"`
	CanceledAt    string `json:"canceled_at,omitempty"`
	ExportID      string `json:"export_id,omitempty"`
	ManifestPath  string `json:"manifest_path,omitempty"`
	VideoPath     string `json:"video_path,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
	CreatedAt     string `json:"created_at"`
	StartedAt     string `json:"started_at,omitempty"`
	FinishedAt    string `json:"finished_at,omitempty"`
}

type GetExportResponse struct {
	ExportID     string           `json:"export_id"`
	ManifestPath string           `json:"manifest_path,omitempty"`
	VideoPath    string           `json:"video_path,omitempty"`
	Manifest     *export.Manifest `json:"manifest,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func ResultToResponse(res *export.Result) ExportResponse {
	return ExportResponse{
		ExportID:      res.ExportID,
		GlobalTrackID: res.GlobalTrackID,
		Summary:       res.Summary,
		ManifestPath:  res.ManifestPath,
		VideoPath:     res.VideoPath,
		RenderError:   res.RenderErr,
	}
}

func JobToResponse(j *jobs.ExportJob) JobResponse {
	return JobResponse{
		JobID:         j.JobID,
		GlobalTrackID: j.GlobalTrackID,
		Mode:          j.Mode,
		Status:        j.Status,
		RetryCount:    j.RetryCount,
		MaxRetries:    j.MaxRetries,
		NextRunAt:     formatOptional(j.NextRunAt),
		CanceledAt:    formatOptional(j.CanceledAt),
		ExportID:      j.ExportID,
		ManifestPath:  j.ManifestPath,
		VideoPath:     j.VideoPath,
		ErrorMessage:  j.ErrorMessage,
		CreatedAt:     j.CreatedAt.Format(time.RFC3339),
		StartedAt:     formatOptional(j.StartedAt),
		FinishedAt:    formatOptional(j.FinishedAt),
	}
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
