// Package jobs implements the durable export job queue: job rows in SQLite,
// atomic single-consumer claiming, and the polling worker that executes
// exports with retry, backoff, timeout, and cancellation semantics.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/denwatch/denwatch-exporter/internal/export"
)

// Job statuses. Terminal states are done, failed, and canceled; only an
// explicit retry moves a terminal job back to pending.
const (
	StatusPending  = "pending"
	StatusRunning  = "running"
	StatusDone     = "done"
	StatusFailed   = "failed"
	StatusCanceled = "canceled"
)

const maxBackoffSeconds = 300

// ExportJob is one queued unit of asynchronous export work.
type ExportJob struct {
	JobID         string     `json:"job_id"`
	GlobalTrackID string     `json:"global_track_id"`
	Mode          string     `json:"mode"`
	Status        string     `json:"status"`
	PayloadJSON   string     `json:"payload_json"`
	RetryCount    int        `json:"retry_count"`
	MaxRetries    int        `json:"max_retries"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	CanceledAt    *time.Time `json:"canceled_at,omitempty"`
	ExportID      string     `json:"export_id,omitempty"`
	ManifestPath  string     `json:"manifest_path,omitempty"`
	VideoPath     string     `json:"video_path,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// IsTerminal reports whether the job is in a terminal state.
func (j *ExportJob) IsTerminal() bool {
	return j.Status == StatusDone || j.Status == StatusFailed || j.Status == StatusCanceled
}

func NewJobID() string {
	return uuid.NewString()
}

// FullRequest carries the planning and rendering parameters of a full
// export job.
type FullRequest struct {
	PaddingSeconds     float64 `json:"padding_seconds"`
	MergeGapSeconds    float64 `json:"merge_gap_seconds"`
	MinDurationSeconds float64 `json:"min_duration_seconds"`
	RenderVideo        bool    `json:"render_video"`
	TimeoutSeconds     float64 `json:"timeout_seconds"`
}

// HighlightRequest extends FullRequest with the highlight-reel knobs.
type HighlightRequest struct {
	FullRequest
	TargetSeconds  float64 `json:"target_seconds"`
	PerClipSeconds float64 `json:"per_clip_seconds"`
}

// EncodeFullPayload serializes a full-export request. Field order is fixed
// by the struct, so identical requests encode to identical payloads, which
// is what enqueue deduplication compares.
func EncodeFullPayload(req FullRequest) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// EncodeHighlightPayload serializes a highlight-export request.
func EncodeHighlightPayload(req HighlightRequest) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeFullPayload parses and validates a stored full-export payload.
// Stored JSON is never trusted to have the right shape.
func DecodeFullPayload(payload string) (FullRequest, error) {
	var req FullRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return FullRequest{}, fmt.Errorf("invalid job payload: %w", err)
	}
	if req.TimeoutSeconds < 0 {
		return FullRequest{}, fmt.Errorf("invalid job payload: timeout_seconds must be >= 0")
	}
	return req, nil
}

// DecodeHighlightPayload parses and validates a stored highlight payload.
func DecodeHighlightPayload(payload string) (HighlightRequest, error) {
	var req HighlightRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return HighlightRequest{}, fmt.Errorf("invalid job payload: %w", err)
	}
	if req.TimeoutSeconds < 0 {
		return HighlightRequest{}, fmt.Errorf("invalid job payload: timeout_seconds must be >= 0")
	}
	return req, nil
}

// ValidMode reports whether mode is a known export mode.
func ValidMode(mode string) bool {
	return mode == export.ModeFull || mode == export.ModeHighlights
}

// backoffSeconds returns the retry delay after the given failure count:
// 1s, 2s, 4s, ... capped at 5 minutes.
func backoffSeconds(retryCount int) int {
	if retryCount < 1 {
		retryCount = 1
	}
	backoff := 1
	for i := 1; i < retryCount; i++ {
		backoff *= 2
		if backoff >= maxBackoffSeconds {
			return maxBackoffSeconds
		}
	}
	return backoff
}
