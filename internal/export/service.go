package export

import (
	"context"
	"log/slog"
	"time"
)

// ExportParams are the planning and rendering knobs for a full export.
type ExportParams struct {
	PaddingSeconds     float64
	MergeGapSeconds    float64
	MinDurationSeconds float64
	RenderVideo        bool
	RenderTimeout      time.Duration
}

// HighlightParams are the knobs for a highlight-reel export.
type HighlightParams struct {
	PaddingSeconds     float64
	MergeGapSeconds    float64
	MinDurationSeconds float64
	TargetSeconds      float64
	PerClipSeconds     float64
	RenderTimeout      time.Duration
}

// Result is the outcome of a synchronous export. RenderErr carries a render
// failure that did not invalidate the manifest (partial success).
type Result struct {
	ExportID      string
	GlobalTrackID string
	Summary       Summary
	ManifestPath  string
	VideoPath     string
	RenderErr     string
}

// Service orchestrates the synchronous export pipeline: plan, optionally
// select highlights, persist the manifest, optionally render.
type Service struct {
	planner  *Planner
	store    *ManifestStore
	renderer *Renderer
	logger   *slog.Logger
}

func NewService(planner *Planner, store *ManifestStore, renderer *Renderer, logger *slog.Logger) *Service {
	return &Service{planner: planner, store: store, renderer: renderer, logger: logger}
}

func (s *Service) Planner() *Planner     { return s.planner }
func (s *Service) Store() *ManifestStore { return s.store }
func (s *Service) Renderer() *Renderer   { return s.renderer }

// Export plans a full export and writes its manifest. Rendering failures are
// reported in Result.RenderErr rather than failing the request; the manifest
// has already been written at that point.
func (s *Service) Export(ctx context.Context, globalTrackID string, params ExportParams) (*Result, error) {
	excerpts, summary, err := s.planner.Plan(ctx, globalTrackID,
		params.PaddingSeconds, params.MergeGapSeconds, params.MinDurationSeconds)
	if err != nil {
		return nil, err
	}

	exportID, manifestPath, err := s.store.Save(globalTrackID, summary, excerpts)
	if err != nil {
		return nil, err
	}

	result := &Result{
		ExportID:      exportID,
		GlobalTrackID: globalTrackID,
		Summary:       summary,
		ManifestPath:  manifestPath,
	}

	if params.RenderVideo {
		videoPath, err := s.renderer.Render(ctx, exportID, excerpts, params.RenderTimeout)
		if err != nil {
			result.RenderErr = err.Error()
			if s.logger != nil {
				s.logger.Warn("export render failed", "export_id", exportID, "error", err)
			}
		} else {
			result.VideoPath = videoPath
		}
	}

	if s.logger != nil {
		s.logger.Info("export completed",
			"export_id", exportID,
			"global_track_id", globalTrackID,
			"excerpts", summary.ExcerptCount,
			"rendered", result.VideoPath != "",
		)
	}
	return result, nil
}

// ExportHighlights plans, selects a bounded highlight reel, writes its
// manifest, and renders. Returns ErrNoExcerpts when selection is empty.
func (s *Service) ExportHighlights(ctx context.Context, globalTrackID string, params HighlightParams) (*Result, error) {
	excerpts, summary, err := s.planner.Plan(ctx, globalTrackID,
		params.PaddingSeconds, params.MergeGapSeconds, params.MinDurationSeconds)
	if err != nil {
		return nil, err
	}

	highlights := SelectHighlights(excerpts, params.TargetSeconds, params.PerClipSeconds)
	if len(highlights) == 0 {
		return nil, ErrNoExcerpts
	}

	summary.Mode = ModeHighlights
	summary.TargetSeconds = params.TargetSeconds
	summary.PerClipSeconds = params.PerClipSeconds
	summary.HighlightExcerptCount = len(highlights)

	exportID, manifestPath, err := s.store.Save(globalTrackID, summary, highlights)
	if err != nil {
		return nil, err
	}

	result := &Result{
		ExportID:      exportID,
		GlobalTrackID: globalTrackID,
		Summary:       summary,
		ManifestPath:  manifestPath,
	}

	videoPath, err := s.renderer.Render(ctx, exportID, highlights, params.RenderTimeout)
	if err != nil {
		result.RenderErr = err.Error()
		if s.logger != nil {
			s.logger.Warn("highlight render failed", "export_id", exportID, "error", err)
		}
	} else {
		result.VideoPath = videoPath
	}

	if s.logger != nil {
		s.logger.Info("highlight export completed",
			"export_id", exportID,
			"global_track_id", globalTrackID,
			"highlights", len(highlights),
			"rendered", result.VideoPath != "",
		)
	}
	return result, nil
}

// Export modes.
const (
	ModeFull       = "full"
	ModeHighlights = "highlights"
)
