package export

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/denwatch/denwatch-exporter/internal/tracking"
)

// Planner computes the excerpt plan for a global track identity from the
// tracking store.
type Planner struct {
	repo   tracking.Repository
	logger *slog.Logger
}

func NewPlanner(repo tracking.Repository, logger *slog.Logger) *Planner {
	return &Planner{repo: repo, logger: logger}
}

// Plan fetches every association for the global track, pads each closed
// track's window, intersects the windows with overlapping media segments,
// and merges the resulting excerpts. Returns ErrNotFound when the identity
// has no associations at all.
func (p *Planner) Plan(ctx context.Context, globalTrackID string, paddingSeconds, mergeGapSeconds, minDurationSeconds float64) ([]Excerpt, Summary, error) {
	associations, err := p.repo.AssociationsByGlobalTrack(ctx, globalTrackID)
	if err != nil {
		return nil, Summary{}, fmt.Errorf("failed to load associations: %w", err)
	}
	if len(associations) == 0 {
		return nil, Summary{}, ErrNotFound
	}

	padding := math.Max(paddingSeconds, 0)
	pad := time.Duration(padding * float64(time.Second))

	var excerpts []Excerpt
	for _, assoc := range associations {
		track, err := p.repo.TrackByID(ctx, assoc.TrackID)
		if err != nil {
			return nil, Summary{}, fmt.Errorf("failed to load track %s: %w", assoc.TrackID, err)
		}
		if track == nil {
			continue
		}

		// Open tracks have no end yet and cannot be planned.
		if track.EndTS == nil {
			continue
		}

		windowStart := track.StartTS.Add(-pad)
		windowEnd := track.EndTS.Add(pad)

		segments, err := p.repo.SegmentsOverlapping(ctx, track.CameraID, windowStart, windowEnd)
		if err != nil {
			return nil, Summary{}, fmt.Errorf("failed to load segments for camera %s: %w", track.CameraID, err)
		}

		for _, segment := range segments {
			if segment.EndTS == nil {
				continue
			}
			clipStart, clipEnd, ok := overlap(windowStart, windowEnd, segment.StartTS, *segment.EndTS)
			if !ok {
				continue
			}
			duration := clipEnd.Sub(clipStart).Seconds()
			if duration <= 0 {
				continue
			}

			offset := clipStart.Sub(segment.StartTS).Seconds()
			excerpts = append(excerpts, Excerpt{
				CameraID:    track.CameraID,
				SegmentID:   segment.SegmentID,
				SegmentPath: segment.Path,
				ClipStart:   clipStart,
				ClipEnd:     clipEnd,
				OffsetSec:   math.Max(offset, 0),
				DurationSec: duration,
			})
		}
	}

	excerpts = MergeExcerpts(excerpts, mergeGapSeconds, minDurationSeconds)

	summary := Summary{
		GlobalTrackID:      globalTrackID,
		PaddingSeconds:     padding,
		MergeGapSeconds:    math.Max(mergeGapSeconds, 0),
		MinDurationSeconds: math.Max(minDurationSeconds, 0),
		AssociationCount:   len(associations),
		ExcerptCount:       len(excerpts),
	}

	if p.logger != nil {
		p.logger.Debug("export plan built",
			"global_track_id", globalTrackID,
			"associations", summary.AssociationCount,
			"excerpts", summary.ExcerptCount,
		)
	}
	return excerpts, summary, nil
}

func overlap(aStart, aEnd, bStart, bEnd time.Time) (time.Time, time.Time, bool) {
	start := aStart
	if bStart.After(start) {
		start = bStart
	}
	end := aEnd
	if bEnd.Before(end) {
		end = bEnd
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}
