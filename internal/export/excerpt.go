// Package export plans and renders video exports for a global track
// identity: excerpt planning against the tracking store, highlight
// selection, manifest persistence, and ffmpeg rendering.
package export

import (
	"encoding/json"
	"math"
	"sort"
	"time"
)

// Excerpt is one contiguous renderable slice of a single source segment
// file, with both absolute clip timestamps and the offset into the source.
type Excerpt struct {
	CameraID    string    `json:"camera_id"`
	SegmentID   string    `json:"segment_id"`
	SegmentPath string    `json:"segment_path"`
	ClipStart   time.Time `json:"clip_start_ts"`
	ClipEnd     time.Time `json:"clip_end_ts"`
	OffsetSec   float64   `json:"offset_start_sec"`
	DurationSec float64   `json:"duration_sec"`
}

// MarshalJSON rounds the second-valued fields to 3 decimals so serialized
// plans are stable across runs.
func (e Excerpt) MarshalJSON() ([]byte, error) {
	type alias Excerpt
	a := alias(e)
	a.OffsetSec = round3(a.OffsetSec)
	a.DurationSec = round3(a.DurationSec)
	return json.Marshal(a)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}

// Summary is the aggregate metadata for one planning run. The highlight
// fields are only set in highlights mode.
type Summary struct {
	GlobalTrackID         string  `json:"global_track_id"`
	PaddingSeconds        float64 `json:"padding_seconds"`
	MergeGapSeconds       float64 `json:"merge_gap_seconds"`
	MinDurationSeconds    float64 `json:"min_duration_seconds"`
	AssociationCount      int     `json:"association_count"`
	ExcerptCount          int     `json:"excerpt_count"`
	Mode                  string  `json:"mode,omitempty"`
	TargetSeconds         float64 `json:"target_seconds,omitempty"`
	PerClipSeconds        float64 `json:"per_clip_seconds,omitempty"`
	HighlightExcerptCount int     `json:"highlight_excerpt_count,omitempty"`
}

// MergeExcerpts sorts excerpts by clip start, merges runs that share a
// source file and sit within gapSeconds of each other, and drops merged
// excerpts shorter than minDurationSeconds. Output is time-ordered and
// non-overlapping within any single source file.
func MergeExcerpts(excerpts []Excerpt, gapSeconds, minDurationSeconds float64) []Excerpt {
	if len(excerpts) == 0 {
		return nil
	}

	gap := math.Max(gapSeconds, 0)
	minDur := math.Max(minDurationSeconds, 0)

	ordered := make([]Excerpt, len(excerpts))
	copy(ordered, excerpts)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ClipStart.Before(ordered[j].ClipStart)
	})

	var merged []Excerpt
	current := ordered[0]
	for _, next := range ordered[1:] {
		sameFile := current.SegmentPath == next.SegmentPath
		contiguous := next.ClipStart.Sub(current.ClipEnd).Seconds() <= gap
		if sameFile && contiguous {
			if next.ClipEnd.After(current.ClipEnd) {
				current.ClipEnd = next.ClipEnd
			}
			current.DurationSec = math.Max(current.ClipEnd.Sub(current.ClipStart).Seconds(), 0)
			continue
		}
		if current.DurationSec >= minDur {
			merged = append(merged, current)
		}
		current = next
	}
	if current.DurationSec >= minDur {
		merged = append(merged, current)
	}
	return merged
}
