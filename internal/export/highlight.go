package export

import (
	"math"
	"sort"
	"time"
)

const (
	cameraPenalty = 0.25
	bucketPenalty = 0.15
)

// SelectHighlights greedily picks a diverse subset of excerpts whose total
// duration stays within targetSeconds, trimming each pick to perClipSeconds.
// Diversity is a soft penalty per already-picked clip from the same camera
// and the same minute bucket; it de-prioritizes repeats, never excludes
// them. Ties go to the first candidate in iteration order, which keeps the
// selection deterministic. Output is sorted by clip start.
func SelectHighlights(excerpts []Excerpt, targetSeconds, perClipSeconds float64) []Excerpt {
	remaining := math.Max(targetSeconds, 0)
	clipCap := math.Max(perClipSeconds, 0.1)
	if remaining <= 0 || len(excerpts) == 0 {
		return nil
	}

	candidates := make([]Excerpt, len(excerpts))
	copy(candidates, excerpts)

	cameraCount := make(map[string]int)
	bucketCount := make(map[string]int)

	var selected []Excerpt
	for len(candidates) > 0 && remaining > 0 {
		bestIdx := -1
		bestScore := math.Inf(-1)
		for idx, item := range candidates {
			durationScore := math.Min(item.DurationSec, clipCap) / clipCap
			score := durationScore -
				float64(cameraCount[item.CameraID])*cameraPenalty -
				float64(bucketCount[minuteBucket(item.ClipStart)])*bucketPenalty
			if score > bestScore {
				bestScore = score
				bestIdx = idx
			}
		}
		if bestIdx < 0 {
			break
		}

		item := candidates[bestIdx]
		candidates = append(candidates[:bestIdx], candidates[bestIdx+1:]...)

		take := math.Min(math.Min(item.DurationSec, clipCap), remaining)
		if take <= 0 {
			continue
		}

		selected = append(selected, Excerpt{
			CameraID:    item.CameraID,
			SegmentID:   item.SegmentID,
			SegmentPath: item.SegmentPath,
			ClipStart:   item.ClipStart,
			ClipEnd:     item.ClipStart.Add(time.Duration(take * float64(time.Second))),
			OffsetSec:   item.OffsetSec,
			DurationSec: take,
		})
		cameraCount[item.CameraID]++
		bucketCount[minuteBucket(item.ClipStart)]++
		remaining -= take
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].ClipStart.Before(selected[j].ClipStart)
	})
	return selected
}

// minuteBucket keys an excerpt by its start truncated to the minute.
func minuteBucket(t time.Time) string {
	return t.UTC().Format("200601021504")
}
