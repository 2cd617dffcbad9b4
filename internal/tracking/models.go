// Package tracking holds the camera/track/segment records produced by the
// live tracking pipeline and read by the export planner.
package tracking

import (
	"time"

	"github.com/google/uuid"
)

type Camera struct {
	CameraID     string    `json:"camera_id"`
	LocationZone string    `json:"location_zone"`
	StreamURL    string    `json:"stream_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Track is one camera-local tracked appearance of an animal. EndTS is nil
// while the track is still open.
type Track struct {
	TrackID      string     `json:"track_id"`
	CameraID     string     `json:"camera_id"`
	StartTS      time.Time  `json:"start_ts"`
	EndTS        *time.Time `json:"end_ts,omitempty"`
	QualityScore float64    `json:"quality_score,omitempty"`
}

// Association links a camera-local track to a cross-camera global track
// identity with a confidence score.
type Association struct {
	AssociationID string    `json:"association_id"`
	GlobalTrackID string    `json:"global_track_id"`
	TrackID       string    `json:"track_id"`
	AnimalID      string    `json:"animal_id,omitempty"`
	Confidence    float64   `json:"confidence"`
	CreatedAt     time.Time `json:"created_at"`
}

// MediaSegment is one recorded video file for a camera. EndTS is nil while
// the segment is still being written.
type MediaSegment struct {
	SegmentID string     `json:"segment_id"`
	CameraID  string     `json:"camera_id"`
	StartTS   time.Time  `json:"start_ts"`
	EndTS     *time.Time `json:"end_ts,omitempty"`
	Path      string     `json:"path"`
	Codec     string     `json:"codec,omitempty"`
}

func NewID() string {
	return uuid.NewString()
}
