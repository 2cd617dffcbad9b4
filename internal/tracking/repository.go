package tracking

import (
	"context"
	"database/sql"
	"time"

	"github.com/denwatch/denwatch-exporter/internal/db"
)

// Repository is the read/write surface over the tracking store. The export
// planner only reads; the Create methods exist for the ingestion glue and
// for tests.
type Repository interface {
	CreateCamera(ctx context.Context, c *Camera) error
	CreateTrack(ctx context.Context, t *Track) error
	CreateAssociation(ctx context.Context, a *Association) error
	CreateSegment(ctx context.Context, s *MediaSegment) error

	AssociationsByGlobalTrack(ctx context.Context, globalTrackID string) ([]*Association, error)
	TrackByID(ctx context.Context, trackID string) (*Track, error)
	SegmentsOverlapping(ctx context.Context, cameraID string, windowStart, windowEnd time.Time) ([]*MediaSegment, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(conn *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: conn}
}

func (r *SQLiteRepository) CreateCamera(ctx context.Context, c *Camera) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cameras (camera_id, location_zone, stream_url, created_at)
		VALUES (?, ?, ?, ?)
	`, c.CameraID, c.LocationZone, nullString(c.StreamURL), db.FormatTime(c.CreatedAt))
	return err
}

func (r *SQLiteRepository) CreateTrack(ctx context.Context, t *Track) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tracks (track_id, camera_id, start_ts, end_ts, quality_score)
		VALUES (?, ?, ?, ?, ?)
	`, t.TrackID, t.CameraID, db.FormatTime(t.StartTS), nullTime(t.EndTS), t.QualityScore)
	return err
}

func (r *SQLiteRepository) CreateAssociation(ctx context.Context, a *Association) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO associations (association_id, global_track_id, track_id, animal_id, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, a.AssociationID, a.GlobalTrackID, a.TrackID, nullString(a.AnimalID), a.Confidence, db.FormatTime(a.CreatedAt))
	return err
}

func (r *SQLiteRepository) CreateSegment(ctx context.Context, s *MediaSegment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO media_segments (segment_id, camera_id, start_ts, end_ts, path, codec)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.SegmentID, s.CameraID, db.FormatTime(s.StartTS), nullTime(s.EndTS), s.Path, nullString(s.Codec))
	return err
}

func (r *SQLiteRepository) AssociationsByGlobalTrack(ctx context.Context, globalTrackID string) ([]*Association, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT association_id, global_track_id, track_id, animal_id, confidence, created_at
		FROM associations WHERE global_track_id = ? ORDER BY created_at ASC
	`, globalTrackID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assocs []*Association
	for rows.Next() {
		var a Association
		var animalID sql.NullString
		var createdAt string
		if err := rows.Scan(&a.AssociationID, &a.GlobalTrackID, &a.TrackID, &animalID, &a.Confidence, &createdAt); err != nil {
			return nil, err
		}
		a.AnimalID = animalID.String
		a.CreatedAt = db.ParseTime(createdAt)
		assocs = append(assocs, &a)
	}
	return assocs, rows.Err()
}

func (r *SQLiteRepository) TrackByID(ctx context.Context, trackID string) (*Track, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT track_id, camera_id, start_ts, end_ts, quality_score
		FROM tracks WHERE track_id = ?
	`, trackID)

	var t Track
	var startTS string
	var endTS sql.NullString
	var quality sql.NullFloat64
	err := row.Scan(&t.TrackID, &t.CameraID, &startTS, &endTS, &quality)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.StartTS = db.ParseTime(startTS)
	if endTS.Valid {
		ts := db.ParseTime(endTS.String)
		t.EndTS = &ts
	}
	t.QualityScore = quality.Float64
	return &t, nil
}

// SegmentsOverlapping returns closed segments for a camera whose [start, end]
// interval overlaps the window, inclusive on both boundaries, ordered by
// segment start.
func (r *SQLiteRepository) SegmentsOverlapping(ctx context.Context, cameraID string, windowStart, windowEnd time.Time) ([]*MediaSegment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT segment_id, camera_id, start_ts, end_ts, path, codec
		FROM media_segments
		WHERE camera_id = ?
		  AND end_ts IS NOT NULL
		  AND start_ts <= ?
		  AND end_ts >= ?
		ORDER BY start_ts ASC
	`, cameraID, db.FormatTime(windowEnd), db.FormatTime(windowStart))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var segments []*MediaSegment
	for rows.Next() {
		var s MediaSegment
		var camID, codec sql.NullString
		var startTS string
		var endTS sql.NullString
		if err := rows.Scan(&s.SegmentID, &camID, &startTS, &endTS, &s.Path, &codec); err != nil {
			return nil, err
		}
		s.CameraID = camID.String
		s.Codec = codec.String
		s.StartTS = db.ParseTime(startTS)
		if endTS.Valid {
			ts := db.ParseTime(endTS.String)
			s.EndTS = &ts
		}
		segments = append(segments, &s)
	}
	return segments, rows.Err()
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: db.FormatTime(*t), Valid: true}
}
