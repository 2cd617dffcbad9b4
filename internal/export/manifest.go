package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Manifest is the durable JSON description of one planned export.
type Manifest struct {
	ExportID      string    `json:"export_id"`
	GlobalTrackID string    `json:"global_track_id"`
	CreatedAt     time.Time `json:"created_at"`
	Summary       Summary   `json:"summary"`
	Excerpts      []Excerpt `json:"excerpts"`
}

// ManifestStore persists export manifests under <root>/manifests and maps
// export identifiers to manifest and video paths. Manifests are append-only
// and immutable once written.
type ManifestStore struct {
	manifestsDir string
	videosDir    string
}

func NewManifestStore(exportDir string) (*ManifestStore, error) {
	manifestsDir := filepath.Join(exportDir, "manifests")
	videosDir := filepath.Join(exportDir, "videos")
	for _, dir := range []string{manifestsDir, videosDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create export dir: %w", err)
		}
	}
	return &ManifestStore{manifestsDir: manifestsDir, videosDir: videosDir}, nil
}

// Save writes a manifest for a fresh export identifier and returns the
// identifier and manifest path. The write is whole-file: the manifest is
// staged to a temp file and renamed into place, so no partial manifest is
// ever visible.
func (s *ManifestStore) Save(globalTrackID string, summary Summary, excerpts []Excerpt) (string, string, error) {
	exportID := uuid.NewString()
	path := s.ManifestPath(exportID)

	payload := Manifest{
		ExportID:      exportID,
		GlobalTrackID: globalTrackID,
		CreatedAt:     time.Now().UTC(),
		Summary:       summary,
		Excerpts:      excerpts,
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("failed to encode manifest: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", "", fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", "", fmt.Errorf("failed to finalize manifest: %w", err)
	}
	return exportID, path, nil
}

// ManifestPath returns the manifest path for an export identifier.
func (s *ManifestStore) ManifestPath(exportID string) string {
	return filepath.Join(s.manifestsDir, exportID+".json")
}

// VideoPath returns the rendered video path for an export identifier.
func (s *ManifestStore) VideoPath(exportID string) string {
	return filepath.Join(s.videosDir, exportID+".mp4")
}

// VideosDir returns the rendered-videos root.
func (s *ManifestStore) VideosDir() string {
	return s.videosDir
}

// LoadManifest reads a stored manifest back. Returns os.ErrNotExist-wrapped
// errors when the export identifier is unknown.
func (s *ManifestStore) LoadManifest(exportID string) (*Manifest, error) {
	data, err := os.ReadFile(s.ManifestPath(exportID))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}
