package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/denwatch/denwatch-exporter/internal/export"
	"github.com/denwatch/denwatch-exporter/internal/jobs"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Tracking, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Post("/exports/global-track/{globalTrackID}", exportTrackHandler(cfg))
		r.Post("/exports/global-track/{globalTrackID}/highlights", exportHighlightsHandler(cfg))
		r.Post("/exports/global-track/{globalTrackID}/jobs", createJobHandler(cfg))
		r.Get("/exports/jobs", listJobsHandler(cfg))
		r.Get("/exports/jobs/{id}", getJobHandler(cfg))
		r.Post("/exports/jobs/{id}/cancel", cancelJobHandler(cfg))
		r.Post("/exports/jobs/{id}/retry", retryJobHandler(cfg))
		r.Get("/exports/{exportID}", getExportHandler(cfg))
	})

	return r
}

// decodeBody decodes a JSON request body into dst, treating an empty body
// as "use the defaults already in dst".
func decodeBody(r *http.Request, dst interface{}) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == io.EOF {
		return nil
	}
	return err
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := cfg.Jobs.CountsByStatus(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to count jobs", "INTERNAL_ERROR")
			return
		}

		state := "idle"
		if counts[jobs.StatusRunning] > 0 {
			state = "exporting"
		}

		WriteJSON(w, http.StatusOK, StatusResponse{
			State:       state,
			JobCounts:   counts,
			JobsRunning: counts[jobs.StatusRunning],
		})
	}
}

func exportTrackHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		globalTrackID := chi.URLParam(r, "globalTrackID")

		req := DefaultExportTrackRequest()
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		result, err := cfg.Exports.Export(r.Context(), globalTrackID, export.ExportParams{
			PaddingSeconds:     req.PaddingSeconds,
			MergeGapSeconds:    req.MergeGapSeconds,
			MinDurationSeconds: req.MinDurationSeconds,
			RenderVideo:        req.RenderVideo,
		})
		if err != nil {
			if errors.Is(err, export.ErrNotFound) {
				WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
				return
			}
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusOK, ResultToResponse(result))
	}
}

func exportHighlightsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		globalTrackID := chi.URLParam(r, "globalTrackID")

		req := DefaultHighlightTrackRequest()
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		result, err := cfg.Exports.ExportHighlights(r.Context(), globalTrackID, export.HighlightParams{
			PaddingSeconds:     req.PaddingSeconds,
			MergeGapSeconds:    req.MergeGapSeconds,
			MinDurationSeconds: req.MinDurationSeconds,
			TargetSeconds:      req.TargetSeconds,
			PerClipSeconds:     req.PerClipSeconds,
		})
		if err != nil {
			if errors.Is(err, export.ErrNotFound) {
				WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
				return
			}
			if errors.Is(err, export.ErrNoExcerpts) {
				WriteError(w, http.StatusNotFound, "no highlight excerpts available", "NOT_FOUND")
				return
			}
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusOK, ResultToResponse(result))
	}
}

func createJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		globalTrackID := chi.URLParam(r, "globalTrackID")

		req := DefaultCreateJobRequest()
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		mode := strings.ToLower(strings.TrimSpace(req.Mode))
		if !jobs.ValidMode(mode) {
			WriteError(w, http.StatusBadRequest, "mode must be one of: full, highlights", "BAD_REQUEST")
			return
		}
		if req.MaxRetries < 0 {
			WriteError(w, http.StatusBadRequest, "max_retries must be >= 0", "BAD_REQUEST")
			return
		}

		full := jobs.FullRequest{
			PaddingSeconds:     req.PaddingSeconds,
			MergeGapSeconds:    req.MergeGapSeconds,
			MinDurationSeconds: req.MinDurationSeconds,
			RenderVideo:        req.RenderVideo,
			TimeoutSeconds:     req.TimeoutSeconds,
		}

		var payload string
		var err error
		if mode == export.ModeHighlights {
			payload, err = jobs.EncodeHighlightPayload(jobs.HighlightRequest{
				FullRequest:    full,
				TargetSeconds:  req.TargetSeconds,
				PerClipSeconds: req.PerClipSeconds,
			})
		} else {
			payload, err = jobs.EncodeFullPayload(full)
		}
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to encode job payload", "INTERNAL_ERROR")
			return
		}

		if req.Dedupe {
			existing, err := cfg.Jobs.FindActiveDuplicate(r.Context(), globalTrackID, mode, payload)
			if err != nil {
				WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
				return
			}
			if existing != nil {
				WriteJSON(w, http.StatusOK, JobToResponse(existing))
				return
			}
		}

		now := time.Now()
		job := &jobs.ExportJob{
			JobID:         jobs.NewJobID(),
			GlobalTrackID: globalTrackID,
			Mode:          mode,
			Status:        jobs.StatusPending,
			PayloadJSON:   payload,
			MaxRetries:    req.MaxRetries,
			NextRunAt:     &now,
			CreatedAt:     now,
		}
		if err := cfg.Jobs.Create(r.Context(), job); err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusCreated, JobToResponse(job))
	}
}

func listJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobList, err := cfg.Jobs.List(r.Context(), 50)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list jobs", "INTERNAL_ERROR")
			return
		}

		resp := make([]JobResponse, len(jobList))
		for i, j := range jobList {
			resp[i] = JobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := cfg.Jobs.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if job == nil {
			WriteError(w, http.StatusNotFound, "export job not found", "NOT_FOUND")
			return
		}
		WriteJSON(w, http.StatusOK, JobToResponse(job))
	}
}

func cancelJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := cfg.Jobs.Cancel(r.Context(), chi.URLParam(r, "id"), time.Now())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if job == nil {
			WriteError(w, http.StatusNotFound, "export job not found", "NOT_FOUND")
			return
		}
		WriteJSON(w, http.StatusOK, JobToResponse(job))
	}
}

func retryJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := cfg.Jobs.Retry(r.Context(), chi.URLParam(r, "id"), time.Now())
		if err != nil {
			if errors.Is(err, jobs.ErrNotRetryable) {
				WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
				return
			}
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if job == nil {
			WriteError(w, http.StatusNotFound, "export job not found", "NOT_FOUND")
			return
		}
		WriteJSON(w, http.StatusOK, JobToResponse(job))
	}
}

func getExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		exportID := chi.URLParam(r, "exportID")
		manifestPath := cfg.Store.ManifestPath(exportID)
		videoPath := cfg.Store.VideoPath(exportID)

		if download := r.URL.Query().Get("download"); download != "" {
			switch strings.ToLower(strings.TrimSpace(download)) {
			case "manifest":
				if err := cfg.Media.ServeFile(w, r, manifestPath, exportID+".json"); err != nil {
					cfg.Logger.Error("manifest download error", "error", err, "export_id", exportID)
				}
			case "video":
				if err := cfg.Media.ServeFile(w, r, videoPath, exportID+".mp4"); err != nil {
					cfg.Logger.Error("video download error", "error", err, "export_id", exportID)
				}
			default:
				WriteError(w, http.StatusBadRequest, "download must be one of: manifest, video", "BAD_REQUEST")
			}
			return
		}

		manifest, err := cfg.Store.LoadManifest(exportID)
		if err != nil {
			WriteError(w, http.StatusNotFound, "export not found", "NOT_FOUND")
			return
		}

		resp := GetExportResponse{
			ExportID:     exportID,
			Manifest:     manifest,
			ManifestPath: manifestPath,
		}
		if fileExists(videoPath) {
			resp.VideoPath = videoPath
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
