package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"cinegen/internal/generation"
	"cinegen/internal/reference"
	"cinegen/internal/runs"
	"cinegen/internal/script"
)

type referencePayload struct {
	Data        string `json:"data"`
	MIME        string `json:"mime_type"`
	Filename    string `json:"filename"`
	Description string `json:"description"`
	Tag         string `json:"tag"`
}

type createRunRequest struct {
	Script     string             `json:"script"`
	ImageCount int                `json:"image_count"`
	References []referencePayload `json:"references"`
}

type jobSummary struct {
	LineIndex int    `json:"line_index"`
	Scene     int    `json:"scene"`
	State     string `json:"state"`
	Error     string `json:"error,omitempty"`
}

type runResponse struct {
	RunID     string       `json:"run_id"`
	Status    string       `json:"status"`
	Completed int          `json:"completed"`
	Total     int          `json:"total"`
	Jobs      []jobSummary `json:"jobs,omitempty"`
}

// CreateRun parses the script, validates the request, and starts the batch in
// the background. The response carries the run id the UI polls for progress.
func (a *App) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	lines := script.Parse(req.Script)
	if len(lines) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "script has no scenes")
		return
	}
	imageCount := req.ImageCount
	if imageCount == 0 {
		imageCount = len(lines)
		if imageCount > script.MaxImages {
			imageCount = script.MaxImages
		}
	}
	if imageCount < 1 || imageCount > script.MaxImages {
		a.error(w, http.StatusBadRequest, "bad_request",
			fmt.Sprintf("image_count must be between 1 and %d", script.MaxImages))
		return
	}

	refs, err := decodeReferences(req.References)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	// Credential problems are fatal before any submission, not per job.
	if a.Client == nil || !a.Client.HasCredentials() {
		a.error(w, http.StatusServiceUnavailable, "auth_error", "generation API key is not configured")
		return
	}

	total := imageCount
	if total > len(lines) {
		total = len(lines)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	runID := a.Runs.Create(total, cancel)

	go func() {
		defer cancel()
		logger := a.Logger.With().Str("run_id", runID).Logger()
		orch := generation.NewOrchestrator(a.Client, generation.Options{
			Concurrency: a.Cfg.MaxConcurrent,
			JobTimeout:  a.Cfg.JobTimeout,
			Logger:      &logger,
			OnProgress: func(p generation.Progress) {
				a.Runs.SetProgress(runID, p.Completed, p.Total)
			},
		})
		result, runErr := orch.Run(runCtx, lines, imageCount, refs)
		a.Runs.Finish(runID, result, runErr)
		if runErr != nil {
			logger.Error().Err(runErr).Msg("run aborted")
			return
		}
		logger.Info().Int("succeeded", len(result.Succeeded())).Int("total", len(result.Jobs)).Msg("run finished")
	}()

	a.json(w, http.StatusAccepted, runResponse{
		RunID:  runID,
		Status: string(runs.StatusRunning),
		Total:  total,
	})
}

// GetRun reports run progress and, once jobs resolve, a per-scene summary the
// UI uses to mark failed lines distinctly from succeeded ones.
func (a *App) GetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := a.Runs.Get(chi.URLParam(r, "run_id"))
	if !ok {
		a.error(w, http.StatusNotFound, "not_found", "run not found")
		return
	}
	resp := runResponse{
		RunID:     run.ID,
		Status:    string(run.Status),
		Completed: run.Completed,
		Total:     run.Total,
	}
	if run.Err != nil {
		a.json(w, http.StatusOK, map[string]any{
			"run_id": run.ID,
			"status": string(run.Status),
			"error":  run.Err.Error(),
		})
		return
	}
	if run.Result != nil {
		for _, job := range run.Result.Jobs {
			resp.Jobs = append(resp.Jobs, jobSummary{
				LineIndex: job.LineIndex,
				Scene:     job.SceneNumber,
				State:     string(job.State),
				Error:     job.ErrorMessage(),
			})
		}
	}
	a.json(w, http.StatusOK, resp)
}

// CancelRun stops a running batch. In-flight polls are interrupted; jobs that
// already succeeded keep their images and stay downloadable.
func (a *App) CancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "run_id")
	if !a.Runs.Cancel(id) {
		a.error(w, http.StatusConflict, "not_cancellable", "run not found or already finished")
		return
	}
	a.json(w, http.StatusAccepted, map[string]string{"run_id": id, "status": string(runs.StatusCancelled)})
}

// DownloadImage serves one succeeded scene as a PNG attachment.
func (a *App) DownloadImage(w http.ResponseWriter, r *http.Request) {
	run, ok := a.Runs.Get(chi.URLParam(r, "run_id"))
	if !ok || run.Result == nil {
		a.error(w, http.StatusNotFound, "not_found", "run not found or still running")
		return
	}
	scene, err := strconv.Atoi(chi.URLParam(r, "scene"))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "scene must be a number")
		return
	}
	job, ok := run.Result.JobByScene(scene)
	if !ok || job.State != generation.StateSucceeded {
		a.error(w, http.StatusNotFound, "not_found", "no image for that scene")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", generation.SceneFilename(scene)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(job.Image)
}

// DownloadArchive serves the zip of all succeeded scenes.
func (a *App) DownloadArchive(w http.ResponseWriter, r *http.Request) {
	run, ok := a.Runs.Get(chi.URLParam(r, "run_id"))
	if !ok || run.Result == nil {
		a.error(w, http.StatusNotFound, "not_found", "run not found or still running")
		return
	}
	data, err := generation.Package(run.Result)
	if err != nil {
		if errors.Is(err, generation.ErrEmptyArchive) {
			a.error(w, http.StatusConflict, "empty_archive", "no scene succeeded, nothing to download")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to build archive")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", generation.ArchiveName))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func decodeReferences(payloads []referencePayload) (*reference.Set, error) {
	set := &reference.Set{}
	for i, p := range payloads {
		data, err := base64.StdEncoding.DecodeString(p.Data)
		if err != nil {
			return nil, fmt.Errorf("reference %d: data is not valid base64", i+1)
		}
		if err := set.Add(reference.Image{
			Data:        data,
			MIME:        p.MIME,
			Filename:    p.Filename,
			Description: p.Description,
			Tag:         p.Tag,
		}); err != nil {
			return nil, err
		}
	}
	return set, nil
}
