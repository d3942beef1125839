package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"pyro/internal/encode"
	"pyro/internal/httpkit"
	"pyro/internal/models"
	"pyro/internal/pkg/errors"
	"pyro/internal/ports"
)

type CreateJobRequest struct {
	Name      string          `json:"name"`
	Scene     json.RawMessage `json:"scene"`
	SceneFile string          `json:"scene_file"`
	Format    string          `json:"format"`
}

// PostJob records an async render job and queues it for the workers.
func (h *Handler) PostJob(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	var req CreateJobRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		return errors.WrapWithCode(err, errors.CodeValidation, "jobs.Create", "invalid json body")
	}

	job, err := h.newJob(req)
	if err != nil {
		return err
	}

	if err := h.jobs.Create(ctx, job); err != nil {
		return err
	}

	if err := h.queue.Push(ctx, job.ID); err != nil {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if ferr := h.jobs.MarkFailed(cctx, job.ID, string(errors.CodeUnavailable), "queue push failed"); ferr != nil {
			h.log.FromContext(ctx).WithError(ferr).Error("mark job failed", "job_id", job.ID)
		}
		return errors.WrapWithCode(err, errors.CodeUnavailable, "jobs.Create", "queue push failed").
			WithField("job_id", job.ID)
	}

	h.log.FromContext(ctx).Info("job queued", "job_id", job.ID, "format", job.Format)
	httpkit.WriteJSON(w, http.StatusCreated, map[string]any{"job": job})
	return nil
}

func (h *Handler) newJob(req CreateJobRequest) (*models.Job, error) {
	scn := bytes.TrimSpace(req.Scene)
	if bytes.Equal(scn, []byte("null")) {
		scn = nil
	}
	file := strings.TrimSpace(req.SceneFile)

	switch {
	case len(scn) == 0 && file == "":
		return nil, errors.ValidationField("scene", "one of scene or scene_file is required")
	case len(scn) > 0 && file != "":
		return nil, errors.ValidationField("scene", "scene and scene_file are mutually exclusive")
	}

	if len(scn) > 0 {
		if err := h.validate(scn); err != nil {
			return nil, err
		}
	}

	format := encode.PNG
	if strings.TrimSpace(req.Format) != "" {
		f, err := encode.ParseFormat(req.Format)
		if err != nil {
			return nil, err
		}
		format = f
	}

	return &models.Job{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(req.Name),
		Status:    models.JobQueued,
		Scene:     json.RawMessage(scn),
		SceneFile: file,
		Format:    string(format),
	}, nil
}

// ListJobs returns the newest jobs, optionally filtered by status.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()

	var f ports.ListJobsFilter
	if s := strings.ToUpper(strings.TrimSpace(q.Get("status"))); s != "" {
		f.Status = models.JobStatus(s)
		if !f.Status.Valid() {
			return errors.ValidationField("status", "status must be one of QUEUED, RUNNING, DONE, FAILED")
		}
	}
	if s := strings.TrimSpace(q.Get("limit")); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			return errors.ValidationField("limit", "limit must be a positive integer")
		}
		f.Limit = v
	}

	jobs, err := h.jobs.List(r.Context(), f)
	if err != nil {
		return err
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
	return nil
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) error {
	job, err := h.jobs.Get(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		return err
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"job": job})
	return nil
}

// frameURLTTL is the lifetime requested for signed frame links.
const frameURLTTL = 15 * time.Minute

// GetJobFrame streams the stored frame of a finished job. With ?redirect=true
// it redirects to a signed storage URL when the provider can issue one.
func (h *Handler) GetJobFrame(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	jobID := chi.URLParam(r, "jobId")

	job, err := h.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != models.JobDone || job.Output == nil {
		return errors.New(errors.CodeNotFound, "job has no frame").
			WithFields(map[string]any{"job_id": jobID, "status": string(job.Status)})
	}

	if redirect, _ := strconv.ParseBool(r.URL.Query().Get("redirect")); redirect {
		signed, err := h.sp.GetSignedURL(ctx, job.Output.ObjectKey, frameURLTTL)
		switch {
		case err == nil && signed.URL != "":
			w.Header().Set(HeaderJobID, jobID)
			http.Redirect(w, r, signed.URL, http.StatusFound)
			return nil
		case err != nil && !errors.IsCode(err, errors.CodeBadRequest):
			h.log.FromContext(ctx).WithError(err).Warn("signed frame url unavailable, streaming", "job_id", jobID)
		}
	}

	rc, contentType, size, err := h.sp.GetObject(ctx, job.Output.ObjectKey)
	if err != nil {
		return err
	}
	defer rc.Close()

	if contentType == "" {
		contentType = job.Output.ContentType
	}
	setFrameHeaders(w, contentType, job.Output.Width, job.Output.Height, size)
	w.Header().Set(HeaderJobID, jobID)
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		h.log.FromContext(ctx).Warn("frame stream interrupted", "job_id", jobID, "error", err.Error())
	}
	return nil
}
