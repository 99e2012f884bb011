package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"property-analysis/internal/api/dto"
	"property-analysis/internal/dispatch"
	"property-analysis/internal/domain"
	"property-analysis/internal/stager"
	"property-analysis/internal/telemetry"
)

// identityKey is where the identity middleware stores the resolved
// caller. Shared by convention with the router package.
const identityKey = "identity"

func currentIdentity(c *gin.Context) domain.Identity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(domain.Identity); ok {
			return id
		}
	}
	return domain.Identity{}
}

// SubmitAnalysis handles POST /api/v1/analysis
// Accepts a multipart submission with role-named file parts, stages the
// documents and hands the job to the dispatcher.
func (h *JobHandler) SubmitAnalysis(c *gin.Context) {
	identity := currentIdentity(c)

	form, err := c.MultipartForm()
	if err != nil {
		h.logger.Error("Invalid multipart form", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid multipart form",
		})
		return
	}

	var uploads []stager.Upload
	for _, role := range domain.AllRoles {
		for _, fh := range form.File[string(role)] {
			uploads = append(uploads, fileUpload(role, fh))
		}
	}

	jobID := uuid.New().String()
	files, err := h.stager.Stage(jobID, uploads)
	if err != nil {
		var verr *domain.ValidationError
		switch {
		case errors.Is(err, domain.ErrNoFiles):
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "At least one document is required",
			})
		case errors.As(err, &verr):
			c.JSON(http.StatusBadRequest, gin.H{
				"error": verr.Reason,
				"field": verr.Field,
			})
		default:
			h.logger.Error("Failed to stage uploads",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to store uploaded documents",
			})
		}
		return
	}

	job := &domain.Job{
		ID:         jobID,
		UserID:     identity.ID,
		PropertyID: c.PostForm("property_id"),
		Status:     domain.JobStatusPending,
		Files:      files,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.store.Create(c.Request.Context(), job); err != nil {
		h.logger.Error("Failed to create job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}
	telemetry.JobsSubmitted.Inc()

	cmd := h.buildCommand(c, job)
	if err := h.dispatcher.Dispatch(c.Request.Context(), job, cmd); err != nil {
		// The job record already carries the failure; the client will
		// see it through the status endpoint.
		h.logger.Error("Failed to dispatch job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()))
	}

	h.logger.Info("Analysis submitted",
		slog.String("job_id", jobID),
		slog.String("user_id", identity.ID),
		slog.Int("files", len(files)))

	resp := dto.SubmitResponse{
		JobID:     jobID,
		Status:    string(domain.JobStatusPending),
		StatusURL: fmt.Sprintf("/api/v1/analysis/%s", jobID),
	}
	if h.cfg.Analysis.EstimatedDuration > 0 {
		resp.EstimatedCompletion = time.Now().UTC().Add(h.cfg.Analysis.EstimatedDuration).Format(time.RFC3339)
	}
	c.JSON(http.StatusAccepted, resp)
}

// GetAnalysis handles GET /api/v1/analysis/:job_id
func (h *JobHandler) GetAnalysis(c *gin.Context) {
	jobID := c.Param("job_id")

	job, err := h.store.Get(c.Request.Context(), jobID, currentIdentity(c))
	if err != nil {
		h.renderJobError(c, jobID, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewJobResponse(job))
}

// CancelAnalysis handles POST /api/v1/analysis/:job_id/cancel
// Cancellation is idempotent; cancelling a finished job succeeds.
func (h *JobHandler) CancelAnalysis(c *gin.Context) {
	jobID := c.Param("job_id")
	identity := currentIdentity(c)

	if err := h.canceller.Cancel(c.Request.Context(), jobID, identity); err != nil {
		h.renderJobError(c, jobID, err)
		return
	}

	job, err := h.store.Get(c.Request.Context(), jobID, identity)
	if err != nil {
		h.renderJobError(c, jobID, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id": jobID,
		"status": job.Status,
	})
}

// DownloadOutput handles GET /api/v1/analysis/:job_id/files/:name
// Serves one well-known analyzer output; anything else is a 404 before
// the filesystem is consulted.
func (h *JobHandler) DownloadOutput(c *gin.Context) {
	jobID := c.Param("job_id")

	filename, ok := dispatch.OutputFilename(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Unknown output file",
		})
		return
	}

	if _, err := h.store.Get(c.Request.Context(), jobID, currentIdentity(c)); err != nil {
		h.renderJobError(c, jobID, err)
		return
	}

	path := filepath.Join(h.store.OutputDir(jobID), filename)
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Output file not available",
		})
		return
	}

	c.FileAttachment(path, filename)
}

func (h *JobHandler) renderJobError(c *gin.Context, jobID string, err error) {
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Job not found",
		})
	case errors.Is(err, domain.ErrAccessDenied):
		c.JSON(http.StatusForbidden, gin.H{
			"error": "Access denied",
		})
	default:
		h.logger.Error("Job request failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Internal error",
		})
	}
}

func (h *JobHandler) buildCommand(c *gin.Context, job *domain.Job) domain.AnalysisCommand {
	cmd := domain.AnalysisCommand{
		JobID:             job.ID,
		UserID:            job.UserID,
		PropertyID:        job.PropertyID,
		OutputDir:         h.store.OutputDir(job.ID),
		GeneratePitchDeck: formBool(c, "generate_pitch_deck", false),
		IncludeAnalysis:   formBool(c, "include_analysis", true),
	}

	for _, f := range job.Files {
		switch f.Role {
		case domain.RoleRentRoll:
			cmd.RentRollPath = f.StoragePath
		case domain.RoleT12:
			cmd.T12Path = f.StoragePath
		case domain.RoleOfferingMemo:
			cmd.OfferingMemoPath = f.StoragePath
		case domain.RoleTemplate:
			cmd.TemplatePath = f.StoragePath
		}
	}
	return cmd
}

func fileUpload(role domain.FileRole, fh *multipart.FileHeader) stager.Upload {
	return stager.Upload{
		Role:     role,
		Filename: fh.Filename,
		Size:     fh.Size,
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

func formBool(c *gin.Context, field string, fallback bool) bool {
	raw := c.PostForm(field)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}
