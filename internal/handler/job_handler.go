package handler

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/framepick/api/internal/model"
	"github.com/framepick/api/internal/service"
	"github.com/framepick/api/internal/store"
	"github.com/framepick/api/pkg/response"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

type JobHandler struct {
	jobs      *service.JobService
	queries   *service.QueryService
	validator *validator.Validate
}

func NewJobHandler(jobs *service.JobService, queries *service.QueryService, v *validator.Validate) *JobHandler {
	return &JobHandler{jobs: jobs, queries: queries, validator: v}
}

// List handles GET /jobs
// @Summary      List jobs
// @Description  Paged job summaries ordered by creation time, newest first
// @Tags         Jobs
// @Produce      json
// @Param        limit  query int false "Page size (max 100)"
// @Param        offset query int false "Page offset"
// @Success      200 {object} model.JobListResponse
// @Router       /jobs [get]
func (h *JobHandler) List(c *fiber.Ctx) error {
	limit, err := strconv.Atoi(c.Query("limit", strconv.Itoa(defaultPageLimit)))
	if err != nil || limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	offset, err := strconv.Atoi(c.Query("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	jobs, total, err := h.jobs.ListJobs(c.Context(), limit, offset)
	if err != nil {
		return response.ServiceError(c, "Failed to list jobs")
	}
	return response.OK(c, model.JobListResponse{
		Jobs:   jobs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// Create handles POST /jobs
// @Summary      Allocate an upload job
// @Description  Creates a job in the uploading state and returns the WebSocket upload endpoint
// @Tags         Jobs
// @Accept       json
// @Produce      json
// @Param        body body model.CreateJobRequest false "Optional job name"
// @Success      201 {object} model.CreateJobResponse
// @Failure      400 {object} response.ErrorResponse
// @Router       /jobs [post]
func (h *JobHandler) Create(c *fiber.Ctx) error {
	var req model.CreateJobRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.ValidationError(c, "Invalid request body", nil)
		}
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, err.Error(), nil)
	}

	job, err := h.jobs.CreateJob(c.Context(), req.Name)
	if err != nil {
		return response.ServiceError(c, "Failed to create job")
	}
	return response.Created(c, model.CreateJobResponse{
		JobID: job.ID.String(),
		WsURL: "/ws/upload",
	})
}

// Get handles GET /jobs/:id
// @Summary      Job summary
// @Tags         Jobs
// @Produce      json
// @Param        id path string true "Job ID"
// @Success      200 {object} model.Job
// @Failure      404 {object} response.ErrorResponse
// @Router       /jobs/{id} [get]
func (h *JobHandler) Get(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.ValidationError(c, "Invalid job ID", nil)
	}

	job, err := h.jobs.GetJob(c.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, "Failed to load job")
	}
	return response.OK(c, job)
}

// Delete handles DELETE /jobs/:id
// @Summary      Delete a job
// @Description  Removes the job, all descendant records and all stored blobs
// @Tags         Jobs
// @Param        id path string true "Job ID"
// @Success      204
// @Failure      404 {object} response.ErrorResponse
// @Router       /jobs/{id} [delete]
func (h *JobHandler) Delete(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.ValidationError(c, "Invalid job ID", nil)
	}

	if err := h.jobs.DeleteJob(c.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, "Failed to delete job")
	}
	return response.NoContent(c)
}

// Partial handles GET /jobs/:id/partial
// @Summary      Progressive results
// @Description  Buckets with members sorted by rating plus unclustered files; usable mid-pipeline
// @Tags         Jobs
// @Produce      json
// @Param        id path string true "Job ID"
// @Success      200 {object} model.PartialResults
// @Failure      404 {object} response.ErrorResponse
// @Router       /jobs/{id}/partial [get]
func (h *JobHandler) Partial(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.ValidationError(c, "Invalid job ID", nil)
	}

	results, err := h.queries.PartialResults(c.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, "Failed to load results")
	}
	return response.OK(c, results)
}

// Results handles GET /jobs/:id/results
// @Summary      Final results
// @Description  Top picks and complete ranked lists; only available once the job is completed
// @Tags         Jobs
// @Produce      json
// @Param        id path string true "Job ID"
// @Success      200 {object} model.FinalResults
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Router       /jobs/{id}/results [get]
func (h *JobHandler) Results(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.ValidationError(c, "Invalid job ID", nil)
	}

	results, err := h.queries.FinalResults(c.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Job not found")
		}
		if errors.Is(err, service.ErrJobNotCompleted) {
			return response.JobNotReady(c, "Job is not completed")
		}
		return response.ServiceError(c, "Failed to load results")
	}
	return response.OK(c, results)
}
