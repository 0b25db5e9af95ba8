package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/compression-service/internal/api/dto"
	"github.com/cuongbtq/compression-service/internal/compress"
	"github.com/cuongbtq/compression-service/internal/domain"
	"github.com/cuongbtq/compression-service/internal/ledger"
	"github.com/cuongbtq/compression-service/internal/status"
	"github.com/cuongbtq/compression-service/internal/storage"
	"github.com/cuongbtq/compression-service/internal/submission"
)

const (
	// FormFile is the multipart field carrying the upload
	FormFile = "file"
	// FormAlgorithm is the multipart field naming the algorithm; every other
	// field is an algorithm parameter
	FormAlgorithm = "compressionType"

	defaultPageSize = 20
	maxPageSize     = 100
)

// CreateJob handles POST /api/v1/jobs
// Stages the uploaded file and records a pending compression job
func (h *JobHandler) CreateJob(c *gin.Context) {
	fileHeader, err := c.FormFile(FormFile)
	if err != nil {
		h.logger.Warn("Upload without file", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: "file is required",
			Field: FormFile,
		})
		return
	}

	originalName := strings.TrimSpace(fileHeader.Filename)
	if originalName == "" {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: "file name is required",
			Field: FormFile,
		})
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		h.logger.Error("Failed to open uploaded file", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to read upload"})
		return
	}
	defer src.Close()

	ctx := c.Request.Context()
	jobID, err := h.submission.Submit(ctx, submission.Request{
		Algorithm:    c.PostForm(FormAlgorithm),
		OriginalName: originalName,
		Params:       formParams(c),
		Stage: func(ctx context.Context, jobID string) error {
			_, err := h.files.Stage(ctx, jobID, originalName, src)
			return err
		},
	})
	if err != nil {
		if jobID != "" && !submission.IsCommitted(err) {
			if discardErr := h.files.Discard(jobID, originalName); discardErr != nil {
				h.logger.Warn("Failed to discard staged upload",
					slog.String("job_id", jobID),
					slog.String("error", discardErr.Error()),
				)
			}
		}
		h.respondError(c, jobID, err)
		return
	}

	c.JSON(http.StatusAccepted, dto.CreateJobResponse{
		JobID:    jobID,
		FileName: originalName,
		Status:   string(domain.StatusPending),
	})
}

// formParams collects every multipart value field except the algorithm name
func formParams(c *gin.Context) map[string]string {
	params := map[string]string{}
	if c.Request.MultipartForm == nil {
		return params
	}
	for name, values := range c.Request.MultipartForm.Value {
		if name == FormAlgorithm || len(values) == 0 {
			continue
		}
		params[name] = values[0]
	}
	return params
}

// GetJob handles GET /api/v1/jobs/:job_id
// Reports status, queue position and, for fresh results, the download link
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	view, err := h.status.GetStatus(c.Request.Context(), jobID)
	if err != nil {
		h.respondError(c, "", err)
		return
	}

	c.JSON(http.StatusOK, toStatusResponse(view))
}

func toStatusResponse(view *status.View) dto.JobStatusResponse {
	job := view.Job
	resp := dto.JobStatusResponse{
		JobID:         job.ID,
		Status:        string(job.Status),
		FileName:      job.OriginalName,
		Algorithm:     job.Algorithm,
		Params:        job.Params,
		QueuePosition: view.QueuePosition(),
		RetryCount:    job.RetryCount,
		CreatedAt:     job.CreatedAt.Format(time.RFC3339),
	}
	if job.Heartbeat != nil {
		resp.Heartbeat = job.Heartbeat.Format(time.RFC3339)
	}
	if view.Downloadable {
		resp.DownloadURL = "/api/v1/jobs/" + job.ID + "/download"
		resp.ExpiresAt = view.ExpiresAt.Format(time.RFC3339)
	}
	return resp
}

// DownloadJob handles GET /api/v1/jobs/:job_id/download
// Streams the result while it is within its availability window
func (h *JobHandler) DownloadJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	view, err := h.status.GetStatus(c.Request.Context(), jobID)
	if err != nil {
		h.respondError(c, "", err)
		return
	}

	job := view.Job
	if job.Status != domain.StatusFinished {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "result is not available", JobID: jobID})
		return
	}
	if !view.Downloadable {
		c.JSON(http.StatusGone, dto.ErrorResponse{Error: "result has expired", JobID: jobID})
		return
	}

	ext, err := compress.Extension(job.Algorithm, job.Params)
	if err != nil {
		h.respondError(c, jobID, err)
		return
	}

	f, err := h.files.OpenResult(job.ID, ext)
	if err != nil {
		// Retention may remove the file before the ledger window closes
		h.logger.Warn("Result file missing for downloadable job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusGone, dto.ErrorResponse{Error: "result has expired", JobID: jobID})
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.respondError(c, jobID, err)
		return
	}

	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		h.respondError(c, jobID, err)
		return
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		h.respondError(c, jobID, err)
		return
	}

	disposition := mime.FormatMediaType("attachment", map[string]string{
		"filename": downloadName(job, ext),
	})
	c.DataFromReader(http.StatusOK, info.Size(), mtype.String(), f, map[string]string{
		"Content-Disposition": disposition,
	})
}

// downloadName is the client filename with the archive extension appended
func downloadName(job *domain.CompressionJob, ext string) string {
	name := job.OriginalName
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		name = job.ID
	}
	return name + ext
}

// ListJobs handles GET /api/v1/jobs
// Lists the most recent jobs, newest first, with keyset pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid query parameters"})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	if req.Status != "" && !domain.Status(req.Status).Valid() {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "unknown status", Field: "status"})
		return
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid cursor", Field: "cursor"})
		return
	}

	jobs, err := h.jobs.ListRecent(c.Request.Context(), ledger.JobFilter{
		Status:    req.Status,
		Algorithm: req.Algorithm,
		PageSize:  req.PageSize,
		Cursor:    cursor,
	})
	if err != nil {
		h.respondError(c, "", err)
		return
	}

	// Prepare response with next cursor if more results exist
	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i, job := range jobs {
		jobResponse[i] = dto.JobDTO{
			JobID:      job.ID,
			Status:     string(job.Status),
			FileName:   job.OriginalName,
			Algorithm:  job.Algorithm,
			RetryCount: job.RetryCount,
			CreatedAt:  job.CreatedAt.Format(time.RFC3339),
		}
		if job.Heartbeat != nil {
			jobResponse[i].Heartbeat = job.Heartbeat.Format(time.RFC3339)
		}
	}

	var nextCursor string
	if hasMore {
		lastJob := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&ledger.JobCursor{
			CreatedAt: lastJob.CreatedAt,
			JobID:     lastJob.ID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}

// ListAlgorithms handles GET /api/v1/algorithms
func (h *JobHandler) ListAlgorithms(c *gin.Context) {
	names := domain.Algorithms()
	resp := dto.AlgorithmsResponse{Algorithms: make([]dto.AlgorithmDTO, 0, len(names))}

	for _, name := range names {
		schema, _ := domain.LookupSchema(name)
		algorithm := dto.AlgorithmDTO{Name: name, Params: make([]dto.ParamDTO, 0, len(schema.Options))}
		for _, opt := range schema.Options {
			algorithm.Params = append(algorithm.Params, dto.ParamDTO{
				Name:    opt.Name,
				Kind:    string(opt.Kind),
				Default: opt.Default,
				Min:     opt.Min,
				Max:     opt.Max,
				Enum:    opt.Enum,
			})
		}
		resp.Algorithms = append(resp.Algorithms, algorithm)
	}

	c.JSON(http.StatusOK, resp)
}

// jobIDParam reads and validates :job_id, replying 400 when it is not a UUID
func (h *JobHandler) jobIDParam(c *gin.Context) (string, bool) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: "job_id must be a valid UUID",
			Field: "job_id",
		})
		return "", false
	}
	return jobID, true
}

// respondError maps domain errors to status codes. Server faults are logged in
// full and answered with an opaque message.
func (h *JobHandler) respondError(c *gin.Context, jobID string, err error) {
	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: validationErr.Error(),
			Field: validationErr.Field,
		})
	case errors.Is(err, storage.ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{Error: "file is too large", Field: FormFile})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "job not found"})
	case errors.Is(err, domain.ErrConflict):
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: "job status changed, retry the request"})
	case errors.Is(err, domain.ErrEnqueue):
		h.logger.Error("Request failed after the job was recorded",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error: "job was recorded but could not be queued yet",
			JobID: jobID,
		})
	default:
		h.logger.Error("Request failed",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Internal server error"})
	}
}
