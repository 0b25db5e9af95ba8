package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/compression-service/internal/api/dto"
	"github.com/cuongbtq/compression-service/internal/domain"
	"github.com/cuongbtq/compression-service/internal/ledger"
	"github.com/cuongbtq/compression-service/internal/status"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestJobCursor_RoundTrip(t *testing.T) {
	cursor := &ledger.JobCursor{
		CreatedAt: time.Date(2026, 2, 3, 4, 5, 6, 789000, time.UTC),
		JobID:     uuid.NewString(),
	}

	encoded := EncodeJobCursor(cursor)
	assert.NotContains(t, encoded, "+")
	assert.NotContains(t, encoded, "/")

	decoded, err := DecodeJobCursor(encoded)
	require.NoError(t, err)
	assert.True(t, cursor.CreatedAt.Equal(decoded.CreatedAt))
	assert.Equal(t, cursor.JobID, decoded.JobID)
}

func TestDecodeJobCursor_Invalid(t *testing.T) {
	decoded, err := DecodeJobCursor("")
	require.NoError(t, err)
	assert.Nil(t, decoded)

	for _, raw := range []string{"!!", "bm9waXBl", "YWJjfA"} {
		_, err := DecodeJobCursor(raw)
		assert.Error(t, err, raw)
	}
}

type fakeStatus struct {
	view *status.View
	err  error
}

func (f *fakeStatus) GetStatus(context.Context, string) (*status.View, error) {
	return f.view, f.err
}

type fakeLister struct {
	err error
}

func (f *fakeLister) ListRecent(context.Context, ledger.JobFilter) ([]*domain.CompressionJob, error) {
	return nil, f.err
}

func newTestRouter(deps *Dependencies) *gin.Engine {
	deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewJobHandler(deps)

	r := gin.New()
	r.GET("/jobs", h.ListJobs)
	r.GET("/jobs/:job_id", h.GetJob)
	r.GET("/jobs/:job_id/download", h.DownloadJob)
	return r
}

func serve(r *gin.Engine, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestGetJob_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{
			name:     "not found",
			err:      domain.ErrNotFound,
			wantCode: http.StatusNotFound,
			wantBody: "job not found",
		},
		{
			name:     "conflict",
			err:      &domain.ConflictError{JobID: "x", Expected: domain.StatusPending, Actual: domain.StatusInProgress},
			wantCode: http.StatusConflict,
		},
		{
			name:     "storage failure is opaque",
			err:      domain.StorageError("get job", errors.New("pq: password authentication failed")),
			wantCode: http.StatusInternalServerError,
			wantBody: "Internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&Dependencies{Status: &fakeStatus{err: tt.err}})

			rec := serve(r, "/jobs/"+uuid.NewString())
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.NotContains(t, rec.Body.String(), "password")
			if tt.wantBody != "" {
				var resp dto.ErrorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, tt.wantBody, resp.Error)
			}
		})
	}
}

func TestDownloadJob_UnknownAlgorithm(t *testing.T) {
	heartbeat := time.Now()
	expires := heartbeat.Add(time.Minute)
	r := newTestRouter(&Dependencies{Status: &fakeStatus{view: &status.View{
		Job: &domain.CompressionJob{
			ID:        uuid.NewString(),
			Status:    domain.StatusFinished,
			Algorithm: "lzma",
			Heartbeat: &heartbeat,
		},
		Downloadable: true,
		ExpiresAt:    &expires,
	}}})

	rec := serve(r, "/jobs/"+uuid.NewString()+"/download")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListJobs_StorageFailure(t *testing.T) {
	r := newTestRouter(&Dependencies{Jobs: &fakeLister{err: domain.StorageError("list jobs", os.ErrDeadlineExceeded)}})

	rec := serve(r, "/jobs?page_size=500")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestDownloadName(t *testing.T) {
	assert.Equal(t, "a.txt.zip", downloadName(&domain.CompressionJob{ID: "id", OriginalName: "dir/a.txt"}, ".zip"))
	assert.Equal(t, "a.txt.gz", downloadName(&domain.CompressionJob{ID: "id", OriginalName: `C:\a.txt`}, ".gz"))
	assert.Equal(t, "id.tar", downloadName(&domain.CompressionJob{ID: "id", OriginalName: ""}, ".tar"))
}
