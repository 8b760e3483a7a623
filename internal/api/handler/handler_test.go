package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/cuongbtq/sof-extractor/internal/domain"
	"github.com/cuongbtq/sof-extractor/internal/export"
	"github.com/cuongbtq/sof-extractor/internal/store"
	"github.com/cuongbtq/sof-extractor/internal/upload"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSubmitter struct {
	mock.Mock
}

func (m *mockSubmitter) Submit(ctx context.Context, sub upload.Submission) (*upload.Receipt, error) {
	args := m.Called(ctx, sub)
	r, _ := args.Get(0).(*upload.Receipt)
	return r, args.Error(1)
}

type mockExporter struct {
	mock.Mock
}

func (m *mockExporter) Export(ctx context.Context, jobID, format string, override []domain.Event) (*export.Artifact, error) {
	args := m.Called(ctx, jobID, format, override)
	a, _ := args.Get(0).(*export.Artifact)
	return a, args.Error(1)
}

type mockLaytime struct {
	mock.Mock
}

func (m *mockLaytime) CalculateLaytime(ctx context.Context, summary domain.Summary, events []domain.Event) (*domain.LaytimeResult, error) {
	args := m.Called(ctx, summary, events)
	r, _ := args.Get(0).(*domain.LaytimeResult)
	return r, args.Error(1)
}

type fakeHealth struct{ err error }

func (f fakeHealth) HealthCheck(context.Context) error { return f.err }

type testServer struct {
	engine    *gin.Engine
	store     *store.Memory
	submitter *mockSubmitter
	exporter  *mockExporter
	laytime   *mockLaytime
}

func newTestServer(t *testing.T, health HealthChecker) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ts := &testServer{
		engine:    gin.New(),
		store:     store.NewMemory(logger),
		submitter: &mockSubmitter{},
		exporter:  &mockExporter{},
		laytime:   &mockLaytime{},
	}

	h := NewJobHandler(&Dependencies{
		Logger:      logger,
		Dispatcher:  ts.submitter,
		Store:       ts.store,
		Exporter:    ts.exporter,
		Laytime:     ts.laytime,
		MaxFileSize: 16,
		Health:      health,
	})

	ts.engine.GET("/", h.Root)
	ts.engine.GET("/health", h.Health)
	ts.engine.POST("/api/upload", h.Upload)
	ts.engine.POST("/api/upload-single", h.UploadSingle)
	ts.engine.POST("/api/upload-batch", h.UploadBatch)
	ts.engine.GET("/api/status/:job_id", h.GetStatus)
	ts.engine.GET("/api/result/:job_id", h.GetResult)
	ts.engine.GET("/api/jobs", h.ListJobs)
	ts.engine.POST("/api/calculate-laytime", h.CalculateLaytime)
	ts.engine.POST("/api/export/:job_id", h.Export)
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)
	return w
}

func (ts *testServer) putJob(t *testing.T, id string, created time.Time) *domain.Job {
	t.Helper()
	job := domain.NewJob(id, []string{"sof.pdf"}, false, "", created)
	require.NoError(t, ts.store.Put(context.Background(), job))
	return job
}

func multipartRequest(t *testing.T, target, field string, files map[string]string, fields map[string]string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, content := range files {
		part, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decodeBody(t, w)["status"])

	w = ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sof-extractor", decodeBody(t, w)["service"])

	unhealthy := newTestServer(t, fakeHealth{err: errors.New("connection refused")})
	w = unhealthy.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestUpload(t *testing.T) {
	ts := newTestServer(t, nil)

	ts.submitter.On("Submit", mock.Anything, mock.MatchedBy(func(sub upload.Submission) bool {
		return len(sub.Files) == 1 &&
			sub.Files[0].Filename == "sof.pdf" &&
			string(sub.Files[0].Content) == "%PDF" &&
			sub.Enhanced && !sub.Batch
	})).Return(&upload.Receipt{
		JobID:      "job-1",
		Filenames:  []string{"sof.pdf"},
		TotalFiles: 1,
		Enhanced:   true,
		Message:    "1 file(s) uploaded successfully",
	}, nil).Once()

	req := multipartRequest(t, "/api/upload?use_enhanced_processing=true", "files",
		map[string]string{"sof.pdf": "%PDF"}, nil)
	w := ts.do(req)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "job-1", body["job_id"])
	assert.Equal(t, true, body["enhanced_processing"])
	assert.Equal(t, "1 file(s) uploaded successfully", body["message"])
	assert.NotContains(t, body, "batch_name")
	ts.submitter.AssertExpectations(t)
}

func TestUpload_InvalidEnhancedFlag(t *testing.T) {
	ts := newTestServer(t, nil)

	req := multipartRequest(t, "/api/upload?use_enhanced_processing=maybe", "files",
		map[string]string{"sof.pdf": "x"}, nil)
	w := ts.do(req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	ts.submitter.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
}

func TestUpload_ReadsAtMostOneByteOverLimit(t *testing.T) {
	ts := newTestServer(t, nil)

	ts.submitter.On("Submit", mock.Anything, mock.MatchedBy(func(sub upload.Submission) bool {
		return len(sub.Files) == 1 && len(sub.Files[0].Content) == 17
	})).Return(nil, domain.NewValidationError(domain.ErrFileTooLarge,
		"File 'big.pdf' exceeds the maximum allowed size (16 bytes)")).Once()

	req := multipartRequest(t, "/api/upload", "files",
		map[string]string{"big.pdf": string(bytes.Repeat([]byte("x"), 64))}, nil)
	w := ts.do(req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "File 'big.pdf' exceeds the maximum allowed size (16 bytes)", decodeBody(t, w)["error"])
	ts.submitter.AssertExpectations(t)
}

func TestUploadSingle_NoFile(t *testing.T) {
	ts := newTestServer(t, nil)

	ts.submitter.On("Submit", mock.Anything, mock.MatchedBy(func(sub upload.Submission) bool {
		return len(sub.Files) == 0
	})).Return(nil, domain.NewValidationError(domain.ErrNoFiles, "No files uploaded")).Once()

	w := ts.do(httptest.NewRequest(http.MethodPost, "/api/upload-single", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "No files uploaded", decodeBody(t, w)["error"])
}

func TestUploadBatch(t *testing.T) {
	ts := newTestServer(t, nil)

	ts.submitter.On("Submit", mock.Anything, mock.MatchedBy(func(sub upload.Submission) bool {
		return sub.Batch && sub.BatchName == "Voyage 42" && len(sub.Files) == 2
	})).Return(&upload.Receipt{
		JobID:      "job-2",
		Filenames:  []string{"a.pdf", "b.pdf"},
		TotalFiles: 2,
		BatchName:  "Voyage 42",
		BatchSize:  2,
		Message:    "2 file(s) uploaded successfully",
	}, nil).Once()

	req := multipartRequest(t, "/api/upload-batch", "files",
		map[string]string{"a.pdf": "a", "b.pdf": "b"},
		map[string]string{"batch_name": "Voyage 42"})
	w := ts.do(req)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "Voyage 42", body["batch_name"])
	assert.EqualValues(t, 2, body["batch_size"])
}

func TestUpload_InternalErrorHidesCause(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.submitter.On("Submit", mock.Anything, mock.Anything).
		Return(nil, errors.New("disk full at /var/uploads")).Once()

	req := multipartRequest(t, "/api/upload-batch", "files", map[string]string{"a.pdf": "a"}, nil)
	w := ts.do(req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Batch upload failed", decodeBody(t, w)["error"])
}

func TestGetStatus(t *testing.T) {
	ts := newTestServer(t, nil)
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	job := ts.putJob(t, "job-1", created)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/status/job-1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "processing", body["status"])
	assert.EqualValues(t, 0, body["successful_files"])
	assert.Equal(t, "2024-03-01T09:00:00Z", body["created_at"])

	job.Complete(&domain.Result{SuccessfulFiles: 1, ProcessedFiles: []string{"sof.pdf"}}, "", created)
	require.NoError(t, ts.store.Put(context.Background(), job))

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/status/job-1", nil))
	body = decodeBody(t, w)
	assert.Equal(t, "completed", body["status"])
	assert.EqualValues(t, 1, body["successful_files"])

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/status/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Job not found", decodeBody(t, w)["error"])
}

func TestGetResult(t *testing.T) {
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("processing", func(t *testing.T) {
		ts := newTestServer(t, nil)
		ts.putJob(t, "job-1", created)

		w := ts.do(httptest.NewRequest(http.MethodGet, "/api/result/job-1", nil))
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "Document(s) still being processed", body["message"])
		assert.NotContains(t, body, "events")
	})

	t.Run("failed", func(t *testing.T) {
		ts := newTestServer(t, nil)
		job := ts.putJob(t, "job-1", created)
		job.Fail(errors.New("processing interrupted"), created)
		require.NoError(t, ts.store.Put(context.Background(), job))

		w := ts.do(httptest.NewRequest(http.MethodGet, "/api/result/job-1", nil))
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "failed", body["status"])
		assert.Equal(t, "processing interrupted", body["error"])
	})

	t.Run("completed with no events", func(t *testing.T) {
		ts := newTestServer(t, nil)
		job := ts.putJob(t, "job-1", created)
		job.Complete(&domain.Result{}, "job-1_results.json", created.Add(time.Minute))
		require.NoError(t, ts.store.Put(context.Background(), job))

		w := ts.do(httptest.NewRequest(http.MethodGet, "/api/result/job-1", nil))
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "completed", body["status"])
		assert.Equal(t, []any{}, body["events"])
		assert.Equal(t, map[string]any{}, body["summary"])
		assert.Equal(t, false, body["has_laytime_data"])
		assert.Equal(t, "2024-03-01T09:01:00Z", body["processed_at"])
	})
}

func TestStatusAndResult_RepeatedReadsAreIdentical(t *testing.T) {
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		finish func(job *domain.Job)
		status string
	}{
		{
			name: "completed",
			finish: func(job *domain.Job) {
				job.Complete(&domain.Result{
					Events: []domain.Event{
						{"Event": domain.StringValue("NOR tendered"), "start_time_iso": domain.TimeValue(created)},
						{"Event": domain.StringValue("Loading"), "Hours": domain.NumberValue(12.5)},
					},
					Summary:         domain.Summary{"port": domain.StringValue("Santos"), "laytime_allowed_days": domain.NumberValue(3)},
					HasLaytimeData:  true,
					ProcessedFiles:  []string{"sof.pdf"},
					TotalFiles:      1,
					SuccessfulFiles: 1,
				}, "job-1_results.json", created.Add(time.Minute))
			},
			status: "completed",
		},
		{
			name: "failed",
			finish: func(job *domain.Job) {
				job.Fail(errors.New("processing interrupted: context canceled"), created.Add(time.Minute))
			},
			status: "failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			job := ts.putJob(t, "job-1", created)
			tt.finish(job)
			require.NoError(t, ts.store.Put(context.Background(), job))

			for _, target := range []string{"/api/status/job-1", "/api/result/job-1"} {
				first := ts.do(httptest.NewRequest(http.MethodGet, target, nil))
				second := ts.do(httptest.NewRequest(http.MethodGet, target, nil))

				require.Equal(t, http.StatusOK, first.Code, target)
				require.Equal(t, http.StatusOK, second.Code, target)
				assert.Equal(t, first.Body.String(), second.Body.String(), target)
				assert.Equal(t, tt.status, decodeBody(t, first)["status"], target)
			}
		})
	}
}

func TestCalculateLaytime(t *testing.T) {
	ts := newTestServer(t, nil)

	ts.laytime.On("CalculateLaytime", mock.Anything, mock.Anything, mock.MatchedBy(func(events []domain.Event) bool {
		return len(events) == 1 && events[0].Get("Event").String() == "NOR tendered"
	})).Return(&domain.LaytimeResult{AllowedDays: 3, ConsumedDays: 1.5}, nil).Once()

	body := `{"summary":{"port":"Santos"},"events":[{"Event":"NOR tendered"}]}`
	w := ts.do(httptest.NewRequest(http.MethodPost, "/api/calculate-laytime", bytes.NewBufferString(body)))

	require.Equal(t, http.StatusOK, w.Code)
	out := decodeBody(t, w)
	assert.EqualValues(t, 3, out["laytime_allowed_days"])
	assert.Equal(t, []any{}, out["events_with_calculations"])
	assert.Equal(t, []any{}, out["calculation_log"])
	ts.laytime.AssertExpectations(t)
}

func TestCalculateLaytime_Errors(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(httptest.NewRequest(http.MethodPost, "/api/calculate-laytime", bytes.NewBufferString(`{"events":[]}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "No events provided for calculation", decodeBody(t, w)["error"])

	w = ts.do(httptest.NewRequest(http.MethodPost, "/api/calculate-laytime", bytes.NewBufferString(`{`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ts.laytime.On("CalculateLaytime", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("pipeline status 500")).Once()
	w = ts.do(httptest.NewRequest(http.MethodPost, "/api/calculate-laytime", bytes.NewBufferString(`{"events":[{"Event":"x"}]}`)))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Laytime calculation failed", decodeBody(t, w)["error"])
}

func TestExport(t *testing.T) {
	ts := newTestServer(t, nil)

	ts.exporter.On("Export", mock.Anything, "job-1", "csv", []domain.Event(nil)).Return(&export.Artifact{
		Filename:    "sof_events_job-1.csv",
		ContentType: "text/csv",
		Body:        []byte("Event\nNOR tendered\n"),
	}, nil).Once()

	w := ts.do(httptest.NewRequest(http.MethodPost, "/api/export/job-1", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "attachment; filename=sof_events_job-1.csv", w.Header().Get("Content-Disposition"))
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Equal(t, "Event\nNOR tendered\n", w.Body.String())
	ts.exporter.AssertExpectations(t)
}

func TestExport_OverrideEvents(t *testing.T) {
	ts := newTestServer(t, nil)

	ts.exporter.On("Export", mock.Anything, "job-1", "json", mock.MatchedBy(func(events []domain.Event) bool {
		return len(events) == 1 && events[0].Get("Event").String() == "Manual"
	})).Return(&export.Artifact{Filename: "f.json", ContentType: "application/json", Body: []byte("[]")}, nil).Once()

	w := ts.do(httptest.NewRequest(http.MethodPost, "/api/export/job-1?type=json",
		bytes.NewBufferString(`{"events":[{"Event":"Manual"}]}`)))

	assert.Equal(t, http.StatusOK, w.Code)
	ts.exporter.AssertExpectations(t)
}

func TestExport_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{
			name:    "bad format",
			err:     domain.NewValidationError(domain.ErrUnsupportedFormat, "Invalid export format. Use 'csv', 'json' or 'xlsx'"),
			status:  http.StatusBadRequest,
			message: "Invalid export format. Use 'csv', 'json' or 'xlsx'",
		},
		{name: "unknown job", err: domain.ErrJobNotFound, status: http.StatusNotFound, message: "Job not found"},
		{name: "not completed", err: domain.ErrJobNotCompleted, status: http.StatusBadRequest, message: "Job not completed yet"},
		{name: "no events", err: domain.ErrNoExportEvents, status: http.StatusNotFound, message: "No events found"},
		{name: "internal", err: errors.New("results bucket gone"), status: http.StatusInternalServerError, message: "Export failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			ts.exporter.On("Export", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.err).Once()

			w := ts.do(httptest.NewRequest(http.MethodPost, "/api/export/job-1?type=pdf", nil))
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.message, decodeBody(t, w)["error"])
		})
	}
}

func TestExport_InvalidBody(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(httptest.NewRequest(http.MethodPost, "/api/export/job-1", bytes.NewBufferString(`{"events":`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	ts.exporter.AssertNotCalled(t, "Export", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestListJobs(t *testing.T) {
	ts := newTestServer(t, nil)
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"job-a", "job-b", "job-c"} {
		ts.putJob(t, id, base.Add(time.Duration(i)*time.Minute))
	}

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Len(t, body["jobs"], 3)
	assert.NotContains(t, body, "next_cursor")

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/jobs?page_size=2", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeBody(t, w)
	require.Len(t, body["jobs"], 2)
	cursor, ok := body["next_cursor"].(string)
	require.True(t, ok)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/jobs?page_size=2&cursor="+url.QueryEscape(cursor), nil))
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeBody(t, w)
	jobs := body["jobs"].([]any)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-c", jobs[0].(map[string]any)["job_id"])
	assert.NotContains(t, body, "next_cursor")
}

func TestListJobs_BadInput(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/jobs?cursor=not-base64!", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/jobs?page_size=-1", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestJobCursor_RoundTrip(t *testing.T) {
	in := &JobCursor{CreatedAt: time.Unix(0, 1709283600123456789), JobID: "job|with|pipes"}

	out, err := DecodeJobCursor(EncodeJobCursor(in))
	require.NoError(t, err)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.Equal(t, in.JobID, out.JobID)

	none, err := DecodeJobCursor("")
	assert.NoError(t, err)
	assert.Nil(t, none)
}

func TestPaginate_SameCreationTime(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	jobs := []*domain.Job{
		domain.NewJob("a", nil, false, "", at),
		domain.NewJob("b", nil, false, "", at),
		domain.NewJob("c", nil, false, "", at),
	}

	page, next := paginate(jobs, nil, 1)
	require.Len(t, page, 1)
	require.NotNil(t, next)

	page, next = paginate(jobs, next, 5)
	require.Len(t, page, 2)
	assert.Equal(t, "b", page[0].ID)
	assert.Nil(t, next)
}
