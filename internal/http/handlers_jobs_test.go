package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidora/genjobs/internal/domain/model"
	apperrors "github.com/vidora/genjobs/internal/errors"
)

// stubJobService implements JobService with canned responses.
type stubJobService struct {
	submitSnapshot model.Snapshot
	submitErr      error
	submitReq      model.GenerationRequest

	statusSnapshot model.Snapshot
	statusErr      error

	events    chan model.Snapshot
	cancelled []string
	cancelErr error

	resumeCount int
	resumeScope string
	resumeErr   error
}

func (s *stubJobService) Submit(ctx context.Context, req model.GenerationRequest) (model.Snapshot, error) {
	s.submitReq = req
	return s.submitSnapshot, s.submitErr
}

func (s *stubJobService) GetStatus(ctx context.Context, jobID string) (model.Snapshot, error) {
	return s.statusSnapshot, s.statusErr
}

func (s *stubJobService) Subscribe(jobID string) (<-chan model.Snapshot, func(), error) {
	if s.events == nil {
		return nil, nil, apperrors.NotFoundf("job %s is not tracked", jobID)
	}
	return s.events, func() {}, nil
}

func (s *stubJobService) Cancel(ctx context.Context, jobID string) error {
	s.cancelled = append(s.cancelled, jobID)
	return s.cancelErr
}

func (s *stubJobService) ResumeAll(ctx context.Context, userScope string) (int, error) {
	s.resumeScope = userScope
	return s.resumeCount, s.resumeErr
}

func newTestRouter(svc JobService, health map[string]HealthChecker) http.Handler {
	return NewRouter(RouterServices{Jobs: svc, Health: health})
}

func TestSubmitJob(t *testing.T) {
	svc := &stubJobService{
		submitSnapshot: model.Snapshot{
			JobID:    "task-1",
			Provider: model.ProviderWuyin,
			Status:   model.JobStatusProcessing,
		},
	}
	router := newTestRouter(svc, nil)

	body := `{"user_id":"user-1","prompt":"a lighthouse","duration_seconds":5}`
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "user-1", svc.submitReq.UserID)
	assert.Equal(t, 5, svc.submitReq.DurationSeconds)

	var snapshot model.Snapshot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&snapshot))
	assert.Equal(t, "task-1", snapshot.JobID)
}

func TestSubmitJob_InvalidJSON(t *testing.T) {
	router := newTestRouter(&stubJobService{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(`{"unknown_field":1}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitJob_ValidationError(t *testing.T) {
	svc := &stubJobService{submitErr: apperrors.Validation("prompt is required")}
	router := newTestRouter(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitJob_ProviderFailure(t *testing.T) {
	svc := &stubJobService{submitErr: apperrors.ProviderUnavailable("wuyin", "credentials missing")}
	router := newTestRouter(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(`{"user_id":"u","prompt":"p"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestGetJob(t *testing.T) {
	svc := &stubJobService{
		statusSnapshot: model.Snapshot{JobID: "task-1", Status: model.JobStatusCompleted, Progress: 100},
	}
	router := newTestRouter(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/task-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var snapshot model.Snapshot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&snapshot))
	assert.Equal(t, model.JobStatusCompleted, snapshot.Status)
}

func TestGetJob_NotFound(t *testing.T) {
	svc := &stubJobService{statusErr: apperrors.NotFound("unknown job")}
	router := newTestRouter(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelJob(t *testing.T) {
	svc := &stubJobService{}
	router := newTestRouter(svc, nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/jobs/task-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"task-1"}, svc.cancelled)
}

func TestResumeJobs(t *testing.T) {
	svc := &stubJobService{resumeCount: 4}
	router := newTestRouter(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/resume", strings.NewReader(`{"user_id":"user-9"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-9", svc.resumeScope)

	var body map[string]int
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, 4, body["count"])
}

func TestResumeJobs_EmptyBody(t *testing.T) {
	svc := &stubJobService{resumeCount: 0}
	router := newTestRouter(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/resume", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", svc.resumeScope)
}

func TestStreamJobEvents(t *testing.T) {
	events := make(chan model.Snapshot, 4)
	svc := &stubJobService{events: events}
	router := newTestRouter(svc, nil)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	events <- model.Snapshot{JobID: "task-1", Status: model.JobStatusProcessing, Progress: 50}
	events <- model.Snapshot{JobID: "task-1", Status: model.JobStatusCompleted, Progress: 100}

	resp, err := server.Client().Get(server.URL + "/api/jobs/task-1/events")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	var snapshots []model.Snapshot
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var snapshot model.Snapshot
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &snapshot))
		snapshots = append(snapshots, snapshot)
	}

	// The stream ends on the terminal snapshot.
	require.Len(t, snapshots, 2)
	assert.Equal(t, 50, snapshots[0].Progress)
	assert.Equal(t, model.JobStatusCompleted, snapshots[1].Status)
}

func TestStreamJobEvents_UnknownJob(t *testing.T) {
	router := newTestRouter(&stubJobService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/missing/events", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// stubHealth returns a fixed error.
type stubHealth struct{ err error }

func (s stubHealth) Health(ctx context.Context) error { return s.err }

func TestHealth(t *testing.T) {
	router := newTestRouter(&stubJobService{}, map[string]HealthChecker{
		"postgres": stubHealth{},
		"redis":    stubHealth{},
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestHealth_Degraded(t *testing.T) {
	router := newTestRouter(&stubJobService{}, map[string]HealthChecker{
		"postgres": stubHealth{},
		"redis":    stubHealth{err: errors.New("connection refused")},
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "ok", body.Checks["postgres"])
	assert.Contains(t, body.Checks["redis"], "connection refused")
}
