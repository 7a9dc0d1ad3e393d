package mockapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/config"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/gateway"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/logging"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/middleware"
	"github.com/therealutkarshpriyadarshi/lessonplay/pkg/models"
)

func setupRouter(t *testing.T) (*gin.Engine, *gateway.Memory) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	backend := gateway.NewMemory()
	backend.Seed(DemoVideo())
	return NewRouter(backend, config.ServerConfig{}, nil, logging.Nop()), backend
}

func request(t *testing.T, router http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func student(id string) map[string]string {
	return map[string]string{gateway.HeaderStudentID: id}
}

func TestHealthCheck(t *testing.T) {
	router, _ := setupRouter(t)

	w := request(t, router, "GET", "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetVideoHidesAnswerKeysFromStudents(t *testing.T) {
	router, _ := setupRouter(t)

	w := request(t, router, "GET", "/api/videos/"+DemoVideoID, nil, student("s1"))
	require.Equal(t, http.StatusOK, w.Code)

	var detail models.VideoDetail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	require.Len(t, detail.Milestones, 4)
	for _, m := range detail.Milestones {
		for _, q := range m.Questions {
			assert.Empty(t, q.AnswerKey, q.ID)
		}
	}

	w = request(t, router, "GET", "/api/videos/"+DemoVideoID, nil, map[string]string{gateway.HeaderRole: "teacher"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.NotEmpty(t, detail.Milestones[1].Questions[0].AnswerKey)
}

func TestGetVideoNotFound(t *testing.T) {
	router, _ := setupRouter(t)

	w := request(t, router, "GET", "/api/videos/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "error")
}

func TestSessionLifecycle(t *testing.T) {
	router, _ := setupRouter(t)

	w := request(t, router, "GET", "/api/sessions/video/"+DemoVideoID, nil, student("s1"))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = request(t, router, "POST", "/api/sessions/start", gin.H{"video_id": DemoVideoID}, student("s1"))
	require.Equal(t, http.StatusOK, w.Code)
	var session models.SessionDetail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &session))
	assert.Equal(t, models.SessionStatusActive, session.Status)
	assert.Equal(t, "s1", session.StudentID)

	base := "/api/sessions/" + session.ID
	w = request(t, router, "PUT", base+"/progress", models.ProgressUpdate{CurrentTime: 42, TotalWatchTime: 40}, student("s1"))
	require.Equal(t, http.StatusOK, w.Code)

	w = request(t, router, "POST", base+"/milestone", models.MilestoneMark{MilestoneID: "m-quiz-1", Timestamp: 60}, student("s1"))
	require.Equal(t, http.StatusOK, w.Code)

	w = request(t, router, "POST", base+"/question", models.AnswerSubmission{
		QuestionID:  "q-denominator",
		MilestoneID: "m-quiz-1",
		Answer:      json.RawMessage(`1`),
	}, student("s1"))
	require.Equal(t, http.StatusOK, w.Code)
	var result models.AnswerResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.IsCorrect)
	assert.Equal(t, 2.0, result.Score)

	w = request(t, router, "GET", "/api/sessions/video/"+DemoVideoID, nil, student("s1"))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &session))
	assert.Equal(t, 42.0, session.CurrentPosition)
	assert.Len(t, session.MilestoneProgress, 1)
	assert.Len(t, session.QuestionAttempts, 1)

	w = request(t, router, "PUT", base+"/complete", models.SessionCompletion{FinalTime: 300, TotalWatchTime: 290}, student("s1"))
	require.Equal(t, http.StatusOK, w.Code)
	var done models.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &done))
	assert.Equal(t, models.SessionStatusCompleted, done.Status)
	assert.NotNil(t, done.CompletedAt)

	// other students do not see this session
	w = request(t, router, "GET", "/api/sessions/video/"+DemoVideoID, nil, student("s2"))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBadRequests(t *testing.T) {
	router, _ := setupRouter(t)

	w := request(t, router, "POST", "/api/sessions/start", gin.H{}, student("s1"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = request(t, router, "POST", "/api/sessions/start", gin.H{"video_id": DemoVideoID}, student("s1"))
	require.Equal(t, http.StatusOK, w.Code)
	var session models.SessionDetail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &session))

	w = request(t, router, "POST", "/api/sessions/"+session.ID+"/question", models.AnswerSubmission{
		QuestionID: "q-denominator",
		Answer:     json.RawMessage(`"twelve"`),
	}, student("s1"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthoringRequiresTeacher(t *testing.T) {
	router, backend := setupRouter(t)
	input := models.MilestoneInput{VideoID: DemoVideoID, Timestamp: 250, Title: "Wrap up", Type: models.MilestoneTypeCheckpoint}

	w := request(t, router, "POST", "/api/milestones", input, student("s1"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	teacher := map[string]string{gateway.HeaderRole: "teacher"}
	w = request(t, router, "POST", "/api/milestones", input, teacher)
	require.Equal(t, http.StatusCreated, w.Code)
	var milestone models.Milestone
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &milestone))
	assert.NotEmpty(t, milestone.ID)

	w = request(t, router, "POST", "/api/milestones/"+milestone.ID+"/questions", models.QuestionInput{
		Type:      models.QuestionTypeTrueFalse,
		Text:      "Done?",
		AnswerKey: json.RawMessage(`{"correct":true}`),
	}, teacher)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 1, backend.Calls("create_question"))
}

func TestBackendFailureMapsTo500(t *testing.T) {
	router, backend := setupRouter(t)
	backend.FailOn("get_video", assert.AnError)

	w := request(t, router, "GET", "/api/videos/"+DemoVideoID, nil, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestIdleCallersAreDroppedFromLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	backend := gateway.NewMemory()
	backend.Seed(DemoVideo())
	limiter := middleware.NewRateLimiter(100, 100)
	router := NewRouter(backend, config.ServerConfig{}, limiter, logging.Nop())

	for _, id := range []string{"s1", "s2", "s3"} {
		w := request(t, router, "GET", "/api/videos/"+DemoVideoID, nil, student(id))
		require.Equal(t, http.StatusOK, w.Code)
	}
	require.Equal(t, 3, limiter.Size())

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		limiter.RunCleanup(ctx, 5*time.Millisecond, 20*time.Millisecond)
	}()

	require.Eventually(t, func() bool {
		return limiter.Size() == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("cleanup loop did not stop")
	}

	// a returning caller starts a fresh limiter
	w := request(t, router, "GET", "/api/videos/"+DemoVideoID, nil, student("s1"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, limiter.Size())
}
