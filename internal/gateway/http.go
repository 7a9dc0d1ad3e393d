package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/lessonplay/internal/config"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/logging"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/metrics"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/tracing"
	"github.com/therealutkarshpriyadarshi/lessonplay/pkg/models"
	"golang.org/x/time/rate"
)

// Header names understood by the backend
const (
	HeaderStudentID = "X-Student-ID"
	HeaderRole      = "X-Role"
)

// HTTPGateway talks to the REST backend over HTTP/JSON
type HTTPGateway struct {
	baseURL   string
	studentID string
	role      string
	token     string
	client    *http.Client
	limiter   *rate.Limiter
	log       *logging.Logger
}

// NewHTTPGateway creates a client for the configured backend
func NewHTTPGateway(cfg config.GatewayConfig, log *logging.Logger) (*HTTPGateway, error) {
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid gateway base URL %q: %w", cfg.BaseURL, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &HTTPGateway{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		studentID: cfg.StudentID,
		role:      cfg.Role,
		token:     cfg.AuthToken,
		client:    &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(limit, burst),
		log:       logging.OrNop(log).WithComponent("gateway"),
	}, nil
}

// GetVideo fetches a video with its milestones and questions
func (g *HTTPGateway) GetVideo(ctx context.Context, videoID string) (*models.VideoDetail, error) {
	var out models.VideoDetail
	if err := g.do(ctx, "get_video", http.MethodGet, "/videos/"+url.PathEscape(videoID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSessionByVideo looks up the caller's session for a video
func (g *HTTPGateway) GetSessionByVideo(ctx context.Context, videoID string) (*models.SessionDetail, error) {
	var out models.SessionDetail
	if err := g.do(ctx, "get_session_by_video", http.MethodGet, "/sessions/video/"+url.PathEscape(videoID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartSession creates or resumes a session on the backend
func (g *HTTPGateway) StartSession(ctx context.Context, videoID string) (*models.SessionDetail, error) {
	body := map[string]string{"video_id": videoID}
	var out models.SessionDetail
	if err := g.do(ctx, "start_session", http.MethodPost, "/sessions/start", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateProgress sends position and accumulated watch time
func (g *HTTPGateway) UpdateProgress(ctx context.Context, sessionID string, update models.ProgressUpdate) (*models.Session, error) {
	var out models.Session
	if err := g.do(ctx, "update_progress", http.MethodPut, sessionPath(sessionID, "progress"), update, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkMilestone records a reached milestone
func (g *HTTPGateway) MarkMilestone(ctx context.Context, sessionID string, mark models.MilestoneMark) (*models.MilestoneProgress, error) {
	var out models.MilestoneProgress
	if err := g.do(ctx, "mark_milestone", http.MethodPost, sessionPath(sessionID, "milestone"), mark, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitAnswer sends a raw answer and returns the server's verdict
func (g *HTTPGateway) SubmitAnswer(ctx context.Context, sessionID string, submission models.AnswerSubmission) (*models.AnswerResult, error) {
	var out models.AnswerResult
	if err := g.do(ctx, "submit_answer", http.MethodPost, sessionPath(sessionID, "question"), submission, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CompleteSession finalises a session
func (g *HTTPGateway) CompleteSession(ctx context.Context, sessionID string, completion models.SessionCompletion) (*models.Session, error) {
	var out models.Session
	if err := g.do(ctx, "complete_session", http.MethodPut, sessionPath(sessionID, "complete"), completion, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateMilestone authors a milestone
func (g *HTTPGateway) CreateMilestone(ctx context.Context, input models.MilestoneInput) (*models.Milestone, error) {
	var out models.Milestone
	if err := g.do(ctx, "create_milestone", http.MethodPost, "/milestones", input, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateQuestion authors a question under a milestone
func (g *HTTPGateway) CreateQuestion(ctx context.Context, milestoneID string, input models.QuestionInput) (*models.Question, error) {
	var out models.Question
	path := "/milestones/" + url.PathEscape(milestoneID) + "/questions"
	if err := g.do(ctx, "create_question", http.MethodPost, path, input, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func sessionPath(sessionID, action string) string {
	return "/sessions/" + url.PathEscape(sessionID) + "/" + action
}

func (g *HTTPGateway) do(ctx context.Context, operation, method, path string, body, out interface{}) (err error) {
	endpoint := g.baseURL + path
	span, ctx := tracing.StartClientSpan(ctx, "gateway."+operation, method, endpoint)
	defer tracing.FinishSpan(span)

	start := time.Now()
	status := 0
	defer func() {
		tracing.LogError(span, err)
		label := strconv.Itoa(status)
		if status == 0 {
			label = "error"
		}
		metrics.RecordGatewayRequest(operation, label, time.Since(start).Seconds())
		g.log.LogGatewayCall(operation, status, time.Since(start), err)
	}()

	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limiter: %w", operation, err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: failed to marshal request: %w", operation, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", operation, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.studentID != "" {
		req.Header.Set(HeaderStudentID, g.studentID)
	}
	if g.role != "" {
		req.Header.Set(HeaderRole, g.role)
	}
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", operation, ErrUnavailable, err)
	}
	defer resp.Body.Close()
	status = resp.StatusCode
	tracing.SetTag(span, "http.status_code", status)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: failed to read response: %w", operation, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s: %w", operation, decodeAPIError(resp.StatusCode, data))
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", operation, err)
	}
	return nil
}

func decodeAPIError(status int, body []byte) *APIError {
	var payload struct {
		Error string `json:"error"`
	}
	msg := http.StatusText(status)
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &APIError{StatusCode: status, Message: msg}
}
