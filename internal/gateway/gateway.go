// Package gateway is the engine's view of the REST backend: typed calls for
// the video, session, milestone and question resources.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/therealutkarshpriyadarshi/lessonplay/pkg/models"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnavailable    = errors.New("backend unavailable")
)

// APIError is a non-2xx answer from the backend
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Is maps status codes onto the package sentinels
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrInvalidRequest:
		return e.StatusCode == http.StatusBadRequest || e.StatusCode == http.StatusUnprocessableEntity
	case ErrUnavailable:
		return e.StatusCode >= 500
	}
	return false
}

// Gateway is the contract the engine consumes
type Gateway interface {
	VideoSource
	SessionBackend
	Authoring
}

// VideoSource reads authored video content
type VideoSource interface {
	GetVideo(ctx context.Context, videoID string) (*models.VideoDetail, error)
}

// SessionBackend covers the per-student session resources
type SessionBackend interface {
	// GetSessionByVideo returns ErrNotFound when the student has no session for the video.
	GetSessionByVideo(ctx context.Context, videoID string) (*models.SessionDetail, error)
	StartSession(ctx context.Context, videoID string) (*models.SessionDetail, error)
	UpdateProgress(ctx context.Context, sessionID string, update models.ProgressUpdate) (*models.Session, error)
	// MarkMilestone is idempotent on the server.
	MarkMilestone(ctx context.Context, sessionID string, mark models.MilestoneMark) (*models.MilestoneProgress, error)
	SubmitAnswer(ctx context.Context, sessionID string, submission models.AnswerSubmission) (*models.AnswerResult, error)
	CompleteSession(ctx context.Context, sessionID string, completion models.SessionCompletion) (*models.Session, error)
}

// Authoring covers the teacher-side create calls
type Authoring interface {
	CreateMilestone(ctx context.Context, input models.MilestoneInput) (*models.Milestone, error)
	CreateQuestion(ctx context.Context, milestoneID string, input models.QuestionInput) (*models.Question, error)
}
