// Package reconciler submits quiz answers and merges the backend's verdict
// into the cached session.
package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/therealutkarshpriyadarshi/lessonplay/internal/logging"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/metrics"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/store"
	"github.com/therealutkarshpriyadarshi/lessonplay/pkg/models"
)

// Submitter sends an answer to the backend for grading
type Submitter interface {
	SubmitAnswer(ctx context.Context, sessionID string, submission models.AnswerSubmission) (*models.AnswerResult, error)
}

// Cache is the store surface the reconciler writes to
type Cache interface {
	GetSessionState(sessionID string) (*models.SessionState, bool)
	ApplyQuestionAttempt(sessionID string, attempt models.QuestionAttempt) (*models.SessionState, error)
}

// Reconciler applies graded answers. Nothing is written before the verdict
// arrives.
type Reconciler struct {
	gw    Submitter
	cache Cache
	now   func() time.Time
	log   *logging.Logger
}

// New creates a reconciler
func New(gw Submitter, cache Cache, log *logging.Logger) *Reconciler {
	return &Reconciler{
		gw:    gw,
		cache: cache,
		now:   time.Now,
		log:   logging.OrNop(log).WithComponent("reconciler"),
	}
}

// SubmitAnswer grades rawAnswer on the backend and replaces the session's
// attempt for the question. rawAnswer is an option index, a bool, a string,
// or pre-encoded JSON.
func (r *Reconciler) SubmitAnswer(ctx context.Context, sessionID, questionID string, rawAnswer any, milestoneID string) (*models.AnswerResult, error) {
	if _, ok := r.cache.GetSessionState(sessionID); !ok {
		return nil, fmt.Errorf("submit answer: %w", store.ErrSessionNotCached)
	}

	answer, err := encodeAnswer(rawAnswer)
	if err != nil {
		return nil, fmt.Errorf("submit answer %s: %w", questionID, err)
	}

	result, err := r.gw.SubmitAnswer(ctx, sessionID, models.AnswerSubmission{
		QuestionID:  questionID,
		MilestoneID: milestoneID,
		Answer:      answer,
	})
	if err != nil {
		r.log.WithSessionID(sessionID).WithField("question_id", questionID).ErrorWithErr("answer rejected", err)
		metrics.RecordError("reconciler", "submit_failed")
		return nil, fmt.Errorf("submit answer %s: %w", questionID, err)
	}

	submittedAt := result.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = r.now()
	}
	if _, err := r.cache.ApplyQuestionAttempt(sessionID, models.QuestionAttempt{
		QuestionID:  questionID,
		MilestoneID: milestoneID,
		Answer:      answer,
		IsCorrect:   result.IsCorrect,
		Score:       result.Score,
		SubmittedAt: submittedAt,
	}); err != nil {
		return nil, err
	}

	metrics.RecordAnswer(result.IsCorrect)
	r.log.LogAnswer(sessionID, questionID, result.IsCorrect, result.Score)

	out := *result
	return &out, nil
}

func encodeAnswer(raw any) (json.RawMessage, error) {
	switch v := raw.(type) {
	case nil:
		return nil, fmt.Errorf("answer is required")
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, fmt.Errorf("answer is not valid json")
		}
		return v, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode answer: %w", err)
	}
	return b, nil
}
