package models

import (
	"encoding/json"
	"time"
)

// Session is one student's run through one video
type Session struct {
	ID              string     `json:"id"`
	VideoID         string     `json:"video_id"`
	StudentID       string     `json:"student_id"`
	Status          string     `json:"status"`
	CurrentPosition float64    `json:"current_position"`
	TotalWatchTime  float64    `json:"total_watch_time"`
	StartedAt       time.Time  `json:"started_at"`
	LastSeenAt      time.Time  `json:"last_seen_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// SessionStatus constants
const (
	SessionStatusActive    = "ACTIVE"
	SessionStatusPaused    = "PAUSED"
	SessionStatusCompleted = "COMPLETED"
	SessionStatusAbandoned = "ABANDONED"
)

// Resumable reports whether the session can be picked up again
func (s *Session) Resumable() bool {
	return s.Status == SessionStatusActive || s.Status == SessionStatusPaused
}

// MilestoneProgress records that a milestone was reached in a session
type MilestoneProgress struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	MilestoneID string    `json:"milestone_id"`
	Timestamp   float64   `json:"timestamp"`
	ReachedAt   time.Time `json:"reached_at"`
}

// QuestionAttempt is the latest graded answer for a question
type QuestionAttempt struct {
	ID          string          `json:"id,omitempty"`
	SessionID   string          `json:"session_id"`
	QuestionID  string          `json:"question_id"`
	MilestoneID string          `json:"milestone_id"`
	Answer      json.RawMessage `json:"answer,omitempty"`
	IsCorrect   bool            `json:"is_correct"`
	Score       float64         `json:"score"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

// SessionDetail is a session with its progress and attempts, as served by
// GET /sessions/video/{videoId} and POST /sessions/start
type SessionDetail struct {
	Session
	MilestoneProgress []MilestoneProgress `json:"milestone_progress"`
	QuestionAttempts  []QuestionAttempt   `json:"question_attempts"`
}

// AnswerSubmission is the POST /sessions/{id}/question request body
type AnswerSubmission struct {
	QuestionID  string          `json:"question_id"`
	MilestoneID string          `json:"milestone_id"`
	Answer      json.RawMessage `json:"answer"`
}

// AnswerResult is the authoritative verdict for a submitted answer
type AnswerResult struct {
	IsCorrect   bool      `json:"is_correct"`
	Score       float64   `json:"score"`
	Explanation string    `json:"explanation,omitempty"`
	SubmittedAt time.Time `json:"submitted_at,omitempty"`
}

// ProgressUpdate is the PUT /sessions/{id}/progress request body
type ProgressUpdate struct {
	CurrentTime    float64 `json:"current_time"`
	TotalWatchTime float64 `json:"total_watch_time"`
}

// MilestoneMark is the POST /sessions/{id}/milestone request body
type MilestoneMark struct {
	MilestoneID string  `json:"milestone_id"`
	Timestamp   float64 `json:"timestamp"`
}

// SessionCompletion is the PUT /sessions/{id}/complete request body
type SessionCompletion struct {
	FinalTime      float64 `json:"final_time"`
	TotalWatchTime float64 `json:"total_watch_time"`
}
