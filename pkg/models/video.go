package models

import (
	"encoding/json"
	"sort"
	"time"
)

// Video describes one lesson video as authored by a teacher
type Video struct {
	ID          string    `json:"id"`
	LessonID    string    `json:"lesson_id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	URL         string    `json:"url,omitempty"`
	Duration    float64   `json:"duration"`
	Order       int       `json:"order"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Milestone is a point in a video's timeline
type Milestone struct {
	ID          string  `json:"id"`
	VideoID     string  `json:"video_id"`
	Timestamp   float64 `json:"timestamp"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Type        string  `json:"type"`
	Order       int     `json:"order"`
}

// MilestoneType constants
const (
	MilestoneTypePause      = "PAUSE"
	MilestoneTypeQuiz       = "QUIZ"
	MilestoneTypeCheckpoint = "CHECKPOINT"
)

// Question belongs to exactly one milestone. AnswerKey is opaque to the
// engine and is only present for authoring roles.
type Question struct {
	ID          string          `json:"id"`
	MilestoneID string          `json:"milestone_id"`
	Type        string          `json:"type"`
	Text        string          `json:"text"`
	Options     []string        `json:"options,omitempty"`
	AnswerKey   json.RawMessage `json:"answer_key,omitempty"`
	Explanation string          `json:"explanation,omitempty"`
	Points      float64         `json:"points,omitempty"`
}

// QuestionType constants
const (
	QuestionTypeMultipleChoice = "MULTIPLE_CHOICE"
	QuestionTypeTrueFalse      = "TRUE_FALSE"
	QuestionTypeShortAnswer    = "SHORT_ANSWER"
)

// MilestoneDetail is a milestone with its questions nested, as served by GET /videos/{id}
type MilestoneDetail struct {
	Milestone
	Questions []Question `json:"questions,omitempty"`
}

// VideoDetail is the GET /videos/{id} payload
type VideoDetail struct {
	Video
	Milestones []MilestoneDetail `json:"milestones"`
}

// StudentView returns a copy without answer keys.
func (d VideoDetail) StudentView() VideoDetail {
	out := VideoDetail{Video: d.Video, Milestones: make([]MilestoneDetail, len(d.Milestones))}
	for i, m := range d.Milestones {
		qs := make([]Question, len(m.Questions))
		for j, q := range m.Questions {
			q.AnswerKey = nil
			q.Options = append([]string(nil), q.Options...)
			qs[j] = q
		}
		out.Milestones[i] = MilestoneDetail{Milestone: m.Milestone, Questions: qs}
	}
	return out
}

// MilestoneInput is the POST /milestones request body
type MilestoneInput struct {
	VideoID     string  `json:"video_id"`
	Timestamp   float64 `json:"timestamp"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Type        string  `json:"type"`
}

// QuestionInput is the POST /milestones/{id}/questions request body
type QuestionInput struct {
	Type        string          `json:"type"`
	Text        string          `json:"text"`
	Options     []string        `json:"options,omitempty"`
	AnswerKey   json.RawMessage `json:"answer_key,omitempty"`
	Explanation string          `json:"explanation,omitempty"`
	Points      float64         `json:"points,omitempty"`
}

// SortMilestones orders milestones by timestamp, then by their ordering key.
func SortMilestones(ms []Milestone) {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].Timestamp != ms[j].Timestamp {
			return ms[i].Timestamp < ms[j].Timestamp
		}
		return ms[i].Order < ms[j].Order
	})
}

// IsValidMilestoneType reports whether t is a known milestone type
func IsValidMilestoneType(t string) bool {
	switch t {
	case MilestoneTypePause, MilestoneTypeQuiz, MilestoneTypeCheckpoint:
		return true
	}
	return false
}
