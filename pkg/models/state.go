package models

import (
	"encoding/json"
	"time"
)

// LoadState of a cached entry
type LoadState string

// LoadState constants
const (
	LoadStateIdle    LoadState = "idle"
	LoadStateLoading LoadState = "loading"
	LoadStateError   LoadState = "error"
)

// VideoMetadata is derived, never authored
type VideoMetadata struct {
	LoadState             LoadState      `json:"load_state"`
	IsLoading             bool           `json:"is_loading"`
	Error                 string         `json:"error,omitempty"`
	QuestionsPerMilestone map[string]int `json:"questions_per_milestone"`
	LoadedAt              time.Time      `json:"loaded_at,omitempty"`
}

// VideoState is the cached aggregate for one video's authored content.
// Video is nil until the first successful load.
type VideoState struct {
	Video      *Video                `json:"video,omitempty"`
	Milestones []Milestone           `json:"milestones"`
	Questions  map[string][]Question `json:"questions"`
	Metadata   VideoMetadata         `json:"metadata"`
}

// NewVideoState returns an empty, idle entry
func NewVideoState() *VideoState {
	return &VideoState{
		Questions: make(map[string][]Question),
		Metadata: VideoMetadata{
			LoadState:             LoadStateIdle,
			QuestionsPerMilestone: make(map[string]int),
		},
	}
}

// ApplyDetail replaces the authored content with a fetched payload
func (v *VideoState) ApplyDetail(d *VideoDetail) {
	video := d.Video
	v.Video = &video
	v.Milestones = make([]Milestone, 0, len(d.Milestones))
	v.Questions = make(map[string][]Question, len(d.Milestones))
	for _, m := range d.Milestones {
		v.Milestones = append(v.Milestones, m.Milestone)
		if len(m.Questions) > 0 {
			v.Questions[m.ID] = append([]Question(nil), m.Questions...)
		}
	}
	SortMilestones(v.Milestones)
	v.RecountQuestions()
}

// UpsertMilestone inserts or replaces a milestone, keeping timestamp order
func (v *VideoState) UpsertMilestone(m Milestone) {
	for i := range v.Milestones {
		if v.Milestones[i].ID == m.ID {
			v.Milestones[i] = m
			SortMilestones(v.Milestones)
			return
		}
	}
	v.Milestones = append(v.Milestones, m)
	SortMilestones(v.Milestones)
	v.RecountQuestions()
}

// UpsertQuestion appends a question to its milestone, replacing one with the same id
func (v *VideoState) UpsertQuestion(q Question) {
	qs := v.Questions[q.MilestoneID]
	for i := range qs {
		if qs[i].ID == q.ID {
			qs[i] = q
			return
		}
	}
	v.Questions[q.MilestoneID] = append(qs, q)
	v.RecountQuestions()
}

// HasMilestone reports whether the milestone belongs to this video
func (v *VideoState) HasMilestone(id string) bool {
	_, ok := v.Milestone(id)
	return ok
}

// Milestone looks a milestone up by id
func (v *VideoState) Milestone(id string) (Milestone, bool) {
	for _, m := range v.Milestones {
		if m.ID == id {
			return m, true
		}
	}
	return Milestone{}, false
}

// RecountQuestions refreshes QuestionsPerMilestone
func (v *VideoState) RecountQuestions() {
	counts := make(map[string]int, len(v.Milestones))
	for _, m := range v.Milestones {
		counts[m.ID] = len(v.Questions[m.ID])
	}
	v.Metadata.QuestionsPerMilestone = counts
}

// Clone returns a deep copy safe to hand to subscribers
func (v *VideoState) Clone() *VideoState {
	if v == nil {
		return nil
	}
	out := &VideoState{
		Milestones: append([]Milestone(nil), v.Milestones...),
		Questions:  make(map[string][]Question, len(v.Questions)),
		Metadata:   v.Metadata,
	}
	if v.Video != nil {
		video := *v.Video
		out.Video = &video
	}
	for k, qs := range v.Questions {
		cp := make([]Question, len(qs))
		for i, q := range qs {
			q.Options = append([]string(nil), q.Options...)
			q.AnswerKey = append(json.RawMessage(nil), q.AnswerKey...)
			cp[i] = q
		}
		out.Questions[k] = cp
	}
	out.Metadata.QuestionsPerMilestone = make(map[string]int, len(v.Metadata.QuestionsPerMilestone))
	for k, n := range v.Metadata.QuestionsPerMilestone {
		out.Metadata.QuestionsPerMilestone[k] = n
	}
	return out
}

// SessionMetadata is derived from the session aggregate
type SessionMetadata struct {
	IsLoading            bool    `json:"is_loading"`
	Error                string  `json:"error,omitempty"`
	CompletionPercentage float64 `json:"completion_percentage"`
	CorrectAnswers       int     `json:"correct_answers"`
	TotalAnswers         int     `json:"total_answers"`
	TotalScore           float64 `json:"total_score"`
}

// SessionState is the cached aggregate for one student's run through one video
type SessionState struct {
	Session           *Session                     `json:"session"`
	MilestoneProgress map[string]MilestoneProgress `json:"milestone_progress"`
	QuestionAttempts  map[string]QuestionAttempt   `json:"question_attempts"`
	CurrentMilestone  *Milestone                   `json:"current_milestone,omitempty"`
	Metadata          SessionMetadata              `json:"metadata"`
}

// NewSessionState builds the cached aggregate from a fetched payload
func NewSessionState(d *SessionDetail) *SessionState {
	session := d.Session
	st := &SessionState{
		Session:           &session,
		MilestoneProgress: make(map[string]MilestoneProgress, len(d.MilestoneProgress)),
		QuestionAttempts:  make(map[string]QuestionAttempt, len(d.QuestionAttempts)),
	}
	for _, p := range d.MilestoneProgress {
		if _, ok := st.MilestoneProgress[p.MilestoneID]; !ok {
			st.MilestoneProgress[p.MilestoneID] = p
		}
	}
	for _, a := range d.QuestionAttempts {
		st.PutAttempt(a)
	}
	st.RecountAnswers()
	return st
}

// HasReached reports whether the milestone is already in the progress set
func (s *SessionState) HasReached(milestoneID string) bool {
	_, ok := s.MilestoneProgress[milestoneID]
	return ok
}

// PutAttempt keeps only the latest attempt per question
func (s *SessionState) PutAttempt(a QuestionAttempt) {
	if prev, ok := s.QuestionAttempts[a.QuestionID]; ok && prev.SubmittedAt.After(a.SubmittedAt) {
		return
	}
	s.QuestionAttempts[a.QuestionID] = a
}

// RecountAnswers recomputes the answer counters from the full attempts map
func (s *SessionState) RecountAnswers() {
	correct, score := 0, 0.0
	for _, a := range s.QuestionAttempts {
		if a.IsCorrect {
			correct++
		}
		score += a.Score
	}
	s.Metadata.CorrectAnswers = correct
	s.Metadata.TotalAnswers = len(s.QuestionAttempts)
	s.Metadata.TotalScore = score
}

// RecomputeCompletion derives CompletionPercentage from a video duration
func (s *SessionState) RecomputeCompletion(duration float64) {
	if s.Session == nil || duration <= 0 {
		s.Metadata.CompletionPercentage = 0
		return
	}
	if s.Session.Status == SessionStatusCompleted {
		s.Metadata.CompletionPercentage = 100
		return
	}
	pct := s.Session.CurrentPosition / duration * 100
	if pct > 100 {
		pct = 100
	}
	s.Metadata.CompletionPercentage = pct
}

// Clone returns a deep copy safe to hand to subscribers
func (s *SessionState) Clone() *SessionState {
	if s == nil {
		return nil
	}
	out := &SessionState{
		MilestoneProgress: make(map[string]MilestoneProgress, len(s.MilestoneProgress)),
		QuestionAttempts:  make(map[string]QuestionAttempt, len(s.QuestionAttempts)),
		Metadata:          s.Metadata,
	}
	if s.Session != nil {
		session := *s.Session
		if s.Session.CompletedAt != nil {
			at := *s.Session.CompletedAt
			session.CompletedAt = &at
		}
		out.Session = &session
	}
	for k, p := range s.MilestoneProgress {
		out.MilestoneProgress[k] = p
	}
	for k, a := range s.QuestionAttempts {
		a.Answer = append(json.RawMessage(nil), a.Answer...)
		out.QuestionAttempts[k] = a
	}
	if s.CurrentMilestone != nil {
		m := *s.CurrentMilestone
		out.CurrentMilestone = &m
	}
	return out
}
