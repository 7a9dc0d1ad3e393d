package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/lessonplay/pkg/models"
)

type studentKey struct{}

// WithStudent binds the acting student to a context for Memory calls
func WithStudent(ctx context.Context, studentID string) context.Context {
	return context.WithValue(ctx, studentKey{}, studentID)
}

// Memory is an in-process backend that honours the REST contract's server
// semantics. It backs the mock API and the engine's tests.
type Memory struct {
	mu             sync.Mutex
	videos         map[string]*models.VideoDetail
	sessions       map[string]*models.SessionDetail
	byStudentVideo map[string]string
	calls          map[string]int
	failures       map[string]error

	studentView    bool
	defaultStudent string
	now            func() time.Time
}

// MemoryOption configures a Memory backend
type MemoryOption func(*Memory)

// WithStudentView strips answer keys from GetVideo like the student read path does
func WithStudentView() MemoryOption {
	return func(m *Memory) { m.studentView = true }
}

// WithDefaultStudent sets the student used when the context carries none
func WithDefaultStudent(studentID string) MemoryOption {
	return func(m *Memory) { m.defaultStudent = studentID }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory creates an empty backend
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		videos:         make(map[string]*models.VideoDetail),
		sessions:       make(map[string]*models.SessionDetail),
		byStudentVideo: make(map[string]string),
		calls:          make(map[string]int),
		failures:       make(map[string]error),
		defaultStudent: "student-1",
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Seed stores a fully authored video, answer keys included
func (m *Memory) Seed(d models.VideoDetail) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	for i := range d.Milestones {
		d.Milestones[i].VideoID = d.ID
	}
	cp := copyDetail(d)
	m.videos[d.ID] = &cp
}

// FailOn makes every call to operation return err until ClearFailures
func (m *Memory) FailOn(operation string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[operation] = err
}

// ClearFailures removes every injected failure
func (m *Memory) ClearFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = make(map[string]error)
}

// Calls returns how many times operation was invoked
func (m *Memory) Calls(operation string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[operation]
}

// Session returns the stored session, for assertions
func (m *Memory) Session(sessionID string) (models.SessionDetail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return models.SessionDetail{}, false
	}
	return copySession(*s), true
}

// enter counts the call and returns an injected failure; caller holds m.mu
func (m *Memory) enter(operation string) error {
	m.calls[operation]++
	return m.failures[operation]
}

func (m *Memory) student(ctx context.Context) string {
	if id, ok := ctx.Value(studentKey{}).(string); ok && id != "" {
		return id
	}
	return m.defaultStudent
}

// GetVideo implements VideoSource
func (m *Memory) GetVideo(ctx context.Context, videoID string) (*models.VideoDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("get_video"); err != nil {
		return nil, err
	}

	d, ok := m.videos[videoID]
	if !ok {
		return nil, fmt.Errorf("video %s: %w", videoID, ErrNotFound)
	}
	out := copyDetail(*d)
	if m.studentView {
		out = out.StudentView()
	}
	return &out, nil
}

// GetSessionByVideo implements SessionBackend
func (m *Memory) GetSessionByVideo(ctx context.Context, videoID string) (*models.SessionDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("get_session_by_video"); err != nil {
		return nil, err
	}

	id, ok := m.byStudentVideo[m.student(ctx)+"|"+videoID]
	if !ok {
		return nil, fmt.Errorf("session for video %s: %w", videoID, ErrNotFound)
	}
	out := copySession(*m.sessions[id])
	return &out, nil
}

// StartSession implements SessionBackend
func (m *Memory) StartSession(ctx context.Context, videoID string) (*models.SessionDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("start_session"); err != nil {
		return nil, err
	}

	if _, ok := m.videos[videoID]; !ok {
		return nil, fmt.Errorf("video %s: %w", videoID, ErrNotFound)
	}

	key := m.student(ctx) + "|" + videoID
	now := m.now()
	if id, ok := m.byStudentVideo[key]; ok {
		s := m.sessions[id]
		if s.Resumable() {
			s.Status = models.SessionStatusActive
			s.LastSeenAt = now
			out := copySession(*s)
			return &out, nil
		}
	}

	s := &models.SessionDetail{
		Session: models.Session{
			ID:         uuid.New().String(),
			VideoID:    videoID,
			StudentID:  m.student(ctx),
			Status:     models.SessionStatusActive,
			StartedAt:  now,
			LastSeenAt: now,
		},
		MilestoneProgress: []models.MilestoneProgress{},
		QuestionAttempts:  []models.QuestionAttempt{},
	}
	m.sessions[s.ID] = s
	m.byStudentVideo[key] = s.ID

	out := copySession(*s)
	return &out, nil
}

// UpdateProgress implements SessionBackend
func (m *Memory) UpdateProgress(ctx context.Context, sessionID string, update models.ProgressUpdate) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("update_progress"); err != nil {
		return nil, err
	}

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if update.CurrentTime < 0 || update.TotalWatchTime < 0 {
		return nil, fmt.Errorf("%w: negative progress values", ErrInvalidRequest)
	}

	s.CurrentPosition = update.CurrentTime
	if update.TotalWatchTime > s.TotalWatchTime {
		s.TotalWatchTime = update.TotalWatchTime
	}
	if s.Status == models.SessionStatusPaused {
		s.Status = models.SessionStatusActive
	}
	s.LastSeenAt = m.now()

	out := s.Session
	return &out, nil
}

// MarkMilestone implements SessionBackend; re-marking returns the existing record
func (m *Memory) MarkMilestone(ctx context.Context, sessionID string, mark models.MilestoneMark) (*models.MilestoneProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("mark_milestone"); err != nil {
		return nil, err
	}

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if _, ok := m.findMilestone(s.VideoID, mark.MilestoneID); !ok {
		return nil, fmt.Errorf("milestone %s: %w", mark.MilestoneID, ErrNotFound)
	}

	for _, p := range s.MilestoneProgress {
		if p.MilestoneID == mark.MilestoneID {
			out := p
			return &out, nil
		}
	}

	p := models.MilestoneProgress{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		MilestoneID: mark.MilestoneID,
		Timestamp:   mark.Timestamp,
		ReachedAt:   m.now(),
	}
	s.MilestoneProgress = append(s.MilestoneProgress, p)
	return &p, nil
}

// SubmitAnswer implements SessionBackend; a resubmission replaces the prior attempt
func (m *Memory) SubmitAnswer(ctx context.Context, sessionID string, submission models.AnswerSubmission) (*models.AnswerResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("submit_answer"); err != nil {
		return nil, err
	}

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	q, ok := m.findQuestion(s.VideoID, submission.QuestionID)
	if !ok {
		return nil, fmt.Errorf("question %s: %w", submission.QuestionID, ErrNotFound)
	}
	if submission.MilestoneID != "" && submission.MilestoneID != q.MilestoneID {
		return nil, fmt.Errorf("%w: question %s does not belong to milestone %s", ErrInvalidRequest, q.ID, submission.MilestoneID)
	}

	correct, score, err := Grade(q, submission.Answer)
	if err != nil {
		return nil, err
	}

	now := m.now()
	attempt := models.QuestionAttempt{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		QuestionID:  q.ID,
		MilestoneID: q.MilestoneID,
		Answer:      append([]byte(nil), submission.Answer...),
		IsCorrect:   correct,
		Score:       score,
		SubmittedAt: now,
	}
	replaced := false
	for i := range s.QuestionAttempts {
		if s.QuestionAttempts[i].QuestionID == q.ID {
			s.QuestionAttempts[i] = attempt
			replaced = true
			break
		}
	}
	if !replaced {
		s.QuestionAttempts = append(s.QuestionAttempts, attempt)
	}

	return &models.AnswerResult{
		IsCorrect:   correct,
		Score:       score,
		Explanation: q.Explanation,
		SubmittedAt: now,
	}, nil
}

// CompleteSession implements SessionBackend
func (m *Memory) CompleteSession(ctx context.Context, sessionID string, completion models.SessionCompletion) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("complete_session"); err != nil {
		return nil, err
	}

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}

	now := m.now()
	s.Status = models.SessionStatusCompleted
	s.CurrentPosition = completion.FinalTime
	if completion.TotalWatchTime > s.TotalWatchTime {
		s.TotalWatchTime = completion.TotalWatchTime
	}
	s.LastSeenAt = now
	s.CompletedAt = &now

	out := copySession(*s)
	return &out.Session, nil
}

// CreateMilestone implements Authoring
func (m *Memory) CreateMilestone(ctx context.Context, input models.MilestoneInput) (*models.Milestone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("create_milestone"); err != nil {
		return nil, err
	}

	d, ok := m.videos[input.VideoID]
	if !ok {
		return nil, fmt.Errorf("video %s: %w", input.VideoID, ErrNotFound)
	}
	if !models.IsValidMilestoneType(input.Type) {
		return nil, fmt.Errorf("%w: unknown milestone type %q", ErrInvalidRequest, input.Type)
	}
	if input.Timestamp < 0 || (d.Duration > 0 && input.Timestamp > d.Duration) {
		return nil, fmt.Errorf("%w: timestamp %.2f outside video", ErrInvalidRequest, input.Timestamp)
	}

	ms := models.Milestone{
		ID:          uuid.New().String(),
		VideoID:     input.VideoID,
		Timestamp:   input.Timestamp,
		Title:       input.Title,
		Description: input.Description,
		Type:        input.Type,
		Order:       len(d.Milestones),
	}
	d.Milestones = append(d.Milestones, models.MilestoneDetail{Milestone: ms})
	return &ms, nil
}

// CreateQuestion implements Authoring
func (m *Memory) CreateQuestion(ctx context.Context, milestoneID string, input models.QuestionInput) (*models.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("create_question"); err != nil {
		return nil, err
	}
	if input.Type == "" || input.Text == "" {
		return nil, fmt.Errorf("%w: question type and text are required", ErrInvalidRequest)
	}

	for _, d := range m.videos {
		for i := range d.Milestones {
			if d.Milestones[i].ID != milestoneID {
				continue
			}
			points := input.Points
			if points <= 0 {
				points = 1
			}
			q := models.Question{
				ID:          uuid.New().String(),
				MilestoneID: milestoneID,
				Type:        input.Type,
				Text:        input.Text,
				Options:     append([]string(nil), input.Options...),
				AnswerKey:   append([]byte(nil), input.AnswerKey...),
				Explanation: input.Explanation,
				Points:      points,
			}
			d.Milestones[i].Questions = append(d.Milestones[i].Questions, q)
			return &q, nil
		}
	}
	return nil, fmt.Errorf("milestone %s: %w", milestoneID, ErrNotFound)
}

func (m *Memory) findMilestone(videoID, milestoneID string) (models.MilestoneDetail, bool) {
	d, ok := m.videos[videoID]
	if !ok {
		return models.MilestoneDetail{}, false
	}
	for _, ms := range d.Milestones {
		if ms.ID == milestoneID {
			return ms, true
		}
	}
	return models.MilestoneDetail{}, false
}

func (m *Memory) findQuestion(videoID, questionID string) (models.Question, bool) {
	d, ok := m.videos[videoID]
	if !ok {
		return models.Question{}, false
	}
	for _, ms := range d.Milestones {
		for _, q := range ms.Questions {
			if q.ID == questionID {
				return q, true
			}
		}
	}
	return models.Question{}, false
}

func copyDetail(d models.VideoDetail) models.VideoDetail {
	out := models.VideoDetail{Video: d.Video, Milestones: make([]models.MilestoneDetail, len(d.Milestones))}
	for i, ms := range d.Milestones {
		qs := make([]models.Question, len(ms.Questions))
		for j, q := range ms.Questions {
			q.Options = append([]string(nil), q.Options...)
			q.AnswerKey = append([]byte(nil), q.AnswerKey...)
			qs[j] = q
		}
		out.Milestones[i] = models.MilestoneDetail{Milestone: ms.Milestone, Questions: qs}
	}
	return out
}

func copySession(s models.SessionDetail) models.SessionDetail {
	out := s
	if s.CompletedAt != nil {
		at := *s.CompletedAt
		out.CompletedAt = &at
	}
	out.MilestoneProgress = append([]models.MilestoneProgress{}, s.MilestoneProgress...)
	out.QuestionAttempts = append([]models.QuestionAttempt{}, s.QuestionAttempts...)
	return out
}
