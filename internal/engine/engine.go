// Package engine is the surface UI code talks to: cached video and session
// state, subscriptions, and playback bindings that wire a player to the
// progress tracker and the milestone gate.
package engine

import (
	"context"

	"github.com/therealutkarshpriyadarshi/lessonplay/internal/config"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/gateway"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/logging"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/reconciler"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/store"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/tracker"
	"github.com/therealutkarshpriyadarshi/lessonplay/pkg/models"
)

// Engine owns one cache and everything that writes to it
type Engine struct {
	cfg     config.EngineConfig
	store   *store.Store
	answers *reconciler.Reconciler
	clock   tracker.Clock
	log     *logging.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the engine logger
func WithLogger(log *logging.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithClock sets the clock used by playback trackers
func WithClock(c tracker.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// New builds an engine over gw
func New(gw gateway.Gateway, cfg config.EngineConfig, opts ...Option) *Engine {
	e := &Engine{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	if e.clock == nil {
		e.clock = tracker.RealClock()
	}
	e.log = logging.OrNop(e.log)
	e.store = store.New(gw, store.WithLogger(e.log), store.WithClock(e.clock.Now))
	e.answers = reconciler.New(gw, e.store, e.log)
	return e
}

// Store exposes the underlying cache
func (e *Engine) Store() *store.Store { return e.store }

// Hub exposes the change hub, for relays
func (e *Engine) Hub() *store.Hub { return e.store.Hub() }

// LoadVideo returns the cached video, fetching it on a miss or when forceRefresh is set
func (e *Engine) LoadVideo(ctx context.Context, videoID string, forceRefresh bool) (*models.VideoState, error) {
	return e.store.LoadVideo(ctx, videoID, forceRefresh)
}

// GetVideoState reads the cache without fetching
func (e *Engine) GetVideoState(videoID string) (*models.VideoState, bool) {
	return e.store.GetVideoState(videoID)
}

// SubscribeToVideo calls fn with every update of videoID until the returned func is called
func (e *Engine) SubscribeToVideo(videoID string, fn func(*models.VideoState)) func() {
	return e.store.SubscribeToVideo(videoID, fn)
}

// StartOrResumeSession resumes the caller's session for videoID or starts a new one
func (e *Engine) StartOrResumeSession(ctx context.Context, videoID string) (*models.SessionState, error) {
	return e.store.StartOrResumeSession(ctx, videoID)
}

// GetSessionState reads the cache without fetching
func (e *Engine) GetSessionState(sessionID string) (*models.SessionState, bool) {
	return e.store.GetSessionState(sessionID)
}

// SubscribeToSession calls fn with every update of sessionID until the returned func is called
func (e *Engine) SubscribeToSession(sessionID string, fn func(*models.SessionState)) func() {
	return e.store.SubscribeToSession(sessionID, fn)
}

// UpdateSessionProgress applies progress locally, then syncs it to the backend
func (e *Engine) UpdateSessionProgress(ctx context.Context, sessionID string, position, totalWatchTime float64) (*models.SessionState, error) {
	return e.store.UpdateSessionProgress(ctx, sessionID, position, totalWatchTime)
}

// MarkMilestoneReached records a milestone crossing; repeated marks are no-ops
func (e *Engine) MarkMilestoneReached(ctx context.Context, sessionID, milestoneID string, timestamp float64) (*models.SessionState, error) {
	return e.store.MarkMilestoneReached(ctx, sessionID, milestoneID, timestamp)
}

// SubmitAnswer grades an answer on the backend and records the verdict
func (e *Engine) SubmitAnswer(ctx context.Context, sessionID, questionID string, rawAnswer any, milestoneID string) (*models.AnswerResult, error) {
	return e.answers.SubmitAnswer(ctx, sessionID, questionID, rawAnswer, milestoneID)
}

// CompleteSession finalises the session with its last position and watch time
func (e *Engine) CompleteSession(ctx context.Context, sessionID string, finalTime, totalWatchTime float64) (*models.SessionState, error) {
	return e.store.CompleteSession(ctx, sessionID, finalTime, totalWatchTime)
}

// Subscribe registers a store-wide listener
func (e *Engine) Subscribe(fn func(store.Snapshot)) func() {
	return e.store.Subscribe(fn)
}

// CreateMilestone adds a milestone to a video (teacher role)
func (e *Engine) CreateMilestone(ctx context.Context, input models.MilestoneInput) (*models.Milestone, error) {
	return e.store.CreateMilestone(ctx, input)
}

// CreateQuestion adds a question to a milestone of videoID (teacher role)
func (e *Engine) CreateQuestion(ctx context.Context, videoID, milestoneID string, input models.QuestionInput) (*models.Question, error) {
	return e.store.CreateQuestion(ctx, videoID, milestoneID, input)
}
