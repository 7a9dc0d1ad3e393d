package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/therealutkarshpriyadarshi/lessonplay/internal/gate"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/store"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/tracker"
	"github.com/therealutkarshpriyadarshi/lessonplay/pkg/models"
)

// ErrPlaybackClosed is returned by calls made after Close
var ErrPlaybackClosed = errors.New("playback closed")

// Playback binds one player to one session. The host forwards its player
// events (play, pause, timeupdate, seek, ended) and the binding keeps watch
// time, milestone gating and the cache in step.
type Playback struct {
	engine    *Engine
	sessionID string
	videoID   string
	tracker   *tracker.Tracker
	gate      *gate.Gate

	mu          sync.Mutex
	closed      bool
	unsubscribe func()
}

// Attach binds player to a cached session. The video is loaded if needed.
// onChange, when set, receives every update of the session until Close.
func (e *Engine) Attach(ctx context.Context, sessionID string, player gate.Player, onChange func(*models.SessionState)) (*Playback, error) {
	st, ok := e.store.GetSessionState(sessionID)
	if !ok {
		return nil, fmt.Errorf("attach %s: %w", sessionID, store.ErrSessionNotCached)
	}
	videoID := st.Session.VideoID
	if _, err := e.store.LoadVideo(ctx, videoID, false); err != nil {
		return nil, fmt.Errorf("attach %s: %w", sessionID, err)
	}

	log := e.log.WithSessionID(sessionID).WithVideoID(videoID)
	pb := &Playback{
		engine:    e,
		sessionID: sessionID,
		videoID:   videoID,
		tracker: tracker.New(sessionID, e.store, tracker.Options{
			Clock:             e.clock,
			Interval:          e.cfg.SyncInterval,
			PositionThreshold: e.cfg.PositionThreshold,
			MaxSyncGap:        e.cfg.MaxSyncGap,
			InitialPosition:   st.Session.CurrentPosition,
			InitialWatchTime:  st.Session.TotalWatchTime,
			Logger:            e.log,
		}),
		gate: gate.New(sessionID, videoID, e.store, player, e.cfg.MilestoneWindow, e.log),
	}
	if onChange != nil {
		pb.unsubscribe = e.store.SubscribeToSession(sessionID, onChange)
	}

	log.Info("playback attached")
	return pb, nil
}

// SessionID of the bound session
func (p *Playback) SessionID() string { return p.sessionID }

// State of the milestone gate
func (p *Playback) State() gate.State { return p.gate.State() }

// Milestone returns the milestone currently pending or gated
func (p *Playback) Milestone() (models.Milestone, bool) { return p.gate.Milestone() }

// Position returns the last reported player time
func (p *Playback) Position() float64 { return p.tracker.Position() }

// TotalWatchTime returns accumulated watch time in seconds
func (p *Playback) TotalWatchTime() float64 { return p.tracker.TotalWatchTime() }

func (p *Playback) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Play opens a watch window and starts periodic progress sync
func (p *Playback) Play() error {
	if p.isClosed() {
		return ErrPlaybackClosed
	}
	return p.tracker.Play()
}

// Pause flushes watch time and progress immediately
func (p *Playback) Pause(ctx context.Context) error {
	if p.isClosed() {
		return ErrPlaybackClosed
	}
	return p.tracker.Pause(ctx)
}

// TimeUpdate feeds the player's current time. It reports whether a
// milestone was crossed.
func (p *Playback) TimeUpdate(ctx context.Context, position float64) (bool, error) {
	if p.isClosed() {
		return false, ErrPlaybackClosed
	}
	p.tracker.UpdatePosition(position)
	return p.gate.OnTimeUpdate(ctx, position)
}

// Seek records an explicit jump; the next sync may move the position back
func (p *Playback) Seek(ctx context.Context, position float64) (bool, error) {
	if p.isClosed() {
		return false, ErrPlaybackClosed
	}
	p.tracker.Seek(position)
	return p.gate.OnTimeUpdate(ctx, position)
}

// Answer submits an answer for a question of the gated milestone. Once
// every question of the milestone has an attempt the gate is released.
func (p *Playback) Answer(ctx context.Context, questionID string, rawAnswer any) (*models.AnswerResult, error) {
	if p.isClosed() {
		return nil, ErrPlaybackClosed
	}
	m, ok := p.gate.Milestone()
	if !ok || p.gate.State() != gate.StateGated {
		return nil, gate.ErrNotGated
	}

	result, err := p.engine.SubmitAnswer(ctx, p.sessionID, questionID, rawAnswer, m.ID)
	if err != nil {
		return nil, err
	}

	if p.allAnswered(m.ID) {
		if err := p.gate.CompleteMilestone(); err != nil && !errors.Is(err, gate.ErrNotGated) {
			return result, err
		}
	}
	return result, nil
}

func (p *Playback) allAnswered(milestoneID string) bool {
	video, ok := p.engine.store.GetVideoState(p.videoID)
	if !ok {
		return false
	}
	session, ok := p.engine.store.GetSessionState(p.sessionID)
	if !ok {
		return false
	}
	for _, q := range video.Questions[milestoneID] {
		if _, answered := session.QuestionAttempts[q.ID]; !answered {
			return false
		}
	}
	return true
}

// CompleteMilestone releases the gate, for example when the student skips
// the remaining questions
func (p *Playback) CompleteMilestone() error {
	if p.isClosed() {
		return ErrPlaybackClosed
	}
	return p.gate.CompleteMilestone()
}

// Ended flushes progress and completes the session
func (p *Playback) Ended(ctx context.Context) (*models.SessionState, error) {
	if p.isClosed() {
		return nil, ErrPlaybackClosed
	}
	// a failed flush is retried by the completion call itself
	_ = p.tracker.Pause(ctx)
	return p.engine.store.CompleteSession(ctx, p.sessionID, p.tracker.Position(), p.tracker.TotalWatchTime())
}

// Close is the unmount path: it flushes the open watch window, then drops
// the session subscription. Calling it twice is safe.
func (p *Playback) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	unsubscribe := p.unsubscribe
	p.unsubscribe = nil
	p.mu.Unlock()

	err := p.tracker.Close(ctx)
	if unsubscribe != nil {
		unsubscribe()
	}
	return err
}
