// Package gate decides when playback crosses a milestone, records the
// crossing exactly once and holds QUIZ milestones until they are answered.
package gate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/therealutkarshpriyadarshi/lessonplay/internal/logging"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/metrics"
	"github.com/therealutkarshpriyadarshi/lessonplay/pkg/models"
)

// State of the gate
type State string

// State constants
const (
	StateWatching         State = "WATCHING"
	StateMilestonePending State = "MILESTONE_PENDING"
	StateGated            State = "GATED"
)

// DefaultWindow is how close, in seconds, the playhead must be to a milestone
const DefaultWindow = 1.0

var (
	ErrInvalidTransition = errors.New("invalid gate transition")
	ErrNotGated          = errors.New("gate is not holding a milestone")
)

var transitions = map[State][]State{
	StateWatching:         {StateMilestonePending},
	StateMilestonePending: {StateGated, StateWatching},
	StateGated:            {StateWatching},
}

// Player is the playback surface the gate controls
type Player interface {
	Pause()
	Resume()
}

// Store is the cache surface the gate reads and writes through
type Store interface {
	GetVideoState(videoID string) (*models.VideoState, bool)
	GetSessionState(sessionID string) (*models.SessionState, bool)
	MarkMilestoneReached(ctx context.Context, sessionID, milestoneID string, timestamp float64) (*models.SessionState, error)
	SetCurrentMilestone(sessionID string, milestone *models.Milestone) error
}

// Gate is the milestone state machine for one session
type Gate struct {
	sessionID string
	videoID   string
	store     Store
	player    Player
	window    float64
	log       *logging.Logger

	mu           sync.Mutex
	state        State
	milestone    *models.Milestone
	pausedByGate bool
}

// New creates a gate in WATCHING. window <= 0 uses DefaultWindow.
func New(sessionID, videoID string, store Store, player Player, window float64, log *logging.Logger) *Gate {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Gate{
		sessionID: sessionID,
		videoID:   videoID,
		store:     store,
		player:    player,
		window:    window,
		log:       logging.OrNop(log).WithComponent("gate"),
		state:     StateWatching,
	}
}

// State returns the current state
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Milestone returns the pending or gated milestone, if any
func (g *Gate) Milestone() (models.Milestone, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.milestone == nil {
		return models.Milestone{}, false
	}
	return *g.milestone, true
}

// transition is the only place the state changes. Callers hold g.mu.
func (g *Gate) transition(to State, m *models.Milestone) error {
	allowed := false
	for _, s := range transitions[g.state] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, g.state, to)
	}

	from := g.state
	g.state = to
	if to == StateWatching {
		g.milestone = nil
	} else if m != nil {
		cp := *m
		g.milestone = &cp
	}

	milestoneID := ""
	if m != nil {
		milestoneID = m.ID
	}
	metrics.RecordGateTransition(string(from), string(to))
	g.log.LogGateTransition(g.sessionID, string(from), string(to), milestoneID)
	return nil
}

// detect finds the first unreached milestone within the window of position
func detect(video *models.VideoState, session *models.SessionState, position, window float64) (models.Milestone, bool) {
	for _, m := range video.Milestones {
		if math.Abs(position-m.Timestamp) > window {
			continue
		}
		if session.HasReached(m.ID) {
			continue
		}
		return m, true
	}
	return models.Milestone{}, false
}

// OnTimeUpdate feeds the playhead position. It reports whether a milestone
// was crossed. Outside WATCHING it does nothing, so a second milestone can
// never become pending while one is held.
func (g *Gate) OnTimeUpdate(ctx context.Context, position float64) (bool, error) {
	g.mu.Lock()
	if g.state != StateWatching {
		g.mu.Unlock()
		return false, nil
	}
	video, ok := g.store.GetVideoState(g.videoID)
	if !ok || video.Video == nil {
		g.mu.Unlock()
		return false, nil
	}
	session, ok := g.store.GetSessionState(g.sessionID)
	if !ok {
		g.mu.Unlock()
		return false, nil
	}
	m, found := detect(video, session, position, g.window)
	if !found {
		g.mu.Unlock()
		return false, nil
	}

	if err := g.transition(StateMilestonePending, &m); err != nil {
		g.mu.Unlock()
		return false, err
	}
	pauseNow := m.Type == models.MilestoneTypeQuiz && !g.pausedByGate
	if pauseNow {
		g.pausedByGate = true
	}
	g.mu.Unlock()

	// pause before the ack so playback cannot run past the quiz
	if pauseNow {
		g.player.Pause()
	}

	_, err := g.store.MarkMilestoneReached(ctx, g.sessionID, m.ID, m.Timestamp)
	hold := err == nil && m.Type == models.MilestoneTypeQuiz && len(video.Questions[m.ID]) > 0
	if hold {
		// store callbacks run here, outside g.mu
		err = g.store.SetCurrentMilestone(g.sessionID, &m)
	}

	g.mu.Lock()
	if hold && err == nil {
		_ = g.transition(StateGated, &m)
		g.mu.Unlock()
		return true, nil
	}
	_ = g.transition(StateWatching, nil)
	resume := g.releasePlayerLocked()
	g.mu.Unlock()
	if resume {
		g.player.Resume()
	}

	if err != nil {
		g.log.WithField("milestone_id", m.ID).WarnWithErr("milestone crossing failed", err)
		return false, fmt.Errorf("milestone %s: %w", m.ID, err)
	}
	return true, nil
}

// CompleteMilestone releases a GATED milestone once its questions are
// answered or skipped, and resumes playback
func (g *Gate) CompleteMilestone() error {
	g.mu.Lock()
	if g.state != StateGated {
		g.mu.Unlock()
		return ErrNotGated
	}
	_ = g.transition(StateWatching, nil)
	resume := g.releasePlayerLocked()
	g.mu.Unlock()

	err := g.store.SetCurrentMilestone(g.sessionID, nil)
	if resume {
		g.player.Resume()
	}
	return err
}

// releasePlayerLocked reports whether the gate owes the player a resume
func (g *Gate) releasePlayerLocked() bool {
	if !g.pausedByGate {
		return false
	}
	g.pausedByGate = false
	return true
}
