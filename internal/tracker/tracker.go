// Package tracker keeps a session's watch time and playback position and
// syncs them to the store on a fixed interval while the video plays.
package tracker

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/lessonplay/internal/logging"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/metrics"
	"github.com/therealutkarshpriyadarshi/lessonplay/pkg/models"
)

// ErrClosed is returned by Play after Close
var ErrClosed = errors.New("tracker closed")

// Syncer persists progress; *store.Store implements it
type Syncer interface {
	UpdateSessionProgress(ctx context.Context, sessionID string, position, totalWatchTime float64) (*models.SessionState, error)
}

// Options tunes a Tracker
type Options struct {
	Clock             Clock
	Interval          time.Duration
	PositionThreshold float64
	MaxSyncGap        time.Duration
	// InitialPosition and InitialWatchTime resume a previous session
	InitialPosition  float64
	InitialWatchTime float64
	Logger           *logging.Logger
}

// Tracker owns one session's progress bookkeeping. It is safe for
// concurrent use.
type Tracker struct {
	sessionID string
	syncer    Syncer
	clock     Clock
	interval  time.Duration
	threshold float64
	maxGap    time.Duration
	log       *logging.Logger

	mu           sync.Mutex
	playing      bool
	closed       bool
	watchStart   time.Time
	accumulated  float64
	position     float64
	seekPending  bool
	lastReported float64
	lastSynced   float64
	lastSyncedAt time.Time
	stopLoop     context.CancelFunc
	loopDone     chan struct{}
	ticker       Ticker
	ticking      bool

	// one sync is in flight at a time so reported positions go out in
	// order; a forced sync requested meanwhile runs when it returns
	syncing      bool
	flushPending bool
}

// New creates a paused tracker for sessionID
func New(sessionID string, syncer Syncer, opts Options) *Tracker {
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.MaxSyncGap <= 0 {
		opts.MaxSyncGap = 3 * opts.Interval
	}
	if opts.PositionThreshold < 0 {
		opts.PositionThreshold = 0
	}

	return &Tracker{
		sessionID:    sessionID,
		syncer:       syncer,
		clock:        opts.Clock,
		interval:     opts.Interval,
		threshold:    opts.PositionThreshold,
		maxGap:       opts.MaxSyncGap,
		log:          logging.OrNop(opts.Logger).WithComponent("tracker"),
		accumulated:  opts.InitialWatchTime,
		position:     opts.InitialPosition,
		lastReported: opts.InitialPosition,
		lastSynced:   opts.InitialPosition,
		lastSyncedAt: opts.Clock.Now(),
	}
}

// Play starts a watch window and the periodic sync. Calling it while
// already playing is a no-op.
func (t *Tracker) Play() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if t.playing {
		return nil
	}
	t.playing = true
	t.watchStart = t.clock.Now()

	if t.stopLoop != nil {
		t.stopLoop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	ticker := t.clock.NewTicker(t.interval)
	t.stopLoop = cancel
	t.loopDone = done
	t.ticker = ticker
	go t.loop(ctx, ticker, done)
	return nil
}

func (t *Tracker) loop(ctx context.Context, ticker Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if !t.beginTick(ctx) {
				return
			}
			// failures are logged in sync and retried on the next tick
			_ = t.Tick(ctx)
			t.endTick()
		}
	}
}

func (t *Tracker) beginTick(ctx context.Context) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	t.ticking = true
	return true
}

func (t *Tracker) endTick() {
	t.mu.Lock()
	t.ticking = false
	t.mu.Unlock()
}

// UpdatePosition records the player's current time
func (t *Tracker) UpdatePosition(position float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.position = position
}

// Seek records an explicit jump. The next sync may report a lower position.
func (t *Tracker) Seek(position float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.position = position
	t.seekPending = true
}

// Position returns the last recorded player time
func (t *Tracker) Position() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.position
}

// Playing reports whether a watch window is open
func (t *Tracker) Playing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playing
}

// TotalWatchTime returns closed windows plus the open one, in seconds
func (t *Tracker) TotalWatchTime() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalLocked()
}

func (t *Tracker) totalLocked() float64 {
	total := t.accumulated
	if t.playing {
		total += t.clock.Now().Sub(t.watchStart).Seconds()
	}
	return total
}

// Tick syncs if the position moved past the threshold or the last sync is
// older than the max gap. It does nothing while paused.
func (t *Tracker) Tick(ctx context.Context) error {
	t.mu.Lock()
	playing := t.playing
	t.mu.Unlock()
	if !playing {
		return nil
	}
	return t.sync(ctx, false)
}

// Pause closes the watch window, cancels the periodic sync and flushes
// progress. If a sync is already in flight, including one whose store
// subscribers are calling Pause right now, the flush is sent as soon as it
// returns and Pause does not wait for it.
func (t *Tracker) Pause(ctx context.Context) error {
	t.stop()
	return t.sync(ctx, true)
}

// Close is Pause for teardown; the tracker cannot be played again
func (t *Tracker) Close(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return t.Pause(ctx)
}

func (t *Tracker) stop() {
	t.mu.Lock()
	if t.playing {
		t.accumulated += t.clock.Now().Sub(t.watchStart).Seconds()
		t.playing = false
		t.watchStart = time.Time{}
	}
	cancel, done, ticker := t.stopLoop, t.loopDone, t.ticker
	t.stopLoop, t.loopDone, t.ticker = nil, nil, nil
	// mid-tick the loop may be further up this goroutine's stack
	join := !t.ticking
	t.mu.Unlock()

	if ticker != nil {
		ticker.Stop()
	}
	if cancel != nil {
		cancel()
		if join {
			<-done
		}
	}
}

func (t *Tracker) sync(ctx context.Context, force bool) error {
	t.mu.Lock()
	if t.syncing {
		if force {
			t.flushPending = true
		}
		t.mu.Unlock()
		return nil
	}
	t.syncing = true
	t.mu.Unlock()

	err := t.send(ctx, force)
	for {
		t.mu.Lock()
		if !t.flushPending {
			t.syncing = false
			t.mu.Unlock()
			return err
		}
		t.flushPending = false
		t.mu.Unlock()

		// the requester may have cancelled ctx on its way here
		err = t.send(context.WithoutCancel(ctx), true)
	}
}

func (t *Tracker) send(ctx context.Context, force bool) error {
	t.mu.Lock()
	now := t.clock.Now()
	position := t.position
	seek := t.seekPending
	if !seek && position < t.lastReported {
		position = t.lastReported
	}
	total := t.totalLocked()

	moved := position != t.lastSynced && math.Abs(position-t.lastSynced) >= t.threshold
	stale := now.Sub(t.lastSyncedAt) >= t.maxGap
	if !force && !seek && !moved && !stale {
		t.mu.Unlock()
		return nil
	}
	t.seekPending = false
	t.lastReported = position
	t.mu.Unlock()

	_, err := t.syncer.UpdateSessionProgress(ctx, t.sessionID, position, total)
	metrics.RecordProgressSync(err == nil)
	t.log.LogProgressSync(t.sessionID, position, total, err)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.lastSynced = position
	t.lastSyncedAt = now
	t.mu.Unlock()
	return nil
}
