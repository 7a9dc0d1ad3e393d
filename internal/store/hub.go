package store

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/therealutkarshpriyadarshi/lessonplay/internal/logging"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/metrics"
	"github.com/therealutkarshpriyadarshi/lessonplay/pkg/models"
)

// Kind of cached entry
type Kind string

// Kind constants
const (
	KindVideo   Kind = "video"
	KindSession Kind = "session"
)

// Change names the entry a notification is about
type Change struct {
	Kind Kind
	ID   string
}

// Snapshot is the whole store as seen by store-wide subscribers. It is shared
// between those subscribers and must be treated as read-only.
type Snapshot struct {
	Videos   map[string]*models.VideoState
	Sessions map[string]*models.SessionState
	Changed  Change
}

type listener[T any] struct {
	fn     func(T)
	active atomic.Bool
	last   atomic.Uint64
}

// claim reports whether version is newer than anything this listener has seen
func (l *listener[T]) claim(version uint64) bool {
	for {
		last := l.last.Load()
		if version <= last {
			return false
		}
		if l.last.CompareAndSwap(last, version) {
			return true
		}
	}
}

// event is built under the store lock and dispatched after it is released
type event struct {
	version  uint64
	change   Change
	video    *models.VideoState
	session  *models.SessionState
	snapshot *Snapshot
}

// Hub fans cache changes out to subscribers. Listener slices are copy-on-write
// so dispatch iterates a stable copy while callbacks unsubscribe.
type Hub struct {
	mu       sync.RWMutex
	global   []*listener[Snapshot]
	videos   map[string][]*listener[*models.VideoState]
	sessions map[string][]*listener[*models.SessionState]
	log      *logging.Logger
}

// NewHub creates an empty hub
func NewHub(log *logging.Logger) *Hub {
	return &Hub{
		videos:   make(map[string][]*listener[*models.VideoState]),
		sessions: make(map[string][]*listener[*models.SessionState]),
		log:      logging.OrNop(log).WithComponent("hub"),
	}
}

// Subscribe registers a store-wide callback
func (h *Hub) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	l := &listener[Snapshot]{fn: fn}
	l.active.Store(true)

	h.mu.Lock()
	h.global = appendListener(h.global, l)
	h.mu.Unlock()
	metrics.AddSubscribers("store", 1)

	return h.unsubscriber(func() {
		l.active.Store(false)
		h.global = removeListener(h.global, l)
	}, "store")
}

// SubscribeToVideo registers a callback fired only when that video changes
func (h *Hub) SubscribeToVideo(videoID string, fn func(*models.VideoState)) (unsubscribe func()) {
	l := &listener[*models.VideoState]{fn: fn}
	l.active.Store(true)

	h.mu.Lock()
	h.videos[videoID] = appendListener(h.videos[videoID], l)
	h.mu.Unlock()
	metrics.AddSubscribers(string(KindVideo), 1)

	return h.unsubscriber(func() {
		l.active.Store(false)
		if rest := removeListener(h.videos[videoID], l); len(rest) > 0 {
			h.videos[videoID] = rest
		} else {
			delete(h.videos, videoID)
		}
	}, string(KindVideo))
}

// SubscribeToSession registers a callback fired only when that session changes
func (h *Hub) SubscribeToSession(sessionID string, fn func(*models.SessionState)) (unsubscribe func()) {
	l := &listener[*models.SessionState]{fn: fn}
	l.active.Store(true)

	h.mu.Lock()
	h.sessions[sessionID] = appendListener(h.sessions[sessionID], l)
	h.mu.Unlock()
	metrics.AddSubscribers(string(KindSession), 1)

	return h.unsubscriber(func() {
		l.active.Store(false)
		if rest := removeListener(h.sessions[sessionID], l); len(rest) > 0 {
			h.sessions[sessionID] = rest
		} else {
			delete(h.sessions, sessionID)
		}
	}, string(KindSession))
}

func (h *Hub) unsubscriber(remove func(), scope string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			remove()
			h.mu.Unlock()
			metrics.AddSubscribers(scope, -1)
		})
	}
}

// wants reports which parts of an event anyone would receive
func (h *Hub) wants(c Change) (keyed, global bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	switch c.Kind {
	case KindVideo:
		keyed = len(h.videos[c.ID]) > 0
	case KindSession:
		keyed = len(h.sessions[c.ID]) > 0
	}
	return keyed, len(h.global) > 0
}

func (h *Hub) dispatch(ev event) {
	h.mu.RLock()
	global := h.global
	var videos []*listener[*models.VideoState]
	var sessions []*listener[*models.SessionState]
	switch ev.change.Kind {
	case KindVideo:
		videos = h.videos[ev.change.ID]
	case KindSession:
		sessions = h.sessions[ev.change.ID]
	}
	h.mu.RUnlock()

	if ev.video != nil {
		for _, l := range videos {
			deliver(h, l, ev.version, func() *models.VideoState { return ev.video.Clone() })
		}
	}
	if ev.session != nil {
		for _, l := range sessions {
			deliver(h, l, ev.version, func() *models.SessionState { return ev.session.Clone() })
		}
	}
	if ev.snapshot != nil {
		for _, l := range global {
			deliver(h, l, ev.version, func() Snapshot { return *ev.snapshot })
		}
	}
}

func deliver[T any](h *Hub, l *listener[T], version uint64, value func() T) {
	if !l.active.Load() || !l.claim(version) {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordError("hub", "subscriber_panic")
			h.log.WithField("panic", fmt.Sprint(r)).Error("subscriber panicked")
		}
	}()
	l.fn(value())
}

func appendListener[T any](ls []*listener[T], l *listener[T]) []*listener[T] {
	out := make([]*listener[T], len(ls), len(ls)+1)
	copy(out, ls)
	return append(out, l)
}

func removeListener[T any](ls []*listener[T], l *listener[T]) []*listener[T] {
	out := make([]*listener[T], 0, len(ls))
	for _, x := range ls {
		if x != l {
			out = append(out, x)
		}
	}
	return out
}
