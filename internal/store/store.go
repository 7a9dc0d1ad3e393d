// Package store is the engine's entity cache: the only owner of cached video
// and session aggregates. Every mutation goes through a Store method, which
// applies the change under the lock and then notifies the Hub.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/lessonplay/internal/gateway"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/logging"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/metrics"
	"github.com/therealutkarshpriyadarshi/lessonplay/pkg/models"
	"golang.org/x/sync/singleflight"
)

var (
	ErrVideoNotCached    = errors.New("video not cached")
	ErrSessionNotCached  = errors.New("session not cached")
	ErrMilestoneNotFound = errors.New("milestone not found")
)

// Store caches videos and sessions fetched through a gateway
type Store struct {
	gw  gateway.Gateway
	hub *Hub
	log *logging.Logger
	now func() time.Time

	mu          sync.Mutex
	version     uint64
	videos      map[string]*models.VideoState
	sessions    map[string]*models.SessionState
	byVideo     map[string]string
	progressSeq map[string]uint64

	videoFlight   singleflight.Group
	sessionFlight singleflight.Group
	markFlight    singleflight.Group
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the store logger
func WithLogger(log *logging.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithHub makes the store publish through an existing hub
func WithHub(h *Hub) Option {
	return func(s *Store) { s.hub = h }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store backed by gw
func New(gw gateway.Gateway, opts ...Option) *Store {
	s := &Store{
		gw:          gw,
		now:         time.Now,
		videos:      make(map[string]*models.VideoState),
		sessions:    make(map[string]*models.SessionState),
		byVideo:     make(map[string]string),
		progressSeq: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	base := logging.OrNop(s.log)
	if s.hub == nil {
		s.hub = NewHub(base)
	}
	s.log = base.WithComponent("store")
	return s
}

// Hub returns the hub the store publishes on
func (s *Store) Hub() *Hub {
	return s.hub
}

// Subscribe registers a store-wide callback
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	return s.hub.Subscribe(fn)
}

// SubscribeToVideo registers a callback for one video
func (s *Store) SubscribeToVideo(videoID string, fn func(*models.VideoState)) func() {
	return s.hub.SubscribeToVideo(videoID, fn)
}

// SubscribeToSession registers a callback for one session
func (s *Store) SubscribeToSession(sessionID string, fn func(*models.SessionState)) func() {
	return s.hub.SubscribeToSession(sessionID, fn)
}

// eventLocked stamps a change and clones only what subscribers will receive.
// Callers hold s.mu.
func (s *Store) eventLocked(c Change) event {
	s.version++
	ev := event{version: s.version, change: c}

	keyed, global := s.hub.wants(c)
	if keyed {
		switch c.Kind {
		case KindVideo:
			ev.video = s.videos[c.ID].Clone()
		case KindSession:
			ev.session = s.sessions[c.ID].Clone()
		}
	}
	if global {
		snap := Snapshot{
			Videos:   make(map[string]*models.VideoState, len(s.videos)),
			Sessions: make(map[string]*models.SessionState, len(s.sessions)),
			Changed:  c,
		}
		for id, v := range s.videos {
			snap.Videos[id] = v.Clone()
		}
		for id, st := range s.sessions {
			snap.Sessions[id] = st.Clone()
		}
		ev.snapshot = &snap
	}
	return ev
}

func (s *Store) publish(events ...event) {
	for _, ev := range events {
		s.hub.dispatch(ev)
	}
}

// LoadVideo returns the cached video or fetches it. Concurrent loads of the
// same id share one gateway call. A failed refresh of an entry that already
// holds data returns the stale entry with Metadata.Error set.
func (s *Store) LoadVideo(ctx context.Context, videoID string, forceRefresh bool) (*models.VideoState, error) {
	if !forceRefresh {
		s.mu.Lock()
		v, ok := s.videos[videoID]
		if ok && v.Video != nil {
			out := v.Clone()
			s.mu.Unlock()
			metrics.RecordCacheAccess(string(KindVideo), true)
			return out, nil
		}
		s.mu.Unlock()
	}
	metrics.RecordCacheAccess(string(KindVideo), false)

	// the shared fetch outlives any single caller's cancellation
	fetchCtx := context.WithoutCancel(ctx)
	ch := s.videoFlight.DoChan(videoID, func() (interface{}, error) {
		return s.fetchVideo(fetchCtx, videoID)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			metrics.RecordFetchDedup(string(KindVideo))
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.VideoState).Clone(), nil
	}
}

func (s *Store) fetchVideo(ctx context.Context, videoID string) (*models.VideoState, error) {
	s.mu.Lock()
	v, ok := s.videos[videoID]
	if !ok {
		v = models.NewVideoState()
		s.videos[videoID] = v
	}
	v.Metadata.IsLoading = true
	v.Metadata.LoadState = models.LoadStateLoading
	ev := s.eventLocked(Change{KindVideo, videoID})
	s.mu.Unlock()
	s.publish(ev)

	detail, err := s.gw.GetVideo(ctx, videoID)

	s.mu.Lock()
	v = s.videos[videoID]
	v.Metadata.IsLoading = false
	if err != nil {
		v.Metadata.Error = err.Error()
		v.Metadata.LoadState = models.LoadStateError
		stale := v.Video != nil
		out := v.Clone()
		ev := s.eventLocked(Change{KindVideo, videoID})
		s.mu.Unlock()
		s.publish(ev)

		metrics.RecordError("store", "video_fetch")
		s.log.WithVideoID(videoID).WarnWithErr("video fetch failed", err)
		if stale {
			return out, nil
		}
		return nil, fmt.Errorf("load video %s: %w", videoID, err)
	}

	v.ApplyDetail(detail)
	v.Metadata.Error = ""
	v.Metadata.LoadState = models.LoadStateIdle
	v.Metadata.LoadedAt = s.now()
	out := v.Clone()

	events := []event{s.eventLocked(Change{KindVideo, videoID})}
	if sessionID, ok := s.byVideo[videoID]; ok {
		s.sessions[sessionID].RecomputeCompletion(v.Video.Duration)
		events = append(events, s.eventLocked(Change{KindSession, sessionID}))
	}
	s.mu.Unlock()
	s.publish(events...)

	return out, nil
}

// GetVideoState is a synchronous cache read
func (s *Store) GetVideoState(videoID string) (*models.VideoState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.videos[videoID]
	if !ok {
		return nil, false
	}
	return v.Clone(), true
}

// GetSessionState is a synchronous cache read
func (s *Store) GetSessionState(sessionID string) (*models.SessionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return st.Clone(), true
}

// SessionIDForVideo returns the cached session id for a video
func (s *Store) SessionIDForVideo(videoID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byVideo[videoID]
	return id, ok
}

// durationLocked returns the cached duration for a video, or 0
func (s *Store) durationLocked(videoID string) float64 {
	if v, ok := s.videos[videoID]; ok && v.Video != nil {
		return v.Video.Duration
	}
	return 0
}
