package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/therealutkarshpriyadarshi/lessonplay/internal/gateway"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/metrics"
	"github.com/therealutkarshpriyadarshi/lessonplay/pkg/models"
)

// StartOrResumeSession resolves the caller's session for a video. A resumable
// session is reused; a missing or finished one leads to a new session.
func (s *Store) StartOrResumeSession(ctx context.Context, videoID string) (*models.SessionState, error) {
	fetchCtx := context.WithoutCancel(ctx)
	ch := s.sessionFlight.DoChan(videoID, func() (interface{}, error) {
		return s.resolveSession(fetchCtx, videoID)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			metrics.RecordFetchDedup(string(KindSession))
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.SessionState).Clone(), nil
	}
}

func (s *Store) resolveSession(ctx context.Context, videoID string) (*models.SessionState, error) {
	s.mu.Lock()
	var events []event
	if id, ok := s.byVideo[videoID]; ok {
		s.sessions[id].Metadata.IsLoading = true
		events = append(events, s.eventLocked(Change{KindSession, id}))
	}
	s.mu.Unlock()
	s.publish(events...)

	detail, err := s.gw.GetSessionByVideo(ctx, videoID)
	if err == nil && !detail.Resumable() {
		detail = nil
	}
	if errors.Is(err, gateway.ErrNotFound) || (err == nil && detail == nil) {
		detail, err = s.gw.StartSession(ctx, videoID)
	}

	s.mu.Lock()
	if err != nil {
		id, cached := s.byVideo[videoID]
		if !cached {
			s.mu.Unlock()
			metrics.RecordError("store", "session_resolve")
			return nil, fmt.Errorf("start session for video %s: %w", videoID, err)
		}
		st := s.sessions[id]
		st.Metadata.IsLoading = false
		st.Metadata.Error = err.Error()
		out := st.Clone()
		ev := s.eventLocked(Change{KindSession, id})
		s.mu.Unlock()
		s.publish(ev)

		metrics.RecordError("store", "session_resolve")
		s.log.WithVideoID(videoID).WarnWithErr("session resolve failed, keeping cached session", err)
		return out, nil
	}

	st := models.NewSessionState(detail)
	if prev, ok := s.sessions[detail.ID]; ok {
		st.CurrentMilestone = prev.CurrentMilestone
	}
	if prevID, ok := s.byVideo[videoID]; ok && prevID != detail.ID {
		delete(s.sessions, prevID)
		delete(s.progressSeq, prevID)
	}
	st.RecomputeCompletion(s.durationLocked(videoID))
	s.sessions[detail.ID] = st
	s.byVideo[videoID] = detail.ID
	out := st.Clone()
	ev := s.eventLocked(Change{KindSession, detail.ID})
	s.mu.Unlock()
	s.publish(ev)

	s.log.WithVideoID(videoID).WithSessionID(detail.ID).Debug("session resolved")
	return out, nil
}

// UpdateSessionProgress applies a locally advanced position and watch time,
// publishes, then syncs it to the backend. The local values stay authoritative:
// an ack that arrives after a newer update was issued does not touch the entry.
func (s *Store) UpdateSessionProgress(ctx context.Context, sessionID string, position, totalWatchTime float64) (*models.SessionState, error) {
	s.mu.Lock()
	st, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("update progress %s: %w", sessionID, ErrSessionNotCached)
	}
	s.progressSeq[sessionID]++
	seq := s.progressSeq[sessionID]

	st.Session.CurrentPosition = position
	if totalWatchTime > st.Session.TotalWatchTime {
		st.Session.TotalWatchTime = totalWatchTime
	}
	st.RecomputeCompletion(s.durationLocked(st.Session.VideoID))
	ev := s.eventLocked(Change{KindSession, sessionID})
	s.mu.Unlock()
	s.publish(ev)

	ack, err := s.gw.UpdateProgress(ctx, sessionID, models.ProgressUpdate{
		CurrentTime:    position,
		TotalWatchTime: totalWatchTime,
	})

	s.mu.Lock()
	st, ok = s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("update progress %s: %w", sessionID, ErrSessionNotCached)
	}
	if err != nil {
		if callerGaveUp(ctx, err) {
			s.mu.Unlock()
			return nil, fmt.Errorf("update progress %s: %w", sessionID, err)
		}
		st.Metadata.Error = err.Error()
		ev := s.eventLocked(Change{KindSession, sessionID})
		s.mu.Unlock()
		s.publish(ev)
		return nil, fmt.Errorf("update progress %s: %w", sessionID, err)
	}

	st.Metadata.Error = ""
	if seq == s.progressSeq[sessionID] {
		st.Session.Status = ack.Status
		st.Session.LastSeenAt = ack.LastSeenAt
	}
	if ack.TotalWatchTime > st.Session.TotalWatchTime {
		st.Session.TotalWatchTime = ack.TotalWatchTime
	}
	out := st.Clone()
	ev = s.eventLocked(Change{KindSession, sessionID})
	s.mu.Unlock()
	s.publish(ev)

	return out, nil
}

// MarkMilestoneReached records a reached milestone exactly once. An id already
// in the progress set returns without a network call; concurrent marks of the
// same pair share one call.
func (s *Store) MarkMilestoneReached(ctx context.Context, sessionID, milestoneID string, timestamp float64) (*models.SessionState, error) {
	s.mu.Lock()
	st, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("mark milestone %s: %w", milestoneID, ErrSessionNotCached)
	}
	if st.HasReached(milestoneID) {
		out := st.Clone()
		s.mu.Unlock()
		return out, nil
	}
	if v, ok := s.videos[st.Session.VideoID]; ok && v.Video != nil && !v.HasMilestone(milestoneID) {
		s.mu.Unlock()
		return nil, fmt.Errorf("mark milestone %s: %w", milestoneID, ErrMilestoneNotFound)
	}
	s.mu.Unlock()

	val, err, shared := s.markFlight.Do(sessionID+"/"+milestoneID, func() (interface{}, error) {
		return s.gw.MarkMilestone(ctx, sessionID, models.MilestoneMark{
			MilestoneID: milestoneID,
			Timestamp:   timestamp,
		})
	})
	if shared {
		metrics.RecordFetchDedup("milestone_mark")
	}
	if err != nil {
		return nil, fmt.Errorf("mark milestone %s: %w", milestoneID, err)
	}
	progress := *val.(*models.MilestoneProgress)

	s.mu.Lock()
	st, ok = s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("mark milestone %s: %w", milestoneID, ErrSessionNotCached)
	}
	if st.HasReached(milestoneID) {
		out := st.Clone()
		s.mu.Unlock()
		return out, nil
	}
	st.MilestoneProgress[milestoneID] = progress
	out := st.Clone()
	ev := s.eventLocked(Change{KindSession, sessionID})
	s.mu.Unlock()
	s.publish(ev)

	return out, nil
}

// SetCurrentMilestone sets or clears the milestone gating playback
func (s *Store) SetCurrentMilestone(sessionID string, milestone *models.Milestone) error {
	s.mu.Lock()
	st, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("set current milestone: %w", ErrSessionNotCached)
	}
	if milestone != nil {
		m := *milestone
		st.CurrentMilestone = &m
	} else {
		st.CurrentMilestone = nil
	}
	ev := s.eventLocked(Change{KindSession, sessionID})
	s.mu.Unlock()
	s.publish(ev)
	return nil
}

// ApplyQuestionAttempt stores an authoritative attempt, replacing any earlier
// one for the same question, and recounts the answer metadata
func (s *Store) ApplyQuestionAttempt(sessionID string, attempt models.QuestionAttempt) (*models.SessionState, error) {
	s.mu.Lock()
	st, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("apply attempt: %w", ErrSessionNotCached)
	}
	attempt.SessionID = sessionID
	st.PutAttempt(attempt)
	st.RecountAnswers()
	out := st.Clone()
	ev := s.eventLocked(Change{KindSession, sessionID})
	s.mu.Unlock()
	s.publish(ev)

	return out, nil
}

// CompleteSession finalises the session on the backend and in the cache
func (s *Store) CompleteSession(ctx context.Context, sessionID string, finalTime, totalWatchTime float64) (*models.SessionState, error) {
	s.mu.Lock()
	if _, ok := s.sessions[sessionID]; !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("complete session %s: %w", sessionID, ErrSessionNotCached)
	}
	s.mu.Unlock()

	done, err := s.gw.CompleteSession(ctx, sessionID, models.SessionCompletion{
		FinalTime:      finalTime,
		TotalWatchTime: totalWatchTime,
	})
	if err != nil {
		return nil, fmt.Errorf("complete session %s: %w", sessionID, err)
	}

	s.mu.Lock()
	st, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("complete session %s: %w", sessionID, ErrSessionNotCached)
	}
	// in-flight progress acks must not overwrite the final status
	s.progressSeq[sessionID]++

	total := st.Session.TotalWatchTime
	session := *done
	if total > session.TotalWatchTime {
		session.TotalWatchTime = total
	}
	st.Session = &session
	st.CurrentMilestone = nil
	st.Metadata.Error = ""
	st.RecomputeCompletion(s.durationLocked(session.VideoID))
	out := st.Clone()
	ev := s.eventLocked(Change{KindSession, sessionID})
	s.mu.Unlock()
	s.publish(ev)

	s.log.WithSessionID(sessionID).Info("session completed")
	return out, nil
}

// callerGaveUp reports whether err only reflects the caller cancelling ctx,
// which says nothing about the backend
func callerGaveUp(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
