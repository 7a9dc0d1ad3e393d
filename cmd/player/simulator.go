package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/therealutkarshpriyadarshi/lessonplay/internal/engine"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/gate"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/logging"
	"github.com/therealutkarshpriyadarshi/lessonplay/pkg/models"
)

// headPlayer is a playhead without a screen. The gate pauses and resumes it.
type headPlayer struct {
	paused atomic.Bool
}

func (p *headPlayer) Pause()  { p.paused.Store(true) }
func (p *headPlayer) Resume() { p.paused.Store(false) }

// simulator watches one video from the current position to the end,
// answering every quiz it is stopped at
type simulator struct {
	engine  *engine.Engine
	videoID string
	speed   float64
	step    time.Duration
	log     *logging.Logger
}

func (s *simulator) Run(ctx context.Context) error {
	video, err := s.engine.LoadVideo(ctx, s.videoID, false)
	if err != nil {
		return err
	}
	session, err := s.engine.StartOrResumeSession(ctx, s.videoID)
	if err != nil {
		return err
	}
	if session.Session.Status == models.SessionStatusCompleted {
		return fmt.Errorf("session %s is already completed", session.Session.ID)
	}

	player := &headPlayer{}
	pb, err := s.engine.Attach(ctx, session.Session.ID, player, nil)
	if err != nil {
		return err
	}
	defer func() {
		// the run context may be gone; the flush gets its own
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := pb.Close(flushCtx); err != nil {
			s.log.WarnWithErr("final flush failed", err)
		}
	}()

	s.log.WithSessionID(pb.SessionID()).WithVideoID(s.videoID).Infof(
		"watching %q from %.1fs of %.1fs", video.Video.Title, pb.Position(), video.Video.Duration)

	if err := pb.Play(); err != nil {
		return err
	}

	position := pb.Position()
	ticker := time.NewTicker(s.step)
	defer ticker.Stop()

	playing := true
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if pb.State() == gate.StateGated {
			if playing {
				if err := pb.Pause(ctx); err != nil {
					s.log.WarnWithErr("progress flush failed", err)
				}
				playing = false
			}
			if err := s.answer(ctx, pb, video); err != nil {
				return err
			}
			continue
		}
		if player.paused.Load() {
			continue
		}
		if !playing {
			if err := pb.Play(); err != nil {
				return err
			}
			playing = true
		}

		position += s.step.Seconds() * s.speed
		if position >= video.Video.Duration {
			final, err := pb.Ended(ctx)
			if err != nil {
				return err
			}
			s.log.WithSessionID(pb.SessionID()).Infof(
				"finished: %d/%d correct, score %.1f, watched %.1fs",
				final.Metadata.CorrectAnswers, final.Metadata.TotalAnswers,
				final.Metadata.TotalScore, final.Session.TotalWatchTime)
			return nil
		}
		if _, err := pb.TimeUpdate(ctx, position); err != nil {
			s.log.WarnWithErr("time update failed", err)
		}
	}
}

// answer submits a guess for every question of the gated milestone
func (s *simulator) answer(ctx context.Context, pb *engine.Playback, video *models.VideoState) error {
	m, ok := pb.Milestone()
	if !ok {
		return nil
	}
	session, _ := s.engine.GetSessionState(pb.SessionID())

	for _, q := range video.Questions[m.ID] {
		if session != nil {
			if _, done := session.QuestionAttempts[q.ID]; done {
				continue
			}
		}
		result, err := pb.Answer(ctx, q.ID, guess(q))
		if errors.Is(err, gate.ErrNotGated) {
			return nil
		}
		if err != nil {
			s.log.WithField("question_id", q.ID).WarnWithErr("answer failed, skipping milestone", err)
			return pb.CompleteMilestone()
		}
		s.log.WithField("question_id", q.ID).Infof("answered %q: correct=%t", q.Text, result.IsCorrect)
	}

	// every question was answered on an earlier run
	if pb.State() == gate.StateGated {
		return pb.CompleteMilestone()
	}
	return nil
}

func guess(q models.Question) any {
	switch q.Type {
	case models.QuestionTypeMultipleChoice:
		return 0
	case models.QuestionTypeTrueFalse:
		return true
	default:
		return "not sure"
	}
}
