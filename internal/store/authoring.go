package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/therealutkarshpriyadarshi/lessonplay/pkg/models"
)

// AddMilestone applies a server-confirmed milestone to its cached video
func (s *Store) AddMilestone(milestone models.Milestone) error {
	s.mu.Lock()
	v, ok := s.videos[milestone.VideoID]
	if !ok || v.Video == nil {
		s.mu.Unlock()
		return fmt.Errorf("add milestone %s: %w", milestone.ID, ErrVideoNotCached)
	}
	v.UpsertMilestone(milestone)
	v.RecountQuestions()
	ev := s.eventLocked(Change{KindVideo, milestone.VideoID})
	s.mu.Unlock()
	s.publish(ev)
	return nil
}

// AddQuestion applies a server-confirmed question to its milestone's video
func (s *Store) AddQuestion(videoID string, question models.Question) error {
	s.mu.Lock()
	v, ok := s.videos[videoID]
	if !ok || v.Video == nil {
		s.mu.Unlock()
		return fmt.Errorf("add question %s: %w", question.ID, ErrVideoNotCached)
	}
	if !v.HasMilestone(question.MilestoneID) {
		s.mu.Unlock()
		return fmt.Errorf("add question %s: %w", question.ID, ErrMilestoneNotFound)
	}
	v.UpsertQuestion(question)
	v.RecountQuestions()
	ev := s.eventLocked(Change{KindVideo, videoID})
	s.mu.Unlock()
	s.publish(ev)
	return nil
}

// CreateMilestone authors a milestone and, once confirmed, adds it to the
// cached video. Nothing is inserted if the backend rejects it.
func (s *Store) CreateMilestone(ctx context.Context, input models.MilestoneInput) (*models.Milestone, error) {
	milestone, err := s.gw.CreateMilestone(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("create milestone: %w", err)
	}
	if milestone.VideoID == "" {
		milestone.VideoID = input.VideoID
	}
	if err := s.AddMilestone(*milestone); err != nil && !errors.Is(err, ErrVideoNotCached) {
		return nil, err
	}
	return milestone, nil
}

// CreateQuestion authors a question under a milestone of videoID
func (s *Store) CreateQuestion(ctx context.Context, videoID, milestoneID string, input models.QuestionInput) (*models.Question, error) {
	question, err := s.gw.CreateQuestion(ctx, milestoneID, input)
	if err != nil {
		return nil, fmt.Errorf("create question: %w", err)
	}
	if question.MilestoneID == "" {
		question.MilestoneID = milestoneID
	}
	if err := s.AddQuestion(videoID, *question); err != nil && !errors.Is(err, ErrVideoNotCached) {
		return nil, err
	}
	return question, nil
}
