package mockapi

import (
	"encoding/json"
	"time"

	"github.com/therealutkarshpriyadarshi/lessonplay/pkg/models"
)

// DemoVideoID is the id of the video returned by DemoVideo
const DemoVideoID = "demo-fractions"

// DemoVideo is a small authored lesson used by the mock server and tests
func DemoVideo() models.VideoDetail {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return models.VideoDetail{
		Video: models.Video{
			ID:        DemoVideoID,
			LessonID:  "lesson-fractions",
			Title:     "Adding fractions",
			URL:       "https://cdn.example.com/videos/fractions.mp4",
			Duration:  300,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Milestones: []models.MilestoneDetail{
			{
				Milestone: models.Milestone{ID: "m-intro", Timestamp: 30, Title: "Think about it", Type: models.MilestoneTypePause, Order: 0},
			},
			{
				Milestone: models.Milestone{ID: "m-quiz-1", Timestamp: 60, Title: "Common denominators", Type: models.MilestoneTypeQuiz, Order: 1},
				Questions: []models.Question{
					{
						ID:          "q-denominator",
						MilestoneID: "m-quiz-1",
						Type:        models.QuestionTypeMultipleChoice,
						Text:        "What is the least common denominator of 1/4 and 1/6?",
						Options:     []string{"10", "12", "24", "6"},
						AnswerKey:   json.RawMessage(`{"correct":1}`),
						Explanation: "12 is the smallest number divisible by both 4 and 6.",
						Points:      2,
					},
					{
						ID:          "q-same-denominator",
						MilestoneID: "m-quiz-1",
						Type:        models.QuestionTypeTrueFalse,
						Text:        "Fractions with the same denominator can be added by adding numerators.",
						AnswerKey:   json.RawMessage(`{"correct":true}`),
						Points:      1,
					},
				},
			},
			{
				Milestone: models.Milestone{ID: "m-check", Timestamp: 120, Title: "Halfway", Type: models.MilestoneTypeCheckpoint, Order: 2},
			},
			{
				Milestone: models.Milestone{ID: "m-quiz-2", Timestamp: 200, Title: "Simplify", Type: models.MilestoneTypeQuiz, Order: 3},
				Questions: []models.Question{
					{
						ID:          "q-simplify",
						MilestoneID: "m-quiz-2",
						Type:        models.QuestionTypeShortAnswer,
						Text:        "Simplify 2/4.",
						AnswerKey:   json.RawMessage(`{"accepted":["1/2","one half"]}`),
						Explanation: "Divide numerator and denominator by 2.",
						Points:      1,
					},
				},
			},
		},
	}
}
