package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/lessonplay/pkg/models"
)

func TestGrade(t *testing.T) {
	choice := models.Question{
		ID:        "q1",
		Type:      models.QuestionTypeMultipleChoice,
		Options:   []string{"a", "b", "c"},
		AnswerKey: json.RawMessage(`{"correct":2}`),
		Points:    3,
	}
	trueFalse := models.Question{
		ID:        "q2",
		Type:      models.QuestionTypeTrueFalse,
		AnswerKey: json.RawMessage(`{"correct":false}`),
	}
	short := models.Question{
		ID:        "q3",
		Type:      models.QuestionTypeShortAnswer,
		AnswerKey: json.RawMessage(`{"accepted":["Photo synthesis","photosynthesis"]}`),
	}

	tests := []struct {
		name      string
		question  models.Question
		answer    string
		correct   bool
		score     float64
		wantError bool
	}{
		{"choice correct", choice, `2`, true, 3, false},
		{"choice wrong", choice, `0`, false, 0, false},
		{"choice out of range", choice, `3`, false, 0, true},
		{"choice not a number", choice, `"c"`, false, 0, true},
		{"true false correct", trueFalse, `false`, true, 1, false},
		{"true false wrong", trueFalse, `true`, false, 0, false},
		{"short answer normalised", short, `"  PHOTO   synthesis "`, true, 1, false},
		{"short answer wrong", short, `"respiration"`, false, 0, false},
		{"empty answer", short, ``, false, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			correct, score, err := Grade(tt.question, json.RawMessage(tt.answer))
			if tt.wantError {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidRequest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.correct, correct)
			assert.Equal(t, tt.score, score)
		})
	}
}

func TestGradeUnknownType(t *testing.T) {
	_, _, err := Grade(models.Question{Type: "ESSAY"}, json.RawMessage(`"x"`))
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestAPIErrorIs(t *testing.T) {
	assert.ErrorIs(t, &APIError{StatusCode: 404}, ErrNotFound)
	assert.ErrorIs(t, &APIError{StatusCode: 400}, ErrInvalidRequest)
	assert.ErrorIs(t, &APIError{StatusCode: 422}, ErrInvalidRequest)
	assert.ErrorIs(t, &APIError{StatusCode: 503}, ErrUnavailable)
	assert.NotErrorIs(t, &APIError{StatusCode: 409}, ErrNotFound)
	assert.Contains(t, (&APIError{StatusCode: 404, Message: "video missing"}).Error(), "video missing")
}
