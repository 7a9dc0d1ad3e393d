package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/therealutkarshpriyadarshi/lessonplay/pkg/models"
)

type choiceKey struct {
	Correct *int `json:"correct"`
}

type trueFalseKey struct {
	Correct *bool `json:"correct"`
}

type shortAnswerKey struct {
	Accepted []string `json:"accepted"`
}

// Grade decides correctness of a raw answer against a question's answer key.
// It runs on the backend side of the contract; the engine never calls it.
func Grade(q models.Question, answer json.RawMessage) (bool, float64, error) {
	if len(answer) == 0 {
		return false, 0, fmt.Errorf("%w: empty answer", ErrInvalidRequest)
	}

	points := q.Points
	if points <= 0 {
		points = 1
	}

	var correct bool
	switch q.Type {
	case models.QuestionTypeMultipleChoice:
		var key choiceKey
		if err := json.Unmarshal(q.AnswerKey, &key); err != nil || key.Correct == nil {
			return false, 0, fmt.Errorf("question %s has no usable answer key", q.ID)
		}
		var choice int
		if err := json.Unmarshal(answer, &choice); err != nil {
			return false, 0, fmt.Errorf("%w: multiple choice answer must be an option index", ErrInvalidRequest)
		}
		if choice < 0 || (len(q.Options) > 0 && choice >= len(q.Options)) {
			return false, 0, fmt.Errorf("%w: option %d out of range", ErrInvalidRequest, choice)
		}
		correct = choice == *key.Correct

	case models.QuestionTypeTrueFalse:
		var key trueFalseKey
		if err := json.Unmarshal(q.AnswerKey, &key); err != nil || key.Correct == nil {
			return false, 0, fmt.Errorf("question %s has no usable answer key", q.ID)
		}
		var value bool
		if err := json.Unmarshal(answer, &value); err != nil {
			return false, 0, fmt.Errorf("%w: true/false answer must be a boolean", ErrInvalidRequest)
		}
		correct = value == *key.Correct

	case models.QuestionTypeShortAnswer:
		var key shortAnswerKey
		if err := json.Unmarshal(q.AnswerKey, &key); err != nil {
			return false, 0, fmt.Errorf("question %s has no usable answer key", q.ID)
		}
		var text string
		if err := json.Unmarshal(answer, &text); err != nil {
			return false, 0, fmt.Errorf("%w: short answer must be a string", ErrInvalidRequest)
		}
		given := normalizeAnswer(text)
		for _, accepted := range key.Accepted {
			if normalizeAnswer(accepted) == given {
				correct = true
				break
			}
		}

	default:
		return false, 0, fmt.Errorf("%w: unsupported question type %q", ErrInvalidRequest, q.Type)
	}

	if !correct {
		return false, 0, nil
	}
	return true, points, nil
}

func normalizeAnswer(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
