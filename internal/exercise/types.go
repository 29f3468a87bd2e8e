// Package exercise holds the practice exercise model, the per-skill answer
// evaluators and the local exercise generator.
package exercise

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

type SkillArea string

const (
	Phonics       SkillArea = "phonics"
	SightWords    SkillArea = "sight_words"
	Spelling      SkillArea = "spelling"
	Writing       SkillArea = "writing"
	Comprehension SkillArea = "comprehension"
)

// SkillAreas lists every supported area in display order.
var SkillAreas = []SkillArea{Phonics, SightWords, Spelling, Writing, Comprehension}

// ParseSkillArea accepts the canonical names plus "reading_comprehension".
func ParseSkillArea(s string) (SkillArea, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "phonics":
		return Phonics, nil
	case "sight_words":
		return SightWords, nil
	case "spelling":
		return Spelling, nil
	case "writing":
		return Writing, nil
	case "comprehension", "reading_comprehension":
		return Comprehension, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSkillArea, s)
}

type Difficulty string

const (
	Beginner     Difficulty = "beginner"
	Intermediate Difficulty = "intermediate"
	Advanced     Difficulty = "advanced"
)

func ParseDifficulty(s string) Difficulty {
	switch Difficulty(strings.ToLower(strings.TrimSpace(s))) {
	case Intermediate:
		return Intermediate
	case Advanced:
		return Advanced
	default:
		return Beginner
	}
}

// DifficultyFor picks a level from the learner's running accuracy. Fewer
// than three attempts is not enough signal to leave beginner.
func DifficultyFor(accuracy float64, attempts int) Difficulty {
	switch {
	case attempts < 3:
		return Beginner
	case accuracy >= 85:
		return Advanced
	case accuracy >= 75:
		return Intermediate
	default:
		return Beginner
	}
}

var (
	ErrUnknownSkillArea = errors.New("unknown skill area")
	ErrNoTarget         = errors.New("exercise has no target")
)

// Active is the exercise currently awaiting the learner's answer.
type Active struct {
	SkillArea    SkillArea `json:"skill_area"`
	ExerciseType string    `json:"exercise_type"`
	Target       []string  `json:"target"`
	Instructions string    `json:"instructions,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Evaluation is the graded result of one answer.
type Evaluation struct {
	IsCorrect     bool     `json:"is_correct"`
	Score         int      `json:"score"`
	Message       string   `json:"message"`
	Encouragement string   `json:"encouragement,omitempty"`
	Found         []string `json:"found,omitempty"`
	Missing       []string `json:"missing,omitempty"`
	Suggestions   []string `json:"suggestions"`
	Tips          []string `json:"tips"`
}

type Evaluator interface {
	Evaluate(ctx context.Context, answer string, active Active) (Evaluation, error)
}

type Generator interface {
	Generate(ctx context.Context, req Request) (Exercise, error)
}

type Request struct {
	SkillArea  SkillArea  `json:"skill_area"`
	Difficulty Difficulty `json:"difficulty"`
	Count      int        `json:"count"`
}

// Item is one prompt/answer pair inside a multi-item exercise.
type Item struct {
	Prompt string `json:"prompt"`
	Answer string `json:"answer"`
}

// Exercise is a generated exercise as returned by generateExercise.
type Exercise struct {
	SkillArea    SkillArea  `json:"skill_area"`
	ExerciseType string     `json:"exercise_type"`
	Instructions string     `json:"instructions"`
	Items        []Item     `json:"exercises,omitempty"`
	Words        []string   `json:"words,omitempty"`
	WordBank     []string   `json:"word_bank,omitempty"`
	Passage      string     `json:"passage,omitempty"`
	MainIdea     string     `json:"main_idea,omitempty"`
	Difficulty   Difficulty `json:"difficulty"`
	TimeLimit    int        `json:"time_limit,omitempty"`
}

// Active derives the answer target for the exercise.
func (e Exercise) Active(now time.Time) (Active, error) {
	var target []string
	switch e.SkillArea {
	case Writing:
		target = e.WordBank
	case Comprehension:
		if e.MainIdea != "" {
			target = []string{e.MainIdea}
		}
	default:
		for _, it := range e.Items {
			if it.Answer != "" {
				target = append(target, it.Answer)
			}
		}
		if len(target) == 0 {
			target = e.Words
		}
		if e.SkillArea == SightWords && len(target) > 1 {
			target = target[:1]
		}
	}
	if len(target) == 0 {
		return Active{}, fmt.Errorf("%w: %s/%s", ErrNoTarget, e.SkillArea, e.ExerciseType)
	}
	return Active{
		SkillArea:    e.SkillArea,
		ExerciseType: e.ExerciseType,
		Target:       append([]string(nil), target...),
		Instructions: e.Instructions,
		CreatedAt:    now,
	}, nil
}
