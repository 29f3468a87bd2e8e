// Package progress keeps per-learner exercise counters for each skill area
// and derives accuracy and the adaptive difficulty level from them.
package progress

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"lexilearn.com/tutor/internal/exercise"
	"lexilearn.com/tutor/internal/kv"
)

// SkillProgress is the learner's record in one skill area.
type SkillProgress struct {
	SkillArea exercise.SkillArea  `json:"skill_area"`
	Attempts  int64               `json:"attempts"`
	Correct   int64               `json:"correct"`
	Accuracy  float64             `json:"accuracy"`
	Level     exercise.Difficulty `json:"level"`
}

// Stats sums the learner's progress over every skill area.
type Stats struct {
	ExercisesCompleted int64           `json:"exercises_completed"`
	CorrectAnswers     int64           `json:"correct_answers"`
	Accuracy           float64         `json:"accuracy"`
	Skills             []SkillProgress `json:"skill_progress"`
}

// Tracker stores attempt and correct counters in a kv.Store under the
// learner's namespace. Counters only grow, through IncrBy.
type Tracker struct {
	store kv.Store
}

func NewTracker(store kv.Store) *Tracker {
	return &Tracker{store: store}
}

func attemptsKey(area exercise.SkillArea) string { return "progress:" + string(area) + ":attempts" }
func correctKey(area exercise.SkillArea) string  { return "progress:" + string(area) + ":correct" }

// Record counts one graded answer in area.
func (t *Tracker) Record(ctx context.Context, userID string, area exercise.SkillArea, correct bool) error {
	ns := kv.Namespace(t.store, userID)
	if _, err := ns.IncrBy(ctx, attemptsKey(area), 1); err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	if correct {
		if _, err := ns.IncrBy(ctx, correctKey(area), 1); err != nil {
			return fmt.Errorf("failed to record correct answer: %w", err)
		}
	}
	return nil
}

// Skill reads the learner's record in area. A learner with no answers is
// at beginner level.
func (t *Tracker) Skill(ctx context.Context, userID string, area exercise.SkillArea) (SkillProgress, error) {
	ns := kv.Namespace(t.store, userID)
	attempts, err := readCount(ctx, ns, attemptsKey(area))
	if err != nil {
		return SkillProgress{}, err
	}
	correct, err := readCount(ctx, ns, correctKey(area))
	if err != nil {
		return SkillProgress{}, err
	}
	acc := Accuracy(correct, attempts)
	return SkillProgress{
		SkillArea: area,
		Attempts:  attempts,
		Correct:   correct,
		Accuracy:  acc,
		Level:     exercise.DifficultyFor(acc, int(attempts)),
	}, nil
}

// Stats reads every skill area, in exercise.SkillAreas order.
func (t *Tracker) Stats(ctx context.Context, userID string) (Stats, error) {
	st := Stats{Skills: make([]SkillProgress, 0, len(exercise.SkillAreas))}
	for _, area := range exercise.SkillAreas {
		p, err := t.Skill(ctx, userID, area)
		if err != nil {
			return Stats{}, err
		}
		st.Skills = append(st.Skills, p)
		st.ExercisesCompleted += p.Attempts
		st.CorrectAnswers += p.Correct
	}
	st.Accuracy = Accuracy(st.CorrectAnswers, st.ExercisesCompleted)
	return st, nil
}

// Accuracy is the percentage of correct answers, rounded to one decimal.
func Accuracy(correct, attempts int64) float64 {
	if attempts <= 0 {
		return 0
	}
	return math.Round(1000*float64(correct)/float64(attempts)) / 10
}

func readCount(ctx context.Context, store kv.Store, key string) (int64, error) {
	raw, ok, err := store.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if !ok || raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, nil
	}
	return n, nil
}
