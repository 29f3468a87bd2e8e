package exercise

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func active(area SkillArea, target ...string) Active {
	return Active{SkillArea: area, ExerciseType: "test", Target: target}
}

func TestLocalExactMatch(t *testing.T) {
	tests := []struct {
		name    string
		area    SkillArea
		target  string
		answer  string
		correct bool
	}{
		{"phonics exact", Phonics, "cat", "cat", true},
		{"phonics case and space", Phonics, "cat", "  CAT ", true},
		{"phonics wrong", Phonics, "cat", "cot", false},
		{"spelling exact", Spelling, "friend", "Friend", true},
		{"spelling wrong", Spelling, "friend", "freind", false},
		{"sight word", SightWords, "said", "said", true},
		{"sight word wrong", SightWords, "said", "sed", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Local{}.Evaluate(context.Background(), tt.answer, active(tt.area, tt.target))
			require.NoError(t, err)
			assert.Equal(t, tt.correct, ev.IsCorrect)
			if tt.correct {
				assert.Equal(t, 100, ev.Score)
			} else {
				assert.Equal(t, 0, ev.Score)
			}
			assert.NotEmpty(t, ev.Message)
		})
	}
}

func TestSightWordFeedbackMentionsRecognition(t *testing.T) {
	ev, err := Local{}.Evaluate(context.Background(), "the", active(SightWords, "the"))
	require.NoError(t, err)
	assert.Contains(t, ev.Message, "recognized the sight word 'the' instantly")

	ev, err = Local{}.Evaluate(context.Background(), "teh", active(SightWords, "the"))
	require.NoError(t, err)
	assert.Contains(t, strings.Join(ev.Suggestions, " "), "whole word")
}

func TestEmptyAnswerNeverCorrect(t *testing.T) {
	for _, area := range SkillAreas {
		t.Run(string(area), func(t *testing.T) {
			ev, err := Local{}.Evaluate(context.Background(), "   ", active(area, "cat", "big"))
			require.NoError(t, err)
			assert.False(t, ev.IsCorrect)
			assert.Zero(t, ev.Score)
			assert.Equal(t, []string{"cat", "big"}, ev.Missing)
		})
	}

	ev, err := Local{}.Evaluate(context.Background(), "", Active{SkillArea: Writing})
	require.NoError(t, err)
	assert.False(t, ev.IsCorrect)
	assert.Zero(t, ev.Score)
}

func TestEvaluateRequiresTarget(t *testing.T) {
	_, err := Local{}.Evaluate(context.Background(), "cat", Active{SkillArea: Phonics})
	assert.ErrorIs(t, err, ErrNoTarget)
}

func TestEvaluateUnknownSkillArea(t *testing.T) {
	_, err := Local{}.Evaluate(context.Background(), "cat", active("painting", "cat"))
	assert.ErrorIs(t, err, ErrUnknownSkillArea)
}

func TestWritingPartialCredit(t *testing.T) {
	ev, err := Local{}.Evaluate(context.Background(), "The big dog runs", active(Writing, "cat", "big"))
	require.NoError(t, err)
	assert.Equal(t, 50, ev.Score)
	assert.False(t, ev.IsCorrect)
	assert.Equal(t, []string{"big"}, ev.Found)
	assert.Equal(t, []string{"cat"}, ev.Missing)
	assert.Contains(t, ev.Message, "You're missing: cat")
	assert.Contains(t, ev.Message, "Words found: big")
}

func TestWritingWholeWordsOnly(t *testing.T) {
	ev := EvaluateWriting("The cathedral is bigger", []string{"cat", "big"})
	assert.Zero(t, ev.Score)
	assert.Equal(t, []string{"cat", "big"}, ev.Missing)

	ev = EvaluateWriting("A BIG cat, sleeping.", []string{"cat", "big"})
	assert.Equal(t, 100, ev.Score)
	assert.True(t, ev.IsCorrect)
	assert.Contains(t, ev.Message, "You used all 2 words")
}

func TestWritingScoreIsMonotonic(t *testing.T) {
	required := []string{"cat", "big", "red", "sun", "hop"}
	answer := "once upon a time"
	prev := EvaluateWriting(answer, required).Score
	for _, w := range required {
		answer += " " + w
		score := EvaluateWriting(answer, required).Score
		assert.GreaterOrEqual(t, score, prev, "adding %q lowered the score", w)
		prev = score
	}
	assert.Equal(t, 100, prev)
}

func TestWritingRounding(t *testing.T) {
	ev := EvaluateWriting("cat", []string{"cat", "big", "red"})
	assert.Equal(t, 33, ev.Score)
	ev = EvaluateWriting("cat big", []string{"cat", "big", "red"})
	assert.Equal(t, 67, ev.Score)
}

func TestSpellingMultipleWords(t *testing.T) {
	target := []string{"cake", "bike", "rope"}

	ev, err := Local{}.Evaluate(context.Background(), "cake, bike, rope", active(Spelling, target...))
	require.NoError(t, err)
	assert.True(t, ev.IsCorrect)
	assert.Equal(t, 100, ev.Score)

	ev, err = Local{}.Evaluate(context.Background(), "cake bik rope", active(Spelling, target...))
	require.NoError(t, err)
	assert.False(t, ev.IsCorrect)
	assert.Equal(t, 67, ev.Score)
	assert.Equal(t, []string{"bike"}, ev.Missing)
	assert.Contains(t, ev.Message, "bik → bike")

	ev, err = Local{}.Evaluate(context.Background(), "cake", active(Spelling, target...))
	require.NoError(t, err)
	assert.Zero(t, ev.Score)
	assert.Contains(t, ev.Message, "You provided 1 words but need 3")
}

func TestComprehension(t *testing.T) {
	tests := []struct {
		answer  string
		score   int
		correct bool
	}{
		{"a cat on a mat", 80, true},
		{"the cat", 50, false},
		{"a dog in the park", 0, false},
		{"done", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.answer, func(t *testing.T) {
			ev, err := Local{}.Evaluate(context.Background(), tt.answer, active(Comprehension, "A cat sitting on a mat"))
			require.NoError(t, err)
			assert.Equal(t, tt.score, ev.Score)
			assert.Equal(t, tt.correct, ev.IsCorrect)
		})
	}
}

func TestEvaluationIsDeterministic(t *testing.T) {
	a, _ := Local{}.Evaluate(context.Background(), "The big dog runs", active(Writing, "cat", "big"))
	b, _ := Local{}.Evaluate(context.Background(), "The big dog runs", active(Writing, "cat", "big"))
	assert.Equal(t, a, b)
}

func TestGenerateWordRequest(t *testing.T) {
	g := NewLocalGenerator(1)
	ex, err := g.Generate(context.Background(), Request{SkillArea: Writing, Difficulty: Intermediate, Count: 3})
	require.NoError(t, err)
	assert.Equal(t, "sentence_construction", ex.ExerciseType)
	require.Len(t, ex.WordBank, 3)
	for _, w := range ex.WordBank {
		assert.Contains(t, practiceWords[Intermediate], w)
	}

	ex, err = g.Generate(context.Background(), Request{SkillArea: Writing, Count: 50})
	require.NoError(t, err)
	assert.Len(t, ex.WordBank, MaxWordCount)
	assert.Equal(t, Beginner, ex.Difficulty)
}

func TestGenerateSameSeedSameExercise(t *testing.T) {
	req := Request{SkillArea: Spelling, Difficulty: Beginner, Count: 3}
	a, err := NewLocalGenerator(42).Generate(context.Background(), req)
	require.NoError(t, err)
	b, err := NewLocalGenerator(42).Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestGeneratedExercisesHaveTargets(t *testing.T) {
	g := NewLocalGenerator(7)
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	for _, area := range SkillAreas {
		t.Run(string(area), func(t *testing.T) {
			ex, err := g.Generate(context.Background(), Request{SkillArea: area, Difficulty: Beginner})
			require.NoError(t, err)
			act, err := ex.Active(now)
			require.NoError(t, err)
			assert.Equal(t, area, act.SkillArea)
			assert.NotEmpty(t, act.Target)
			assert.Equal(t, now, act.CreatedAt)
		})
	}
}

func TestGeneratedPhonicsRoundTrips(t *testing.T) {
	ex, err := NewLocalGenerator(3).Generate(context.Background(), Request{SkillArea: Phonics})
	require.NoError(t, err)
	act, err := ex.Active(time.Now())
	require.NoError(t, err)

	ev, err := Local{}.Evaluate(context.Background(), act.Target[0], act)
	require.NoError(t, err)
	assert.True(t, ev.IsCorrect)
}

func TestGeneratedSpellingRoundTrips(t *testing.T) {
	ex, err := NewLocalGenerator(5).Generate(context.Background(), Request{SkillArea: Spelling, Count: 3})
	require.NoError(t, err)
	require.Len(t, ex.Items, 3)
	for _, it := range ex.Items {
		assert.Equal(t, 1, strings.Count(it.Prompt, "_"))
		assert.Equal(t, len(it.Answer), len(it.Prompt))
	}
	act, err := ex.Active(time.Now())
	require.NoError(t, err)
	ev, err := Local{}.Evaluate(context.Background(), strings.Join(act.Target, ", "), act)
	require.NoError(t, err)
	assert.True(t, ev.IsCorrect)
}

func TestParseSkillArea(t *testing.T) {
	a, err := ParseSkillArea("Reading_Comprehension")
	require.NoError(t, err)
	assert.Equal(t, Comprehension, a)

	_, err = ParseSkillArea("painting")
	assert.ErrorIs(t, err, ErrUnknownSkillArea)
}

func TestDifficultyFor(t *testing.T) {
	assert.Equal(t, Beginner, DifficultyFor(100, 2))
	assert.Equal(t, Advanced, DifficultyFor(90, 5))
	assert.Equal(t, Intermediate, DifficultyFor(80, 5))
	assert.Equal(t, Beginner, DifficultyFor(50, 5))
}
