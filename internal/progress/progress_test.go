package progress

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lexilearn.com/tutor/internal/exercise"
	"lexilearn.com/tutor/internal/kv"
)

func stores(t *testing.T) map[string]kv.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rs, err := kv.NewRedisStore(mr.Addr(), "", "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rs.Close() })
	return map[string]kv.Store{"memory": kv.NewMemory(), "redis": rs}
}

func TestRecordAndSkill(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			tr := NewTracker(store)

			p, err := tr.Skill(ctx, "u1", exercise.Spelling)
			require.NoError(t, err)
			assert.Zero(t, p.Attempts)
			assert.Equal(t, exercise.Beginner, p.Level)

			for _, ok := range []bool{true, true, true, false} {
				require.NoError(t, tr.Record(ctx, "u1", exercise.Spelling, ok))
			}
			p, err = tr.Skill(ctx, "u1", exercise.Spelling)
			require.NoError(t, err)
			assert.EqualValues(t, 4, p.Attempts)
			assert.EqualValues(t, 3, p.Correct)
			assert.Equal(t, 75.0, p.Accuracy)
			assert.Equal(t, exercise.Intermediate, p.Level)

			other, err := tr.Skill(ctx, "u2", exercise.Spelling)
			require.NoError(t, err)
			assert.Zero(t, other.Attempts, "counters are per learner")
		})
	}
}

func TestStatsSumsSkills(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(kv.NewMemory())
	require.NoError(t, tr.Record(ctx, "u1", exercise.Phonics, true))
	require.NoError(t, tr.Record(ctx, "u1", exercise.Writing, false))
	require.NoError(t, tr.Record(ctx, "u1", exercise.Writing, true))

	st, err := tr.Stats(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, st.ExercisesCompleted)
	assert.EqualValues(t, 2, st.CorrectAnswers)
	assert.Equal(t, 66.7, st.Accuracy)
	require.Len(t, st.Skills, len(exercise.SkillAreas))
	for _, p := range st.Skills {
		if p.SkillArea == exercise.Writing {
			assert.EqualValues(t, 2, p.Attempts)
			assert.Equal(t, 50.0, p.Accuracy)
		}
	}
}

func TestAccuracy(t *testing.T) {
	assert.Zero(t, Accuracy(0, 0))
	assert.Equal(t, 100.0, Accuracy(5, 5))
	assert.Equal(t, 33.3, Accuracy(1, 3))
}

func TestCorruptCounterReadsAsZero(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemory()
	require.NoError(t, kv.Namespace(mem, "u1").Set(ctx, attemptsKey(exercise.Phonics), "lots"))
	p, err := NewTracker(mem).Skill(ctx, "u1", exercise.Phonics)
	require.NoError(t, err)
	assert.Zero(t, p.Attempts)
}
