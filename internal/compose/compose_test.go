package compose

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func fullReply() Reply {
	return Reply{
		Message:          "Here are your words.",
		Encouragement:    "Take your time!",
		PracticeWords:    []string{"cat", "dog"},
		Instructions:     []string{"Use ALL the words", "Make a sentence"},
		IsCorrect:        Bool(false),
		Score:            Int(50),
		Errors:           []Correction{{Word: "teh", Suggestion: "the"}},
		Suggestions:      []string{"Try adding: cat"},
		Tips:             []string{"Start with a capital letter"},
		EmotionalSupport: "You're doing great!",
	}
}

func TestComposeSectionOrder(t *testing.T) {
	out := Compose(fullReply())
	markers := []string{
		"Here are your words.",
		"💪 Take your time!",
		"📚 Practice: cat, dog",
		"📝 Instructions:",
		"❌ Not quite Score: 50%",
		"✏️ Corrections:\n• teh → the",
		"💡 Suggestions:\n• Try adding: cat",
		"📌 Tips:",
		"💙 You're doing great!",
	}
	last := -1
	for _, m := range markers {
		idx := strings.Index(out, m)
		if assert.GreaterOrEqual(t, idx, 0, "missing %q", m) {
			assert.Greater(t, idx, last, "%q out of order", m)
			last = idx
		}
	}
}

func TestComposeOmitsEmptySections(t *testing.T) {
	out := Compose(Reply{Message: "Hello!", Suggestions: []string{}, Tips: []string{" "}})
	assert.Equal(t, "Hello!", out)

	out = Compose(Reply{Message: "Well done", IsCorrect: Bool(true)})
	assert.Equal(t, "Well done\n\n✅ Correct!", out)

	out = Compose(Reply{Score: Int(0)})
	assert.Equal(t, "Score: 0%", out)
}

func TestComposeTruncatesLists(t *testing.T) {
	out := Compose(Reply{
		Message:     "m",
		Suggestions: []string{"one", "two", "three", "four", "five"},
		Errors: []Correction{
			{Word: "a", Suggestion: "A"}, {Word: "b"}, {Word: "c"}, {Word: "d"},
		},
	})
	assert.Contains(t, out, "• three")
	assert.NotContains(t, out, "four")
	assert.Contains(t, out, "• c")
	assert.NotContains(t, out, "• d")

	words := []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11", "12"}
	out = Compose(Reply{PracticeWords: words})
	assert.Equal(t, "📚 Practice: 1, 2, 3, 4, 5, 6, 7, 8, 9, 10", out)
}

func TestComposeIsPure(t *testing.T) {
	r := fullReply()
	assert.Equal(t, Compose(r), Compose(r))
	assert.Equal(t, fullReply(), r)
}

func TestFeedbackEmpty(t *testing.T) {
	var f *Feedback
	assert.True(t, f.Empty())
	assert.True(t, (&Feedback{}).Empty())
	assert.False(t, (&Feedback{Score: Int(0)}).Empty())
}
