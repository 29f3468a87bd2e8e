// Package compose renders a structured tutor reply into the single display
// string shown in the transcript.
package compose

import (
	"fmt"
	"strings"
)

const (
	maxListItems     = 3
	maxPracticeWords = 10
)

// Correction is one flagged word and its suggested replacement.
type Correction struct {
	Word       string `json:"word"`
	Suggestion string `json:"suggestion"`
}

type Reply struct {
	Message          string       `json:"message"`
	Encouragement    string       `json:"encouragement,omitempty"`
	PracticeWords    []string     `json:"practice_words,omitempty"`
	Instructions     []string     `json:"instructions,omitempty"`
	IsCorrect        *bool        `json:"is_correct,omitempty"`
	Score            *int         `json:"score,omitempty"`
	Errors           []Correction `json:"errors,omitempty"`
	Suggestions      []string     `json:"suggestions,omitempty"`
	Tips             []string     `json:"tips,omitempty"`
	EmotionalSupport string       `json:"emotional_support,omitempty"`
}

// Feedback is the structured payload stored next to the composed string.
type Feedback struct {
	IsCorrect *bool    `json:"is_correct,omitempty"`
	Score     *int     `json:"score,omitempty"`
	Found     []string `json:"found,omitempty"`
	Missing   []string `json:"missing,omitempty"`
}

// Empty reports whether the feedback carries no graded result.
func (f *Feedback) Empty() bool {
	return f == nil || (f.IsCorrect == nil && f.Score == nil && len(f.Found) == 0 && len(f.Missing) == 0)
}

// Compose renders r. Sections always appear in the same order and empty
// sections are left out.
func Compose(r Reply) string {
	var sections []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			sections = append(sections, s)
		}
	}

	add(r.Message)
	if e := strings.TrimSpace(r.Encouragement); e != "" {
		add("💪 " + e)
	}
	if words := nonEmpty(r.PracticeWords, maxPracticeWords); len(words) > 0 {
		add("📚 Practice: " + strings.Join(words, ", "))
	}
	add(list("📝 Instructions:", r.Instructions))
	add(verdict(r.IsCorrect, r.Score))
	add(corrections(r.Errors))
	add(list("💡 Suggestions:", r.Suggestions))
	add(list("📌 Tips:", r.Tips))
	if s := strings.TrimSpace(r.EmotionalSupport); s != "" {
		add("💙 " + s)
	}
	return strings.Join(sections, "\n\n")
}

func nonEmpty(items []string, limit int) []string {
	out := make([]string, 0, limit)
	for _, it := range items {
		if len(out) == limit {
			break
		}
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}

func list(label string, items []string) string {
	items = nonEmpty(items, maxListItems)
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(label)
	for _, it := range items {
		b.WriteString("\n• ")
		b.WriteString(it)
	}
	return b.String()
}

func verdict(correct *bool, score *int) string {
	var parts []string
	if correct != nil {
		if *correct {
			parts = append(parts, "✅ Correct!")
		} else {
			parts = append(parts, "❌ Not quite")
		}
	}
	if score != nil {
		parts = append(parts, fmt.Sprintf("Score: %d%%", *score))
	}
	return strings.Join(parts, " ")
}

func corrections(errs []Correction) string {
	var b strings.Builder
	n := 0
	for _, e := range errs {
		if n == maxListItems {
			break
		}
		if strings.TrimSpace(e.Word) == "" {
			continue
		}
		if n == 0 {
			b.WriteString("✏️ Corrections:")
		}
		if e.Suggestion != "" {
			fmt.Fprintf(&b, "\n• %s → %s", e.Word, e.Suggestion)
		} else {
			fmt.Fprintf(&b, "\n• %s", e.Word)
		}
		n++
	}
	return b.String()
}

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
