// Package intent classifies an incoming chat message into the route the
// session should take. Classification is an ordered list of predicate rules;
// the first rule that matches wins.
package intent

import (
	"regexp"
	"strconv"
	"strings"

	"lexilearn.com/tutor/internal/exercise"
)

type Intent string

const (
	NewConversation Intent = "new_conversation"
	WordRequest     Intent = "word_request"
	ExerciseAnswer  Intent = "exercise_answer"
	Freeform        Intent = "freeform"
)

// Rule reports whether msg belongs to Intent. msg is lower-cased and trimmed.
type Rule struct {
	Name   string
	Intent Intent
	Match  func(msg string, hasActive bool) bool
}

var (
	greetingPattern = regexp.MustCompile(`^(hello|hi|hey|good morning|good afternoon|good evening)[\s!,.]*$`)

	wordRequestPatterns = []*regexp.Regexp{
		regexp.MustCompile(`different\s+words`),
		regexp.MustCompile(`other\s+words`),
		regexp.MustCompile(`more\s+words`),
		regexp.MustCompile(`new\s+words`),
		regexp.MustCompile(`another\s+word`),
		regexp.MustCompile(`give.*words`),
		regexp.MustCompile(`\d+\s+words`),
		regexp.MustCompile(`words\s+to\s+practice`),
		regexp.MustCompile(`practice\s+words`),
		regexp.MustCompile(`\bpractice\b.*\bwords\b`),
		regexp.MustCompile(`\bmore\b.*\bwords\b`),
	}

	wordCountPattern = regexp.MustCompile(`(\d+)\s+words?`)
)

func IsGreeting(msg string) bool {
	return greetingPattern.MatchString(msg)
}

func IsWordRequest(msg string) bool {
	for _, p := range wordRequestPatterns {
		if p.MatchString(msg) {
			return true
		}
	}
	return false
}

// DefaultRules returns the rules in precedence order. A greeting must win over
// everything else, and a word request must never reach the evaluator.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "greeting", Intent: NewConversation, Match: func(msg string, _ bool) bool { return IsGreeting(msg) }},
		{Name: "word-request", Intent: WordRequest, Match: func(msg string, _ bool) bool { return IsWordRequest(msg) }},
		{Name: "exercise-answer", Intent: ExerciseAnswer, Match: func(_ string, hasActive bool) bool { return hasActive }},
		{Name: "freeform", Intent: Freeform, Match: func(string, bool) bool { return true }},
	}
}

type Classifier struct {
	rules []Rule
}

// NewClassifier uses DefaultRules when no rules are given.
func NewClassifier(rules ...Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Classifier{rules: rules}
}

func (c *Classifier) Classify(msg string, active *exercise.Active) Intent {
	norm := strings.ToLower(strings.TrimSpace(msg))
	hasActive := active != nil
	for _, r := range c.rules {
		if r.Match(norm, hasActive) {
			return r.Intent
		}
	}
	return Freeform
}

// RequestedWordCount extracts "N words" from msg, defaulting to 5 and capped
// at 10.
func RequestedWordCount(msg string) int {
	m := wordCountPattern.FindStringSubmatch(strings.ToLower(msg))
	if m == nil {
		return exercise.DefaultWordCount
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return exercise.MaxWordCount
	}
	switch {
	case n < 1:
		return 1
	case n > exercise.MaxWordCount:
		return exercise.MaxWordCount
	}
	return n
}
