// Package analysis flags common dyslexic spelling patterns in free text.
package analysis

import (
	"context"
	"math"
	"regexp"
	"strings"
)

// Error types reported by RuleAnalyzer.
const (
	TypeSpelling = "spelling"
	TypeReversal = "letter_reversal"
	TypePhonetic = "phonetic_error"
)

type Error struct {
	Word       string `json:"word"`
	Suggestion string `json:"suggestion"`
	Type       string `json:"type"`
	Position   int    `json:"position"`
}

type Result struct {
	Errors          []Error `json:"errors"`
	CorrectedText   string  `json:"corrected_text"`
	ConfidenceScore float64 `json:"confidence_score"`
	ErrorCount      int     `json:"error_count"`
}

// Empty is the safe default used when analysis is unavailable.
func Empty(text string) Result {
	return Result{Errors: []Error{}, CorrectedText: text}
}

type Analyzer interface {
	Analyze(ctx context.Context, text string) (Result, error)
}

var corrections = map[string]string{
	"teh": "the", "hte": "the", "thier": "their", "recieve": "receive",
	"beleive": "believe", "seperate": "separate", "definately": "definitely",
	"occured": "occurred", "neccessary": "necessary", "begining": "beginning",
	"alot": "a lot", "wierd": "weird", "freind": "friend",
	"abd": "and", "doy": "boy", "dack": "back",
	"qut": "put", "puite": "quite",
	"lite": "light", "nite": "night", "wuz": "was", "sed": "said",
	"cuz": "because", "becuz": "because",
	"oog": "dog", "qan": "can", "stuby": "study",
}

var (
	reversalPattern = regexp.MustCompile(`\b(abd|doy|dack|qut|puite)\b`)
	phoneticPattern = regexp.MustCompile(`\b(lite|nite|wuz|sed|cuz|becuz)\b`)
	wordCleaner     = regexp.MustCompile(`[^\w]`)
)

// RuleAnalyzer is a dictionary and pattern based analyzer. It never fails.
type RuleAnalyzer struct{}

func (RuleAnalyzer) Analyze(_ context.Context, text string) (Result, error) {
	return Analyze(text), nil
}

// Analyze runs the rule set over text.
func Analyze(text string) Result {
	if strings.TrimSpace(text) == "" {
		return Empty(text)
	}

	lower := strings.ToLower(text)
	words := strings.Fields(lower)
	errs := []Error{}
	corrected := text

	for i, w := range words {
		clean := wordCleaner.ReplaceAllString(w, "")
		fix, ok := corrections[clean]
		if !ok {
			continue
		}
		errs = append(errs, Error{Word: clean, Suggestion: fix, Type: TypeSpelling, Position: i})
		corrected = replaceWordFold(corrected, clean, fix)
	}
	for _, m := range reversalPattern.FindAllString(lower, -1) {
		errs = append(errs, Error{Word: m, Suggestion: "Check if '" + m + "' should be a different word", Type: TypeReversal, Position: -1})
	}
	for _, m := range phoneticPattern.FindAllString(lower, -1) {
		errs = append(errs, Error{Word: m, Suggestion: "Consider the correct spelling of '" + m + "'", Type: TypePhonetic, Position: -1})
	}

	return Result{
		Errors:          errs,
		CorrectedText:   corrected,
		ConfidenceScore: confidence(len(words), len(errs)),
		ErrorCount:      len(errs),
	}
}

func replaceWordFold(text, word, replacement string) string {
	re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`)
	done := false
	return re.ReplaceAllStringFunc(text, func(m string) string {
		if done {
			return m
		}
		done = true
		return replacement
	})
}

func confidence(words, errors int) float64 {
	if words == 0 {
		return 0
	}
	c := math.Max(0.1, 1-float64(errors)/float64(words)*2)
	return math.Round(c*100) / 100
}
