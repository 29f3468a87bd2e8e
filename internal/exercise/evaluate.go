package exercise

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
)

var (
	highAchievement = []string{
		"Wow! You're really mastering this skill!",
		"Excellent work! You're becoming a reading superstar!",
		"Outstanding! Your hard work is really paying off!",
	}
	goodProgress = []string{
		"Great job! You're making steady progress!",
		"Nice work! I can see you're getting better at this!",
		"Good effort! You're on the right track!",
	}
	needsSupport = []string{
		"You're working hard, and that's what counts!",
		"Don't give up! Learning takes time and practice!",
		"Every expert was once a beginner. You're doing fine!",
	}
	breakthrough = []string{
		"Yes! You got it! That 'aha' moment is so exciting!",
		"Perfect! You just had a breakthrough!",
		"Amazing! You figured it out all by yourself!",
	}
)

// pick is deterministic so identical answers get identical feedback.
func pick(phrases []string, answer string) string {
	return phrases[len(answer)%len(phrases)]
}

var (
	wordToken     = regexp.MustCompile(`[a-z0-9']+`)
	listSeparator = regexp.MustCompile(`[,\s]+`)
)

func tokens(s string) []string {
	return wordToken.FindAllString(strings.ToLower(s), -1)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func percent(n, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(n) / float64(total)))
}

// Local evaluates answers in-process, one strategy per skill area.
type Local struct{}

func (Local) Evaluate(_ context.Context, answer string, active Active) (Evaluation, error) {
	if strings.TrimSpace(answer) == "" {
		return emptyAnswer(active), nil
	}
	if len(active.Target) == 0 {
		return Evaluation{}, ErrNoTarget
	}
	switch active.SkillArea {
	case Phonics:
		return evaluatePhonics(answer, active.Target), nil
	case Spelling:
		return evaluateSpelling(answer, active.Target), nil
	case SightWords:
		return evaluateSightWord(answer, active.Target[0]), nil
	case Writing:
		return EvaluateWriting(answer, active.Target), nil
	case Comprehension:
		return evaluateComprehension(answer, active.Target[0]), nil
	}
	return Evaluation{}, fmt.Errorf("%w: %q", ErrUnknownSkillArea, active.SkillArea)
}

func emptyAnswer(active Active) Evaluation {
	msg := "I didn't catch an answer. Give it a try!"
	if active.Instructions != "" {
		msg = "I didn't catch an answer. " + active.Instructions
	}
	return Evaluation{
		Message:     msg,
		Missing:     dedupe(active.Target),
		Suggestions: []string{"Type your answer below", "Take your time"},
		Tips:        []string{},
	}
}

func evaluatePhonics(answer string, target []string) Evaluation {
	if len(target) > 1 {
		return evaluateWordSet(answer, target)
	}
	want := normalize(target[0])
	got := normalize(answer)
	if got == want {
		return Evaluation{
			IsCorrect:     true,
			Score:         100,
			Message:       fmt.Sprintf("🌟 Fantastic! You built the word '%s' correctly!", want),
			Encouragement: pick(breakthrough, got),
			Suggestions:   []string{"Ready for another word?", "Try a more challenging word!"},
			Tips:          []string{},
		}
	}
	letters := strings.Split(want, "")
	return Evaluation{
		Message:       fmt.Sprintf("Good try! The correct word is '%s'. You wrote '%s'.", want, strings.TrimSpace(answer)),
		Encouragement: pick(goodProgress, got),
		Suggestions:   []string{"Let's try again - sound out each letter", "Remember the letters: " + strings.Join(letters, ", ")},
		Tips:          []string{"Sound out each letter slowly: " + strings.Join(letters, " - "), "Check each letter carefully"},
	}
}

// evaluateWordSet credits each target word that appears in the answer.
func evaluateWordSet(answer string, target []string) Evaluation {
	have := map[string]bool{}
	for _, w := range tokens(answer) {
		have[w] = true
	}
	var found, missing []string
	for _, t := range target {
		if have[normalize(t)] {
			found = append(found, t)
		} else {
			missing = append(missing, t)
		}
	}
	score := percent(len(found), len(target))
	ev := Evaluation{Score: score, IsCorrect: score == 100, Found: found, Missing: missing, Tips: []string{}}
	switch {
	case ev.IsCorrect:
		ev.Message = fmt.Sprintf("🌟 Fantastic! You built all %d words correctly: %s!", len(target), strings.Join(target, ", "))
		ev.Encouragement = pick(breakthrough, answer)
		ev.Suggestions = []string{"Ready for another challenge?"}
	case len(found) > 0:
		ev.Message = fmt.Sprintf("Good work! You got %d out of %d correct: %s. Missing: %s", len(found), len(target), strings.Join(found, ", "), strings.Join(missing, ", "))
		ev.Encouragement = pick(goodProgress, answer)
		ev.Suggestions = []string{"Try building: " + strings.Join(missing, ", "), "Sound out each word"}
	default:
		ev.Message = fmt.Sprintf("For this exercise, build these words: %s. You wrote: '%s'", strings.Join(target, ", "), strings.TrimSpace(answer))
		ev.Encouragement = pick(needsSupport, answer)
		ev.Suggestions = []string{"Try building one word at a time", "Sound out each letter"}
	}
	return ev
}

func evaluateSpelling(answer string, target []string) Evaluation {
	if len(target) == 1 {
		want := normalize(target[0])
		got := normalize(answer)
		if got == want {
			return Evaluation{
				IsCorrect:     true,
				Score:         100,
				Message:       fmt.Sprintf("📝 Excellent! '%s' is spelled correctly!", want),
				Encouragement: pick(highAchievement, got),
				Suggestions:   []string{"Perfect spelling!", "Ready for more challenging words?"},
				Tips:          []string{},
			}
		}
		return Evaluation{
			Message:       fmt.Sprintf("Let's practice! The correct spelling is '%s'. You wrote '%s'.", want, strings.TrimSpace(answer)),
			Encouragement: pick(needsSupport, got),
			Suggestions:   []string{"Break the word into syllables", "Sound out each letter"},
			Tips:          []string{"Correct spelling: " + want, "Use look-say-cover-write-check"},
		}
	}

	var given []string
	for _, w := range listSeparator.Split(normalize(answer), -1) {
		if w != "" {
			given = append(given, w)
		}
	}
	want := make([]string, len(target))
	for i, t := range target {
		want[i] = normalize(t)
	}
	if len(given) != len(want) {
		return Evaluation{
			Message:     fmt.Sprintf("You provided %d words but need %d. Separate your answers with commas.", len(given), len(want)),
			Suggestions: []string{fmt.Sprintf("Provide exactly %d words", len(want)), "Separate answers with commas"},
			Tips:        []string{"Correct spellings: " + strings.Join(want, ", ")},
		}
	}

	var found, missing, wrong []string
	for i, w := range want {
		if given[i] == w {
			found = append(found, w)
			continue
		}
		missing = append(missing, w)
		wrong = append(wrong, given[i]+" → "+w)
	}
	score := percent(len(found), len(want))
	ev := Evaluation{Score: score, IsCorrect: score == 100, Found: found, Missing: missing, Tips: []string{}}
	if ev.IsCorrect {
		ev.Message = fmt.Sprintf("📝 Excellent! You spelled all %d words correctly: %s!", len(want), strings.Join(want, ", "))
		ev.Encouragement = pick(highAchievement, answer)
		ev.Suggestions = []string{"Perfect spelling!", "You're mastering this pattern!"}
		return ev
	}
	ev.Message = fmt.Sprintf("You got %d out of %d correct. Check: %s", len(found), len(want), strings.Join(wrong, ", "))
	ev.Encouragement = pick(goodProgress, answer)
	ev.Suggestions = []string{"Review the incorrect words", "Try breaking them into syllables"}
	ev.Tips = []string{"Correct spellings: " + strings.Join(want, ", ")}
	return ev
}

func evaluateSightWord(answer, target string) Evaluation {
	want := normalize(target)
	got := normalize(answer)
	if got == want {
		return Evaluation{
			IsCorrect:     true,
			Score:         100,
			Message:       fmt.Sprintf("✅ Perfect! You recognized the sight word '%s' instantly!", want),
			Encouragement: pick(highAchievement, got),
			Suggestions:   []string{"Excellent sight word recognition!", "Ready for the next word?"},
			Tips:          []string{},
		}
	}
	return Evaluation{
		Message:       fmt.Sprintf("Good effort! This sight word is '%s'. You wrote '%s'.", want, got),
		Encouragement: pick(goodProgress, got),
		Suggestions:   []string{"Look at the whole word at once", "Sight words need to be memorized"},
		Tips:          []string{"The correct word is: " + want, "Sight words don't follow phonetic rules", "See it, say it, know it"},
	}
}

// EvaluateWriting scores a sentence against a bank of required words. A
// word counts when it appears as a whole word, case-insensitively.
func EvaluateWriting(answer string, required []string) Evaluation {
	required = dedupe(required)
	have := map[string]bool{}
	for _, w := range tokens(answer) {
		have[w] = true
	}
	var found, missing []string
	for _, r := range required {
		if have[normalize(r)] {
			found = append(found, r)
		} else {
			missing = append(missing, r)
		}
	}

	sentence := strings.TrimSpace(answer)
	score := percent(len(found), len(required))
	ev := Evaluation{Score: score, IsCorrect: score == 100, Found: found, Missing: missing}
	switch {
	case ev.IsCorrect:
		ev.Message = fmt.Sprintf("🌟 Fantastic sentence! You used all %d words!\n\nYour sentence: \"%s\"", len(required), sentence)
		ev.Encouragement = pick(breakthrough, answer)
		ev.Suggestions = []string{"Say 'give me 5 words' for new words", "Try 'different words' for a new challenge"}
		ev.Tips = []string{"You completed the exercise!"}
	case len(found) > 0:
		ev.Message = fmt.Sprintf("👍 Good work! You used %d out of %d words.\n\nYour sentence: \"%s\"\n\nWords found: %s\nYou're missing: %s",
			len(found), len(required), sentence, strings.Join(found, ", "), strings.Join(missing, ", "))
		ev.Encouragement = pick(goodProgress, answer)
		ev.Suggestions = []string{"Try adding: " + strings.Join(missing, ", "), "Include ALL the words"}
		ev.Tips = []string{"Required words: " + strings.Join(required, ", "), "Check that you used every word"}
	default:
		ev.Message = fmt.Sprintf("Good try! Your sentence: \"%s\"\n\nWords found: none\nYou're missing: %s", sentence, strings.Join(missing, ", "))
		ev.Encouragement = pick(needsSupport, answer)
		ev.Suggestions = []string{"Try using all the words together", "Look at the word list again"}
		ev.Tips = []string{"Required words: " + strings.Join(required, ", ")}
	}
	return ev
}

func dedupe(words []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(words))
	for _, w := range words {
		k := normalize(w)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, w)
	}
	return out
}

var (
	nonAnswers = map[string]bool{"done": true, "ok": true, "okay": true, "next": true, "continue": true, "finished": true}
	stopWords  = map[string]bool{"the": true, "a": true, "an": true, "on": true, "in": true, "is": true, "it": true, "was": true, "of": true, "and": true, "to": true, "at": true}
)

func evaluateComprehension(answer, mainIdea string) Evaluation {
	got := normalize(answer)
	if nonAnswers[got] {
		return Evaluation{
			Message:     "Please tell me what the main idea of the passage is. What is the story mainly about?",
			Suggestions: []string{"Read the passage again", "Answer in your own words"},
			Tips:        []string{},
		}
	}

	keywords := map[string]bool{}
	for _, w := range tokens(mainIdea) {
		if !stopWords[w] {
			keywords[w] = true
		}
	}
	matched := map[string]bool{}
	for _, w := range tokens(got) {
		if keywords[w] {
			matched[w] = true
		}
	}

	score := 0
	switch {
	case len(matched) >= 2:
		score = 80
	case len(matched) == 1:
		score = 50
	}
	ev := Evaluation{Score: score, IsCorrect: score >= 60}
	switch {
	case ev.IsCorrect:
		ev.Message = fmt.Sprintf("✅ Excellent! Your answer '%s' shows great comprehension!", strings.TrimSpace(answer))
		ev.Encouragement = pick(highAchievement, got)
		ev.Suggestions = []string{"You understood the passage well!", "Ready for the next question?"}
		ev.Tips = []string{}
	case score > 0:
		ev.Message = fmt.Sprintf("Good effort! Your answer is partially correct. The passage says: '%s'", mainIdea)
		ev.Encouragement = pick(goodProgress, got)
		ev.Suggestions = []string{"Look for more details in the passage", "Try again with more information"}
		ev.Tips = []string{"The answer should include: " + mainIdea}
	default:
		ev.Message = fmt.Sprintf("Let's look at this more carefully. The passage says: '%s'", mainIdea)
		ev.Encouragement = pick(needsSupport, got)
		ev.Suggestions = []string{"Read the passage again", "Look for the key details"}
		ev.Tips = []string{"Use your finger to track the text", "Read slowly and carefully"}
	}
	return ev
}
