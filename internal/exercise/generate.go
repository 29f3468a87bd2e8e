package exercise

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

const (
	DefaultWordCount = 5
	MaxWordCount     = 10
)

var practiceWords = map[Difficulty][]string{
	Beginner:     {"cat", "dog", "sun", "big", "red", "hop", "sit", "run", "pen", "cup", "hat", "map", "top", "bag", "leg"},
	Intermediate: {"cake", "bike", "rope", "cute", "make", "like", "hope", "tube", "game", "time", "snake", "plane", "smile", "stone", "grape"},
	Advanced:     {"happy", "garden", "window", "pencil", "rabbit", "basket", "button", "kitten", "yellow", "purple", "elephant", "butterfly", "computer", "telephone", "adventure"},
}

var sightWords = map[Difficulty][]string{
	Beginner:     {"I", "a", "the", "to", "and", "go", "you", "it", "in", "said"},
	Intermediate: {"he", "for", "are", "as", "with", "his", "they", "at", "be", "this"},
	Advanced:     {"have", "from", "or", "one", "had", "by", "word", "but", "not", "what"},
}

var spellingPatterns = []struct {
	name  string
	words []string
}{
	{"consonant-vowel-consonant", []string{"cat", "dog", "sun", "big", "red", "hop", "sit", "run", "pen", "cup"}},
	{"consonant-vowel-consonant-e", []string{"cake", "bike", "rope", "cute", "make", "like", "hope", "tube", "game", "time"}},
}

type passage struct {
	text     string
	mainIdea string
}

var passages = map[Difficulty]passage{
	Beginner: {
		text:     "The cat sat on the mat. The cat was big and black. The mat was red. The cat liked the mat.",
		mainIdea: "A cat sitting on a mat",
	},
	Intermediate: {
		text:     "Sam went to the park with his dog, Max. They played fetch with a red ball. Max ran fast to catch the ball. Sam threw the ball high in the air. They had fun together at the park.",
		mainIdea: "Sam and his dog playing at the park",
	},
}

// LocalGenerator builds exercises from built-in word lists. It is safe for
// concurrent use.
type LocalGenerator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewLocalGenerator(seed int64) *LocalGenerator {
	return &LocalGenerator{rnd: rand.New(rand.NewSource(seed))}
}

func (g *LocalGenerator) Generate(_ context.Context, req Request) (Exercise, error) {
	diff := ParseDifficulty(string(req.Difficulty))
	g.mu.Lock()
	defer g.mu.Unlock()

	switch req.SkillArea {
	case Writing, "":
		return g.sentenceConstruction(diff, clampCount(req.Count)), nil
	case Phonics:
		return g.wordBuilding(diff), nil
	case SightWords:
		return g.flashCard(diff), nil
	case Spelling:
		return g.patternPractice(diff, clampCount(req.Count)), nil
	case Comprehension:
		return mainIdea(diff), nil
	}
	return Exercise{}, fmt.Errorf("%w: %q", ErrUnknownSkillArea, req.SkillArea)
}

func clampCount(n int) int {
	switch {
	case n <= 0:
		return DefaultWordCount
	case n > MaxWordCount:
		return MaxWordCount
	}
	return n
}

func (g *LocalGenerator) sample(words []string, n int) []string {
	if n > len(words) {
		n = len(words)
	}
	out := make([]string, 0, n)
	for _, i := range g.rnd.Perm(len(words))[:n] {
		out = append(out, words[i])
	}
	return out
}

func (g *LocalGenerator) sentenceConstruction(diff Difficulty, n int) Exercise {
	words := g.sample(practiceWords[diff], n)
	return Exercise{
		SkillArea:    Writing,
		ExerciseType: "sentence_construction",
		Instructions: "Create a sentence using all these words: " + strings.Join(words, ", "),
		Words:        words,
		WordBank:     words,
		Difficulty:   diff,
	}
}

func (g *LocalGenerator) wordBuilding(diff Difficulty) Exercise {
	word := g.sample(practiceWords[diff], 1)[0]
	letters := strings.Split(word, "")
	g.rnd.Shuffle(len(letters), func(i, j int) { letters[i], letters[j] = letters[j], letters[i] })
	return Exercise{
		SkillArea:    Phonics,
		ExerciseType: "word_building",
		Instructions: "Put these letters in order to build a word: " + strings.Join(letters, " "),
		Items:        []Item{{Prompt: strings.Join(letters, " "), Answer: word}},
		Difficulty:   diff,
		TimeLimit:    120,
	}
}

func (g *LocalGenerator) flashCard(diff Difficulty) Exercise {
	word := g.sample(sightWords[diff], 1)[0]
	return Exercise{
		SkillArea:    SightWords,
		ExerciseType: "flash_cards",
		Instructions: fmt.Sprintf("Look at this word and type it back: %s", word),
		Words:        []string{word},
		Difficulty:   diff,
		TimeLimit:    30,
	}
}

func (g *LocalGenerator) patternPractice(diff Difficulty, n int) Exercise {
	pattern := spellingPatterns[g.rnd.Intn(len(spellingPatterns))]
	if n > 3 {
		n = 3
	}
	words := g.sample(pattern.words, n)
	items := make([]Item, 0, len(words))
	prompts := make([]string, 0, len(words))
	for _, w := range words {
		pos := 1 + g.rnd.Intn(len(w)-2)
		prompt := w[:pos] + "_" + w[pos+1:]
		items = append(items, Item{Prompt: prompt, Answer: w})
		prompts = append(prompts, prompt)
	}
	return Exercise{
		SkillArea:    Spelling,
		ExerciseType: "pattern_practice",
		Instructions: fmt.Sprintf("Fill in the missing letter (%s words), separated by commas: %s", pattern.name, strings.Join(prompts, ", ")),
		Items:        items,
		Difficulty:   diff,
	}
}

func mainIdea(diff Difficulty) Exercise {
	p, ok := passages[diff]
	if !ok {
		p = passages[Intermediate]
	}
	return Exercise{
		SkillArea:    Comprehension,
		ExerciseType: "main_idea",
		Instructions: "Read the passage. What is it mainly about?",
		Passage:      p.text,
		MainIdea:     p.mainIdea,
		Difficulty:   diff,
	}
}

// Seed returns a time based seed for NewLocalGenerator.
func Seed() int64 { return time.Now().UnixNano() }
