package core

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"lexilearn.com/tutor/internal/chat"
	"lexilearn.com/tutor/internal/compose"
	"lexilearn.com/tutor/internal/transcript"
)

// Topic is what a freeform message is about.
type Topic string

const (
	TopicHelp        Topic = "help_request"
	TopicPractice    Topic = "practice_request"
	TopicQuestion    Topic = "question"
	TopicSharingWork Topic = "sharing_work"
	TopicFrustration Topic = "frustration"
	TopicCelebration Topic = "celebration"
	TopicSpelling    Topic = "spelling_check"
	TopicShortText   Topic = "short_text_submission"
	TopicGeneral     Topic = "general"
)

type topicRule struct {
	topic   Topic
	pattern *regexp.Regexp
}

var topicRules = []topicRule{
	{TopicHelp, regexp.MustCompile(`\bhelp me\b|\bneed help\b|\bcan you help\b|\bdon't understand\b|\bconfused\b|\bhow do i\b`)},
	{TopicPractice, regexp.MustCompile(`\bexercise\b|\bwork on\b|\blearn\b|\bstudy\b|\btrain\b`)},
	{TopicQuestion, regexp.MustCompile(`\?|^(what|how|why|when|where|can you|could you|will you|should i|do i)\b`)},
	{TopicSharingWork, regexp.MustCompile(`\bwrote\b|\bread\b|\bfinished\b|\bcompleted\b|\bcheck this\b`)},
	{TopicFrustration, regexp.MustCompile(`\bfrustrated\b|\bangry\b|\bcan't do\b|\bgive up\b|\btoo hard\b|\btoo difficult\b`)},
	{TopicCelebration, regexp.MustCompile(`\bdid it\b|\bgot it\b|\byay\b|\bawesome\b|\bamazing\b`)},
}

var spellingPattern = regexp.MustCompile(`\bspell\b|\bspelling\b|\bis this right\b|\bcorrect\b`)

// DetectTopic classifies a freeform message. Rules are checked in order.
func DetectTopic(message string) Topic {
	lower := strings.ToLower(strings.TrimSpace(message))
	for _, r := range topicRules {
		if r.pattern.MatchString(lower) {
			return r.topic
		}
	}
	words := strings.Fields(message)
	if spellingPattern.MatchString(lower) && len(words) > 2 {
		return TopicSpelling
	}
	if len(words) > 0 && len(words) <= 3 {
		switch lower {
		case "help", "practice", "exercise":
		default:
			return TopicShortText
		}
	}
	return TopicGeneral
}

type emotionRule struct {
	emotion string
	pattern *regexp.Regexp
}

// Checked in order; the first hit wins.
var emotionRules = []emotionRule{
	{"frustrated", regexp.MustCompile(`frustrated|angry|mad|hate|stupid|dumb|ugh|argh`)},
	{"confused", regexp.MustCompile(`confused|don't understand|lost|unclear|what|huh`)},
	{"excited", regexp.MustCompile(`excited|love|awesome|great|amazing|cool|yay`)},
	{"confident", regexp.MustCompile(`easy|got it|understand|know|sure|definitely`)},
	{"worried", regexp.MustCompile(`worried|scared|nervous|anxious|afraid`)},
	{"proud", regexp.MustCompile(`proud|happy|accomplished|did it|yes`)},
}

var emotionalSupport = map[string]string{
	"frustrated": "It's okay to feel frustrated. Learning can be challenging, but you're stronger than you know!",
	"confused":   "Confusion is just your brain making room for new understanding. Let's work through this together!",
	"excited":    "I love your enthusiasm! That positive energy will help you learn even faster!",
	"worried":    "It's natural to feel worried about new things. Remember, I'm here to support you every step of the way!",
	"proud":      "You should be proud! Recognizing your own progress is a sign of wisdom!",
}

// DetectEmotion returns the learner's apparent mood, or "neutral".
func DetectEmotion(message string) string {
	lower := strings.ToLower(message)
	for _, r := range emotionRules {
		if r.pattern.MatchString(lower) {
			return r.emotion
		}
	}
	return "neutral"
}

// EmotionalSupport returns the support line for emotion, empty when none fits.
func EmotionalSupport(emotion string) string {
	return emotionalSupport[emotion]
}

var emotionPrompts = map[string]string{
	"frustrated": "The student seems frustrated - be extra encouraging and patient.",
	"excited":    "The student is excited - match their enthusiasm!",
	"confused":   "The student is confused - provide clear, simple explanations.",
	"worried":    "The student seems worried - be reassuring and supportive.",
}

const maxHistoryTurns = 10

// TutorService answers freeform messages. With a Completer it asks the
// model, grounding it with retrieved tips; otherwise, or when the model
// fails, it answers from templates.
type TutorService struct {
	llm    Completer
	tips   *TipService
	logger *zap.Logger
}

func NewTutorService(llm Completer, tips *TipService, logger *zap.Logger) *TutorService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TutorService{llm: llm, tips: tips, logger: logger}
}

var _ chat.Tutor = (*TutorService)(nil)

func (t *TutorService) Reply(ctx context.Context, req chat.TutorRequest) (compose.Reply, error) {
	if err := ctx.Err(); err != nil {
		return compose.Reply{}, err
	}
	emotion := DetectEmotion(req.Message)
	reply := templateReply(DetectTopic(req.Message), req)
	reply.EmotionalSupport = EmotionalSupport(emotion)

	if t.llm == nil || strings.TrimSpace(req.Message) == "" {
		return reply, nil
	}

	var tips []string
	if t.tips != nil {
		var err error
		if tips, err = t.tips.Relevant(ctx, req.Message); err != nil {
			t.logger.Warn("tip retrieval failed, continuing without tips", zap.Error(err))
		}
	}

	text, err := t.llm.Complete(ctx, systemPrompt(emotion, tips), historyTurns(req.History), req.Message)
	if err != nil {
		if ctx.Err() != nil {
			return compose.Reply{}, err
		}
		t.logger.Warn("model reply failed, using template", zap.String("user_id", req.UserID), zap.Error(err))
		return reply, nil
	}
	return compose.Reply{
		Message:          text,
		Tips:             tips,
		EmotionalSupport: reply.EmotionalSupport,
	}, nil
}

func systemPrompt(emotion string, tips []string) string {
	parts := []string{tutorSystemInstruction}
	if p, ok := emotionPrompts[emotion]; ok {
		parts = append(parts, p)
	}
	if len(tips) > 0 {
		parts = append(parts, "Teaching tips you may draw on:\n- "+strings.Join(tips, "\n- "))
	}
	return strings.Join(parts, "\n\n")
}

func historyTurns(msgs []transcript.Message) []Turn {
	var turns []Turn
	for _, m := range msgs {
		switch m.Role {
		case transcript.RoleUser:
			turns = append(turns, Turn{Role: "user", Text: m.Body})
		case transcript.RoleAssistant:
			turns = append(turns, Turn{Role: "model", Text: m.Body})
		}
	}
	if len(turns) > maxHistoryTurns {
		turns = turns[len(turns)-maxHistoryTurns:]
	}
	return turns
}

func templateReply(topic Topic, req chat.TutorRequest) compose.Reply {
	if req.Attachment != nil && strings.TrimSpace(req.Message) == "" {
		return compose.Reply{
			Message:     "Thanks for sharing your picture! Tell me what you'd like to work on with it.",
			Suggestions: []string{"Ask me to read the words with you", "Ask me to check the spelling"},
		}
	}
	switch topic {
	case TopicHelp:
		return compose.Reply{
			Message:     "I'm here to help you! Let's work through this together.",
			Suggestions: []string{"Tell me which word is tricky", "Ask for practice words", "Try sounding it out slowly"},
		}
	case TopicPractice:
		return compose.Reply{
			Message:     "Let's practice together! I have some perfect activities for you.",
			Suggestions: []string{"Try asking: 'give me 5 words to practice'", "Start a phonics warm-up", "Practice sight words for 5 minutes"},
		}
	case TopicQuestion:
		return compose.Reply{
			Message: "That's a great question! Let's figure it out together.",
			Tips:    []string{"Break big words into smaller parts", "Read it out loud slowly"},
		}
	case TopicSharingWork:
		return compose.Reply{
			Message:       "Thank you for sharing your work with me! I can see you put real effort into this.",
			Encouragement: "Great job! You're making steady progress!",
		}
	case TopicFrustration:
		return compose.Reply{
			Message:       "I understand that this feels frustrating right now. That's completely normal when learning something new!",
			Encouragement: "Don't give up! Learning takes time and practice!",
			Suggestions: []string{
				"Let's take a short break",
				"Try a different approach",
				"Focus on one small step at a time",
			},
		}
	case TopicCelebration:
		return compose.Reply{
			Message:       "Yes! You got it! That 'aha' moment is so exciting!",
			Encouragement: "Your hard work is paying off! This is exactly what progress looks like!",
			Suggestions:   []string{"Keep up the great work!", "You're ready for the next challenge!"},
		}
	case TopicSpelling:
		return compose.Reply{
			Message: "Let me help you with spelling!",
			Tips:    []string{"Say the word slowly and listen for each sound", "Look for spelling patterns you know"},
		}
	case TopicShortText:
		return compose.Reply{
			Message: fmt.Sprintf("Great effort! Can you tell me more about %q? Try writing a whole sentence.", strings.TrimSpace(req.Message)),
		}
	default:
		return compose.Reply{
			Message:     "I'm here to help you learn! What would you like to work on?",
			Suggestions: []string{"Try asking: 'give me 5 words to practice'", "Read a short story together"},
		}
	}
}
