// Package chat routes each learner message to the right collaborator and
// keeps the per-learner transcript and active exercise.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"lexilearn.com/tutor/internal/analysis"
	"lexilearn.com/tutor/internal/compose"
	"lexilearn.com/tutor/internal/exercise"
	"lexilearn.com/tutor/internal/intent"
	"lexilearn.com/tutor/internal/progress"
	"lexilearn.com/tutor/internal/transcript"
)

var (
	ErrEmptyMessage          = errors.New("message cannot be empty")
	ErrUnsupportedAttachment = errors.New("only PNG, JPEG, GIF and WebP images can be attached")
	ErrBusy                  = errors.New("still working on your last message")
)

const (
	FallbackMessage = "I'm having a little trouble right now, but you're doing great! Let's try that again in a moment."
	FailureNotice   = "The tutor didn't respond in time. Please try again."
	historyWindow   = 10
)

var allowedAttachmentTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// Tutor answers freeform messages.
type Tutor interface {
	Reply(ctx context.Context, req TutorRequest) (compose.Reply, error)
}

type TutorRequest struct {
	UserID     string                 `json:"user_id"`
	Message    string                 `json:"message"`
	History    []transcript.Message   `json:"history,omitempty"`
	Attachment *transcript.Attachment `json:"attachment,omitempty"`
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Tutor      Tutor
	Generator  exercise.Generator
	Evaluator  exercise.Evaluator
	Analyzer   analysis.Analyzer
	Classifier *intent.Classifier
	// Progress persists graded answers and picks the difficulty of new
	// exercises. Nil keeps both in memory for the life of the session.
	Progress *progress.Tracker
	Timeout  time.Duration
	Logger   *zap.Logger
	Clock    func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Evaluator == nil {
		d.Evaluator = exercise.Local{}
	}
	if d.Generator == nil {
		d.Generator = exercise.NewLocalGenerator(exercise.Seed())
	}
	if d.Analyzer == nil {
		d.Analyzer = analysis.RuleAnalyzer{}
	}
	if d.Classifier == nil {
		d.Classifier = intent.NewClassifier()
	}
	if d.Timeout <= 0 {
		d.Timeout = 15 * time.Second
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	return d
}

// Outcome describes what one submission did to the session.
type Outcome struct {
	Intent   intent.Intent        `json:"intent"`
	User     transcript.Message   `json:"user_message"`
	Added    []transcript.Message `json:"added"`
	Reply    transcript.Message   `json:"reply"`
	Response compose.Reply        `json:"response"`
	Feedback *compose.Feedback    `json:"feedback,omitempty"`
	Notice   string               `json:"notice,omitempty"`
	Active   *exercise.Active     `json:"active_exercise,omitempty"`
}

// Session is one learner's conversation. Only one submission may be in
// flight at a time.
type Session struct {
	userID string
	deps   Deps
	tr     *transcript.Transcript

	mu       sync.Mutex
	active   *exercise.Active
	inFlight bool
	gen      uint64
	attempts int
	correct  int
}

func NewSession(userID string, deps Deps) *Session {
	deps = deps.withDefaults()
	return &Session{
		userID: userID,
		deps:   deps,
		tr:     transcript.New(transcript.Greeting(deps.Clock())),
	}
}

func (s *Session) UserID() string { return s.userID }

func (s *Session) Transcript() []transcript.Message { return s.tr.Messages() }

// Thinking reports whether a submission is waiting on a collaborator.
func (s *Session) Thinking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Active returns a copy of the active exercise, or nil.
func (s *Session) Active() *exercise.Active {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyActive(s.active)
}

func copyActive(a *exercise.Active) *exercise.Active {
	if a == nil {
		return nil
	}
	c := *a
	c.Target = append([]string(nil), a.Target...)
	return &c
}

// Reset clears the screen and the active exercise, leaving a fresh greeting.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = nil
	s.gen++
	s.tr.Reset()
	s.tr.Append(transcript.Greeting(s.deps.Clock()))
}

// Generation changes whenever a submission starts or the screen is reset.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Load replaces the transcript with msgs, unless a submission is in flight
// or the session has moved past generation gen. It reports whether the
// transcript was replaced.
func (s *Session) Load(msgs []transcript.Message, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight || s.gen != gen {
		return false
	}
	s.tr.Replace(msgs)
	return true
}

// Validate checks a submission without touching the session.
func Validate(text string, att *transcript.Attachment) error {
	if att != nil && !allowedAttachmentTypes[strings.ToLower(att.MIMEType)] {
		return fmt.Errorf("%w: %s", ErrUnsupportedAttachment, att.MIMEType)
	}
	if strings.TrimSpace(text) == "" && att == nil {
		return ErrEmptyMessage
	}
	return nil
}

func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return ErrBusy
	}
	s.inFlight = true
	s.gen++
	return nil
}

func (s *Session) end() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

// Submit handles one learner message. Collaborator failures never surface
// as errors: they produce a fallback reply and a Notice instead. The
// returned error is limited to validation and ErrBusy.
func (s *Session) Submit(ctx context.Context, text string, att *transcript.Attachment) (Outcome, error) {
	if err := Validate(text, att); err != nil {
		return Outcome{}, err
	}
	if err := s.begin(); err != nil {
		return Outcome{}, err
	}
	defer s.end()

	s.mu.Lock()
	active := copyActive(s.active)
	s.mu.Unlock()

	kind := intent.Freeform
	if att == nil {
		kind = s.deps.Classifier.Classify(text, active)
	}
	out := Outcome{Intent: kind}

	if kind == intent.NewConversation {
		s.setActive(nil)
		out.Added = append(out.Added, s.tr.Append(transcript.Separator(s.deps.Clock())))
	}
	out.User = s.tr.Append(transcript.Message{
		Role:       transcript.RoleUser,
		Body:       text,
		CreatedAt:  s.deps.Clock(),
		Attachment: att,
	})

	var (
		reply    compose.Reply
		analysed *analysis.Result
		err      error
	)
	switch kind {
	case intent.NewConversation:
		reply = compose.Reply{Message: transcript.Greeting(s.deps.Clock()).Body}
	case intent.WordRequest:
		s.setActive(nil)
		reply, err = s.requestWords(ctx, text)
	case intent.ExerciseAnswer:
		if active != nil {
			reply, out.Feedback, err = s.answer(ctx, text, *active)
		} else {
			reply, analysed, err = s.freeform(ctx, text, att)
		}
	default:
		reply, analysed, err = s.freeform(ctx, text, att)
	}
	if err != nil {
		s.deps.Logger.Warn("collaborator call failed, using fallback reply",
			zap.String("user_id", s.userID),
			zap.String("intent", string(kind)),
			zap.Error(err))
		reply = compose.Reply{Message: FallbackMessage}
		out.Feedback = nil
		out.Notice = FailureNotice
	}

	msg := s.tr.Append(transcript.Message{
		Role:      transcript.RoleAssistant,
		Body:      compose.Compose(reply),
		CreatedAt: s.deps.Clock(),
		Analysis:  analysed,
		Feedback:  out.Feedback,
	})
	out.Added = append(out.Added, msg)
	out.Reply = msg
	out.Response = reply
	out.Active = s.Active()
	return out, nil
}

func (s *Session) setActive(a *exercise.Active) {
	s.mu.Lock()
	s.active = a
	s.mu.Unlock()
}

func (s *Session) difficulty(ctx context.Context, area exercise.SkillArea) exercise.Difficulty {
	if s.deps.Progress != nil {
		p, err := s.deps.Progress.Skill(ctx, s.userID, area)
		if err == nil {
			return p.Level
		}
		s.deps.Logger.Warn("failed to read progress, using this session's answers",
			zap.String("user_id", s.userID), zap.Error(err))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	accuracy := 0.0
	if s.attempts > 0 {
		accuracy = 100 * float64(s.correct) / float64(s.attempts)
	}
	return exercise.DifficultyFor(accuracy, s.attempts)
}

func (s *Session) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.deps.Timeout)
}

func (s *Session) requestWords(ctx context.Context, text string) (compose.Reply, error) {
	n := intent.RequestedWordCount(text)
	diff := s.difficulty(ctx, exercise.Writing)

	ctx, cancel := s.call(ctx)
	defer cancel()
	ex, err := s.deps.Generator.Generate(ctx, exercise.Request{SkillArea: exercise.Writing, Difficulty: diff, Count: n})
	if err != nil {
		return compose.Reply{}, fmt.Errorf("generate words: %w", err)
	}
	act, err := ex.Active(s.deps.Clock())
	if err != nil {
		return compose.Reply{}, err
	}
	s.setActive(&act)

	words := ex.WordBank
	if len(words) == 0 {
		words = act.Target
	}
	if ex.Difficulty != "" {
		diff = ex.Difficulty
	}
	return compose.Reply{
		Message: fmt.Sprintf("Here are %d %s level words for you to practice. Try using ALL %d words in a sentence! Just type your sentence below and I'll check it.",
			len(words), diff, len(words)),
		Encouragement: "Take your time and be creative!",
		PracticeWords: words,
		Instructions: []string{
			"Use ALL the words in ONE sentence",
			"Create a complete sentence that makes sense",
			"Check your spelling as you go",
		},
		Tips: []string{
			"Start with a capital letter",
			"End with punctuation",
			"Make sure your sentence tells a complete thought",
		},
	}, nil
}

// StartExercise generates an exercise for area and makes it active.
func (s *Session) StartExercise(ctx context.Context, area exercise.SkillArea) (Outcome, error) {
	if err := s.begin(); err != nil {
		return Outcome{}, err
	}
	defer s.end()

	out := Outcome{Intent: intent.WordRequest}
	s.setActive(nil)

	cctx, cancel := s.call(ctx)
	defer cancel()
	reply := compose.Reply{Message: FallbackMessage}
	ex, err := s.deps.Generator.Generate(cctx, exercise.Request{SkillArea: area, Difficulty: s.difficulty(ctx, area)})
	if err == nil {
		var act exercise.Active
		act, err = ex.Active(s.deps.Clock())
		if err == nil {
			s.setActive(&act)
			reply = exerciseReply(ex)
		}
	}
	if err != nil {
		if errors.Is(err, exercise.ErrUnknownSkillArea) {
			return Outcome{}, err
		}
		s.deps.Logger.Warn("exercise generation failed", zap.String("user_id", s.userID), zap.Error(err))
		out.Notice = FailureNotice
	}

	msg := s.tr.Append(transcript.Message{Role: transcript.RoleAssistant, Body: compose.Compose(reply), CreatedAt: s.deps.Clock()})
	out.Added = []transcript.Message{msg}
	out.Reply = msg
	out.Response = reply
	out.Active = s.Active()
	return out, nil
}

func exerciseReply(ex exercise.Exercise) compose.Reply {
	r := compose.Reply{Message: ex.Instructions, PracticeWords: ex.Words}
	if ex.Passage != "" {
		r.Message = ex.Passage + "\n\n" + ex.Instructions
	}
	if ex.TimeLimit > 0 {
		r.Tips = []string{fmt.Sprintf("You have about %d seconds, but take the time you need", ex.TimeLimit)}
	}
	return r
}

func (s *Session) answer(ctx context.Context, text string, active exercise.Active) (compose.Reply, *compose.Feedback, error) {
	cctx, cancel := s.call(ctx)
	defer cancel()
	ev, err := s.deps.Evaluator.Evaluate(cctx, text, active)
	if err != nil {
		return compose.Reply{}, nil, fmt.Errorf("evaluate answer: %w", err)
	}

	s.mu.Lock()
	s.active = nil
	s.attempts++
	if ev.IsCorrect {
		s.correct++
	}
	s.mu.Unlock()
	if s.deps.Progress != nil {
		if err := s.deps.Progress.Record(ctx, s.userID, active.SkillArea, ev.IsCorrect); err != nil {
			s.deps.Logger.Warn("failed to record progress", zap.String("user_id", s.userID), zap.Error(err))
		}
	}

	reply := compose.Reply{
		Message:       ev.Message,
		Encouragement: ev.Encouragement,
		IsCorrect:     compose.Bool(ev.IsCorrect),
		Score:         compose.Int(ev.Score),
		Suggestions:   ev.Suggestions,
		Tips:          ev.Tips,
	}
	fb := &compose.Feedback{
		IsCorrect: reply.IsCorrect,
		Score:     reply.Score,
		Found:     ev.Found,
		Missing:   ev.Missing,
	}
	return reply, fb, nil
}

func (s *Session) freeform(ctx context.Context, text string, att *transcript.Attachment) (compose.Reply, *analysis.Result, error) {
	var analysed *analysis.Result
	if strings.TrimSpace(text) != "" {
		actx, cancel := s.call(ctx)
		res, err := s.deps.Analyzer.Analyze(actx, text)
		cancel()
		if err != nil {
			s.deps.Logger.Debug("text analysis unavailable", zap.Error(err))
		} else if res.ErrorCount > 0 {
			analysed = &res
		}
	}

	if s.deps.Tutor == nil {
		return compose.Reply{Message: "I'm here to help you learn! What would you like to work on?"}, analysed, nil
	}

	ctx, cancel := s.call(ctx)
	defer cancel()
	history := s.tr.Last(historyWindow + 1)
	if len(history) > 0 {
		history = history[:len(history)-1]
	}
	reply, err := s.deps.Tutor.Reply(ctx, TutorRequest{
		UserID:     s.userID,
		Message:    text,
		History:    history,
		Attachment: att,
	})
	if err != nil {
		return compose.Reply{}, nil, fmt.Errorf("tutor reply: %w", err)
	}
	if len(reply.Errors) == 0 && analysed != nil {
		for _, e := range analysed.Errors {
			if e.Type == analysis.TypeSpelling {
				reply.Errors = append(reply.Errors, compose.Correction{Word: e.Word, Suggestion: e.Suggestion})
			}
		}
	}
	return reply, analysed, nil
}
