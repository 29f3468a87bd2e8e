package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lexilearn.com/tutor/internal/analysis"
	"lexilearn.com/tutor/internal/auth"
	"lexilearn.com/tutor/internal/chat"
	"lexilearn.com/tutor/internal/exercise"
	"lexilearn.com/tutor/internal/intent"
	"lexilearn.com/tutor/internal/kv"
	"lexilearn.com/tutor/internal/progress"
	"lexilearn.com/tutor/internal/settings"
	"lexilearn.com/tutor/internal/store"
	"lexilearn.com/tutor/internal/studytime"
	"lexilearn.com/tutor/internal/transcript"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMissingFields      = errors.New("username and password are required")
)

const dayLayout = "2006-01-02"

// ExerciseFallbackNotice accompanies an exercise from the built-in set when
// the configured generator failed.
const ExerciseFallbackNotice = "The exercise service didn't respond, so here is one from the practice set."

// GeneratedExercise is an exercise plus a notice when it came from the
// built-in set instead of the configured generator.
type GeneratedExercise struct {
	exercise.Exercise
	Notice string `json:"notice,omitempty"`
}

// ChecklistItem is one entry of the learner's improvement checklist.
type ChecklistItem struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// SessionState is everything a client needs to render a fresh page.
type SessionState struct {
	Transcript   []transcript.Message `json:"transcript"`
	Settings     settings.Settings    `json:"settings"`
	StudySeconds int64                `json:"study_seconds"`
	Checklist    []ChecklistItem      `json:"checklist"`
	Progress     progress.Stats       `json:"progress"`
	Active       *exercise.Active     `json:"active_exercise,omitempty"`
}

// DailyCount is the number of exchanges on one date.
type DailyCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// UserStats is the learner's dashboard summary.
type UserStats struct {
	progress.Stats
	StudySeconds  int64        `json:"study_seconds"`
	TotalMessages int          `json:"total_messages"`
	MessagesToday int          `json:"messages_today"`
	DailyMessages []DailyCount `json:"daily_messages"`
}

const statsDays = 7

type ChatServiceDeps struct {
	Store *store.SQLiteStore
	KV    kv.Store
	Chat  chat.Deps
	// History overrides where transcripts are rebuilt from. Nil means the
	// exchanges stored in Store.
	History            transcript.HistorySource
	StudyFlushInterval time.Duration
	Logger             *zap.Logger
}

// learner serializes transcript rebuilds against submissions. Submissions
// hold mu for reading until their exchange is stored; rebuilds hold it for
// writing.
type learner struct {
	mu       sync.RWMutex
	hydrated bool
}

type studyEntry struct {
	counter *studytime.Counter
	stop    func()
}

// ChatService ties the per-learner chat sessions to persistence.
type ChatService struct {
	dbStore *store.SQLiteStore
	kv      kv.Store
	chat    chat.Deps
	local   exercise.Generator
	tracker *progress.Tracker
	manager *chat.Manager
	flush   time.Duration
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	learners   map[string]*learner
	sessionIDs map[string]string
	settings   map[string]*settings.Store
	study      map[string]*studyEntry
	applier    settings.Applier
}

func NewChatService(deps ChatServiceDeps) *ChatService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	flush := deps.StudyFlushInterval
	if flush <= 0 {
		flush = 30 * time.Second
	}
	chatDeps := deps.Chat
	if chatDeps.Logger == nil {
		chatDeps.Logger = logger
	}
	if chatDeps.Evaluator == nil {
		chatDeps.Evaluator = exercise.Local{}
	}
	if chatDeps.Generator == nil {
		chatDeps.Generator = exercise.NewLocalGenerator(exercise.Seed())
	}
	if chatDeps.Analyzer == nil {
		chatDeps.Analyzer = analysis.RuleAnalyzer{}
	}
	if chatDeps.Progress == nil {
		chatDeps.Progress = progress.NewTracker(deps.KV)
	}
	if chatDeps.Clock == nil {
		chatDeps.Clock = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &ChatService{
		dbStore:    deps.Store,
		kv:         deps.KV,
		chat:       chatDeps,
		local:      exercise.NewLocalGenerator(exercise.Seed()),
		tracker:    chatDeps.Progress,
		flush:      flush,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		learners:   make(map[string]*learner),
		sessionIDs: make(map[string]string),
		settings:   make(map[string]*settings.Store),
		study:      make(map[string]*studyEntry),
	}
	var source transcript.HistorySource = s
	if deps.History != nil {
		source = deps.History
	}
	s.manager = chat.NewManager(chatDeps, transcript.NewReconciler(source, chatDeps.Timeout, logger), deps.KV)
	return s
}

// Close flushes every running study time counter.
func (s *ChatService) Close() {
	s.mu.Lock()
	entries := make(map[string]*studyEntry, len(s.study))
	for k, v := range s.study {
		entries[k] = v
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for uid, e := range entries {
		if e.stop != nil {
			e.stop()
		}
		if _, err := e.counter.Stop(ctx); err != nil {
			s.logger.Warn("failed to flush study time", zap.String("user_id", uid), zap.Error(err))
		}
	}
	s.cancel()
}

// SetSettingsApplier routes applied settings to a, e.g. connected clients.
func (s *ChatService) SetSettingsApplier(a settings.Applier) {
	s.mu.Lock()
	s.applier = a
	s.mu.Unlock()
}

func (s *ChatService) applySettings(userID string, st settings.Settings) {
	s.mu.Lock()
	a := s.applier
	s.mu.Unlock()
	if a != nil {
		a.Apply(userID, st)
	}
}

func uid(userID int64) string { return strconv.FormatInt(userID, 10) }

// Users

func (s *ChatService) Signup(username, email, password string) (*store.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrMissingFields
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	return s.dbStore.CreateUser(username, strings.TrimSpace(email), hash)
}

// Login checks the credentials and issues a token.
func (s *ChatService) Login(username, password string) (string, *store.User, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return "", nil, ErrMissingFields
	}
	user, err := s.dbStore.GetUserByUsername(strings.TrimSpace(username))
	if err != nil {
		return "", nil, err
	}
	if user == nil || !auth.CheckPasswordHash(password, user.PasswordHash) {
		return "", nil, ErrInvalidCredentials
	}
	token, err := auth.GenerateJWT(user.ID, user.Username)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate token: %w", err)
	}
	return token, user, nil
}

// Ping checks the database.
func (s *ChatService) Ping(ctx context.Context) error {
	return s.dbStore.Ping(ctx)
}

func (s *ChatService) GetUserByID(id int64) (*store.User, error) {
	return s.dbStore.GetUserByID(id)
}

// Chat

func (s *ChatService) learner(userID string) *learner {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.learners[userID]
	if !ok {
		l = &learner{}
		s.learners[userID] = l
	}
	return l
}

// session returns the learner's chat session, rebuilding its transcript
// from stored history the first time it is used. Concurrent first callers
// wait for that rebuild. The returned release must be called once the
// caller is done with the session.
func (s *ChatService) session(ctx context.Context, userID string) (*chat.Session, func()) {
	l := s.learner(userID)
	l.mu.RLock()
	if !l.hydrated {
		l.mu.RUnlock()
		l.mu.Lock()
		if !l.hydrated {
			s.manager.Hydrate(ctx, userID)
			l.hydrated = true
		}
		l.mu.Unlock()
		l.mu.RLock()
	}
	return s.manager.Get(userID), l.mu.RUnlock
}

// rebuild runs fn with no submission in progress for the learner.
func (s *ChatService) rebuild(userID string, fn func()) {
	l := s.learner(userID)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hydrated = true
	fn()
}

func (s *ChatService) currentSessionID(userID string, fresh bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.sessionIDs[userID]
	if !ok || fresh {
		id = uuid.NewString()
		s.sessionIDs[userID] = id
	}
	return id
}

// CurrentSessionID is the id stored with the learner's exchanges since the
// last new conversation.
func (s *ChatService) CurrentSessionID(userID int64) string {
	return s.currentSessionID(uid(userID), false)
}

// PostMessage submits text for the learner and stores the exchange.
// Storage failures are logged; the outcome is still returned.
func (s *ChatService) PostMessage(ctx context.Context, userID int64, text string, att *transcript.Attachment) (chat.Outcome, error) {
	id := uid(userID)
	sess, release := s.session(ctx, id)
	defer release()
	out, err := sess.Submit(ctx, text, att)
	if err != nil {
		return out, err
	}

	ex := store.Exchange{
		UserID:      userID,
		SessionID:   s.currentSessionID(id, out.Intent == intent.NewConversation),
		UserMessage: out.User.Body,
		BotResponse: out.Reply.Body,
		Timestamp:   out.User.CreatedAt,
	}
	if err := s.dbStore.CreateExchange(ctx, &ex); err != nil {
		s.logger.Error("failed to store chat exchange", zap.Int64("user_id", userID), zap.Error(err))
	}
	return out, nil
}

// StartExercise makes a freshly generated exercise of area the active one.
func (s *ChatService) StartExercise(ctx context.Context, userID int64, area exercise.SkillArea) (chat.Outcome, error) {
	sess, release := s.session(ctx, uid(userID))
	defer release()
	return sess.StartExercise(ctx, area)
}

// GenerateExercise asks the configured generator for an exercise. When it
// fails for any reason other than an unknown skill area, the exercise comes
// from the built-in set with ExerciseFallbackNotice.
func (s *ChatService) GenerateExercise(ctx context.Context, req exercise.Request) (GeneratedExercise, error) {
	cctx, cancel := s.callContext(ctx)
	ex, err := s.chat.Generator.Generate(cctx, req)
	cancel()
	if err == nil {
		return GeneratedExercise{Exercise: ex}, nil
	}
	if errors.Is(err, exercise.ErrUnknownSkillArea) {
		return GeneratedExercise{}, err
	}
	s.logger.Warn("exercise generation failed, using the practice set",
		zap.String("skill_area", string(req.SkillArea)), zap.Error(err))

	ex, err = s.local.Generate(ctx, req)
	if err != nil {
		return GeneratedExercise{}, fmt.Errorf("generate exercise: %w", err)
	}
	return GeneratedExercise{Exercise: ex, Notice: ExerciseFallbackNotice}, nil
}

// AnalyzeText never fails: an unavailable analyzer yields an empty result.
func (s *ChatService) AnalyzeText(ctx context.Context, text string) analysis.Result {
	ctx, cancel := s.callContext(ctx)
	defer cancel()
	res, err := s.chat.Analyzer.Analyze(ctx, text)
	if err != nil {
		s.logger.Warn("text analysis failed", zap.Error(err))
		return analysis.Empty(text)
	}
	return res
}

func (s *ChatService) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.chat.Timeout > 0 {
		return context.WithTimeout(ctx, s.chat.Timeout)
	}
	return context.WithCancel(ctx)
}

// Transcript returns the learner's visible transcript. reload rebuilds it
// from stored history first.
func (s *ChatService) Transcript(ctx context.Context, userID int64, reload bool) []transcript.Message {
	id := uid(userID)
	if reload {
		var msgs []transcript.Message
		s.rebuild(id, func() { msgs = s.manager.Hydrate(ctx, id) })
		return msgs
	}
	sess, release := s.session(ctx, id)
	defer release()
	return sess.Transcript()
}

func (s *ChatService) Thinking(userID int64) bool {
	return s.manager.Get(uid(userID)).Thinking()
}

// ClearScreen empties the visible transcript. Stored exchanges are kept.
func (s *ChatService) ClearScreen(ctx context.Context, userID int64) error {
	id := uid(userID)
	var err error
	s.rebuild(id, func() { err = s.manager.ClearScreen(ctx, id) })
	return err
}

// History groups the learner's stored exchanges by calendar date, newest day
// first and oldest exchange first within a day.
func (s *ChatService) History(ctx context.Context, userID string) (transcript.HistoryResponse, error) {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return transcript.HistoryResponse{}, fmt.Errorf("invalid user id %q: %w", userID, err)
	}
	exchanges, err := s.dbStore.ListExchanges(ctx, id, 0)
	if err != nil {
		return transcript.HistoryResponse{}, err
	}
	return GroupByDate(exchanges), nil
}

// GroupByDate builds the day-grouped history view of exchanges.
func GroupByDate(exchanges []store.Exchange) transcript.HistoryResponse {
	byDay := make(map[string][]store.Exchange)
	for _, ex := range exchanges {
		day := ex.Timestamp.Format(dayLayout)
		byDay[day] = append(byDay[day], ex)
	}
	days := make([]string, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(days)))

	resp := transcript.HistoryResponse{HistoryByDate: []transcript.DayGroup{}}
	for _, d := range days {
		list := byDay[d]
		sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.Before(list[j].Timestamp) })
		group := transcript.DayGroup{Date: d, MessageCount: len(list)}
		for _, ex := range list {
			group.Messages = append(group.Messages, transcript.Exchange{
				UserMessage: ex.UserMessage,
				BotResponse: ex.BotResponse,
				Timestamp:   ex.Timestamp.Format(store.TimestampLayout),
			})
		}
		resp.HistoryByDate = append(resp.HistoryByDate, group)
		resp.TotalMessages += len(list)
	}
	resp.TotalDays = len(days)
	return resp
}

// Settings

func (s *ChatService) settingsStore(ctx context.Context, userID string) (*settings.Store, error) {
	s.mu.Lock()
	st, ok := s.settings[userID]
	s.mu.Unlock()
	if ok {
		return st, nil
	}

	st = settings.NewStore(s.kv, settings.ApplierFunc(s.applySettings), s.logger)
	if _, err := st.SwitchUser(ctx, userID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.settings[userID]; ok {
		return existing, nil
	}
	s.settings[userID] = st
	return st, nil
}

func (s *ChatService) Settings(ctx context.Context, userID int64) (settings.Settings, error) {
	st, err := s.settingsStore(ctx, uid(userID))
	if err != nil {
		return settings.Settings{}, err
	}
	return st.Get(), nil
}

func (s *ChatService) UpdateSettings(ctx context.Context, userID int64, p settings.Partial) (settings.Settings, error) {
	st, err := s.settingsStore(ctx, uid(userID))
	if err != nil {
		return settings.Settings{}, err
	}
	return st.Update(ctx, p)
}

func (s *ChatService) ResetSettings(ctx context.Context, userID int64) (settings.Settings, error) {
	st, err := s.settingsStore(ctx, uid(userID))
	if err != nil {
		return settings.Settings{}, err
	}
	return st.Reset(ctx)
}

// Study time

func (s *ChatService) studyEntry(userID string) *studyEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.study[userID]
	if !ok {
		e = &studyEntry{counter: studytime.NewCounter(kv.Namespace(s.kv, userID), studytime.WithLogger(s.logger))}
		s.study[userID] = e
	}
	return e
}

// Heartbeat marks the learner as present, starting the counter and its
// periodic flush if needed, and returns the running total in seconds.
func (s *ChatService) Heartbeat(ctx context.Context, userID int64) (int64, error) {
	e := s.studyEntry(uid(userID))
	s.mu.Lock()
	if !e.counter.Running() {
		e.counter.Start()
		e.stop = e.counter.Run(s.ctx, s.flush)
	}
	s.mu.Unlock()
	return e.counter.Total(ctx)
}

// StopStudy commits the open segment and stops counting.
func (s *ChatService) StopStudy(ctx context.Context, userID int64) (int64, error) {
	e := s.studyEntry(uid(userID))
	s.mu.Lock()
	stop := e.stop
	e.stop = nil
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
	if _, err := e.counter.Stop(ctx); err != nil {
		return 0, err
	}
	return e.counter.Total(ctx)
}

func (s *ChatService) StudySeconds(ctx context.Context, userID int64) (int64, error) {
	return s.studyEntry(uid(userID)).counter.Total(ctx)
}

// Progress

// Stats summarizes the learner's exercises, study time and chat activity
// for the last statsDays days, oldest day first.
func (s *ChatService) Stats(ctx context.Context, userID int64) (UserStats, error) {
	var (
		st        UserStats
		exchanges []store.Exchange
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		st.Stats, err = s.tracker.Stats(gctx, uid(userID))
		return err
	})
	g.Go(func() error {
		var err error
		st.StudySeconds, err = s.StudySeconds(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		exchanges, err = s.dbStore.ListExchanges(gctx, userID, 0)
		return err
	})
	if err := g.Wait(); err != nil {
		return UserStats{}, err
	}

	st.TotalMessages = len(exchanges)
	perDay := make(map[string]int)
	for _, ex := range exchanges {
		perDay[ex.Timestamp.Format(dayLayout)]++
	}
	today := s.chat.Clock().UTC()
	st.MessagesToday = perDay[today.Format(dayLayout)]
	st.DailyMessages = make([]DailyCount, 0, statsDays)
	for i := statsDays - 1; i >= 0; i-- {
		d := today.AddDate(0, 0, -i).Format(dayLayout)
		st.DailyMessages = append(st.DailyMessages, DailyCount{Date: d, Count: perDay[d]})
	}
	return st, nil
}

// Checklist

func (s *ChatService) Checklist(ctx context.Context, userID int64) ([]ChecklistItem, error) {
	raw, ok, err := kv.Namespace(s.kv, uid(userID)).Get(ctx, kv.KeyChecklist)
	if err != nil {
		return nil, fmt.Errorf("failed to load checklist: %w", err)
	}
	items := []ChecklistItem{}
	if !ok {
		return items, nil
	}
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		s.logger.Warn("stored checklist is corrupt, starting empty", zap.Int64("user_id", userID), zap.Error(err))
		return []ChecklistItem{}, nil
	}
	return items, nil
}

// SetChecklist replaces the checklist. Items without an id get one; blank
// items are dropped.
func (s *ChatService) SetChecklist(ctx context.Context, userID int64, items []ChecklistItem) ([]ChecklistItem, error) {
	kept := make([]ChecklistItem, 0, len(items))
	for _, it := range items {
		it.Text = strings.TrimSpace(it.Text)
		if it.Text == "" {
			continue
		}
		if it.ID == "" {
			it.ID = uuid.NewString()
		}
		kept = append(kept, it)
	}
	raw, err := json.Marshal(kept)
	if err != nil {
		return nil, fmt.Errorf("failed to encode checklist: %w", err)
	}
	if err := kv.Namespace(s.kv, uid(userID)).Set(ctx, kv.KeyChecklist, string(raw)); err != nil {
		return nil, fmt.Errorf("failed to save checklist: %w", err)
	}
	return kept, nil
}

// State loads the transcript, settings, study total, checklist and progress
// concurrently.
func (s *ChatService) State(ctx context.Context, userID int64) (SessionState, error) {
	var st SessionState
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		st.Transcript = s.Transcript(gctx, userID, false)
		st.Active = s.manager.Get(uid(userID)).Active()
		return nil
	})
	g.Go(func() error {
		var err error
		st.Settings, err = s.Settings(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		st.StudySeconds, err = s.StudySeconds(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		st.Checklist, err = s.Checklist(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		st.Progress, err = s.tracker.Stats(gctx, uid(userID))
		return err
	})
	if err := g.Wait(); err != nil {
		return SessionState{}, err
	}
	return st, nil
}
