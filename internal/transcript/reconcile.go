package transcript

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Exchange is one stored user/tutor pair.
type Exchange struct {
	UserMessage string `json:"user_message"`
	BotResponse string `json:"bot_response"`
	Timestamp   string `json:"timestamp"`
}

// DayGroup is the exchanges of one calendar date.
type DayGroup struct {
	Date         string     `json:"date"`
	MessageCount int        `json:"message_count"`
	Messages     []Exchange `json:"messages"`
}

type HistoryResponse struct {
	HistoryByDate []DayGroup `json:"history_by_date"`
	TotalDays     int        `json:"total_days"`
	TotalMessages int        `json:"total_messages"`
}

type HistorySource interface {
	History(ctx context.Context, userID string) (HistoryResponse, error)
}

var (
	dateLayouts = []string{
		"2006-01-02",
		"01/02/2006",
		"1/2/2006",
		"Jan 2, 2006",
		"January 2, 2006",
		"Monday, January 2, 2006",
	}
	timestampLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999",
		"2006-01-02 15:04:05.999999",
		"2006-01-02 15:04:05",
	}
)

// ParseDate parses the date forms the history service emits. Unparsable
// values yield the zero epoch.
func ParseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	if len(s) >= 10 {
		if t, err := time.Parse("2006-01-02", s[:10]); err == nil {
			return t
		}
	}
	return time.Unix(0, 0).UTC()
}

// ParseTimestamp parses an exchange timestamp. Unparsable values yield the
// zero epoch.
func ParseTimestamp(s string) time.Time {
	t, _ := parseTimestamp(s)
	return t
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Unix(0, 0).UTC(), false
}

// Reconcile flattens history into chronological messages: days ascending,
// exchanges ascending within a day, each exchange as user then assistant.
// CreatedAt never goes backwards: an unparsable timestamp takes its day's
// date, and a timestamp earlier than the message before it is raised to it.
func Reconcile(h HistoryResponse) []Message {
	days := append([]DayGroup(nil), h.HistoryByDate...)
	sort.SliceStable(days, func(i, j int) bool {
		return ParseDate(days[i].Date).Before(ParseDate(days[j].Date))
	})

	var (
		out  []Message
		last time.Time
	)
	for _, day := range days {
		exchanges := append([]Exchange(nil), day.Messages...)
		sort.SliceStable(exchanges, func(i, j int) bool {
			return ParseTimestamp(exchanges[i].Timestamp).Before(ParseTimestamp(exchanges[j].Timestamp))
		})
		date := ParseDate(day.Date)
		for _, ex := range exchanges {
			at, ok := parseTimestamp(ex.Timestamp)
			if !ok {
				at = date
			}
			if at.Before(last) {
				at = last
			}
			last = at
			if strings.TrimSpace(ex.UserMessage) != "" {
				out = append(out, Message{Role: RoleUser, Body: ex.UserMessage, CreatedAt: at})
			}
			if strings.TrimSpace(ex.BotResponse) != "" {
				out = append(out, Message{Role: RoleAssistant, Body: ex.BotResponse, CreatedAt: at})
			}
		}
	}
	for i := range out {
		out[i].ID = int64(i + 1)
	}
	return out
}

// Reconciler loads a user's transcript from a HistorySource.
type Reconciler struct {
	source  HistorySource
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

func NewReconciler(source HistorySource, timeout time.Duration, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{source: source, timeout: timeout, logger: logger, now: time.Now}
}

// Load never fails: a failed or empty fetch yields a single greeting.
func (r *Reconciler) Load(ctx context.Context, userID string) []Message {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	h, err := r.source.History(ctx, userID)
	if err != nil {
		r.logger.Warn("history fetch failed, starting fresh", zap.String("user_id", userID), zap.Error(err))
		return r.greeting()
	}
	msgs := Reconcile(h)
	if len(msgs) == 0 {
		return r.greeting()
	}
	return msgs
}

func (r *Reconciler) greeting() []Message {
	g := Greeting(r.now())
	g.ID = 1
	return []Message{g}
}
