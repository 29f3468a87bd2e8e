// Package settings stores each learner's accessibility preferences.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"lexilearn.com/tutor/internal/kv"
)

const (
	MinFontSize    = 12
	MaxFontSize    = 32
	MinLineSpacing = 1.0
	MaxLineSpacing = 3.0
)

var (
	Fonts        = []string{"OpenDyslexic", "Arial", "Verdana", "Comic Sans MS", "Lexend"}
	ColorSchemes = []string{"default", "high_contrast", "dark", "cream", "blue_tint"}
)

var ErrNoUser = errors.New("settings: no user selected")

type Settings struct {
	FontFamily   string  `json:"preferred_font"`
	FontSize     int     `json:"font_size"`
	LineSpacing  float64 `json:"line_spacing"`
	ColorScheme  string  `json:"color_scheme"`
	Language     string  `json:"language_preference"`
	HighContrast bool    `json:"high_contrast"`
	TextToSpeech bool    `json:"text_to_speech"`
	ReduceMotion bool    `json:"reduce_motion"`
	LargeCursor  bool    `json:"large_cursor"`
}

func Defaults() Settings {
	return Settings{
		FontFamily:  "OpenDyslexic",
		FontSize:    16,
		LineSpacing: 1.5,
		ColorScheme: "high_contrast",
		Language:    "en",
	}
}

// Partial is an update; nil fields are left as they are.
type Partial struct {
	FontFamily   *string  `json:"preferred_font,omitempty"`
	FontSize     *int     `json:"font_size,omitempty"`
	LineSpacing  *float64 `json:"line_spacing,omitempty"`
	ColorScheme  *string  `json:"color_scheme,omitempty"`
	Language     *string  `json:"language_preference,omitempty"`
	HighContrast *bool    `json:"high_contrast,omitempty"`
	TextToSpeech *bool    `json:"text_to_speech,omitempty"`
	ReduceMotion *bool    `json:"reduce_motion,omitempty"`
	LargeCursor  *bool    `json:"large_cursor,omitempty"`
}

// Merge applies p over s and normalizes the result.
func (s Settings) Merge(p Partial) Settings {
	if p.FontFamily != nil {
		s.FontFamily = *p.FontFamily
	}
	if p.FontSize != nil {
		s.FontSize = *p.FontSize
	}
	if p.LineSpacing != nil {
		s.LineSpacing = *p.LineSpacing
	}
	if p.ColorScheme != nil {
		s.ColorScheme = *p.ColorScheme
	}
	if p.Language != nil {
		s.Language = *p.Language
	}
	if p.HighContrast != nil {
		s.HighContrast = *p.HighContrast
	}
	if p.TextToSpeech != nil {
		s.TextToSpeech = *p.TextToSpeech
	}
	if p.ReduceMotion != nil {
		s.ReduceMotion = *p.ReduceMotion
	}
	if p.LargeCursor != nil {
		s.LargeCursor = *p.LargeCursor
	}
	return s.Normalize()
}

// Normalize clamps the numeric fields and replaces unknown enum values with
// the defaults.
func (s Settings) Normalize() Settings {
	d := Defaults()
	s.FontSize = min(max(s.FontSize, MinFontSize), MaxFontSize)
	s.LineSpacing = min(max(s.LineSpacing, MinLineSpacing), MaxLineSpacing)
	if !contains(Fonts, s.FontFamily) {
		s.FontFamily = d.FontFamily
	}
	if !contains(ColorSchemes, s.ColorScheme) {
		s.ColorScheme = d.ColorScheme
	}
	if s.Language == "" {
		s.Language = d.Language
	}
	return s
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

// Applier pushes settings to wherever they take visible effect.
type Applier interface {
	Apply(userID string, s Settings)
}

type ApplierFunc func(userID string, s Settings)

func (f ApplierFunc) Apply(userID string, s Settings) { f(userID, s) }

// Store holds the settings of the current user. Writes are persisted before
// they are applied; concurrent writers are serialized, last write wins.
type Store struct {
	mu      sync.Mutex
	base    kv.Store
	ns      kv.Store
	userID  string
	current Settings
	applier Applier
	logger  *zap.Logger
}

func NewStore(base kv.Store, applier Applier, logger *zap.Logger) *Store {
	if applier == nil {
		applier = ApplierFunc(func(string, Settings) {})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{base: base, applier: applier, logger: logger, current: Defaults()}
}

// SwitchUser loads userID's settings, falling back to defaults when nothing
// usable is stored. The previous user's values are dropped.
func (s *Store) SwitchUser(ctx context.Context, userID string) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := kv.Namespace(s.base, userID)
	loaded := Defaults()
	raw, ok, err := ns.Get(ctx, kv.KeySettings)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to load settings: %w", err)
	}
	if ok {
		if err := json.Unmarshal([]byte(raw), &loaded); err != nil {
			s.logger.Warn("stored settings are corrupt, using defaults", zap.String("user_id", userID), zap.Error(err))
			loaded = Defaults()
		}
	}

	s.ns = ns
	s.userID = userID
	s.current = loaded.Normalize()
	s.applier.Apply(userID, s.current)
	return s.current, nil
}

func (s *Store) Get() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Store) Update(ctx context.Context, p Partial) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(ctx, s.current.Merge(p))
}

func (s *Store) Reset(ctx context.Context) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(ctx, Defaults())
}

func (s *Store) commit(ctx context.Context, next Settings) (Settings, error) {
	if s.ns == nil {
		return Settings{}, ErrNoUser
	}
	raw, err := json.Marshal(next)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := s.ns.Set(ctx, kv.KeySettings, string(raw)); err != nil {
		return Settings{}, fmt.Errorf("failed to save settings: %w", err)
	}
	s.current = next
	s.applier.Apply(s.userID, next)
	return next, nil
}
