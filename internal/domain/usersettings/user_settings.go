// Package usersettings stores per-user preferences: general, generation
// and display categories, persisted as one opaque JSON blob per user.
package usersettings

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bodhiapp/chat-core/internal/domain/chat"
	"github.com/bodhiapp/chat-core/internal/utils/apperrors"
)

// Theme is the UI color scheme preference.
type Theme string

const (
	ThemeSystem Theme = "system"
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
)

// IsValid checks if the theme is one of the allowed values.
func (t Theme) IsValid() bool {
	return t == ThemeSystem || t == ThemeLight || t == ThemeDark
}

// GeneralSettings holds theme and the system message sent ahead of every
// completion request.
type GeneralSettings struct {
	Theme         Theme  `json:"theme"`
	SystemMessage string `json:"systemMessage"`
}

// DisplaySettings holds UI behavior toggles.
type DisplaySettings struct {
	DisableAutoScroll           bool `json:"disableAutoScroll"`
	AlwaysShowSidebarOnDesktop  bool `json:"alwaysShowSidebarOnDesktop"`
	AutoShowSidebarOnNewChat    bool `json:"autoShowSidebarOnNewChat"`
	ShowThoughtInProgress       bool `json:"showThoughtInProgress"`
	RenderUserContentAsMarkdown bool `json:"renderUserContentAsMarkdown"`
}

// Settings is the full per-user preference set.
type Settings struct {
	General    GeneralSettings      `json:"general"`
	Generation chat.GenerationParams `json:"generation"`
	Display    DisplaySettings      `json:"display"`
}

// DefaultSettings returns the preference set for a new user.
func DefaultSettings() Settings {
	return Settings{
		General: GeneralSettings{
			Theme:         ThemeSystem,
			SystemMessage: "",
		},
		Generation: chat.GenerationParams{
			Temperature:      0.8,
			TopP:             0.95,
			TopK:             40,
			MinP:             0.05,
			TypP:             1.0,
			MaxTokens:        -1,
			RepeatLastN:      64,
			RepeatPenalty:    1.0,
			PresencePenalty:  0.0,
			FrequencyPenalty: 0.0,
		},
		Display: DisplaySettings{
			DisableAutoScroll:           false,
			AlwaysShowSidebarOnDesktop:  true,
			AutoShowSidebarOnNewChat:    true,
			ShowThoughtInProgress:       true,
			RenderUserContentAsMarkdown: false,
		},
	}
}

// numericRange bounds one generation parameter.
type numericRange struct {
	Min float64
	Max float64
}

var generationRanges = map[string]numericRange{
	"temperature":       {0, 2},
	"top_p":             {0, 1},
	"top_k":             {0, 100},
	"min_p":             {0, 1},
	"typ_p":             {0, 2},
	"max_tokens":        {-1, 32768},
	"repeat_last_n":     {0, 256},
	"repeat_penalty":    {0, 2},
	"presence_penalty":  {-2, 2},
	"frequency_penalty": {-2, 2},
}

func checkRange(field string, value float64) error {
	r, ok := generationRanges[field]
	if !ok {
		return nil
	}
	if value < r.Min || value > r.Max {
		return apperrors.New(apperrors.LayerDomain, apperrors.KindValidation,
			fmt.Sprintf("%s must be between %v and %v", field, r.Min, r.Max), nil)
	}
	return nil
}

// ===============================================
// Typed update commands
// ===============================================

// GeneralUpdate changes fields of the general category. Nil fields are
// left untouched.
type GeneralUpdate struct {
	Theme         *Theme
	SystemMessage *string
}

// GenerationUpdate changes sampling parameters. Nil fields are left
// untouched; set fields are validated against their allowed ranges.
type GenerationUpdate struct {
	Temperature      *float64
	TopP             *float64
	TopK             *int
	MinP             *float64
	TypP             *float64
	MaxTokens        *int
	RepeatLastN      *int
	RepeatPenalty    *float64
	PresencePenalty  *float64
	FrequencyPenalty *float64
}

// Validate checks every set field against its range.
func (u GenerationUpdate) Validate() error {
	checks := []struct {
		field string
		value *float64
	}{
		{"temperature", u.Temperature},
		{"top_p", u.TopP},
		{"min_p", u.MinP},
		{"typ_p", u.TypP},
		{"repeat_penalty", u.RepeatPenalty},
		{"presence_penalty", u.PresencePenalty},
		{"frequency_penalty", u.FrequencyPenalty},
	}
	for _, c := range checks {
		if c.value != nil {
			if err := checkRange(c.field, *c.value); err != nil {
				return err
			}
		}
	}
	intChecks := []struct {
		field string
		value *int
	}{
		{"top_k", u.TopK},
		{"max_tokens", u.MaxTokens},
		{"repeat_last_n", u.RepeatLastN},
	}
	for _, c := range intChecks {
		if c.value != nil {
			if err := checkRange(c.field, float64(*c.value)); err != nil {
				return err
			}
		}
	}
	return nil
}

// DisplayUpdate changes display toggles. Nil fields are left untouched.
type DisplayUpdate struct {
	DisableAutoScroll           *bool
	AlwaysShowSidebarOnDesktop  *bool
	AutoShowSidebarOnNewChat    *bool
	ShowThoughtInProgress       *bool
	RenderUserContentAsMarkdown *bool
}

// Apply merges the set fields of each update into the settings.
func (s *Settings) Apply(general *GeneralUpdate, generation *GenerationUpdate, display *DisplayUpdate) {
	if general != nil {
		if general.Theme != nil {
			s.General.Theme = *general.Theme
		}
		if general.SystemMessage != nil {
			s.General.SystemMessage = *general.SystemMessage
		}
	}
	if generation != nil {
		g := &s.Generation
		setFloat := func(dst *float64, src *float64) {
			if src != nil {
				*dst = *src
			}
		}
		setInt := func(dst *int, src *int) {
			if src != nil {
				*dst = *src
			}
		}
		setFloat(&g.Temperature, generation.Temperature)
		setFloat(&g.TopP, generation.TopP)
		setInt(&g.TopK, generation.TopK)
		setFloat(&g.MinP, generation.MinP)
		setFloat(&g.TypP, generation.TypP)
		setInt(&g.MaxTokens, generation.MaxTokens)
		setInt(&g.RepeatLastN, generation.RepeatLastN)
		setFloat(&g.RepeatPenalty, generation.RepeatPenalty)
		setFloat(&g.PresencePenalty, generation.PresencePenalty)
		setFloat(&g.FrequencyPenalty, generation.FrequencyPenalty)
	}
	if display != nil {
		d := &s.Display
		setBool := func(dst *bool, src *bool) {
			if src != nil {
				*dst = *src
			}
		}
		setBool(&d.DisableAutoScroll, display.DisableAutoScroll)
		setBool(&d.AlwaysShowSidebarOnDesktop, display.AlwaysShowSidebarOnDesktop)
		setBool(&d.AutoShowSidebarOnNewChat, display.AutoShowSidebarOnNewChat)
		setBool(&d.ShowThoughtInProgress, display.ShowThoughtInProgress)
		setBool(&d.RenderUserContentAsMarkdown, display.RenderUserContentAsMarkdown)
	}
}

// ===============================================
// Repository & Service
// ===============================================

// Record is the stored shape: one row per user with an opaque blob.
type Record struct {
	UserID       string
	Settings     []byte
	LastModified time.Time
}

// Repository defines storage operations for user settings.
type Repository interface {
	FindByUserID(ctx context.Context, userID string) (*Record, error)
	Upsert(ctx context.Context, record *Record) error
}

// Service manages user settings operations.
type Service struct {
	repo Repository
}

// NewService constructs a Service with required dependencies.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Get loads the user's settings, merging stored values over defaults so
// fields added after the blob was written fall back to their defaults.
func (s *Service) Get(ctx context.Context, userID string) (Settings, error) {
	settings := DefaultSettings()
	if userID == "" {
		return settings, apperrors.New(apperrors.LayerDomain, apperrors.KindUnauthenticated, "cannot load settings without a user", nil)
	}

	record, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return settings, apperrors.Wrap(apperrors.LayerDomain, err, "failed to load settings")
	}
	if record == nil {
		return settings, nil
	}
	// Unmarshal over the prefilled defaults: absent fields keep them.
	if err := json.Unmarshal(record.Settings, &settings); err != nil {
		return DefaultSettings(), apperrors.Wrap(apperrors.LayerDomain, err, "stored settings are corrupt")
	}
	if !settings.General.Theme.IsValid() {
		settings.General.Theme = ThemeSystem
	}
	return settings, nil
}

// Update validates and applies the given category updates, then persists
// the merged settings blob.
func (s *Service) Update(ctx context.Context, userID string, general *GeneralUpdate, generation *GenerationUpdate, display *DisplayUpdate) (Settings, error) {
	if generation != nil {
		if err := generation.Validate(); err != nil {
			return Settings{}, err
		}
	}
	settings, err := s.Get(ctx, userID)
	if err != nil {
		return Settings{}, err
	}
	settings.Apply(general, generation, display)
	if err := s.save(ctx, userID, settings); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// Reset restores the defaults for a user.
func (s *Service) Reset(ctx context.Context, userID string) (Settings, error) {
	settings := DefaultSettings()
	if err := s.save(ctx, userID, settings); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func (s *Service) save(ctx context.Context, userID string, settings Settings) error {
	blob, err := json.Marshal(settings)
	if err != nil {
		return apperrors.Wrap(apperrors.LayerDomain, err, "failed to encode settings")
	}
	record := &Record{
		UserID:       userID,
		Settings:     blob,
		LastModified: time.Now(),
	}
	if err := s.repo.Upsert(ctx, record); err != nil {
		return apperrors.Wrap(apperrors.LayerDomain, err, "failed to save settings")
	}
	return nil
}
