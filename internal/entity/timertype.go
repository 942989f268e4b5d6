package entity

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// DefaultTimerType is used until an option is selected.
const DefaultTimerType = "DEFAULT"

// Storage location of the selection.
const (
	TimerTypeNamespace = "select"
	TimerTypeKey       = "timer_type"
)

// TimerTypeOptions lists the selectable timer types.
var TimerTypeOptions = []string{
	"DEFAULT",
	"BEDTIME",
	"SCHOOL",
	"CODING",
	"RUGBY",
	"SCREEN_BREAK",
	"SWITCH_TIME",
	"CAR",
}

// SettingsStore persists string settings.
type SettingsStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// TimerTypeSelect holds the timer type applied to started timers.
type TimerTypeSelect struct {
	store SettingsStore

	mu      sync.RWMutex
	current string
}

// NewTimerTypeSelect creates a selection starting at def, or DEFAULT when
// def is not a valid option. store may be nil.
func NewTimerTypeSelect(store SettingsStore, def string) *TimerTypeSelect {
	if !IsValidTimerType(def) {
		def = DefaultTimerType
	}
	return &TimerTypeSelect{store: store, current: def}
}

// Load restores a previously saved selection. Stored values that are no
// longer valid options are ignored.
func (s *TimerTypeSelect) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	value, ok, err := s.store.Get(ctx, TimerTypeKey)
	if err != nil {
		return fmt.Errorf("loading timer type: %w", err)
	}
	if ok && IsValidTimerType(value) {
		s.mu.Lock()
		s.current = value
		s.mu.Unlock()
	}
	return nil
}

// Current returns the selected option.
func (s *TimerTypeSelect) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Options returns the selectable options.
func (s *TimerTypeSelect) Options() []string {
	return slices.Clone(TimerTypeOptions)
}

// Select changes and persists the selection.
func (s *TimerTypeSelect) Select(ctx context.Context, option string) error {
	if !IsValidTimerType(option) {
		return fmt.Errorf("%w: %q", ErrInvalidOption, option)
	}
	if s.store != nil {
		if err := s.store.Set(ctx, TimerTypeKey, option); err != nil {
			return fmt.Errorf("saving timer type: %w", err)
		}
	}
	s.mu.Lock()
	s.current = option
	s.mu.Unlock()
	return nil
}

// IsValidTimerType reports whether option is in TimerTypeOptions.
func IsValidTimerType(option string) bool {
	return slices.Contains(TimerTypeOptions, option)
}
