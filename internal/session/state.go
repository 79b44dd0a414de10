package session

import (
	"errors"
	"fmt"
)

// Phase is where a variant feature (aesthetic, camera angle, time traveler,
// cosplay) is in its select, generate, review cycle.
type Phase int

const (
	// PhaseThemeSelection is the initial phase: the user picks variants.
	PhaseThemeSelection Phase = iota
	// PhaseGenerating means a batch is in flight.
	PhaseGenerating
	// PhaseResultsShown means every variant has settled.
	PhaseResultsShown
)

func (p Phase) String() string {
	switch p {
	case PhaseThemeSelection:
		return "theme-selection"
	case PhaseGenerating:
		return "generating"
	case PhaseResultsShown:
		return "results-shown"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a phase name written by MarshalText.
func (p *Phase) UnmarshalText(text []byte) error {
	for _, candidate := range []Phase{PhaseThemeSelection, PhaseGenerating, PhaseResultsShown} {
		if candidate.String() == string(text) {
			*p = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", text)
}

// EventKind identifies a FeatureState transition.
type EventKind int

const (
	// EventSelectTheme replaces the selected variant keys.
	EventSelectTheme EventKind = iota
	// EventGenerate starts a batch for the selected keys.
	EventGenerate
	// EventFinish records that the batch has settled.
	EventFinish
	// EventBack returns from results to theme selection.
	EventBack
)

func (k EventKind) String() string {
	switch k {
	case EventSelectTheme:
		return "select-theme"
	case EventGenerate:
		return "generate"
	case EventFinish:
		return "finish"
	case EventBack:
		return "back"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is an input to FeatureState.Apply. Themes is only read by
// EventSelectTheme and, when non-empty, EventGenerate.
type Event struct {
	Kind   EventKind
	Themes []string
}

// ErrInvalidTransition is returned when an event is not legal in the
// current phase.
var ErrInvalidTransition = errors.New("invalid feature state transition")

// FeatureState is the view state of one variant feature. It is a value;
// Apply returns the next state and never modifies the receiver.
type FeatureState struct {
	Phase  Phase    `json:"phase"`
	Themes []string `json:"themes,omitempty"`
}

// Apply returns the state after ev.
//
//	theme-selection --select-theme--> theme-selection
//	theme-selection --generate------> generating     (needs at least one theme)
//	generating      --finish--------> results-shown
//	results-shown   --generate------> generating
//	results-shown   --select-theme--> theme-selection
//	results-shown   --back----------> theme-selection
func (s FeatureState) Apply(ev Event) (FeatureState, error) {
	next := FeatureState{Phase: s.Phase, Themes: cloneThemes(s.Themes)}

	switch {
	case ev.Kind == EventSelectTheme && s.Phase != PhaseGenerating:
		next.Phase = PhaseThemeSelection
		next.Themes = dedupe(ev.Themes)
		return next, nil

	case ev.Kind == EventGenerate && s.Phase != PhaseGenerating:
		if len(ev.Themes) > 0 {
			next.Themes = dedupe(ev.Themes)
		}
		if len(next.Themes) == 0 {
			return s, fmt.Errorf("%w: no themes selected", ErrInvalidTransition)
		}
		next.Phase = PhaseGenerating
		return next, nil

	case ev.Kind == EventFinish && s.Phase == PhaseGenerating:
		next.Phase = PhaseResultsShown
		return next, nil

	case ev.Kind == EventBack && s.Phase == PhaseResultsShown:
		next.Phase = PhaseThemeSelection
		return next, nil
	}

	return s, fmt.Errorf("%w: %s while %s", ErrInvalidTransition, ev.Kind, s.Phase)
}

func cloneThemes(themes []string) []string {
	if themes == nil {
		return nil
	}
	return append([]string(nil), themes...)
}

func dedupe(themes []string) []string {
	seen := make(map[string]bool, len(themes))
	out := make([]string, 0, len(themes))
	for _, t := range themes {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
