package session

import (
	"errors"
	"reflect"
	"testing"
)

func TestFeatureState_Transitions(t *testing.T) {
	var s FeatureState
	if s.Phase != PhaseThemeSelection {
		t.Fatalf("zero state phase = %v, want theme-selection", s.Phase)
	}

	steps := []struct {
		ev        Event
		wantPhase Phase
		wantErr   bool
	}{
		{Event{Kind: EventGenerate}, PhaseThemeSelection, true},
		{Event{Kind: EventSelectTheme, Themes: []string{"1920s", "1970s", "1920s"}}, PhaseThemeSelection, false},
		{Event{Kind: EventFinish}, PhaseThemeSelection, true},
		{Event{Kind: EventBack}, PhaseThemeSelection, true},
		{Event{Kind: EventGenerate}, PhaseGenerating, false},
		{Event{Kind: EventGenerate}, PhaseGenerating, true},
		{Event{Kind: EventSelectTheme, Themes: []string{"x"}}, PhaseGenerating, true},
		{Event{Kind: EventBack}, PhaseGenerating, true},
		{Event{Kind: EventFinish}, PhaseResultsShown, false},
		{Event{Kind: EventFinish}, PhaseResultsShown, true},
		{Event{Kind: EventGenerate, Themes: []string{"1980s"}}, PhaseGenerating, false},
		{Event{Kind: EventFinish}, PhaseResultsShown, false},
		{Event{Kind: EventBack}, PhaseThemeSelection, false},
	}

	for i, step := range steps {
		next, err := s.Apply(step.ev)
		if (err != nil) != step.wantErr {
			t.Fatalf("step %d (%s from %s): err = %v, wantErr %v", i, step.ev.Kind, s.Phase, err, step.wantErr)
		}
		if err != nil {
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("step %d: error should wrap ErrInvalidTransition, got %v", i, err)
			}
			if !reflect.DeepEqual(next, s) {
				t.Errorf("step %d: failed transition changed state: %+v -> %+v", i, s, next)
			}
		}
		if next.Phase != step.wantPhase {
			t.Fatalf("step %d: phase = %v, want %v", i, next.Phase, step.wantPhase)
		}
		s = next
	}

	if !reflect.DeepEqual(s.Themes, []string{"1980s"}) {
		t.Errorf("themes = %v, want [1980s]", s.Themes)
	}
}

func TestFeatureState_ApplyIsPure(t *testing.T) {
	s := FeatureState{Phase: PhaseThemeSelection, Themes: []string{"a", "b"}}
	next, err := s.Apply(Event{Kind: EventGenerate})
	if err != nil {
		t.Fatal(err)
	}
	next.Themes[0] = "mutated"
	if s.Themes[0] != "a" || s.Phase != PhaseThemeSelection {
		t.Errorf("Apply modified its receiver: %+v", s)
	}
}

func TestPhase_MarshalText(t *testing.T) {
	for p, want := range map[Phase]string{
		PhaseThemeSelection: "theme-selection",
		PhaseGenerating:     "generating",
		PhaseResultsShown:   "results-shown",
	} {
		got, _ := p.MarshalText()
		if string(got) != want {
			t.Errorf("MarshalText(%d) = %q, want %q", p, got, want)
		}
		var back Phase
		if err := back.UnmarshalText(got); err != nil || back != p {
			t.Errorf("UnmarshalText(%q) = %v, %v", got, back, err)
		}
	}

	var p Phase
	if err := p.UnmarshalText([]byte("done")); err == nil {
		t.Error("expected error for unknown phase")
	}
}
