package main

import (
	"fmt"
	"strings"

	"github.com/fpang/gemini-photo-editor/internal/chat"
)

// step is one link of an edit chain: either a feature with its primary
// value or a free-form instruction.
type step struct {
	Feature     chat.Feature
	Value       string
	Instruction string
}

func (s step) String() string {
	if s.Feature != "" {
		return string(s.Feature) + ":" + s.Value
	}
	return s.Instruction
}

// params builds the feature parameters for a feature step.
func (s step) params(intensity string) chat.Params {
	p := chat.PrimaryParams(s.Feature, s.Value)
	p.Intensity = intensity
	return p
}

// parseStep reads "feature:value" as a feature edit. Anything whose prefix
// is not a known feature name, colon or not, is a free-form instruction.
func parseStep(raw string) (step, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return step{}, fmt.Errorf("empty step")
	}
	if name, value, ok := strings.Cut(raw, ":"); ok {
		if f, err := chat.ParseFeature(name); err == nil {
			return step{Feature: f, Value: strings.TrimSpace(value)}, nil
		}
	}
	return step{Instruction: raw}, nil
}

func parseSteps(raw []string) ([]step, error) {
	steps := make([]step, 0, len(raw))
	for i, r := range raw {
		s, err := parseStep(r)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		steps = append(steps, s)
	}
	return steps, nil
}

// validateSteps checks every feature step against the references it will
// receive, so a bad chain fails before the first model call.
func validateSteps(steps []step, references int, intensity string) error {
	for i, s := range steps {
		if s.Feature == "" {
			continue
		}
		if err := chat.ValidateRequest(s.Feature, s.params(intensity), referencesFor(s.Feature, references)); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, s, err)
		}
	}
	return nil
}

// referencesFor returns how many of the supplied references f receives.
// Features that take no reference simply do not get one.
func referencesFor(f chat.Feature, available int) int {
	if !f.AcceptsReference() {
		return 0
	}
	return available
}
