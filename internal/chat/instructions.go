package chat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fpang/gemini-photo-editor/internal/assets"
)

// Feature names an editing tool. Each feature has an instruction template.
type Feature string

const (
	FeatureEdit         Feature = "edit"
	FeatureFilter       Feature = "filter"
	FeatureAdjust       Feature = "adjust"
	FeatureBackground   Feature = "background"
	FeatureSky          Feature = "sky"
	FeatureInsert       Feature = "insert"
	FeatureText         Feature = "text"
	FeatureFaceSwap     Feature = "faceswap"
	FeatureClothing     Feature = "clothing"
	FeatureMakeup       Feature = "makeup"
	FeatureStyle        Feature = "style"
	FeatureCameraAngle  Feature = "camera-angle"
	FeatureAesthetic    Feature = "aesthetic"
	FeatureTimeTraveler Feature = "time-traveler"
	FeatureCosplay      Feature = "cosplay"
)

// Features lists every feature in menu order.
var Features = []Feature{
	FeatureEdit, FeatureFilter, FeatureAdjust, FeatureBackground, FeatureSky,
	FeatureInsert, FeatureText, FeatureFaceSwap, FeatureClothing, FeatureMakeup,
	FeatureStyle, FeatureCameraAngle, FeatureAesthetic, FeatureTimeTraveler, FeatureCosplay,
}

// ErrMissingReference is returned when a feature that transfers material from
// a second photo is requested without one.
var ErrMissingReference = errors.New("this feature needs a reference image")

// ParseFeature validates a feature name.
func ParseFeature(name string) (Feature, error) {
	f := Feature(strings.ToLower(strings.TrimSpace(name)))
	if !assets.HasFeature(string(f)) {
		return "", fmt.Errorf("unknown feature: %q", name)
	}
	return f, nil
}

// RequiresReference reports whether f needs exactly one reference image.
func (f Feature) RequiresReference() bool {
	switch f {
	case FeatureFaceSwap, FeatureClothing, FeatureMakeup, FeatureInsert:
		return true
	}
	return false
}

// AcceptsReference reports whether f uses a reference image when given one.
func (f Feature) AcceptsReference() bool {
	return f.RequiresReference() || f == FeatureBackground
}

// Params carries the user's choices for a feature. Which fields matter
// depends on the feature; unused fields are ignored by its template.
type Params struct {
	Prompt    string `json:"prompt,omitempty"`
	Preset    string `json:"preset,omitempty"`
	Text      string `json:"text,omitempty"`
	Style     string `json:"style,omitempty"`
	Era       string `json:"era,omitempty"`
	Character string `json:"character,omitempty"`
	Angle     string `json:"angle,omitempty"`
	Placement string `json:"placement,omitempty"`
	Intensity string `json:"intensity,omitempty"`

	HarmonizeLighting bool `json:"harmonizeLighting,omitempty"`
	PreservePose      bool `json:"preservePose,omitempty"`
	MatchLighting     bool `json:"matchLighting,omitempty"`
}

// requiredFields maps each feature to the Params field it cannot do without.
var requiredFields = map[Feature]struct {
	name string
	get  func(Params) string
}{
	FeatureEdit:         {"prompt", func(p Params) string { return p.Prompt }},
	FeatureAdjust:       {"prompt", func(p Params) string { return p.Prompt }},
	FeatureFilter:       {"preset", func(p Params) string { return p.Preset }},
	FeatureAesthetic:    {"preset", func(p Params) string { return p.Preset }},
	FeatureText:         {"text", func(p Params) string { return p.Text }},
	FeatureStyle:        {"style", func(p Params) string { return p.Style }},
	FeatureTimeTraveler: {"era", func(p Params) string { return p.Era }},
	FeatureCosplay:      {"character", func(p Params) string { return p.Character }},
	FeatureCameraAngle:  {"angle", func(p Params) string { return p.Angle }},
}

type templateData struct {
	Params
	HasReference bool
}

// BuildInstruction renders the instruction for feature. references is the
// number of reference images that will accompany the request.
func BuildInstruction(feature Feature, params Params, references int) (string, error) {
	if err := ValidateRequest(feature, params, references); err != nil {
		return "", err
	}
	return assets.RenderFeature(string(feature), templateData{
		Params:       params,
		HasReference: references > 0,
	})
}

// ValidateRequest checks reference counts and required parameters before
// anything is sent to the model.
func ValidateRequest(feature Feature, params Params, references int) error {
	if !assets.HasFeature(string(feature)) {
		return fmt.Errorf("unknown feature: %q", feature)
	}
	switch {
	case feature.RequiresReference() && references != 1:
		if references == 0 {
			return fmt.Errorf("%s: %w", feature, ErrMissingReference)
		}
		return fmt.Errorf("%s takes exactly one reference image, got %d", feature, references)
	case references > 1:
		return fmt.Errorf("%s takes at most one reference image, got %d", feature, references)
	case !feature.AcceptsReference() && references > 0:
		return fmt.Errorf("%s does not take a reference image", feature)
	case feature == FeatureBackground && references == 0 && strings.TrimSpace(params.Prompt) == "":
		return fmt.Errorf("background needs a prompt or a reference image")
	}
	if field, ok := requiredFields[feature]; ok && strings.TrimSpace(field.get(params)) == "" {
		return fmt.Errorf("%s needs a %s", feature, field.name)
	}
	return nil
}

// PrimaryParams returns Params with value stored in the field feature cannot
// do without, or in Prompt for features that have no required field. It
// lets one-line callers (CLI steps, tool calls) address any feature.
func PrimaryParams(feature Feature, value string) Params {
	var p Params
	field, ok := requiredFields[feature]
	if !ok {
		p.Prompt = value
		return p
	}
	switch field.name {
	case "preset":
		p.Preset = value
	case "text":
		p.Text = value
	case "style":
		p.Style = value
	case "era":
		p.Era = value
	case "character":
		p.Character = value
	case "angle":
		p.Angle = value
	default:
		p.Prompt = value
	}
	return p
}
