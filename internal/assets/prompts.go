// Package assets provides embedded static assets for the application.
//
// Prompt templates are stored as text files under prompts/ and embedded at compile time.
// Feature templates live in prompts/features/<feature>.tmpl and share the
// "modifiers" block defined in modifiers.tmpl.

package assets

import (
	"bytes"
	"embed"
	"fmt"
	"sort"
	"strings"
	"text/template"
)

// --- Static prompts (no dynamic data) ---

// EditSystemPrompt frames every image transformation request.
//
//go:embed prompts/edit-system.txt
var EditSystemPrompt string

// SuggestSystemPrompt asks the text model for a JSON list of suggested edits.
//
//go:embed prompts/suggest-system.txt
var SuggestSystemPrompt string

// --- Feature templates ---

//go:embed prompts/features/*.tmpl
var featureFS embed.FS

// featureTemplates holds every feature template parsed into one set so each
// can invoke the shared "modifiers" block.
var featureTemplates = template.Must(
	template.New("features").Option("missingkey=zero").ParseFS(featureFS, "prompts/features/*.tmpl"),
)

const modifiersTemplate = "modifiers.tmpl"

// FeatureNames returns the names of all embedded feature templates, sorted.
func FeatureNames() []string {
	var names []string
	for _, t := range featureTemplates.Templates() {
		name := t.Name()
		if !strings.HasSuffix(name, ".tmpl") || name == modifiersTemplate {
			continue
		}
		names = append(names, strings.TrimSuffix(name, ".tmpl"))
	}
	sort.Strings(names)
	return names
}

// HasFeature reports whether a template exists for feature.
func HasFeature(feature string) bool {
	if feature == "" || feature+".tmpl" == modifiersTemplate {
		return false
	}
	return featureTemplates.Lookup(feature+".tmpl") != nil
}

// RenderFeature executes the template for feature with data and returns the
// trimmed instruction text.
func RenderFeature(feature string, data any) (string, error) {
	if !HasFeature(feature) {
		return "", fmt.Errorf("unknown feature template: %q", feature)
	}
	return renderTemplate(featureTemplates.Lookup(feature+".tmpl"), data)
}

func renderTemplate(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", tmpl.Name(), err)
	}
	return strings.TrimSpace(buf.String()), nil
}
