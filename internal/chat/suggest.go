package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fpang/gemini-photo-editor/internal/assets"
	"github.com/fpang/gemini-photo-editor/internal/filehandler"
	"github.com/fpang/gemini-photo-editor/internal/jsonutil"
	"github.com/fpang/gemini-photo-editor/internal/metrics"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// Suggestion is one edit the text model recommends for a photo.
type Suggestion struct {
	Title       string  `json:"title"`
	Instruction string  `json:"instruction"`
	Feature     Feature `json:"feature"`
	Impact      string  `json:"impact"`
}

// Suggester asks a Gemini text model what to improve in a photo.
type Suggester struct {
	client *genai.Client
	model  string
}

// NewSuggester creates a Suggester using model, or GetTextModelName() when
// model is empty.
func NewSuggester(client *genai.Client, model string) *Suggester {
	if model == "" {
		model = GetTextModelName()
	}
	return &Suggester{client: client, model: model}
}

// SuggestEdits analyses img and returns suggested edits, highest impact first.
func (s *Suggester) SuggestEdits(ctx context.Context, img filehandler.Image) ([]Suggestion, error) {
	if img.IsZero() {
		return nil, &EditError{Kind: KindUnknown, Message: "No image to analyse."}
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: assets.SuggestSystemPrompt}},
		},
	}
	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			imagePart(img),
			{Text: "Suggest edits for this photo."},
		},
	}}

	log.Debug().
		Str("model", s.model).
		Int("image_bytes", img.Size()).
		Msg("Starting Gemini API call for edit suggestions")

	geminiStart := time.Now()
	resp, err := s.client.Models.GenerateContent(ctx, s.model, contents, config)
	geminiElapsed := time.Since(geminiStart)

	m := metrics.New(metrics.Namespace).
		Dimension("Operation", "suggest").
		Metric("GeminiApiLatencyMs", float64(geminiElapsed.Milliseconds()), metrics.UnitMilliseconds).
		Count("GeminiApiCalls")
	if err != nil {
		m.Count("GeminiApiErrors")
	}
	if resp != nil && resp.UsageMetadata != nil {
		m.Metric("GeminiInputTokens", float64(resp.UsageMetadata.PromptTokenCount), metrics.UnitCount)
		m.Metric("GeminiOutputTokens", float64(resp.UsageMetadata.CandidatesTokenCount), metrics.UnitCount)
	}
	m.Flush()

	if err != nil {
		log.Error().Err(err).Dur("duration", geminiElapsed).Msg("Failed to get edit suggestions from Gemini")
		return nil, ClassifyError(err)
	}
	if resp == nil || resp.Text() == "" {
		log.Warn().Dur("duration", geminiElapsed).Msg("Received empty response from Gemini")
		return nil, &EditError{Kind: KindEmpty, Message: "The model returned no suggestions."}
	}

	suggestions, err := parseSuggestions(resp.Text())
	if err != nil {
		return nil, &EditError{Kind: KindUnknown, Message: "Could not read the model's suggestions.", Err: err}
	}

	log.Info().
		Int("suggestions", len(suggestions)).
		Dur("duration", geminiElapsed).
		Msg("Edit suggestions received")

	return suggestions, nil
}

// suggestableFeatures are the features a suggestion can drive with only an
// instruction and a title.
var suggestableFeatures = map[Feature]bool{
	FeatureEdit:       true,
	FeatureFilter:     true,
	FeatureAdjust:     true,
	FeatureBackground: true,
	FeatureSky:        true,
	FeatureStyle:      true,
}

// parseSuggestions decodes the model's JSON answer. Suggestions without an
// instruction are dropped and unknown features fall back to "edit".
func parseSuggestions(raw string) ([]Suggestion, error) {
	parsed, err := jsonutil.ParseJSON[[]Suggestion](raw)
	if err != nil {
		return nil, err
	}

	suggestions := make([]Suggestion, 0, len(parsed))
	for _, s := range parsed {
		s.Instruction = strings.TrimSpace(s.Instruction)
		if s.Instruction == "" {
			continue
		}
		feature, err := ParseFeature(string(s.Feature))
		if err != nil || !suggestableFeatures[feature] {
			feature = FeatureEdit
		}
		s.Feature = feature
		s.Impact = strings.ToLower(strings.TrimSpace(s.Impact))
		if s.Title == "" {
			s.Title = truncateString(s.Instruction, 40)
		}
		suggestions = append(suggestions, s)
	}
	if len(suggestions) == 0 {
		return nil, fmt.Errorf("no usable suggestions in response")
	}
	return suggestions, nil
}

// Params converts a suggestion into feature parameters for an edit.
func (s Suggestion) Params() Params {
	switch s.Feature {
	case FeatureFilter, FeatureAesthetic:
		return Params{Preset: s.Title, Prompt: s.Instruction}
	case FeatureStyle:
		return Params{Style: s.Title, Prompt: s.Instruction}
	default:
		return Params{Prompt: s.Instruction}
	}
}
