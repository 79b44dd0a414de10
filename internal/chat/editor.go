package chat

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fpang/gemini-photo-editor/internal/assets"
	"github.com/fpang/gemini-photo-editor/internal/filehandler"
	"github.com/fpang/gemini-photo-editor/internal/metrics"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// Request is one image transformation: a primary photo, an instruction,
// optional reference photos and optional structured parameters.
type Request struct {
	// Label names the operation in logs and metrics (e.g. "sky").
	Label       string
	Image       filehandler.Image
	Instruction string
	References  []filehandler.Image
	// Parameters are appended to the instruction as "key: value" lines.
	Parameters map[string]string
	// SystemInstruction defaults to assets.EditSystemPrompt when empty.
	SystemInstruction string
}

// Result holds the edited image and any text the model returned with it.
type Result struct {
	Image filehandler.Image
	Text  string
}

// ImageEditor sends transformation requests to a Gemini image model.
// It is safe for concurrent use.
type ImageEditor struct {
	client *genai.Client
	model  string
}

// NewImageEditor creates an editor using model, or GetImageModelName() when
// model is empty.
func NewImageEditor(client *genai.Client, model string) *ImageEditor {
	if model == "" {
		model = GetImageModelName()
	}
	return &ImageEditor{client: client, model: model}
}

// Model returns the image model ID in use.
func (e *ImageEditor) Model() string {
	return e.model
}

// Transform asks the model to apply req.Instruction to req.Image and returns
// the edited image. Every failure is an *EditError.
func (e *ImageEditor) Transform(ctx context.Context, req Request) (*Result, error) {
	if req.Image.IsZero() {
		return nil, &EditError{Kind: KindUnknown, Message: "No image to edit."}
	}
	if strings.TrimSpace(req.Instruction) == "" {
		return nil, &EditError{Kind: KindUnknown, Message: "The edit instruction is empty."}
	}

	systemInstruction := req.SystemInstruction
	if systemInstruction == "" {
		systemInstruction = assets.EditSystemPrompt
	}

	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		},
	}
	contents := []*genai.Content{{Role: "user", Parts: buildParts(req)}}

	log.Info().
		Str("model", e.model).
		Str("label", req.Label).
		Int("image_bytes", req.Image.Size()).
		Str("image_mime", req.Image.MIMEType).
		Int("references", len(req.References)).
		Msg("Sending image to Gemini for editing")

	geminiStart := time.Now()
	resp, err := e.client.Models.GenerateContent(ctx, e.model, contents, config)
	geminiElapsed := time.Since(geminiStart)

	var result *Result
	if err == nil {
		result, err = extractImage(resp, req.Image.Name)
	}

	m := metrics.New(metrics.Namespace).
		Dimension("Operation", "transform").
		Metric("GeminiApiLatencyMs", float64(geminiElapsed.Milliseconds()), metrics.UnitMilliseconds).
		Count("GeminiApiCalls").
		Property("feature", req.Label).
		Property("model", e.model)
	if resp != nil && resp.UsageMetadata != nil {
		m.Metric("GeminiInputTokens", float64(resp.UsageMetadata.PromptTokenCount), metrics.UnitCount)
		m.Metric("GeminiOutputTokens", float64(resp.UsageMetadata.CandidatesTokenCount), metrics.UnitCount)
	}

	if err != nil {
		editErr := ClassifyError(err)
		m.Count("GeminiApiErrors").Property("errorKind", editErr.Kind.String()).Flush()
		log.Error().
			Err(err).
			Str("label", req.Label).
			Str("kind", editErr.Kind.String()).
			Dur("duration", geminiElapsed).
			Msg("Gemini image editing failed")
		return nil, editErr
	}

	m.Metric("OutputImageBytes", float64(result.Image.Size()), metrics.UnitBytes).Flush()

	log.Info().
		Str("label", req.Label).
		Int("output_bytes", result.Image.Size()).
		Str("output_mime", result.Image.MIMEType).
		Dur("duration", geminiElapsed).
		Msg("Gemini image editing complete")

	return result, nil
}

// buildParts orders the request as: primary image, reference images, then the
// instruction text with any parameters appended.
func buildParts(req Request) []*genai.Part {
	parts := make([]*genai.Part, 0, len(req.References)+2)
	parts = append(parts, imagePart(req.Image))
	for _, ref := range req.References {
		parts = append(parts, imagePart(ref))
	}
	parts = append(parts, &genai.Part{Text: instructionText(req.Instruction, req.Parameters)})
	return parts
}

func imagePart(img filehandler.Image) *genai.Part {
	return &genai.Part{
		InlineData: &genai.Blob{
			MIMEType: img.MIMEType,
			Data:     img.Data,
		},
	}
}

func instructionText(instruction string, params map[string]string) string {
	instruction = strings.TrimSpace(instruction)
	if len(params) == 0 {
		return instruction
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(instruction)
	sb.WriteString("\n")
	for _, k := range keys {
		fmt.Fprintf(&sb, "\n%s: %s", k, params[k])
	}
	return sb.String()
}

// extractImage pulls the first image part out of resp. A blocked prompt or a
// policy finish reason is KindPolicy; a response without an image is KindEmpty.
func extractImage(resp *genai.GenerateContentResponse, sourceName string) (*Result, error) {
	if resp == nil {
		return nil, &EditError{Kind: KindEmpty, Message: "The image service returned an empty response."}
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return nil, &EditError{
			Kind:    KindPolicy,
			Message: "The request was blocked by the content policy. Try a different photo or instruction.",
			Err:     fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason),
		}
	}

	result := &Result{}
	var finishReason genai.FinishReason
	for _, candidate := range resp.Candidates {
		if candidate == nil {
			continue
		}
		if finishReason == "" {
			finishReason = candidate.FinishReason
		}
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			if part.InlineData != nil && len(part.InlineData.Data) > 0 && result.Image.IsZero() {
				mimeType := part.InlineData.MIMEType
				if mimeType == "" {
					mimeType = "image/png"
				}
				result.Image = filehandler.Image{
					Name:     outputName(sourceName, mimeType),
					MIMEType: mimeType,
					Data:     part.InlineData.Data,
				}
			}
			if part.Text != "" {
				result.Text += part.Text
			}
		}
	}

	if !result.Image.IsZero() {
		return result, nil
	}

	if policyFinishReasons[finishReason] {
		return nil, &EditError{
			Kind:    KindPolicy,
			Message: "The result was blocked by the content policy. Try a different photo or instruction.",
			Err:     fmt.Errorf("finish reason: %s", finishReason),
		}
	}

	msg := "The model did not return an image. Try rephrasing the instruction."
	if text := strings.TrimSpace(result.Text); text != "" {
		msg = "The model did not return an image: " + truncateString(text, 200)
	}
	return nil, &EditError{Kind: KindEmpty, Message: msg}
}

// outputName keeps the source file's base name with an extension matching
// the returned MIME type.
func outputName(sourceName, mimeType string) string {
	base := strings.TrimSuffix(sourceName, filepath.Ext(sourceName))
	if base == "" {
		base = "image"
	}
	return base + filehandler.ExtensionForMIME(mimeType)
}
