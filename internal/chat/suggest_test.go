package chat

import (
	"context"
	"net/http"
	"testing"

	"github.com/fpang/gemini-photo-editor/internal/filehandler"
	"google.golang.org/genai"
)

func TestParseSuggestions(t *testing.T) {
	raw := "```json\n" + `[
		{"title": "Brighter sky", "instruction": "Make the sky a deeper blue.", "feature": "sky", "impact": "High"},
		{"title": "", "instruction": "Straighten the horizon.", "feature": "rotate", "impact": "medium"},
		{"title": "Swap face", "instruction": "Swap the face.", "feature": "faceswap", "impact": "low"},
		{"title": "Empty", "instruction": "   ", "feature": "edit", "impact": "low"}
	]` + "\n```"

	got, err := parseSuggestions(raw)
	if err != nil {
		t.Fatalf("parseSuggestions() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 suggestions, got %d: %+v", len(got), got)
	}
	if got[0].Feature != FeatureSky || got[0].Impact != "high" {
		t.Errorf("first suggestion = %+v", got[0])
	}
	if got[1].Feature != FeatureEdit {
		t.Errorf("unknown feature should fall back to edit, got %q", got[1].Feature)
	}
	if got[1].Title == "" {
		t.Error("missing title should be derived from the instruction")
	}
	if got[2].Feature != FeatureEdit {
		t.Errorf("reference-only feature should fall back to edit, got %q", got[2].Feature)
	}
}

func TestParseSuggestions_Errors(t *testing.T) {
	for _, raw := range []string{"no json here", `[]`, `[{"instruction": ""}]`} {
		if _, err := parseSuggestions(raw); err == nil {
			t.Errorf("parseSuggestions(%q) expected error", raw)
		}
	}
}

func TestSuggestion_ParamsBuildValidInstruction(t *testing.T) {
	for _, s := range []Suggestion{
		{Title: "Film", Instruction: "Warm film look", Feature: FeatureFilter},
		{Title: "Watercolor", Instruction: "Soft watercolor", Feature: FeatureStyle},
		{Title: "Sky", Instruction: "Golden hour sky", Feature: FeatureSky},
		{Title: "Fix", Instruction: "Remove the sign", Feature: FeatureEdit},
		{Title: "Bg", Instruction: "Studio grey backdrop", Feature: FeatureBackground},
	} {
		if _, err := BuildInstruction(s.Feature, s.Params(), 0); err != nil {
			t.Errorf("suggestion %+v does not build: %v", s, err)
		}
	}
}

func TestSuggestEdits(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeResponse(t, w, &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{
				Content: &genai.Content{
					Role: "model",
					Parts: []*genai.Part{{
						Text: `[{"title":"Warmth","instruction":"Warm up the white balance.","feature":"adjust","impact":"high"}]`,
					}},
				},
			}},
		})
	})

	got, err := NewSuggester(client, "test-text-model").SuggestEdits(context.Background(),
		filehandler.Image{Name: "a.jpg", MIMEType: "image/jpeg", Data: jpegBytes})
	if err != nil {
		t.Fatalf("SuggestEdits() error = %v", err)
	}
	if len(got) != 1 || got[0].Feature != FeatureAdjust {
		t.Errorf("SuggestEdits() = %+v", got)
	}
}

func TestModelNames_EnvOverride(t *testing.T) {
	t.Setenv("GEMINI_IMAGE_MODEL", "")
	t.Setenv("GEMINI_MODEL", "")
	if GetImageModelName() != DefaultImageModelName {
		t.Errorf("GetImageModelName() = %q", GetImageModelName())
	}
	if GetTextModelName() != DefaultTextModelName {
		t.Errorf("GetTextModelName() = %q", GetTextModelName())
	}

	t.Setenv("GEMINI_IMAGE_MODEL", ModelGemini3ProImage)
	t.Setenv("GEMINI_MODEL", ModelGemini25Flash)
	if GetImageModelName() != ModelGemini3ProImage {
		t.Errorf("GetImageModelName() = %q", GetImageModelName())
	}
	if GetTextModelName() != ModelGemini25Flash {
		t.Errorf("GetTextModelName() = %q", GetTextModelName())
	}
	if NewImageEditor(nil, "").Model() != ModelGemini3ProImage {
		t.Error("NewImageEditor should default to the env model")
	}
}
