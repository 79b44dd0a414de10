package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fpang/gemini-photo-editor/internal/chat"
	"github.com/fpang/gemini-photo-editor/internal/cli"
	"github.com/fpang/gemini-photo-editor/internal/dispatch"
	"github.com/fpang/gemini-photo-editor/internal/export"
	"github.com/fpang/gemini-photo-editor/internal/filehandler"
	"github.com/fpang/gemini-photo-editor/internal/history"
	"github.com/fpang/gemini-photo-editor/internal/jobs"
	"github.com/fpang/gemini-photo-editor/internal/session"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"
)

// previewDimension bounds the inline preview returned with each result.
const previewDimension = 512

type suggester interface {
	SuggestEdits(ctx context.Context, img filehandler.Image) ([]chat.Suggestion, error)
}

// toolServer holds what the tool handlers share. Every call opens its own
// session; nothing is kept between calls except files on disk.
type toolServer struct {
	editor    session.Transformer
	suggester suggester
}

type editImageInput struct {
	Path        string   `json:"path" jsonschema:"absolute path of the photo to edit"`
	Feature     string   `json:"feature,omitempty" jsonschema:"editing feature, e.g. filter, style, sky, text, faceswap; omit for a free-form instruction"`
	Value       string   `json:"value,omitempty" jsonschema:"the feature's main value: preset, style, era, character, angle, caption text or prompt"`
	Instruction string   `json:"instruction,omitempty" jsonschema:"free-form edit instruction, used when feature is omitted"`
	References  []string `json:"references,omitempty" jsonschema:"paths of reference photos for faceswap, clothing, makeup, insert or background"`
	Intensity   string   `json:"intensity,omitempty" jsonschema:"effect intensity: subtle, medium or strong"`
	Output      string   `json:"output,omitempty" jsonschema:"where to write the result; defaults to <name>-edited next to the input"`
}

type editImageOutput struct {
	Output    string `json:"output" jsonschema:"path of the written result"`
	Label     string `json:"label"`
	MIMEType  string `json:"mimeType"`
	SizeBytes int    `json:"sizeBytes"`
}

type variantsInput struct {
	Path       string   `json:"path" jsonschema:"absolute path of the photo"`
	Feature    string   `json:"feature" jsonschema:"feature to vary, e.g. style, filter, time-traveler, cosplay, camera-angle"`
	Themes     []string `json:"themes" jsonschema:"one value per variant"`
	References []string `json:"references,omitempty" jsonschema:"reference photo paths for features that take one"`
	OutDir     string   `json:"outDir,omitempty" jsonschema:"directory for the results; defaults to the photo's directory"`
}

type variantResult struct {
	Theme  string `json:"theme"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

type variantsOutput struct {
	Variants []variantResult `json:"variants"`
}

type suggestInput struct {
	Path string `json:"path" jsonschema:"absolute path of the photo"`
}

type suggestOutput struct {
	Suggestions []chat.Suggestion `json:"suggestions"`
}

func (t *toolServer) register(s *mcp.Server) {
	mcp.AddTool(s, &mcp.Tool{
		Name:        "edit_image",
		Description: "Apply one edit to a local photo with the Gemini image model and write the result to disk. Features: " + featureList() + ".",
	}, t.editImage)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "generate_variants",
		Description: "Generate one result per theme for a feature, in parallel, from the same photo. A failed theme does not stop the others.",
	}, t.generateVariants)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "suggest_edits",
		Description: "Ask the text model which edits would improve a photo, highest impact first.",
	}, t.suggestEdits)
}

func featureList() string {
	names := make([]string, len(chat.Features))
	for i, f := range chat.Features {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}

func (t *toolServer) editImage(ctx context.Context, req *mcp.CallToolRequest, in editImageInput) (*mcp.CallToolResult, editImageOutput, error) {
	src, refs, err := loadInputs(in.Path, in.References)
	if err != nil {
		return nil, editImageOutput{}, err
	}
	sess := session.New(jobs.GenerateID("mcp-"), filepath.Base(in.Path), src, t.editor)

	var entry history.Entry
	if in.Feature == "" {
		entry, err = sess.EditInstruction(ctx, "instruction", in.Instruction)
	} else {
		feature, ferr := chat.ParseFeature(in.Feature)
		if ferr != nil {
			return nil, editImageOutput{}, ferr
		}
		params := chat.PrimaryParams(feature, in.Value)
		params.Intensity = in.Intensity
		entry, err = sess.Edit(ctx, feature, params, refs)
	}
	if err != nil {
		return nil, editImageOutput{}, fmt.Errorf("%s", dispatch.Message(err))
	}

	out := cli.OutputPath(in.Path, in.Output, "edited", entry.Image.MIMEType)
	if err := os.WriteFile(out, entry.Image.Data, 0o644); err != nil {
		return nil, editImageOutput{}, fmt.Errorf("failed to write result: %w", err)
	}
	log.Info().Str("path", out).Str("label", entry.Label).Msg("Tool edit written")

	result := &mcp.CallToolResult{Content: []mcp.Content{
		&mcp.TextContent{Text: "Wrote " + out},
	}}
	if preview, ok := previewContent(entry.Image); ok {
		result.Content = append(result.Content, preview)
	}
	return result, editImageOutput{
		Output:    out,
		Label:     entry.Label,
		MIMEType:  entry.Image.MIMEType,
		SizeBytes: entry.Image.Size(),
	}, nil
}

func (t *toolServer) generateVariants(ctx context.Context, req *mcp.CallToolRequest, in variantsInput) (*mcp.CallToolResult, variantsOutput, error) {
	feature, err := chat.ParseFeature(in.Feature)
	if err != nil {
		return nil, variantsOutput{}, err
	}
	src, refs, err := loadInputs(in.Path, in.References)
	if err != nil {
		return nil, variantsOutput{}, err
	}
	outDir := in.OutDir
	if outDir == "" {
		outDir = filepath.Dir(in.Path)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, variantsOutput{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	variants := make([]session.Variant, 0, len(in.Themes))
	for _, theme := range in.Themes {
		variants = append(variants, session.Variant{Key: theme, Params: chat.PrimaryParams(feature, theme)})
	}
	sess := session.New(jobs.GenerateID("mcp-"), filepath.Base(in.Path), src, t.editor)
	if err := sess.StartBatch(ctx, feature, variants, refs); err != nil {
		return nil, variantsOutput{}, fmt.Errorf("%s", dispatch.Message(err))
	}
	sess.WaitBatch(feature)

	view := sess.Batch(feature)
	var out variantsOutput
	for i, key := range view.Keys {
		item := view.Items[key]
		res := variantResult{Theme: key, Error: item.Error}
		if item.Status == dispatch.StatusDone {
			path := filepath.Join(outDir, export.FileName(i, history.Entry{Label: key, Image: item.Value}))
			if err := os.WriteFile(path, item.Value.Data, 0o644); err != nil {
				res.Error = err.Error()
			} else {
				res.Output = path
			}
		}
		out.Variants = append(out.Variants, res)
	}
	return nil, out, nil
}

func (t *toolServer) suggestEdits(ctx context.Context, req *mcp.CallToolRequest, in suggestInput) (*mcp.CallToolResult, suggestOutput, error) {
	img, err := filehandler.LoadImage(in.Path)
	if err != nil {
		return nil, suggestOutput{}, err
	}
	suggestions, err := t.suggester.SuggestEdits(ctx, img)
	if err != nil {
		return nil, suggestOutput{}, fmt.Errorf("%s", dispatch.Message(err))
	}
	return nil, suggestOutput{Suggestions: suggestions}, nil
}

func loadInputs(path string, refPaths []string) (filehandler.Image, []filehandler.Image, error) {
	if !filepath.IsAbs(path) {
		return filehandler.Image{}, nil, fmt.Errorf("path must be absolute: %s", path)
	}
	src, err := filehandler.LoadImage(path)
	if err != nil {
		return filehandler.Image{}, nil, err
	}
	refs := make([]filehandler.Image, 0, len(refPaths))
	for _, p := range refPaths {
		img, err := filehandler.LoadImage(p)
		if err != nil {
			return filehandler.Image{}, nil, fmt.Errorf("reference: %w", err)
		}
		refs = append(refs, img)
	}
	return src, refs, nil
}

// previewContent returns a small JPEG of img for the client to display.
// Formats the decoder cannot read simply get no preview.
func previewContent(img filehandler.Image) (*mcp.ImageContent, bool) {
	thumb, err := filehandler.GenerateThumbnail(img, previewDimension)
	if err != nil {
		log.Debug().Err(err).Msg("No preview for tool result")
		return nil, false
	}
	return &mcp.ImageContent{Data: thumb.Data, MIMEType: thumb.MIMEType}, true
}
