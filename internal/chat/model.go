package chat

import "os"

// Gemini Model IDs
//
// | Model Name                  | API Model ID                | Use Case                       |
// |-----------------------------|-----------------------------|--------------------------------|
// | Gemini 2.5 Flash Image      | gemini-2.5-flash-image      | Fast image editing (default)   |
// | Gemini 3 Pro Image          | gemini-3-pro-image-preview  | Highest quality image editing  |
// | Gemini 3 Flash (Preview)    | gemini-3-flash-preview      | Edit suggestions (default)     |
// | Gemini 2.5 Flash            | gemini-2.5-flash            | Stable, balanced performance   |
const (
	// ModelGemini25FlashImage is the fast image editing model.
	ModelGemini25FlashImage = "gemini-2.5-flash-image"

	// ModelGemini3ProImage is for advanced image generation/edit.
	ModelGemini3ProImage = "gemini-3-pro-image-preview"

	// ModelGemini3FlashPreview is best for speed + intelligence.
	ModelGemini3FlashPreview = "gemini-3-flash-preview"

	// ModelGemini25Flash is stable, balanced performance.
	ModelGemini25Flash = "gemini-2.5-flash"
)

const (
	// DefaultImageModelName performs every pixel transformation.
	// Can be overridden via GEMINI_IMAGE_MODEL environment variable.
	DefaultImageModelName = ModelGemini25FlashImage

	// DefaultTextModelName analyses photos for edit suggestions.
	// Can be overridden via GEMINI_MODEL environment variable.
	DefaultTextModelName = ModelGemini3FlashPreview
)

// GetImageModelName returns the image model, resolved from:
// 1. GEMINI_IMAGE_MODEL environment variable (if set)
// 2. Default: gemini-2.5-flash-image
func GetImageModelName() string {
	if env := os.Getenv("GEMINI_IMAGE_MODEL"); env != "" {
		return env
	}
	return DefaultImageModelName
}

// GetTextModelName returns the text model, resolved from:
// 1. GEMINI_MODEL environment variable (if set)
// 2. Default: gemini-3-flash-preview
func GetTextModelName() string {
	if env := os.Getenv("GEMINI_MODEL"); env != "" {
		return env
	}
	return DefaultTextModelName
}
