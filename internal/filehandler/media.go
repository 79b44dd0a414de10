// Package filehandler loads source images, sniffs their types, extracts
// metadata and produces thumbnails for the recent-projects list.
//
// Image bytes are treated as opaque: the editor never decodes them except to
// build a thumbnail or read EXIF. Every pixel transformation happens remotely.
package filehandler

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// MaxImageBytes caps the size of a source image. Inline image parts sent to
// Gemini must stay well under the 20 MB request limit once base64 encoded.
const MaxImageBytes = 14 * 1024 * 1024

// SupportedImageExtensions defines the file extensions accepted as source images.
var SupportedImageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".heic": "image/heic",
	".heif": "image/heif",
}

// mimeExtensions is the reverse lookup used when naming exported files.
var mimeExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/heic": ".heic",
	"image/heif": ".heif",
}

// Image is an encoded image payload. It is decoded at most once (for
// thumbnails) and otherwise passed through untouched.
type Image struct {
	Name     string `json:"name"`
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"-"`
}

// Size returns the payload length in bytes.
func (img Image) Size() int {
	return len(img.Data)
}

// IsZero reports whether the image carries no payload.
func (img Image) IsZero() bool {
	return len(img.Data) == 0
}

// LoadImage reads an image file from disk. Unreadable, oversized or
// unsupported files are reported immediately.
func LoadImage(filePath string) (Image, error) {
	log.Debug().Str("path", filePath).Msg("Loading image file")

	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return Image{}, fmt.Errorf("file not found: %s", filePath)
		}
		return Image{}, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return Image{}, fmt.Errorf("path is a directory, not a file: %s", filePath)
	}
	if info.Size() > MaxImageBytes {
		return Image{}, fmt.Errorf("image too large: %d bytes (max %d)", info.Size(), MaxImageBytes)
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	mimeType, err := GetMIMEType(ext)
	if err != nil {
		return Image{}, err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return Image{}, fmt.Errorf("failed to read file: %w", err)
	}

	log.Info().
		Str("path", filePath).
		Str("mime_type", mimeType).
		Int("size_bytes", len(data)).
		Msg("Image file loaded")

	return Image{
		Name:     filepath.Base(filePath),
		MIMEType: mimeType,
		Data:     data,
	}, nil
}

// DecodeUpload wraps bytes received over HTTP (or another non-file source) as
// an Image. The MIME type comes from the file name when it is recognised,
// otherwise from content sniffing.
func DecodeUpload(name string, data []byte) (Image, error) {
	if len(data) == 0 {
		return Image{}, fmt.Errorf("empty image")
	}
	if len(data) > MaxImageBytes {
		return Image{}, fmt.Errorf("image too large: %d bytes (max %d)", len(data), MaxImageBytes)
	}

	mimeType, ok := SupportedImageExtensions[strings.ToLower(filepath.Ext(name))]
	if !ok {
		mimeType = http.DetectContentType(data)
		if !IsImageMIME(mimeType) {
			return Image{}, fmt.Errorf("unsupported content type: %s", mimeType)
		}
	}

	if name == "" {
		name = "image" + ExtensionForMIME(mimeType)
	}

	return Image{Name: filepath.Base(name), MIMEType: mimeType, Data: data}, nil
}

// GetMIMEType returns the MIME type for a given file extension.
func GetMIMEType(ext string) (string, error) {
	if mimeType, ok := SupportedImageExtensions[strings.ToLower(ext)]; ok {
		return mimeType, nil
	}
	return "", fmt.Errorf("unsupported file extension: %s", ext)
}

// IsImage returns true if the file extension corresponds to a supported image.
func IsImage(ext string) bool {
	_, ok := SupportedImageExtensions[strings.ToLower(ext)]
	return ok
}

// IsImageMIME returns true for MIME types the editor accepts.
func IsImageMIME(mimeType string) bool {
	_, ok := mimeExtensions[mimeType]
	return ok
}

// ExtensionForMIME returns a file extension (with dot) for a MIME type,
// defaulting to ".png" which is what the image model usually returns.
func ExtensionForMIME(mimeType string) string {
	if ext, ok := mimeExtensions[mimeType]; ok {
		return ext
	}
	return ".png"
}
