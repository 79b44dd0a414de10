package filehandler

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DefaultThumbnailMaxDimension is the maximum width or height of a
// recent-project thumbnail.
const DefaultThumbnailMaxDimension = 256

// thumbnailQuality is the JPEG quality used for thumbnails.
const thumbnailQuality = 80

// GenerateThumbnail decodes img and returns a JPEG no larger than
// maxDimension on either side. Images already within bounds are re-encoded
// without scaling so every thumbnail has the same MIME type.
func GenerateThumbnail(img Image, maxDimension int) (Image, error) {
	if maxDimension <= 0 {
		maxDimension = DefaultThumbnailMaxDimension
	}

	src, format, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return Image{}, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := src.Bounds()
	origWidth, origHeight := bounds.Dx(), bounds.Dy()
	newWidth, newHeight := calculateThumbnailDimensions(origWidth, origHeight, maxDimension)

	var out image.Image = src
	if newWidth != origWidth || newHeight != origHeight {
		resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
		draw.CatmullRom.Scale(resized, resized.Bounds(), src, bounds, draw.Over, nil)
		out = resized
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: thumbnailQuality}); err != nil {
		return Image{}, fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	log.Debug().
		Str("name", img.Name).
		Str("format", format).
		Int("orig_width", origWidth).
		Int("orig_height", origHeight).
		Int("new_width", newWidth).
		Int("new_height", newHeight).
		Int("output_size", buf.Len()).
		Msg("Thumbnail generated")

	return Image{
		Name:     "thumb-" + img.Name,
		MIMEType: "image/jpeg",
		Data:     buf.Bytes(),
	}, nil
}

// calculateThumbnailDimensions scales (width, height) down so the longer
// side equals maxDimension, preserving aspect ratio. Smaller images are
// returned unchanged.
func calculateThumbnailDimensions(width, height, maxDimension int) (int, int) {
	if width <= maxDimension && height <= maxDimension {
		return width, height
	}
	if width >= height {
		h := height * maxDimension / width
		if h < 1 {
			h = 1
		}
		return maxDimension, h
	}
	w := width * maxDimension / height
	if w < 1 {
		w = 1
	}
	return w, maxDimension
}
