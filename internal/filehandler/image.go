package filehandler

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
)

// ImageMetadata contains the EXIF fields shown alongside an open project.
//
// evanoberholster/imagemeta parses JPEG, HEIC and TIFF containers and only
// reads the metadata block, so decoding stays cheap for large photos.
type ImageMetadata struct {
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	HasGPS    bool    `json:"hasGps"`

	DateTaken time.Time `json:"dateTaken,omitempty"`
	HasDate   bool      `json:"hasDate"`

	CameraMake  string `json:"cameraMake,omitempty"`
	CameraModel string `json:"cameraModel,omitempty"`
}

// ExtractImageMetadata reads EXIF metadata from an encoded image.
// PNG and WebP often carry none; callers treat an error as "no metadata".
func ExtractImageMetadata(img Image) (*ImageMetadata, error) {
	if img.IsZero() {
		return nil, fmt.Errorf("empty image")
	}

	exifData, err := imagemeta.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode EXIF metadata: %w", err)
	}

	metadata := &ImageMetadata{}

	gps := exifData.GPS
	if gps.Latitude() != 0 || gps.Longitude() != 0 {
		metadata.Latitude = gps.Latitude()
		metadata.Longitude = gps.Longitude()
		metadata.HasGPS = true
	}

	// DateTimeOriginal > CreateDate > ModifyDate
	switch {
	case !exifData.DateTimeOriginal().IsZero():
		metadata.DateTaken = exifData.DateTimeOriginal()
		metadata.HasDate = true
	case !exifData.CreateDate().IsZero():
		metadata.DateTaken = exifData.CreateDate()
		metadata.HasDate = true
	case !exifData.ModifyDate().IsZero():
		metadata.DateTaken = exifData.ModifyDate()
		metadata.HasDate = true
	}

	metadata.CameraMake = strings.TrimSpace(exifData.Make)
	metadata.CameraModel = strings.TrimSpace(exifData.Model)

	log.Debug().
		Str("name", img.Name).
		Bool("has_gps", metadata.HasGPS).
		Bool("has_date", metadata.HasDate).
		Msg("Image metadata extraction complete")

	return metadata, nil
}

// Summary returns a one-line human readable description, or "" when the
// metadata is empty.
func (m *ImageMetadata) Summary() string {
	if m == nil {
		return ""
	}
	var parts []string
	if m.CameraMake != "" || m.CameraModel != "" {
		parts = append(parts, strings.TrimSpace(m.CameraMake+" "+m.CameraModel))
	}
	if m.HasDate {
		parts = append(parts, m.DateTaken.Format("January 2, 2006 3:04 PM"))
	}
	if m.HasGPS {
		parts = append(parts, fmt.Sprintf("%.5f, %.5f", m.Latitude, m.Longitude))
	}
	return strings.Join(parts, " · ")
}
