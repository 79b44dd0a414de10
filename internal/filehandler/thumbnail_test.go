package filehandler

import (
	"bytes"
	"image/jpeg"
	"testing"
)

func TestCalculateThumbnailDimensions(t *testing.T) {
	tests := []struct {
		name         string
		w, h, max    int
		wantW, wantH int
	}{
		{"already small", 100, 50, 256, 100, 50},
		{"landscape", 1024, 512, 256, 256, 128},
		{"portrait", 300, 1200, 256, 64, 256},
		{"square", 1000, 1000, 256, 256, 256},
		{"extreme ratio", 10000, 1, 256, 256, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := calculateThumbnailDimensions(tt.w, tt.h, tt.max)
			if w != tt.wantW || h != tt.wantH {
				t.Errorf("got %dx%d, want %dx%d", w, h, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestGenerateThumbnail(t *testing.T) {
	src := Image{Name: "big.png", MIMEType: "image/png", Data: testPNG(t, 64, 32)}

	thumb, err := GenerateThumbnail(src, 16)
	if err != nil {
		t.Fatalf("GenerateThumbnail() error = %v", err)
	}
	if thumb.MIMEType != "image/jpeg" {
		t.Errorf("MIMEType = %q, want image/jpeg", thumb.MIMEType)
	}

	decoded, err := jpeg.Decode(bytes.NewReader(thumb.Data))
	if err != nil {
		t.Fatalf("thumbnail is not a valid JPEG: %v", err)
	}
	if b := decoded.Bounds(); b.Dx() != 16 || b.Dy() != 8 {
		t.Errorf("thumbnail size = %dx%d, want 16x8", b.Dx(), b.Dy())
	}
}

func TestGenerateThumbnail_InvalidData(t *testing.T) {
	if _, err := GenerateThumbnail(Image{Name: "bad.png", Data: []byte("nope")}, 16); err == nil {
		t.Error("expected decode error")
	}
}
