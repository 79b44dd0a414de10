package main

import (
	"context"
	"errors"

	"github.com/ncruces/zenity"
)

// pickImage shows the native open-file dialog. A cancelled dialog yields an
// empty path and no error.
func pickImage(ctx context.Context) (string, error) {
	path, err := zenity.SelectFile(
		zenity.Context(ctx),
		zenity.Title("Open photo"),
		zenity.FileFilters{
			{
				Name:     "Images",
				Patterns: []string{"*.jpg", "*.jpeg", "*.png", "*.gif", "*.webp", "*.heic", "*.heif"},
			},
		},
	)
	if errors.Is(err, zenity.ErrCanceled) {
		return "", nil
	}
	return path, err
}
