package cli

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/fpang/gemini-photo-editor/internal/auth"
	"github.com/fpang/gemini-photo-editor/internal/filehandler"
	"github.com/rs/zerolog/log"
)

// OutputPath returns where to write the result for input. An explicit output
// wins; otherwise the result sits next to the input as "<base>-<suffix><ext>"
// with the extension taken from the result MIME type.
func OutputPath(input, output, suffix, mimeType string) string {
	if output != "" {
		return output
	}
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return filepath.Join(filepath.Dir(input), base+"-"+suffix+filehandler.ExtensionForMIME(mimeType))
}

// EnsureDir creates dir when it does not exist and returns its absolute
// path. Exits fatally when the path exists but is not a directory.
func EnsureDir(dir string) string {
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal().Err(err).Str("path", dir).Msg("Failed to create directory")
		}
	case err != nil:
		log.Fatal().Err(err).Str("path", dir).Msg("Failed to access directory")
	case !info.IsDir():
		log.Fatal().Str("path", dir).Msg("Path is not a directory")
	}

	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return dir
}

// HandleValidationError processes auth.ValidationError and exits with appropriate messaging.
func HandleValidationError(err error) {
	var validationErr *auth.ValidationError
	if errors.As(err, &validationErr) {
		switch validationErr.Type {
		case auth.ErrTypeNoKey:
			log.Fatal().Msg("No API key configured. Set GEMINI_API_KEY or run scripts/setup-gpg-credentials.sh")
		case auth.ErrTypeInvalidKey:
			log.Fatal().Err(err).Msg("Invalid API key. Please check your API key and try again")
		case auth.ErrTypeNetworkError:
			log.Fatal().Err(err).Msg("Network error. Please check your internet connection")
		case auth.ErrTypeQuotaExceeded:
			log.Fatal().Err(err).Msg("API quota exceeded. Please try again later or check your usage limits")
		default:
			log.Fatal().Err(err).Msg("API key validation failed")
		}
	} else {
		log.Fatal().Err(err).Msg("unexpected error during API key validation")
	}
	os.Exit(1)
}
