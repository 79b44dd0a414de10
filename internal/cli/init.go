// Package cli holds the helpers shared by the command-line binaries: client
// bootstrap, fatal error reporting, prompts and output formatting.
package cli

import (
	"context"

	"github.com/fpang/gemini-photo-editor/internal/auth"
	"github.com/fpang/gemini-photo-editor/internal/chat"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// InitGeminiClient resolves the API key, creates a Gemini client and, when
// validate is set, checks the key with a minimal request. It exits fatally
// on failure. prefs may be nil.
func InitGeminiClient(ctx context.Context, prefs auth.PreferenceLoader, validate bool) *genai.Client {
	apiKey, err := auth.GetAPIKey(ctx, prefs)
	if err != nil {
		HandleValidationError(&auth.ValidationError{Type: auth.ErrTypeNoKey, Message: "no API key", Err: err})
	}

	client, err := chat.NewGeminiClient(ctx, apiKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create Gemini client")
	}
	log.Debug().Msg("Gemini client initialized")

	if validate {
		if err := auth.ValidateAPIKey(ctx, client); err != nil {
			HandleValidationError(err)
		}
		log.Info().Msg("API key validation complete - ready for operations")
	}
	return client
}
