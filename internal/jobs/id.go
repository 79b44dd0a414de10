// Package jobs generates and parses the opaque IDs used in API routes.
package jobs

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/rs/zerolog/log"
)

// GenerateID creates a cryptographically random ID with the given prefix.
// The prefix should include a trailing dash, e.g. "sess-".
func GenerateID(prefix string) string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		log.Fatal().Err(err).Msgf("Failed to generate random %s ID", prefix)
	}
	return prefix + hex.EncodeToString(b)
}

// NormalizeID adds prefix to id when the caller omitted it.
func NormalizeID(id, prefix string) string {
	if id == "" || len(id) >= len(prefix) && id[:len(prefix)] == prefix {
		return id
	}
	return prefix + id
}
