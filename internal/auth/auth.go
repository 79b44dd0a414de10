// Package auth resolves the Gemini API key and checks that it works.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/fpang/gemini-photo-editor/internal/store"
	"github.com/rs/zerolog/log"
)

const (
	credentialDir  = ".gemini-photo-editor"
	credentialFile = "credentials.gpg"
)

// ErrNoAPIKey is returned when no source provides a key.
var ErrNoAPIKey = errors.New("API key not found: set GEMINI_API_KEY, save one in preferences, or run scripts/setup-gpg-credentials.sh")

// PreferenceLoader reads the stored preferences. store.PreferenceStore
// satisfies it.
type PreferenceLoader interface {
	Load(ctx context.Context, profileID string) (*store.Preferences, error)
}

// GetAPIKey retrieves the Gemini API key from available sources.
// Priority order:
//  1. GEMINI_API_KEY environment variable
//  2. the key saved in the default profile's preferences (prefs may be nil)
//  3. GPG-encrypted file at ~/.gemini-photo-editor/credentials.gpg
func GetAPIKey(ctx context.Context, prefs PreferenceLoader) (string, error) {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		log.Debug().Msg("Using API key from environment variable")
		return key, nil
	}

	if prefs != nil {
		p, err := prefs.Load(ctx, store.DefaultProfileID)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("Failed to load preferences for API key")
		case p.APIKey != "":
			log.Debug().Msg("Using API key from saved preferences")
			return p.APIKey, nil
		}
	}

	key, err := getFromGPG()
	if err == nil && key != "" {
		log.Debug().Msg("Using API key from GPG encrypted file")
		return key, nil
	}

	log.Debug().Err(err).Msg("No API key source available")
	return "", ErrNoAPIKey
}

// getFromGPG decrypts the API key from the GPG-encrypted credentials file.
func getFromGPG() (string, error) {
	credPath, err := getCredentialPath()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(credPath); os.IsNotExist(err) {
		return "", fmt.Errorf("GPG credentials file not found at %s", credPath)
	}

	log.Debug().Str("file", credPath).Msg("Decrypting GPG credentials")

	args := []string{"--decrypt", "--quiet"}
	if passphrasePath, ok := findPassphraseFile(); ok {
		args = append(args, "--pinentry-mode", "loopback", "--passphrase-file", passphrasePath)
	}
	args = append(args, credPath)

	output, err := exec.Command("gpg", args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("GPG decryption failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("GPG decryption failed: %w", err)
	}

	return strings.TrimSpace(string(output)), nil
}

// getCredentialPath returns the full path to the credentials file.
func getCredentialPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, credentialDir, credentialFile), nil
}

// findPassphraseFile looks for .gpg-passphrase next to the executable, then
// in the working directory. Files readable by group or others are skipped.
func findPassphraseFile() (string, bool) {
	var candidates []string
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), ".gpg-passphrase"))
	}
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, ".gpg-passphrase"))
	}

	for _, path := range candidates {
		fi, err := os.Stat(path)
		if err != nil {
			continue
		}
		if mode := fi.Mode().Perm(); mode&0o077 != 0 {
			log.Warn().
				Str("passphrase_file", path).
				Str("permissions", fmt.Sprintf("%04o", mode)).
				Msg("Passphrase file has insecure permissions (should be 0600); skipping")
			continue
		}
		return path, true
	}
	return "", false
}
