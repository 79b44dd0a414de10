package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/fpang/gemini-photo-editor/internal/filehandler"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

// fileExt is the suffix of a preference file: zstd-compressed JSON.
const fileExt = ".json.zst"

var validProfileID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// FileStore keeps one compressed JSON file per profile in a directory.
// Files are written with owner-only permissions because they may hold an
// API key.
type FileStore struct {
	dir string

	mu      sync.Mutex
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

var _ PreferenceStore = (*FileStore)(nil)

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &FileStore{dir: dir, encoder: enc, decoder: dec}, nil
}

// DefaultStateDir returns $PHOTO_STATE_DIR, or ~/.gemini-photo-editor.
func DefaultStateDir() (string, error) {
	if dir := os.Getenv("PHOTO_STATE_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".gemini-photo-editor"), nil
}

func (s *FileStore) path(profileID string) (string, error) {
	profileID = normalizeProfileID(profileID)
	if !validProfileID.MatchString(profileID) {
		return "", fmt.Errorf("invalid profile ID: %q", profileID)
	}
	return filepath.Join(s.dir, profileID+fileExt), nil
}

// Load reads the profile's preferences. A missing file yields empty
// preferences.
func (s *FileStore) Load(_ context.Context, profileID string) (*Preferences, error) {
	path, err := s.path(profileID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	compressed, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Preferences{}, nil
		}
		return nil, fmt.Errorf("read preferences: %w", err)
	}

	raw, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress preferences: %w", err)
	}

	var prefs Preferences
	if err := json.Unmarshal(raw, &prefs); err != nil {
		return nil, fmt.Errorf("decode preferences: %w", err)
	}
	return &prefs, nil
}

// Save atomically replaces the profile's preferences file.
func (s *FileStore) Save(_ context.Context, profileID string, prefs *Preferences) error {
	path, err := s.path(profileID)
	if err != nil {
		return err
	}

	prefs.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	compressed := s.encoder.EncodeAll(raw, nil)

	tmp, err := os.CreateTemp(s.dir, ".prefs-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmp.Write(compressed); err != nil {
		tmp.Close()
		return fmt.Errorf("write preferences: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close preferences: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace preferences: %w", err)
	}

	log.Debug().
		Str("path", path).
		Int("raw_bytes", len(raw)).
		Int("stored_bytes", len(compressed)).
		Int("recent", len(prefs.Recent)).
		Msg("Preferences saved")
	return nil
}

// RecentImage loads the preferences and returns the named project's image.
func (s *FileStore) RecentImage(ctx context.Context, profileID, name string) (filehandler.Image, error) {
	prefs, err := s.Load(ctx, profileID)
	if err != nil {
		return filehandler.Image{}, err
	}
	p, ok := prefs.FindRecent(name)
	if !ok || len(p.Image) == 0 {
		return filehandler.Image{}, fmt.Errorf("recent project %q: %w", name, ErrNotFound)
	}
	return p.SourceImage(), nil
}
