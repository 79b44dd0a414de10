// Package store persists the small per-profile preference record: the
// disclaimer flag, an optional API key and the most recently opened images.
//
// Writes replace the whole record (last write wins). There is no schema
// version and no migration; fields missing from an old record decode to
// their zero values.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/fpang/gemini-photo-editor/internal/filehandler"
	"github.com/rs/zerolog/log"
)

// MaxRecentProjects is how many recently opened images are remembered.
const MaxRecentProjects = 4

// DefaultProfileID is used by single-user deployments.
const DefaultProfileID = "default"

// ErrNotFound is returned when a recent project does not exist.
var ErrNotFound = errors.New("not found")

// PreferenceStore loads and saves preferences. Implementations are safe for
// concurrent use.
type PreferenceStore interface {
	// Load returns the stored preferences, or empty preferences when the
	// profile has none yet.
	Load(ctx context.Context, profileID string) (*Preferences, error)

	// Save replaces the stored preferences.
	Save(ctx context.Context, profileID string, prefs *Preferences) error

	// RecentImage returns the full image of a recent project by name.
	// Load may omit full images to keep reads small.
	RecentImage(ctx context.Context, profileID, name string) (filehandler.Image, error)
}

// Preferences is the persisted record for one profile.
type Preferences struct {
	DisclaimerAccepted bool            `json:"disclaimerAccepted" dynamodbav:"disclaimerAccepted"`
	APIKey             string          `json:"apiKey,omitempty" dynamodbav:"apiKey,omitempty"`
	Recent             []RecentProject `json:"recent,omitempty" dynamodbav:"recent,omitempty"`
	UpdatedAt          time.Time       `json:"updatedAt" dynamodbav:"updatedAt"`
}

// RecentProject is one entry of the recent-projects shortcut list.
type RecentProject struct {
	Name     string    `json:"name" dynamodbav:"name"`
	MIMEType string    `json:"mimeType" dynamodbav:"mimeType"`
	OpenedAt time.Time `json:"openedAt" dynamodbav:"openedAt"`

	// Thumbnail is a small JPEG; it may be empty when the source format
	// cannot be decoded locally (e.g. HEIC).
	Thumbnail []byte `json:"thumbnail,omitempty" dynamodbav:"-"`
	Image     []byte `json:"image,omitempty" dynamodbav:"-"`

	// S3 object keys, set by DynamoStore.
	ThumbnailKey string `json:"-" dynamodbav:"thumbnailKey,omitempty"`
	ImageKey     string `json:"-" dynamodbav:"imageKey,omitempty"`
}

// NewRecentProject builds a recent-project entry for img, including a
// thumbnail when the image can be decoded.
func NewRecentProject(img filehandler.Image) RecentProject {
	p := RecentProject{
		Name:     img.Name,
		MIMEType: img.MIMEType,
		OpenedAt: time.Now().UTC(),
		Image:    img.Data,
	}
	thumb, err := filehandler.GenerateThumbnail(img, filehandler.DefaultThumbnailMaxDimension)
	if err != nil {
		log.Debug().Err(err).Str("name", img.Name).Msg("No thumbnail for recent project")
		return p
	}
	p.Thumbnail = thumb.Data
	return p
}

// SourceImage returns the full image of the project.
func (p RecentProject) SourceImage() filehandler.Image {
	return filehandler.Image{Name: p.Name, MIMEType: p.MIMEType, Data: p.Image}
}

// ThumbnailImage returns the thumbnail, which is always JPEG.
func (p RecentProject) ThumbnailImage() filehandler.Image {
	return filehandler.Image{Name: "thumb-" + p.Name, MIMEType: "image/jpeg", Data: p.Thumbnail}
}

// AddRecent puts p first, removes any older entry with the same name and
// keeps at most MaxRecentProjects entries.
func (prefs *Preferences) AddRecent(p RecentProject) {
	recent := make([]RecentProject, 0, MaxRecentProjects)
	recent = append(recent, p)
	for _, existing := range prefs.Recent {
		if existing.Name == p.Name {
			continue
		}
		if len(recent) == MaxRecentProjects {
			break
		}
		recent = append(recent, existing)
	}
	prefs.Recent = recent
}

// FindRecent returns the recent project called name.
func (prefs *Preferences) FindRecent(name string) (RecentProject, bool) {
	for _, p := range prefs.Recent {
		if p.Name == name {
			return p, true
		}
	}
	return RecentProject{}, false
}

// RemoveRecent deletes the recent project called name and reports whether
// it existed.
func (prefs *Preferences) RemoveRecent(name string) bool {
	for i, p := range prefs.Recent {
		if p.Name == name {
			prefs.Recent = append(prefs.Recent[:i], prefs.Recent[i+1:]...)
			return true
		}
	}
	return false
}

// normalizeProfileID maps an empty profile to DefaultProfileID.
func normalizeProfileID(profileID string) string {
	if profileID == "" {
		return DefaultProfileID
	}
	return profileID
}
