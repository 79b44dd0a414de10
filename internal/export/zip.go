// Package export writes the reachable history of a session as a ZIP archive.
//
// Entries are compressed with zstd (ZIP method 93). Images are already
// compressed, so the gain is mostly on the manifest, but readers that
// understand method 93 get a single consistent codec.
package export

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/fpang/gemini-photo-editor/internal/filehandler"
	"github.com/fpang/gemini-photo-editor/internal/history"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

// ZstdMethod is the ZIP compression method ID assigned to zstd.
const ZstdMethod uint16 = 93

// ManifestName is the archive path of the JSON manifest.
const ManifestName = "manifest.json"

func init() {
	zip.RegisterCompressor(ZstdMethod, func(w io.Writer) (io.WriteCloser, error) {
		return zstd.NewWriter(w)
	})
	zip.RegisterDecompressor(ZstdMethod, func(r io.Reader) io.ReadCloser {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return io.NopCloser(errReader{err})
		}
		return dec.IOReadCloser()
	})
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

// Manifest describes the exported entries in history order.
type Manifest struct {
	Session    string          `json:"session"`
	ExportedAt time.Time       `json:"exportedAt"`
	Entries    []ManifestEntry `json:"entries"`
}

// ManifestEntry maps one archive file back to its history entry.
type ManifestEntry struct {
	File      string    `json:"file"`
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	MIMEType  string    `json:"mimeType"`
	SizeBytes int       `json:"sizeBytes"`
	CreatedAt time.Time `json:"createdAt"`
}

var unsafeChars = regexp.MustCompile(`[^a-z0-9]+`)

// FileName returns the archive name for the i-th entry, e.g.
// "02-background-beach.png".
func FileName(i int, e history.Entry) string {
	label := strings.Trim(unsafeChars.ReplaceAllString(strings.ToLower(e.Label), "-"), "-")
	if label == "" {
		label = "entry"
	}
	if len(label) > 48 {
		label = strings.TrimRight(label[:48], "-")
	}
	return fmt.Sprintf("%02d-%s%s", i, label, filehandler.ExtensionForMIME(e.Image.MIMEType))
}

// WriteZip writes entries and a manifest to w.
func WriteZip(w io.Writer, sessionName string, entries []history.Entry) error {
	zw := zip.NewWriter(w)

	manifest := Manifest{
		Session:    sessionName,
		ExportedAt: time.Now().UTC(),
		Entries:    make([]ManifestEntry, 0, len(entries)),
	}

	for i, e := range entries {
		name := FileName(i, e)
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   ZstdMethod,
			Modified: e.CreatedAt,
		})
		if err != nil {
			return fmt.Errorf("create %s: %w", name, err)
		}
		if _, err := fw.Write(e.Image.Data); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		manifest.Entries = append(manifest.Entries, ManifestEntry{
			File:      name,
			ID:        e.ID,
			Label:     e.Label,
			MIMEType:  e.Image.MIMEType,
			SizeBytes: e.Image.Size(),
			CreatedAt: e.CreatedAt,
		})
	}

	mw, err := zw.CreateHeader(&zip.FileHeader{
		Name:     ManifestName,
		Method:   ZstdMethod,
		Modified: manifest.ExportedAt,
	})
	if err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}
	enc := json.NewEncoder(mw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(manifest); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}

	log.Debug().
		Str("session", sessionName).
		Int("entries", len(entries)).
		Msg("History exported")
	return nil
}
