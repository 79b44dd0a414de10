// Package history implements the linear undo/redo history of an editing
// session.
//
// The history is an ordered list of immutable image snapshots plus a cursor.
// Undo and redo only move the cursor. Committing after one or more undos
// discards every entry past the cursor before appending, so the redo branch
// is lost: history is a line, not a tree.
//
// A History is not safe for concurrent use. The dispatcher that owns it
// serializes access.
package history

import (
	"time"

	"github.com/fpang/gemini-photo-editor/internal/filehandler"
	"github.com/google/uuid"
)

// Entry is one committed image state. Entries are never mutated after
// Commit; callers must not modify Image.Data.
type Entry struct {
	ID        string            `json:"id"`
	Label     string            `json:"label"`
	Image     filehandler.Image `json:"image"`
	CreatedAt time.Time         `json:"createdAt"`
}

// NewEntry builds an entry with a fresh ID and timestamp.
func NewEntry(label string, img filehandler.Image) Entry {
	return Entry{
		ID:        uuid.NewString(),
		Label:     label,
		Image:     img,
		CreatedAt: time.Now(),
	}
}

// History is an ordered sequence of entries and a cursor into it.
// The cursor is -1 exactly when the sequence is empty.
type History struct {
	entries []Entry
	cursor  int
}

// New returns an empty history.
func New() *History {
	return &History{cursor: -1}
}

// Commit truncates the sequence to [0..cursor], appends e and moves the
// cursor to it.
func (h *History) Commit(e Entry) {
	if h.cursor < len(h.entries)-1 {
		// Clear the discarded tail so the dropped images can be collected.
		for i := h.cursor + 1; i < len(h.entries); i++ {
			h.entries[i] = Entry{}
		}
		h.entries = h.entries[:h.cursor+1]
	}
	h.entries = append(h.entries, e)
	h.cursor = len(h.entries) - 1
}

// Undo moves the cursor back one entry and returns it. It is a no-op
// returning false when the cursor is at the first entry or the history is
// empty.
func (h *History) Undo() (Entry, bool) {
	if h.cursor <= 0 {
		return Entry{}, false
	}
	h.cursor--
	return h.entries[h.cursor], true
}

// Redo moves the cursor forward one entry and returns it. It is a no-op
// returning false when the cursor is already at the last entry.
func (h *History) Redo() (Entry, bool) {
	if h.cursor >= len(h.entries)-1 {
		return Entry{}, false
	}
	h.cursor++
	return h.entries[h.cursor], true
}

// Current returns the entry at the cursor, or false when empty.
func (h *History) Current() (Entry, bool) {
	if h.cursor < 0 {
		return Entry{}, false
	}
	return h.entries[h.cursor], true
}

// Reset discards every entry.
func (h *History) Reset() {
	h.entries = nil
	h.cursor = -1
}

// At returns the entry at index i.
func (h *History) At(i int) (Entry, bool) {
	if i < 0 || i >= len(h.entries) {
		return Entry{}, false
	}
	return h.entries[i], true
}

// Len returns the number of entries, including any redo tail.
func (h *History) Len() int {
	return len(h.entries)
}

// Cursor returns the current index, or -1 when empty.
func (h *History) Cursor() int {
	return h.cursor
}

// CanUndo reports whether Undo would move the cursor.
func (h *History) CanUndo() bool {
	return h.cursor > 0
}

// CanRedo reports whether Redo would move the cursor.
func (h *History) CanRedo() bool {
	return h.cursor < len(h.entries)-1
}

// Entries returns a copy of the whole sequence (the redo tail included).
func (h *History) Entries() []Entry {
	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}
