// Package dispatch runs remote image transformations against an editing
// session's history.
//
// A Dispatcher allows one request in flight at a time. Each request reads
// the current history entry when it is dispatched, so consecutive edits
// chain naturally: every new request operates on the latest committed
// state. Batch fans a set of independent requests out against one fixed
// input and tracks a status per key without touching history.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fpang/gemini-photo-editor/internal/filehandler"
	"github.com/fpang/gemini-photo-editor/internal/history"
	"github.com/rs/zerolog/log"
)

// Sentinel errors returned by the dispatcher.
var (
	// ErrBusy is returned when a request is already in flight.
	ErrBusy = errors.New("another edit is still in progress")
	// ErrEmpty is returned when no image has been loaded.
	ErrEmpty = errors.New("no image loaded")
)

// Operation performs one remote transformation of input. It is an opaque
// closure over the feature and its parameters.
type Operation func(ctx context.Context, input filehandler.Image) (filehandler.Image, error)

// State is a point-in-time view of the dispatcher for display.
type State struct {
	Cursor  int  `json:"cursor"`
	Length  int  `json:"length"`
	CanUndo bool `json:"canUndo"`
	CanRedo bool `json:"canRedo"`
	Busy    bool `json:"busy"`
}

// Dispatcher owns a history and guards it with a single in-flight flag.
// All methods are safe for concurrent use.
type Dispatcher struct {
	mu   sync.Mutex
	hist *history.History
	busy bool
}

// New returns a dispatcher over an empty history.
func New() *Dispatcher {
	return &Dispatcher{hist: history.New()}
}

// Load replaces the history wholesale with a single entry for src.
func (d *Dispatcher) Load(src filehandler.Image) history.Entry {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.hist.Reset()
	e := history.NewEntry("original", src)
	d.hist.Commit(e)
	return e
}

// Dispatch runs op against the current entry and commits its result.
//
// The current entry is read at dispatch time, not captured by the caller.
// While op runs the lock is released but the busy flag is held, so a second
// Dispatch, CommitImage, Undo, Redo or Reset fails fast with ErrBusy and the
// result is always committed on top of the entry it was computed from. On failure history is left unchanged and
// a *Failure carrying a displayable message is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, label string, op Operation) (history.Entry, error) {
	d.mu.Lock()
	if d.busy {
		d.mu.Unlock()
		return history.Entry{}, ErrBusy
	}
	current, ok := d.hist.Current()
	if !ok {
		d.mu.Unlock()
		return history.Entry{}, ErrEmpty
	}
	d.busy = true
	d.mu.Unlock()

	start := time.Now()
	log.Debug().
		Str("label", label).
		Str("from_entry", current.ID).
		Int("input_bytes", current.Image.Size()).
		Msg("Dispatching edit")

	result, err := runOperation(ctx, op, current.Image)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.busy = false

	if err != nil {
		f := newFailure(label, err)
		log.Warn().
			Err(err).
			Str("label", label).
			Dur("duration", time.Since(start)).
			Msg("Edit failed, history unchanged")
		return history.Entry{}, f
	}

	e := history.NewEntry(label, result)
	d.hist.Commit(e)

	log.Info().
		Str("label", label).
		Str("entry", e.ID).
		Int("cursor", d.hist.Cursor()).
		Int("output_bytes", result.Size()).
		Dur("duration", time.Since(start)).
		Msg("Edit committed")

	return e, nil
}

// runOperation calls op and normalises an empty result into an error.
// A panic inside op is converted into an error so the busy flag is always
// cleared.
func runOperation(ctx context.Context, op Operation, input filehandler.Image) (out filehandler.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Edit operation panicked")
			err = errors.New("edit operation crashed")
		}
	}()

	out, err = op(ctx, input)
	if err != nil {
		return filehandler.Image{}, err
	}
	if out.IsZero() {
		return filehandler.Image{}, errors.New("the image service returned no image")
	}
	return out, nil
}

// CommitImage commits an image produced outside Dispatch, such as a
// selected batch variant. It fails with ErrBusy while a request is in flight
// so a batch commit cannot interleave with a running edit.
func (d *Dispatcher) CommitImage(label string, img filehandler.Image) (history.Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.busy {
		return history.Entry{}, ErrBusy
	}
	if d.hist.Len() == 0 {
		return history.Entry{}, ErrEmpty
	}
	e := history.NewEntry(label, img)
	d.hist.Commit(e)
	return e, nil
}

// Undo moves back one entry. ok is false when there is nothing to undo.
// While a request is in flight the cursor is pinned to the entry that
// request was built from, so Undo fails with ErrBusy.
func (d *Dispatcher) Undo() (e history.Entry, ok bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.busy {
		return history.Entry{}, false, ErrBusy
	}
	e, ok = d.hist.Undo()
	return e, ok, nil
}

// Redo moves forward one entry. ok is false when there is nothing to redo.
// It fails with ErrBusy while a request is in flight.
func (d *Dispatcher) Redo() (e history.Entry, ok bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.busy {
		return history.Entry{}, false, ErrBusy
	}
	e, ok = d.hist.Redo()
	return e, ok, nil
}

// Current returns the entry at the cursor.
func (d *Dispatcher) Current() (history.Entry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hist.Current()
}

// At returns the entry at index i.
func (d *Dispatcher) At(i int) (history.Entry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hist.At(i)
}

// Entries returns a copy of every entry in the history.
func (d *Dispatcher) Entries() []history.Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hist.Entries()
}

// Reset empties the history. It fails with ErrBusy while a request is in
// flight, since that request's result would land in the emptied history.
func (d *Dispatcher) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.busy {
		return ErrBusy
	}
	d.hist.Reset()
	return nil
}

// Busy reports whether a request is in flight.
func (d *Dispatcher) Busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.busy
}

// Snapshot returns the cursor position and flags.
func (d *Dispatcher) Snapshot() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return State{
		Cursor:  d.hist.Cursor(),
		Length:  d.hist.Len(),
		CanUndo: d.hist.CanUndo(),
		CanRedo: d.hist.CanRedo(),
		Busy:    d.busy,
	}
}
