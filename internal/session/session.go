// Package session holds open editing sessions. A session owns the history
// of one source image, dispatches single edits against it and runs variant
// batches for the multi-result features.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fpang/gemini-photo-editor/internal/chat"
	"github.com/fpang/gemini-photo-editor/internal/dispatch"
	"github.com/fpang/gemini-photo-editor/internal/filehandler"
	"github.com/fpang/gemini-photo-editor/internal/history"
	"github.com/rs/zerolog/log"
)

// Transformer performs one remote image transformation.
type Transformer interface {
	Transform(ctx context.Context, req chat.Request) (*chat.Result, error)
}

var (
	// ErrInvalidRequest wraps every error caused by bad input, such as a
	// missing reference image or an empty prompt.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUnknownVariant is returned for a variant key that is not in the batch.
	ErrUnknownVariant = errors.New("unknown variant")
	// ErrVariantNotReady is returned when committing a variant that is still
	// pending or failed.
	ErrVariantNotReady = errors.New("variant is not ready")
)

// Variant is one requested result of a batch. Key is how the caller
// addresses the result, e.g. the theme name.
type Variant struct {
	Key    string      `json:"key"`
	Params chat.Params `json:"params"`
}

// Session is one source image and everything done to it.
type Session struct {
	ID        string
	Name      string
	CreatedAt time.Time
	Source    filehandler.Image
	Metadata  *filehandler.ImageMetadata

	editor     Transformer
	dispatcher *dispatch.Dispatcher

	mu       sync.Mutex
	features map[chat.Feature]*featureRun
}

type featureRun struct {
	state FeatureState
	batch *dispatch.Batch[string, filehandler.Image]
}

// New creates a session whose history starts with src. EXIF metadata is
// read once; images without metadata are not an error.
func New(id, name string, src filehandler.Image, editor Transformer) *Session {
	if name == "" {
		name = src.Name
	}
	s := &Session{
		ID:         id,
		Name:       name,
		CreatedAt:  time.Now(),
		Source:     src,
		editor:     editor,
		dispatcher: dispatch.New(),
		features:   make(map[chat.Feature]*featureRun),
	}
	s.dispatcher.Load(src)

	if md, err := filehandler.ExtractImageMetadata(src); err == nil {
		s.Metadata = md
	} else {
		log.Debug().Err(err).Str("session", id).Msg("No EXIF metadata for source image")
	}
	return s
}

// Edit applies feature to the current image and commits the result.
func (s *Session) Edit(ctx context.Context, feature chat.Feature, params chat.Params, refs []filehandler.Image) (history.Entry, error) {
	instruction, err := chat.BuildInstruction(feature, params, len(refs))
	if err != nil {
		return history.Entry{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return s.dispatcher.Dispatch(ctx, string(feature), s.operation(string(feature), instruction, refs))
}

// EditInstruction applies a free-form instruction, bypassing the feature
// templates. Used for model suggestions and chained CLI steps.
func (s *Session) EditInstruction(ctx context.Context, label, instruction string) (history.Entry, error) {
	if strings.TrimSpace(instruction) == "" {
		return history.Entry{}, fmt.Errorf("%w: instruction is empty", ErrInvalidRequest)
	}
	return s.dispatcher.Dispatch(ctx, label, s.operation(label, instruction, nil))
}

func (s *Session) operation(label, instruction string, refs []filehandler.Image) dispatch.Operation {
	return func(ctx context.Context, input filehandler.Image) (filehandler.Image, error) {
		res, err := s.editor.Transform(ctx, chat.Request{
			Label:       label,
			Image:       input,
			Instruction: instruction,
			References:  refs,
		})
		if err != nil {
			return filehandler.Image{}, err
		}
		return res.Image, nil
	}
}

// Undo moves back one entry. It fails with dispatch.ErrBusy during an edit.
func (s *Session) Undo() (history.Entry, bool, error) { return s.dispatcher.Undo() }

// Redo moves forward one entry. It fails with dispatch.ErrBusy during an edit.
func (s *Session) Redo() (history.Entry, bool, error) { return s.dispatcher.Redo() }

// Current returns the entry at the cursor.
func (s *Session) Current() (history.Entry, bool) { return s.dispatcher.Current() }

// Entry returns the history entry at index i.
func (s *Session) Entry(i int) (history.Entry, bool) { return s.dispatcher.At(i) }

// Entries returns a copy of the history.
func (s *Session) Entries() []history.Entry { return s.dispatcher.Entries() }

// State returns the history cursor and busy flag.
func (s *Session) State() dispatch.State { return s.dispatcher.Snapshot() }

// StartBatch fans variants out against a snapshot of the current image and
// returns immediately. The feature moves to PhaseGenerating and, once every
// variant has settled, to PhaseResultsShown. Nothing is committed to history.
func (s *Session) StartBatch(ctx context.Context, feature chat.Feature, variants []Variant, refs []filehandler.Image) error {
	if len(variants) == 0 {
		return fmt.Errorf("%w: no variants requested", ErrInvalidRequest)
	}

	keys := make([]string, 0, len(variants))
	instructions := make(map[string]string, len(variants))
	for _, v := range variants {
		if v.Key == "" {
			return fmt.Errorf("%w: variant key is empty", ErrInvalidRequest)
		}
		if _, dup := instructions[v.Key]; dup {
			return fmt.Errorf("%w: duplicate variant %q", ErrInvalidRequest, v.Key)
		}
		instruction, err := chat.BuildInstruction(feature, v.Params, len(refs))
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidRequest, v.Key, err)
		}
		keys = append(keys, v.Key)
		instructions[v.Key] = instruction
	}

	// Every variant works from this one snapshot, not the evolving history.
	input, ok := s.dispatcher.Current()
	if !ok {
		return dispatch.ErrEmpty
	}

	s.mu.Lock()
	run := s.featureLocked(feature)
	next, err := run.state.Apply(Event{Kind: EventGenerate, Themes: keys})
	if err != nil {
		s.mu.Unlock()
		return err
	}

	tasks := make(map[string]dispatch.Task[filehandler.Image], len(keys))
	for _, key := range keys {
		op := s.operation(string(feature)+":"+key, instructions[key], refs)
		tasks[key] = func(ctx context.Context) (filehandler.Image, error) {
			return op(ctx, input.Image)
		}
	}

	// The batch outlives the request that started it.
	if err := run.batch.Start(context.WithoutCancel(ctx), keys, tasks); err != nil {
		s.mu.Unlock()
		return err
	}
	run.state = next
	s.mu.Unlock()

	log.Info().
		Str("session", s.ID).
		Str("feature", string(feature)).
		Strs("variants", keys).
		Str("from_entry", input.ID).
		Msg("Variant batch started")

	go func() {
		run.batch.Wait()
		s.finishBatch(feature)
	}()
	return nil
}

// WaitBatch blocks until the feature's batch has settled.
func (s *Session) WaitBatch(feature chat.Feature) {
	s.mu.Lock()
	run := s.featureLocked(feature)
	s.mu.Unlock()

	run.batch.Wait()
	s.finishBatch(feature)
}

func (s *Session) finishBatch(feature chat.Feature) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run := s.featureLocked(feature)
	if run.state.Phase != PhaseGenerating || !run.batch.Done() {
		return
	}
	next, err := run.state.Apply(Event{Kind: EventFinish})
	if err != nil {
		log.Warn().Err(err).Str("feature", string(feature)).Msg("Failed to finish batch")
		return
	}
	run.state = next

	counts := run.batch.Counts()
	log.Info().
		Str("session", s.ID).
		Str("feature", string(feature)).
		Int("done", counts[dispatch.StatusDone]).
		Int("failed", counts[dispatch.StatusError]).
		Msg("Variant batch settled")
}

// BatchView is the display state of a feature's variants.
type BatchView struct {
	State FeatureState                                `json:"state"`
	Keys  []string                                    `json:"keys"`
	Items map[string]dispatch.Item[filehandler.Image] `json:"items"`
}

// Batch returns the feature state and a copy of its variant results.
func (s *Session) Batch(feature chat.Feature) BatchView {
	s.mu.Lock()
	run := s.featureLocked(feature)
	state := run.state
	s.mu.Unlock()

	return BatchView{
		State: state,
		Keys:  run.batch.Keys(),
		Items: run.batch.Snapshot(),
	}
}

// Variant returns the image produced for key.
func (s *Session) Variant(feature chat.Feature, key string) (filehandler.Image, error) {
	s.mu.Lock()
	run := s.featureLocked(feature)
	s.mu.Unlock()

	item, ok := run.batch.Get(key)
	if !ok {
		return filehandler.Image{}, fmt.Errorf("%w: %s", ErrUnknownVariant, key)
	}
	if item.Status != dispatch.StatusDone {
		return filehandler.Image{}, fmt.Errorf("%w: %s is %s", ErrVariantNotReady, key, item.Status)
	}
	return item.Value, nil
}

// CommitVariant commits one finished variant to history.
func (s *Session) CommitVariant(feature chat.Feature, key string) (history.Entry, error) {
	img, err := s.Variant(feature, key)
	if err != nil {
		return history.Entry{}, err
	}
	e, err := s.dispatcher.CommitImage(string(feature)+":"+key, img)
	if err != nil {
		return history.Entry{}, err
	}
	log.Info().
		Str("session", s.ID).
		Str("feature", string(feature)).
		Str("variant", key).
		Str("entry", e.ID).
		Msg("Variant committed")
	return e, nil
}

// SelectThemes records the user's variant selection.
func (s *Session) SelectThemes(feature chat.Feature, themes []string) (FeatureState, error) {
	return s.apply(feature, Event{Kind: EventSelectTheme, Themes: themes})
}

// Back returns a feature from its results to theme selection.
func (s *Session) Back(feature chat.Feature) (FeatureState, error) {
	return s.apply(feature, Event{Kind: EventBack})
}

func (s *Session) apply(feature chat.Feature, ev Event) (FeatureState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := s.featureLocked(feature)
	next, err := run.state.Apply(ev)
	if err != nil {
		return run.state, err
	}
	run.state = next
	return next, nil
}

func (s *Session) featureLocked(feature chat.Feature) *featureRun {
	run, ok := s.features[feature]
	if !ok {
		run = &featureRun{batch: dispatch.NewBatch[string, filehandler.Image](0)}
		s.features[feature] = run
	}
	return run
}

// Info is the JSON summary of a session.
type Info struct {
	ID        string                     `json:"id"`
	Name      string                     `json:"name"`
	CreatedAt time.Time                  `json:"createdAt"`
	Source    filehandler.Image          `json:"source"`
	SizeBytes int                        `json:"sizeBytes"`
	Metadata  *filehandler.ImageMetadata `json:"metadata,omitempty"`
	Summary   string                     `json:"summary,omitempty"`
	State     dispatch.State             `json:"state"`
}

// Info returns the session summary.
func (s *Session) Info() Info {
	return Info{
		ID:        s.ID,
		Name:      s.Name,
		CreatedAt: s.CreatedAt,
		Source:    s.Source,
		SizeBytes: s.Source.Size(),
		Metadata:  s.Metadata,
		Summary:   s.Metadata.Summary(),
		State:     s.State(),
	}
}
