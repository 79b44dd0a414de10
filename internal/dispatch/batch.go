package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Status is the lifecycle of one batch item.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// ErrBatchRunning is returned by Start when the batch already has items in
// flight.
var ErrBatchRunning = errors.New("batch is still running")

// Task produces one keyed result. Tasks close over the fixed input snapshot
// they operate on.
type Task[V any] func(ctx context.Context) (V, error)

// Item is the state of one key in a batch.
type Item[V any] struct {
	Status   Status        `json:"status"`
	Value    V             `json:"-"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"-"`
}

// Batch tracks a set of independent keyed results.
//
// Items complete in any order. Each item settles to done or error on its
// own; a failure never changes the status of another key and nothing is
// cancelled when one item fails. Results are never committed anywhere by
// the batch itself.
type Batch[K comparable, V any] struct {
	mu          sync.Mutex
	items       map[K]*Item[V]
	order       []K
	concurrency int
	wg          sync.WaitGroup
}

// NewBatch returns an empty batch. concurrency caps how many items run at
// once; concurrency <= 0 sends every item at the same time.
func NewBatch[K comparable, V any](concurrency int) *Batch[K, V] {
	return &Batch[K, V]{
		items:       make(map[K]*Item[V]),
		concurrency: concurrency,
	}
}

// Start marks every key pending and runs the tasks in the background.
// order fixes the key order reported by Keys; keys missing from order are
// appended. Previous results are replaced.
func (b *Batch[K, V]) Start(ctx context.Context, order []K, tasks map[K]Task[V]) error {
	b.mu.Lock()
	for _, it := range b.items {
		if it.Status == StatusPending {
			b.mu.Unlock()
			return ErrBatchRunning
		}
	}

	b.items = make(map[K]*Item[V], len(tasks))
	b.order = b.order[:0]
	for _, k := range order {
		if _, ok := tasks[k]; ok {
			if _, seen := b.items[k]; !seen {
				b.order = append(b.order, k)
				b.items[k] = &Item[V]{Status: StatusPending}
			}
		}
	}
	for k := range tasks {
		if _, seen := b.items[k]; !seen {
			b.order = append(b.order, k)
			b.items[k] = &Item[V]{Status: StatusPending}
		}
	}
	keys := append([]K(nil), b.order...)
	b.wg.Add(1)
	b.mu.Unlock()

	var g errgroup.Group
	if b.concurrency > 0 {
		g.SetLimit(b.concurrency)
	}

	go func() {
		defer b.wg.Done()
		for _, k := range keys {
			k, task := k, tasks[k]
			g.Go(func() error {
				b.run(ctx, k, task)
				// Always nil: per-item errors are recorded on the item and
				// must not affect siblings.
				return nil
			})
		}
		_ = g.Wait()
		log.Debug().Int("items", len(keys)).Msg("Batch settled")
	}()

	return nil
}

func (b *Batch[K, V]) run(ctx context.Context, key K, task Task[V]) {
	start := time.Now()
	value, err := runTask(ctx, task)
	elapsed := time.Since(start)

	b.mu.Lock()
	defer b.mu.Unlock()

	it, ok := b.items[key]
	if !ok {
		return
	}
	it.Duration = elapsed
	if err != nil {
		it.Status = StatusError
		it.Error = Message(err)
		log.Warn().Err(err).Interface("key", key).Dur("duration", elapsed).Msg("Batch item failed")
		return
	}
	it.Status = StatusDone
	it.Value = value
	log.Debug().Interface("key", key).Dur("duration", elapsed).Msg("Batch item done")
}

func runTask[V any](ctx context.Context, task Task[V]) (v V, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Batch task panicked")
			err = errors.New("variant generation crashed")
		}
	}()
	if task == nil {
		return v, errors.New("no task for key")
	}
	return task(ctx)
}

// Wait blocks until every item started so far has settled.
func (b *Batch[K, V]) Wait() {
	b.wg.Wait()
}

// Get returns a copy of the item for key.
func (b *Batch[K, V]) Get(key K) (Item[V], bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	it, ok := b.items[key]
	if !ok {
		return Item[V]{}, false
	}
	return *it, true
}

// Snapshot returns a copy of every item keyed by K.
func (b *Batch[K, V]) Snapshot() map[K]Item[V] {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[K]Item[V], len(b.items))
	for k, it := range b.items {
		out[k] = *it
	}
	return out
}

// Keys returns the keys in the order given to Start.
func (b *Batch[K, V]) Keys() []K {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]K(nil), b.order...)
}

// Len returns the number of items.
func (b *Batch[K, V]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Done reports whether the batch has items and none of them is pending.
func (b *Batch[K, V]) Done() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return false
	}
	for _, it := range b.items {
		if it.Status == StatusPending {
			return false
		}
	}
	return true
}

// Counts returns how many items are in each status.
func (b *Batch[K, V]) Counts() map[Status]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	counts := make(map[Status]int, 3)
	for _, it := range b.items {
		counts[it.Status]++
	}
	return counts
}
