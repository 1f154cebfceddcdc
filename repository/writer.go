package repository

import (
	"context"
	"sync"
)

// =============================================================================
// WRITER - One background goroutine per collection
// =============================================================================

// writer serialises the writes of a single collection. dirty holds at most
// one pending signal: a signal that arrives while one is already pending is
// dropped, because the pending write will pick up the newer state anyway.
type writer struct {
	collection Collection
	persist    func(ctx context.Context, c Collection) error

	dirty   chan struct{}
	flushes chan chan struct{}
	quit    chan struct{}

	mu      sync.Mutex
	dropped error // last write's error, cleared by a later success
}

func (r *Repository) startWriters() {
	r.writers = make(map[Collection]*writer, len(Collections))
	for _, c := range Collections {
		w := &writer{
			collection: c,
			persist:    r.persist,
			dirty:      make(chan struct{}, 1),
			flushes:    make(chan chan struct{}),
			quit:       make(chan struct{}),
		}
		r.writers[c] = w
		r.wg.Add(1)
		go w.run(&r.wg)
	}
}

func (w *writer) run(wg *sync.WaitGroup) {
	defer wg.Done()

	// Writes are never cancelled once signalled.
	ctx := context.Background()

	for {
		select {
		case <-w.dirty:
			w.write(ctx)
		case done := <-w.flushes:
			w.drain(ctx)
			close(done)
		case <-w.quit:
			w.drain(ctx)
			return
		}
	}
}

func (w *writer) drain(ctx context.Context) {
	select {
	case <-w.dirty:
		w.write(ctx)
	default:
	}
}

func (w *writer) write(ctx context.Context) {
	err := w.persist(ctx, w.collection)
	w.mu.Lock()
	w.dropped = err
	w.mu.Unlock()
}

func (w *writer) lastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

func (w *writer) signal() {
	select {
	case w.dirty <- struct{}{}:
	default:
	}
}

// flushAndWait returns once every signal sent before the call has been
// written. ctx only bounds the wait, not the write.
func (w *writer) flushAndWait(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case w.flushes <- done:
	case <-w.quit:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *writer) stop() {
	close(w.quit)
}
