package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

const (
	DefaultQuietPeriod = 1500 * time.Millisecond
	autosaveTimeout    = 15 * time.Second
)

// DraftSaver persists one draft revision. *Client implements it.
type DraftSaver interface {
	SaveDraft(ctx context.Context, id uuid.UUID, baseRevision int64, payload json.RawMessage) (*Draft, error)
}

type AutosaveOption func(*DraftAutosaver)

// WithQuietPeriod sets how long edits must pause before a save.
func WithQuietPeriod(d time.Duration) AutosaveOption {
	return func(a *DraftAutosaver) { a.quiet = d }
}

// OnSaved is called after the latest payload reached the server.
func OnSaved(fn func(*Draft)) AutosaveOption {
	return func(a *DraftAutosaver) { a.onSaved = fn }
}

// OnSaveError is called when a background save fails. The payload stays
// pending and goes out with the next save.
func OnSaveError(fn func(error)) AutosaveOption {
	return func(a *DraftAutosaver) { a.onError = fn }
}

// DraftAutosaver saves an encounter draft after edits go quiet. At most one
// save is in flight; edits made meanwhile are sent together in one follow-up
// save. When the server reports a newer revision the local payload is saved
// again on top of it.
type DraftAutosaver struct {
	saver       DraftSaver
	encounterID uuid.UUID
	quiet       time.Duration
	onSaved     func(*Draft)
	onError     func(error)

	mu       sync.Mutex
	timer    *time.Timer
	pending  json.RawMessage
	dirty    bool
	revision int64
	saving   bool
	done     chan struct{}
	closed   bool
}

// NewDraftAutosaver starts from revision, the one the editor loaded (0 for
// a fresh draft).
func NewDraftAutosaver(saver DraftSaver, encounterID uuid.UUID, revision int64, opts ...AutosaveOption) *DraftAutosaver {
	a := &DraftAutosaver{
		saver:       saver,
		encounterID: encounterID,
		quiet:       DefaultQuietPeriod,
		revision:    revision,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Update records the latest editor state and restarts the quiet period.
func (a *DraftAutosaver) Update(payload json.RawMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.pending = append(json.RawMessage(nil), payload...)
	a.dirty = true
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.quiet, a.fire)
}

// Revision is the last revision the server acknowledged.
func (a *DraftAutosaver) Revision() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.revision
}

// Pending reports whether there are edits the server has not seen.
func (a *DraftAutosaver) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dirty || a.saving
}

// Flush saves pending edits now and waits for any save in flight.
func (a *DraftAutosaver) Flush(ctx context.Context) error {
	for {
		a.mu.Lock()
		if a.timer != nil {
			a.timer.Stop()
		}
		if a.saving {
			done := a.done
			a.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		dirty := a.dirty
		a.mu.Unlock()
		if !dirty {
			return nil
		}
		if err := a.save(ctx); err != nil {
			return err
		}
	}
}

// Close stops the timer. Pending edits are not saved; call Flush first to
// keep them.
func (a *DraftAutosaver) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	if a.timer != nil {
		a.timer.Stop()
	}
}

func (a *DraftAutosaver) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), autosaveTimeout)
	defer cancel()
	_ = a.save(ctx)
}

// save sends pending edits unless a save is already running, in which case
// that one picks them up.
func (a *DraftAutosaver) save(ctx context.Context) error {
	a.mu.Lock()
	if a.saving || !a.dirty {
		a.mu.Unlock()
		return nil
	}
	a.saving = true
	a.done = make(chan struct{})
	retried := false
	for {
		payload, base := a.pending, a.revision
		a.dirty = false
		a.mu.Unlock()

		d, err := a.saver.SaveDraft(ctx, a.encounterID, base, payload)

		a.mu.Lock()
		var conflict *DraftConflict
		if errors.As(err, &conflict) && !retried {
			a.revision = conflict.Revision
			a.dirty = true
			retried = true
			continue
		}
		if err != nil {
			a.dirty = true
			a.finish()
			a.mu.Unlock()
			if a.onError != nil {
				a.onError(err)
			}
			return err
		}
		a.revision = d.Revision
		retried = false
		if a.dirty {
			continue
		}
		a.finish()
		a.mu.Unlock()
		if a.onSaved != nil {
			a.onSaved(d)
		}
		return nil
	}
}

func (a *DraftAutosaver) finish() {
	a.saving = false
	close(a.done)
}
