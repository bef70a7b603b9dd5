package wizard

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// Factory builds the Wizard for a kiosk.
type Factory func(kioskID string) (*Wizard, error)

// Registry keeps one Wizard per active kiosk. A kiosk seen for the first time
// is resumed from its persisted session; idle kiosks are dropped by Evict and
// resumed again on their next request.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	factory Factory
	now     func() time.Time
}

// entry is a wizard being built or ready. ready is closed once w or err is
// set.
type entry struct {
	w        *Wizard
	err      error
	ready    chan struct{}
	lastUsed time.Time
}

func NewRegistry(factory Factory) *Registry {
	if factory == nil {
		panic("wizard: registry factory required")
	}
	return &Registry{entries: make(map[string]*entry), factory: factory, now: time.Now}
}

// Get returns the kiosk's wizard, creating and resuming it on first use. The
// resume reads the session backend without holding the registry lock; other
// callers for the same kiosk wait for it.
func (r *Registry) Get(ctx context.Context, kioskID string) (*Wizard, error) {
	kioskID = strings.TrimSpace(kioskID)
	if kioskID == "" {
		return nil, errors.New("wizard: kiosk id required")
	}

	r.mu.Lock()
	if e, ok := r.entries[kioskID]; ok {
		e.lastUsed = r.now()
		r.mu.Unlock()
		select {
		case <-e.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if e.err != nil {
			return nil, e.err
		}
		return e.w, nil
	}
	e := &entry{ready: make(chan struct{}), lastUsed: r.now()}
	r.entries[kioskID] = e
	r.mu.Unlock()

	w, err := r.factory(kioskID)
	if err == nil {
		err = w.Resume(ctx)
	}

	r.mu.Lock()
	if err != nil {
		e.err = err
		if r.entries[kioskID] == e {
			delete(r.entries, kioskID)
		}
	} else {
		e.w = w
	}
	close(e.ready)
	r.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return w, nil
}

// Reset clears the kiosk's session whether or not it has been seen by this
// process. An unseen kiosk is reset through a throwaway wizard and not kept.
func (r *Registry) Reset(ctx context.Context, kioskID, reason string) error {
	kioskID = strings.TrimSpace(kioskID)
	if kioskID == "" {
		return errors.New("wizard: kiosk id required")
	}
	r.mu.Lock()
	_, seen := r.entries[kioskID]
	r.mu.Unlock()

	if seen {
		w, err := r.Get(ctx, kioskID)
		if err != nil {
			return err
		}
		return w.Reset(ctx, reason)
	}
	w, err := r.factory(kioskID)
	if err != nil {
		return err
	}
	return w.Reset(ctx, reason)
}

// Evict drops wizards unused since before cutoff. Wizards with a submit or
// email check in flight are kept.
func (r *Registry) Evict(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, e := range r.entries {
		if e.w == nil || !e.lastUsed.Before(cutoff) || e.w.Busy() {
			continue
		}
		delete(r.entries, id)
		n++
	}
	return n
}

// RunEviction evicts idle wizards every interval until ctx is done.
func (r *Registry) RunEviction(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Evict(r.now().Add(-idle))
		}
	}
}

// Len returns the number of kiosks with a live wizard.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
