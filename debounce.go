package keel

import (
	"context"
	"sync"
	"time"
)

// debouncer owns the pending debounce jobs for one store, keyed by the
// caller-supplied debounce key. Scheduling under a key cancels the
// previous pending job for that key (cancel-then-delay).
type debouncer[S any] struct {
	store *Store[S]

	mu   sync.Mutex
	gen  uint64
	jobs map[string]*debounceJob
}

type debounceJob struct {
	gen    uint64
	cancel context.CancelFunc
}

func newDebouncer[S any](store *Store[S]) *debouncer[S] {
	return &debouncer[S]{
		store: store,
		jobs:  make(map[string]*debounceJob),
	}
}

// schedule implements the debounce protocol:
//  1. Cancel any in-flight job registered under this key.
//  2. Wait the delay, then re-read the CURRENT published state (not the
//     state captured at dispatch time) and run the wrapped effect.
//  3. Route the result through the same feedback path as an immediate
//     effect, so OnSideEffectResult and interpretation apply unchanged.
//  4. Deregister only if this job is still the one registered under the
//     key: a stale completion of a cancelled job must not evict its
//     newer successor.
func (d *debouncer[S]) schedule(ctx context.Context, eff *DebouncedEffect[S], intent Intent) {
	jobCtx, cancel := context.WithCancel(ctx)

	d.mu.Lock()
	d.gen++
	job := &debounceJob{gen: d.gen, cancel: cancel}
	if prev, ok := d.jobs[eff.Key()]; ok {
		prev.cancel()
	}
	d.jobs[eff.Key()] = job
	d.mu.Unlock()

	d.store.pending.Add(1)
	go func() {
		defer d.store.pending.Add(-1)
		defer d.remove(eff.Key(), job)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				d.store.reportError(&PanicError{Stage: "effect", Value: r})
			}
		}()

		timer := time.NewTimer(eff.Delay())
		defer timer.Stop()
		select {
		case <-jobCtx.Done():
			return
		case <-timer.C:
		}

		state := d.store.State()
		result := eff.Effect().Run(jobCtx, state, intent)
		if jobCtx.Err() != nil {
			// Superseded or store closed while running; drop the result so
			// at most one triggered run per burst completes.
			return
		}
		d.store.feedback(result, intent)
	}()
}

// remove deregisters job unless a newer job has replaced it under key.
func (d *debouncer[S]) remove(key string, job *debounceJob) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.jobs[key]; ok && cur.gen == job.gen {
		delete(d.jobs, key)
	}
}

// cancelAll cancels every pending job. Called on store close.
func (d *debouncer[S]) cancelAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, job := range d.jobs {
		job.cancel()
	}
}

// pendingCount reports the number of registered jobs. Test hook.
func (d *debouncer[S]) pendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.jobs)
}
