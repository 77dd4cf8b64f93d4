// Package admissiontest provides utilities for testing code built on
// admission.Store. It offers a Recorder that observes a Store and verifies the
// ordering guarantees of a complete run, and a Run helper that drives a Store
// from scripted producers.
//
// # Example Usage
//
// Record a run and check that every tag was admitted and retired exactly once,
// in ascending order:
//
//	var rec admissiontest.Recorder
//	store := admission.New(5, admission.WithObserver(&rec))
//	admissiontest.Run(t, store, [][]admission.Tag{{0, 2, 4}, {1, 3}})
//	rec.Check(t, 5)
//
// The scripts are started in reverse order to stress the admission protocol:
// the script holding tag 0 is the last one to start.
package admissiontest

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/notorious-go/giftchain/admission"
)

// Timeout bounds every wait performed by Run. A Store that needs longer than
// this to make progress is considered deadlocked.
var Timeout = 10 * time.Second

// Recorder is an admission.Observer that remembers every admission and
// retirement in the order the Store performed them.
//
// The zero Recorder is ready to use.
type Recorder struct {
	mu          sync.Mutex
	admissions  []admission.Tag
	retirements []admission.Tag
}

func (r *Recorder) Admitted(tag admission.Tag, _ int) {
	r.mu.Lock()
	r.admissions = append(r.admissions, tag)
	r.mu.Unlock()
}

func (r *Recorder) Retired(tag admission.Tag, _ int) {
	r.mu.Lock()
	r.retirements = append(r.retirements, tag)
	r.mu.Unlock()
}

// Admissions returns the admitted tags in admission order.
func (r *Recorder) Admissions() []admission.Tag {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.admissions)
}

// Retirements returns the retired tags in retirement order.
func (r *Recorder) Retirements() []admission.Tag {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.retirements)
}

// Check verifies that a complete run over capacity tags was recorded:
//
//   - Every tag in [0, capacity) was admitted exactly once, in ascending order.
//   - Every tag was retired exactly once, in the same order it was admitted.
//
// Any violation is reported as a test error.
func (r *Recorder) Check(t testing.TB, capacity int) {
	t.Helper()
	checkSequence(t, "admission", r.Admissions(), capacity)
	checkSequence(t, "retirement", r.Retirements(), capacity)
}

// checkSequence verifies that got is exactly 0, 1, ..., capacity-1.
func checkSequence(t testing.TB, kind string, got []admission.Tag, capacity int) {
	t.Helper()

	seen := make(map[admission.Tag]int, len(got))
	for i, tag := range got {
		if prev, dup := seen[tag]; dup {
			t.Errorf("%v of tag %v at position %v repeats position %v", kind, tag, i, prev)
			continue
		}
		seen[tag] = i
		if tag != admission.Tag(i) {
			t.Errorf("%v at position %v is tag %v, want %v", kind, i, tag, i)
		}
	}
	for tag := range admission.Tag(capacity) {
		if _, ok := seen[tag]; !ok {
			t.Errorf("tag %v never saw its %v", tag, kind)
		}
	}
}

// Run admits the tags of every script concurrently, one goroutine per script,
// and then retires everything the scripts admitted. Each script admits its tags
// in the given order. Scripts are spawned in reverse order.
//
// Nothing is retired before every script has finished, so the Store must not be
// bounded by admission.WithMaxPending below the total number of scripted tags.
//
// Every wait is bounded by Timeout, so a deadlocked Store fails the test
// instead of hanging it. Run returns the retired tags in retirement order.
func Run(t *testing.T, store *admission.Store, scripts [][]admission.Tag) []admission.Tag {
	t.Helper()

	ctx, cancel := context.WithTimeout(t.Context(), Timeout)
	defer cancel()

	var total int
	var wg sync.WaitGroup
	for i, script := range slices.Backward(scripts) {
		total += len(script)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, tag := range script {
				if err := store.Admit(ctx, tag); err != nil {
					t.Errorf("script %v: admit %v: %v", i, tag, err)
					return
				}
				t.Logf("script %v admitted tag %v", i, tag)
			}
		}()
	}
	wg.Wait()

	var retired []admission.Tag
	for range total {
		tag, err := store.Retire(ctx)
		if err != nil {
			t.Errorf("retire: %v", err)
			break
		}
		retired = append(retired, tag)
	}
	return retired
}
