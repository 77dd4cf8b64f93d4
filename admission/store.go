package admission

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Tag identifies one unit of work. A Store with capacity N accepts the tags
// 0..N-1.
type Tag int

// Observer is notified of every admission and retirement, in the exact order in
// which they happen. pending is the length of the sequence after the change.
//
// Observers are called while the Store's lock is held, so they must be quick
// and must never call back into the Store.
type Observer interface {
	Admitted(tag Tag, pending int)
	Retired(tag Tag, pending int)
}

// An Option configures a Store.
type Option func(*Store)

// WithMaxPending bounds the number of admitted but not yet retired tags. When
// the bound is reached, Admit parks even for the eligible tag until a
// retirement makes room. Zero or a negative value means no bound.
func WithMaxPending(n int) Option {
	return func(s *Store) {
		s.maxPending = max(n, 0)
	}
}

// WithObserver registers an Observer for admissions and retirements.
func WithObserver(o Observer) Option {
	return func(s *Store) {
		s.observer = o
	}
}

// Store is the shared sequence of admitted tags together with the counters
// that gate admission. It is safe for concurrent use and must be shared by
// pointer.
//
// The sequence and both counters are guarded by a single lock, because the
// invariant len(sequence) == admitted - retired relates all three.
type Store struct {
	capacity   int
	maxPending int
	observer   Observer

	mu sync.RWMutex
	// seq holds the admitted but not yet retired tags in ascending order.
	seq      []Tag
	admitted int
	retired  int
	// changed is closed and replaced on every state change, waking everybody
	// parked in wait.
	changed chan struct{}
}

// New returns a Store that accepts the tags 0..capacity-1.
//
// New panics if capacity is negative.
func New(capacity int, opts ...Option) *Store {
	if capacity < 0 {
		panic(fmt.Errorf("admission: negative capacity %v", capacity))
	}
	s := &Store{
		capacity: capacity,
		changed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Capacity returns the number of tags the Store accepts.
func (s *Store) Capacity() int {
	return s.capacity
}

// MaxPending returns the bound set by WithMaxPending, or zero if the Store is
// unbounded.
func (s *Store) MaxPending() int {
	return s.maxPending
}

// Admit appends tag to the tail of the sequence. It parks until tag is the
// eligible tag, that is until exactly tag tags have been admitted, and (with
// WithMaxPending) until there is room for one more pending tag.
//
// Admit returns nil if the tag was admitted. It fails immediately with
// ErrInvalidTag for tags outside [0, Capacity()), with ErrClosed once every tag
// has been admitted, and with ErrPassed if tag was admitted before. If ctx is
// done while parked, the context's error is returned and the Store is left
// untouched.
func (s *Store) Admit(ctx context.Context, tag Tag) error {
	if tag < 0 || int(tag) >= s.capacity {
		return fmt.Errorf("%w: %v not in [0, %v)", ErrInvalidTag, tag, s.capacity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		switch {
		case s.admitted >= s.capacity:
			return ErrClosed
		case s.admitted > int(tag):
			return fmt.Errorf("%w: %v", ErrPassed, tag)
		case s.admitted == int(tag) && !s.full():
			s.seq = append(s.seq, tag)
			s.admitted++
			if s.observer != nil {
				s.observer.Admitted(tag, len(s.seq))
			}
			s.broadcast()
			return nil
		}
		if err := s.wait(ctx); err != nil {
			return err
		}
	}
}

// Retire removes and returns the head of the sequence, which is the smallest
// pending tag. It parks while the sequence is empty.
//
// Retire returns ErrExhausted once every tag has been admitted and the sequence
// is empty. If ctx is done while parked, the context's error is returned.
func (s *Store) Retire(ctx context.Context) (Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.seq) == 0 {
		if s.admitted >= s.capacity {
			return 0, ErrExhausted
		}
		if err := s.wait(ctx); err != nil {
			return 0, err
		}
	}
	return s.pop(), nil
}

// TryRetire is like Retire but never parks. It returns ErrEmpty when no tag is
// pending but more may still be admitted.
func (s *Store) TryRetire() (Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.seq) == 0 {
		if s.admitted >= s.capacity {
			return 0, ErrExhausted
		}
		return 0, ErrEmpty
	}
	return s.pop(), nil
}

// Search reports whether tag is currently pending. It never parks; the answer
// may be stale by the time the caller looks at it.
func (s *Store) Search(tag Tag) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, found := slices.BinarySearch(s.seq, tag)
	return found
}

// Counts returns the number of admitted and retired tags.
func (s *Store) Counts() (admitted, retired int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.admitted, s.retired
}

// Next returns the eligible tag. Once every tag has been admitted, Next
// returns Capacity(), which Admit rejects.
func (s *Store) Next() Tag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Tag(s.admitted)
}

// Len returns the number of pending tags.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seq)
}

// Snapshot returns a copy of the pending tags in sequence order.
func (s *Store) Snapshot() []Tag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.seq)
}

// Closed reports whether every tag has been admitted.
func (s *Store) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.admitted >= s.capacity
}

// Done reports whether every tag has been both admitted and retired.
func (s *Store) Done() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.done()
}

// Wait blocks until every tag has been both admitted and retired, or until ctx
// is done.
func (s *Store) Wait(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.done() {
		if err := s.wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Verify checks the Store's invariants and returns an error describing every
// violation, or nil.
func (s *Store) Verify() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result *multierror.Error
	if s.retired > s.admitted {
		result = multierror.Append(result, fmt.Errorf("retired %v tags but admitted only %v", s.retired, s.admitted))
	}
	if s.admitted > s.capacity {
		result = multierror.Append(result, fmt.Errorf("admitted %v tags beyond capacity %v", s.admitted, s.capacity))
	}
	if len(s.seq) != s.admitted-s.retired {
		result = multierror.Append(result, fmt.Errorf("%v tags pending, want admitted-retired = %v", len(s.seq), s.admitted-s.retired))
	}
	// Admissions are strictly ordered and retirements are FIFO, so the pending
	// tags are exactly retired, retired+1, ..., admitted-1.
	for i, tag := range s.seq {
		if want := Tag(s.retired + i); tag != want {
			result = multierror.Append(result, fmt.Errorf("pending tag at position %v is %v, want %v", i, tag, want))
			break
		}
	}
	return result.ErrorOrNil()
}

func (s *Store) done() bool {
	return s.admitted >= s.capacity && s.retired >= s.capacity
}

func (s *Store) full() bool {
	return s.maxPending > 0 && len(s.seq) >= s.maxPending
}

// pop removes the head of the non-empty sequence. The caller must hold the
// lock for writing.
func (s *Store) pop() Tag {
	tag := s.seq[0]
	s.seq[0] = 0
	s.seq = s.seq[1:]
	s.retired++
	if s.observer != nil {
		s.observer.Retired(tag, len(s.seq))
	}
	// Retiring never changes the eligible tag, but it may free room for a
	// bounded producer and it may complete the run for Wait.
	s.broadcast()
	return tag
}

// broadcast wakes every goroutine parked in wait. The caller must hold the
// lock for writing.
func (s *Store) broadcast() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// wait releases the lock until the next broadcast or until ctx is done, and
// reacquires it before returning. The caller must hold the lock for writing
// and must re-check its predicate afterwards.
func (s *Store) wait(ctx context.Context) error {
	changed := s.changed
	s.mu.Unlock()
	defer s.mu.Lock()
	select {
	case <-changed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
