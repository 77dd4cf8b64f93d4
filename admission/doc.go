// Package admission provides the Store, a shared sequence of integer tags that
// concurrent producers fill in strictly ascending order and concurrent consumers
// drain in FIFO order, exactly once per tag.
//
// # Admission
//
// A Store is created with a capacity N and accepts the tags 0..N-1. At any
// instant exactly one tag is eligible: the one equal to the number of tags
// admitted so far. Producers may call [Store.Admit] with any tag, in any order,
// from any goroutine. A producer holding an ineligible tag parks until its tag
// becomes eligible and is then appended to the tail of the sequence:
//
//	store := admission.New(5)
//	go store.Admit(ctx, 2) // parks until 0 and 1 are admitted
//	go store.Admit(ctx, 1) // parks until 0 is admitted
//	go store.Admit(ctx, 0) // admitted immediately
//
// A tag that the admitted count has already passed is rejected with
// [ErrPassed], so racing producers that all try to admit [Store.Next] never
// admit the same tag twice. Once all N tags are admitted the producer phase is
// closed and every further call fails with [ErrClosed].
//
// # Retirement
//
// Consumers call [Store.Retire], which parks while the sequence is empty and
// otherwise removes the head of the sequence. The head is always the smallest
// and the oldest admitted tag, so retirements observe exactly the admission
// order. When the producer phase is closed and the sequence is empty, Retire
// returns [ErrExhausted] instead of parking forever. [Store.TryRetire] is the
// non-blocking variant.
//
// # Waiting
//
// Every state change wakes all parked goroutines, which then re-check their own
// predicate. Eligibility is tag-specific, so waking a single waiter could pick
// one whose tag is still ineligible and leave the eligible producer asleep.
//
// Every blocking method takes a context. A parked goroutine returns the
// context's error when it is cancelled or its deadline expires, turning a
// would-be deadlock into an observable failure:
//
//	ctx, cancel := context.WithTimeout(ctx, time.Second)
//	defer cancel()
//	if err := store.Admit(ctx, tag); errors.Is(err, context.DeadlineExceeded) {
//	    // tag never became eligible in time
//	}
//
// [Store.Wait] is the termination barrier: it returns once every tag has been
// both admitted and retired.
package admission
