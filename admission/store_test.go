package admission_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notorious-go/giftchain/admission"
	"github.com/notorious-go/giftchain/admission/admissiontest"
)

// park is how long a test lets a goroutine sit in a wait that must not finish.
const park = 50 * time.Millisecond

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), admissiontest.Timeout)
	t.Cleanup(cancel)
	return ctx
}

func TestAdmitRejectsOutOfRange(t *testing.T) {
	store := admission.New(3)
	for _, tag := range []admission.Tag{-1, 3, 100} {
		err := store.Admit(testContext(t), tag)
		assert.ErrorIs(t, err, admission.ErrInvalidTag, "tag %v", tag)
	}
	admitted, retired := store.Counts()
	assert.Zero(t, admitted)
	assert.Zero(t, retired)
	assert.Zero(t, store.Len())
}

func TestAdmitRejectsPassedTags(t *testing.T) {
	ctx := testContext(t)
	store := admission.New(3)
	require.NoError(t, store.Admit(ctx, 0))
	require.NoError(t, store.Admit(ctx, 1))

	assert.ErrorIs(t, store.Admit(ctx, 0), admission.ErrPassed)
	assert.ErrorIs(t, store.Admit(ctx, 1), admission.ErrPassed)
	assert.Equal(t, []admission.Tag{0, 1}, store.Snapshot())

	require.NoError(t, store.Admit(ctx, 2))
	assert.True(t, store.Closed())
	for tag := range admission.Tag(3) {
		assert.ErrorIs(t, store.Admit(ctx, tag), admission.ErrClosed)
	}
	admitted, _ := store.Counts()
	assert.Equal(t, 3, admitted)
}

func TestAdmitParksUntilEligible(t *testing.T) {
	store := admission.New(3)

	ctx, cancel := context.WithTimeout(t.Context(), park)
	defer cancel()
	err := store.Admit(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, admission.Tag(0), store.Next())
	assert.Zero(t, store.Len())
}

func TestAdmitOutOfOrderCallers(t *testing.T) {
	ctx := testContext(t)
	store := admission.New(3)

	var wg sync.WaitGroup
	for _, tag := range []admission.Tag{2, 1} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.Admit(ctx, tag))
		}()
	}
	// Neither parked caller may get in before tag 0.
	time.Sleep(park)
	assert.Zero(t, store.Len())

	require.NoError(t, store.Admit(ctx, 0))
	wg.Wait()
	assert.Equal(t, []admission.Tag{0, 1, 2}, store.Snapshot())
}

// Two producers admit interleaved tags; whatever the interleaving, the
// sequence ends up as 0..4 and retirements come out in the same order.
func TestTwoProducerScenario(t *testing.T) {
	for range 50 {
		ctx := testContext(t)
		var rec admissiontest.Recorder
		store := admission.New(5, admission.WithObserver(&rec))

		var wg sync.WaitGroup
		for _, script := range [][]admission.Tag{{0, 2, 4}, {1, 3}} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for _, tag := range script {
					assert.NoError(t, store.Admit(ctx, tag))
				}
			}()
		}
		wg.Wait()
		require.Equal(t, []admission.Tag{0, 1, 2, 3, 4}, store.Snapshot())

		for want := range admission.Tag(5) {
			tag, err := store.Retire(ctx)
			require.NoError(t, err)
			assert.Equal(t, want, tag)
		}
		assert.True(t, store.Done())
		assert.NoError(t, store.Verify())
		rec.Check(t, 5)
	}
}

func TestSingleTagLifecycle(t *testing.T) {
	ctx := testContext(t)
	store := admission.New(1)

	require.NoError(t, store.Admit(ctx, 0))
	assert.True(t, store.Search(0))

	tag, err := store.Retire(ctx)
	require.NoError(t, err)
	assert.Equal(t, admission.Tag(0), tag)
	assert.False(t, store.Search(0))
	assert.True(t, store.Done())
}

func TestSearchNeverParks(t *testing.T) {
	ctx := testContext(t)
	store := admission.New(10)
	for tag := range admission.Tag(4) {
		require.NoError(t, store.Admit(ctx, tag))
	}
	_, err := store.TryRetire()
	require.NoError(t, err)

	assert.False(t, store.Search(0))
	assert.True(t, store.Search(1))
	assert.True(t, store.Search(3))
	assert.False(t, store.Search(4))
	assert.False(t, store.Search(-1))
	assert.False(t, store.Search(42))
}

func TestRetireParksUntilAdmitted(t *testing.T) {
	ctx := testContext(t)
	store := admission.New(2)

	got := make(chan admission.Tag)
	go func() {
		tag, err := store.Retire(ctx)
		assert.NoError(t, err)
		got <- tag
	}()

	select {
	case tag := <-got:
		t.Fatalf("retired %v from an empty store", tag)
	case <-time.After(park):
	}

	require.NoError(t, store.Admit(ctx, 0))
	assert.Equal(t, admission.Tag(0), <-got)
}

func TestRetireWakesWhenExhausted(t *testing.T) {
	ctx := testContext(t)
	store := admission.New(1)

	// Both retirers park on the empty store. The single admission feeds one of
	// them, the other must learn that nothing else will ever arrive.
	results := make(chan error, 2)
	for range 2 {
		go func() {
			_, err := store.Retire(ctx)
			results <- err
		}()
	}
	time.Sleep(park)
	require.NoError(t, store.Admit(ctx, 0))

	var errs []error
	for range 2 {
		errs = append(errs, <-results)
	}
	assert.ElementsMatch(t, []error{nil, admission.ErrExhausted}, errs)
	assert.True(t, store.Done())
}

func TestRetireTimeout(t *testing.T) {
	store := admission.New(1)
	ctx, cancel := context.WithTimeout(t.Context(), park)
	defer cancel()
	_, err := store.Retire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTryRetire(t *testing.T) {
	ctx := testContext(t)
	store := admission.New(1)

	_, err := store.TryRetire()
	assert.ErrorIs(t, err, admission.ErrEmpty)

	require.NoError(t, store.Admit(ctx, 0))
	tag, err := store.TryRetire()
	require.NoError(t, err)
	assert.Equal(t, admission.Tag(0), tag)

	_, err = store.TryRetire()
	assert.ErrorIs(t, err, admission.ErrExhausted)
}

func TestMaxPending(t *testing.T) {
	ctx := testContext(t)
	store := admission.New(3, admission.WithMaxPending(1))
	assert.Equal(t, 1, store.MaxPending())
	assert.Zero(t, admission.New(3).MaxPending())
	require.NoError(t, store.Admit(ctx, 0))

	// Tag 1 is eligible but there is no room for it.
	short, cancel := context.WithTimeout(ctx, park)
	defer cancel()
	assert.ErrorIs(t, store.Admit(short, 1), context.DeadlineExceeded)

	admitted := make(chan error)
	go func() {
		admitted <- store.Admit(ctx, 1)
	}()
	tag, err := store.Retire(ctx)
	require.NoError(t, err)
	assert.Equal(t, admission.Tag(0), tag)
	require.NoError(t, <-admitted)
	assert.Equal(t, []admission.Tag{1}, store.Snapshot())
}

func TestWaitBarrier(t *testing.T) {
	ctx := testContext(t)
	store := admission.New(2)
	require.NoError(t, store.Admit(ctx, 0))
	require.NoError(t, store.Admit(ctx, 1))

	// Every tag is admitted, but the run is not over until both are retired.
	short, cancel := context.WithTimeout(ctx, park)
	defer cancel()
	assert.ErrorIs(t, store.Wait(short), context.DeadlineExceeded)

	done := make(chan error)
	go func() {
		done <- store.Wait(ctx)
	}()
	for range 2 {
		_, err := store.Retire(ctx)
		require.NoError(t, err)
	}
	assert.NoError(t, <-done)
}

func TestZeroCapacity(t *testing.T) {
	store := admission.New(0)
	assert.True(t, store.Done())
	assert.NoError(t, store.Wait(testContext(t)))
	assert.ErrorIs(t, store.Admit(testContext(t), 0), admission.ErrInvalidTag)
	_, err := store.Retire(testContext(t))
	assert.ErrorIs(t, err, admission.ErrExhausted)
}

func TestNegativeCapacityPanics(t *testing.T) {
	assert.Panics(t, func() { admission.New(-1) })
}

// Many goroutines race to admit whatever tag is eligible and to retire whatever
// is pending. Every tag must still be admitted and retired exactly once.
func TestConcurrentProducersAndConsumers(t *testing.T) {
	const (
		capacity = 500
		workers  = 8
	)
	ctx := testContext(t)
	var rec admissiontest.Recorder
	store := admission.New(capacity, admission.WithObserver(&rec), admission.WithMaxPending(16))

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; !store.Done() && ctx.Err() == nil; i++ {
				if (i+w)%2 == 0 && !store.Closed() {
					short, cancel := context.WithTimeout(ctx, time.Millisecond)
					_ = store.Admit(short, store.Next())
					cancel()
					continue
				}
				if _, err := store.TryRetire(); err != nil && err != admission.ErrEmpty && err != admission.ErrExhausted {
					t.Errorf("retire: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	require.NoError(t, store.Wait(ctx))
	assert.NoError(t, store.Verify())
	admitted, retired := store.Counts()
	assert.Equal(t, capacity, admitted)
	assert.Equal(t, capacity, retired)
	rec.Check(t, capacity)
}
