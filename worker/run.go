package worker

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/notorious-go/giftchain/admission"
)

// ErrIncomplete is returned by Run when the pool stopped before every tag was
// admitted and retired.
var ErrIncomplete = errors.New("worker: run ended with unretired tags")

// Options configure a pool run.
type Options struct {
	// Workers is the size of the pool. Ignored by RunScript.
	Workers int
	// Policy creates the policy of every worker. Defaults to RoundRobin.
	Policy PolicyFactory
	// Patience bounds every single admit attempt; see Worker.Patience.
	Patience time.Duration
	// Timeout bounds the whole run. Zero means no bound besides ctx.
	Timeout time.Duration

	Logger   logrus.FieldLogger
	Observer Observer
}

// Report summarizes a finished run.
type Report struct {
	Capacity int
	Admitted int
	Retired  int
	Workers  []Stats
	Elapsed  time.Duration
}

// Run drives store with opts.Workers workers until every tag has been both
// admitted and retired.
//
// Run returns an error if a worker fails, if the run exceeds opts.Timeout or
// ctx is done, or if the finished Store violates its invariants. The Report is
// filled in even when an error is returned.
func Run(ctx context.Context, store *admission.Store, opts Options) (Report, error) {
	if opts.Workers < 1 {
		return Report{Capacity: store.Capacity()}, fmt.Errorf("worker: pool needs at least one worker, got %v", opts.Workers)
	}
	policy := opts.Policy
	if policy == nil {
		policy = RoundRobin()
	}
	workers := make([]*Worker, opts.Workers)
	for i := range workers {
		workers[i] = opts.worker(store, i+1)
		workers[i].Policy = policy(i + 1)
	}
	return run(ctx, store, workers, opts)
}

// RunScript drives store with one worker per script. Worker i admits the tags
// of scripts[i] in order, then helps retiring until the run is complete.
//
// Together the scripts must list every tag of the Store exactly once, and each
// script must be ascending; otherwise some tag could never become eligible.
func RunScript(ctx context.Context, store *admission.Store, scripts [][]admission.Tag, opts Options) (Report, error) {
	if err := ValidateScripts(store.Capacity(), scripts); err != nil {
		return Report{Capacity: store.Capacity()}, err
	}
	workers := make([]*Worker, len(scripts))
	for i, script := range scripts {
		workers[i] = opts.worker(store, i+1)
		workers[i].Script = slices.Clone(script)
	}
	return run(ctx, store, workers, opts)
}

// ValidateScripts checks that scripts are ascending and cover the tags
// 0..capacity-1 exactly once.
func ValidateScripts(capacity int, scripts [][]admission.Tag) error {
	if len(scripts) == 0 && capacity > 0 {
		return errors.New("worker: no scripts")
	}
	owner := make(map[admission.Tag]int, capacity)
	for i, script := range scripts {
		for j, tag := range script {
			if tag < 0 || int(tag) >= capacity {
				return errors.Wrapf(admission.ErrInvalidTag, "worker: script %v lists tag %v", i, tag)
			}
			if prev, dup := owner[tag]; dup {
				return fmt.Errorf("worker: tag %v listed by scripts %v and %v", tag, prev, i)
			}
			owner[tag] = i
			if j > 0 && tag < script[j-1] {
				return fmt.Errorf("worker: script %v is not ascending at tag %v", i, tag)
			}
		}
	}
	if len(owner) != capacity {
		return fmt.Errorf("worker: scripts list %v of %v tags", len(owner), capacity)
	}
	return nil
}

func (opts Options) worker(store *admission.Store, id int) *Worker {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Worker{
		ID:       id,
		Store:    store,
		Patience: opts.Patience,
		Logger:   logger,
		Observer: opts.Observer,
	}
}

func run(ctx context.Context, store *admission.Store, workers []*Worker, opts Options) (Report, error) {
	start := time.Now()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	stats := make([]Stats, len(workers))
	g, gctx := errgroup.WithContext(ctx)
	for i, w := range workers {
		g.Go(func() error {
			s, err := w.Run(gctx)
			stats[i] = s
			return errors.Wrapf(err, "worker %v", w.ID)
		})
	}
	err := g.Wait()
	if err == nil {
		// Workers only return once the Store is done; the barrier makes that
		// explicit for callers that inspect the Store afterwards.
		err = errors.Wrap(store.Wait(ctx), "termination barrier")
	}

	report := Report{
		Capacity: store.Capacity(),
		Workers:  stats,
		Elapsed:  time.Since(start),
	}
	report.Admitted, report.Retired = store.Counts()
	if err != nil {
		return report, err
	}
	if err := store.Verify(); err != nil {
		return report, errors.Wrap(err, "store invariants")
	}
	if report.Admitted != report.Capacity || report.Retired != report.Capacity {
		return report, errors.Wrapf(ErrIncomplete, "admitted %v and retired %v of %v tags",
			report.Admitted, report.Retired, report.Capacity)
	}
	return report, nil
}
