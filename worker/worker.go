package worker

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/notorious-go/giftchain/admission"
)

// maxIdle is the number of consecutive retire attempts that found nothing
// pending after which a worker admits instead, whatever its policy says.
const maxIdle = 2

// boundedPatience bounds the admit attempts of a worker without Patience on a
// Store bounded by admission.WithMaxPending, so that it comes back to retire
// instead of waiting for room that only it could make.
const boundedPatience = time.Millisecond

// Stats counts the actions of one worker.
type Stats struct {
	ID       int
	Admitted int
	Retired  int
	Searches int
	Found    int
	Missed   int
}

// Worker applies actions to a shared Store until every tag has been admitted
// and retired.
type Worker struct {
	ID    int
	Store *admission.Store

	// Policy chooses the actions. It is ignored when Script is set.
	Policy Policy
	// Script, if not nil, lists the tags this worker admits, in order, before it
	// starts retiring.
	Script []admission.Tag

	// Patience bounds every single admit attempt. A worker parked on a full
	// Store (see admission.WithMaxPending) gives up after Patience and goes on
	// retiring. Zero means admit attempts on an unbounded Store are only
	// bounded by the run's context, and a short default on a bounded one.
	Patience time.Duration

	// Logger defaults to logrus.StandardLogger().
	Logger   logrus.FieldLogger
	Observer Observer
}

// Run executes the worker loop until the Store is done or ctx is done, in
// which case the context's error is returned. A Worker without Script or
// Policy uses RoundRobin.
func (w *Worker) Run(ctx context.Context) (Stats, error) {
	logger := w.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	policy := w.Policy
	if policy == nil {
		policy = RoundRobin()(w.ID)
	}
	l := &loop{
		Worker: w,
		policy: policy,
		log:    logger.WithField("worker", w.ID),
		stats:  Stats{ID: w.ID},
	}
	var err error
	if w.Script != nil {
		err = l.runScript(ctx)
	} else {
		err = l.run(ctx)
	}
	return l.stats, err
}

// loop holds the state of one Run.
type loop struct {
	*Worker
	policy Policy
	log    logrus.FieldLogger
	stats  Stats
	idle   int
}

func (l *loop) run(ctx context.Context) error {
	for !l.Store.Done() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if l.Store.Closed() {
			if err := l.drain(ctx); err != nil {
				return err
			}
			continue
		}

		action := l.policy.Next()
		if action == Retire && l.idle >= maxIdle {
			action = Admit
		}
		var err error
		switch action {
		case Admit:
			_, err = l.admit(ctx, l.Store.Next())
		case Retire:
			err = l.tryRetire()
		case Search:
			l.search(l.policy.SearchTag(l.Store.Capacity()))
		}
		if err != nil {
			return err
		}
	}
	l.log.WithFields(logrus.Fields{
		"admitted": l.stats.Admitted,
		"retired":  l.stats.Retired,
	}).Debug("worker finished")
	return nil
}

func (l *loop) runScript(ctx context.Context) error {
	for _, tag := range l.Script {
		for {
			admitted, err := l.admit(ctx, tag)
			if err != nil {
				return err
			}
			if admitted {
				break
			}
			// The tag is not eligible yet, or the Store is full. Make room while
			// waiting, so that scripted workers cannot block each other.
			if err := l.tryRetire(); err != nil {
				return err
			}
		}
	}
	for !l.Store.Done() {
		if err := l.drain(ctx); err != nil {
			return err
		}
	}
	return nil
}

// admit tries to admit tag. It reports whether the tag was admitted; losing a
// race or running out of patience is not an error.
func (l *loop) admit(ctx context.Context, tag admission.Tag) (bool, error) {
	actx := ctx
	if patience := l.patience(); patience > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, patience)
		defer cancel()
	}

	err := l.Store.Admit(actx, tag)
	switch {
	case err == nil:
		l.stats.Admitted++
		l.idle = 0
		l.log.WithField("tag", tag).Debug("admitted tag")
		l.observe(Admit, Succeeded)
		return true, nil
	case errors.Is(err, admission.ErrPassed), errors.Is(err, admission.ErrClosed):
		if l.Script != nil {
			// A scripted tag is owned by this worker alone.
			return false, err
		}
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
	default:
		return false, err
	}
	l.stats.Missed++
	l.observe(Admit, Missed)
	return false, nil
}

func (l *loop) patience() time.Duration {
	if l.Patience == 0 && l.Store.MaxPending() > 0 {
		return boundedPatience
	}
	return l.Patience
}

func (l *loop) tryRetire() error {
	tag, err := l.Store.TryRetire()
	switch {
	case err == nil:
		l.retired(tag)
	case errors.Is(err, admission.ErrEmpty), errors.Is(err, admission.ErrExhausted):
		l.idle++
		l.stats.Missed++
		l.observe(Retire, Missed)
	default:
		return err
	}
	return nil
}

// drain retires one tag, parking while nothing is pending. Once the producer
// phase is closed the sequence only shrinks, so drain never parks for long.
func (l *loop) drain(ctx context.Context) error {
	tag, err := l.Store.Retire(ctx)
	switch {
	case err == nil:
		l.retired(tag)
	case errors.Is(err, admission.ErrExhausted):
	default:
		return err
	}
	return nil
}

func (l *loop) retired(tag admission.Tag) {
	l.stats.Retired++
	l.idle = 0
	l.log.WithField("tag", tag).Debug("retired tag")
	l.observe(Retire, Succeeded)
}

func (l *loop) search(tag admission.Tag) {
	l.stats.Searches++
	found := l.Store.Search(tag)
	l.log.WithFields(logrus.Fields{"tag": tag, "found": found}).Debug("searched tag")
	if found {
		l.stats.Found++
		l.observe(Search, Succeeded)
	} else {
		l.observe(Search, Missed)
	}
}

func (l *loop) observe(a Action, o Outcome) {
	if l.Observer != nil {
		l.Observer.Acted(l.ID, a, o)
	}
}
