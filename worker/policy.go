package worker

import (
	"fmt"
	"math/rand/v2"

	"github.com/notorious-go/giftchain/admission"
)

// Policy chooses the actions of a single worker. A Policy is owned by one
// worker and is never called concurrently.
//
// The correctness of a run never depends on the policy: workers fall back to
// admitting when retiring finds nothing, and drain the Store once the producer
// phase is closed.
type Policy interface {
	// Next returns the action for the next iteration.
	Next() Action
	// SearchTag returns the tag to look up when Next returned Search.
	SearchTag(capacity int) admission.Tag
}

// PolicyFactory creates the Policy of the worker with the given ID.
type PolicyFactory func(worker int) Policy

// Weights are the relative frequencies of the actions chosen by a weighted
// policy.
type Weights struct {
	Admit, Retire, Search int
}

// Validate reports weights that would starve admission or retirement.
func (w Weights) Validate() error {
	if w.Admit < 0 || w.Retire < 0 || w.Search < 0 {
		return fmt.Errorf("worker: negative weight in %+v", w)
	}
	if w.Admit == 0 || w.Retire == 0 {
		return fmt.Errorf("worker: weights %+v never admit or never retire", w)
	}
	return nil
}

// RoundRobin returns a PolicyFactory whose workers cycle through admit, retire
// and search, each worker starting at a different action.
func RoundRobin() PolicyFactory {
	return func(worker int) Policy {
		return &roundRobin{next: worker}
	}
}

type roundRobin struct {
	next   int
	search int
}

func (p *roundRobin) Next() Action {
	a := Action(p.next % 3)
	p.next++
	return a
}

func (p *roundRobin) SearchTag(capacity int) admission.Tag {
	if capacity <= 0 {
		return 0
	}
	tag := admission.Tag(p.search % capacity)
	p.search++
	return tag
}

// Weighted returns a PolicyFactory whose workers pick actions at random with
// the given relative weights. Every worker gets its own generator derived from
// seed and its ID, so a run is reproducible for a fixed seed and schedule.
func Weighted(w Weights, seed uint64) (PolicyFactory, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return func(worker int) Policy {
		return &weighted{
			weights: w,
			rng:     rand.New(rand.NewPCG(seed, uint64(worker))),
		}
	}, nil
}

// Random returns a PolicyFactory that picks every action with equal
// probability.
func Random(seed uint64) PolicyFactory {
	f, _ := Weighted(Weights{Admit: 1, Retire: 1, Search: 1}, seed)
	return f
}

type weighted struct {
	weights Weights
	rng     *rand.Rand
}

func (p *weighted) Next() Action {
	n := p.rng.IntN(p.weights.Admit + p.weights.Retire + p.weights.Search)
	switch {
	case n < p.weights.Admit:
		return Admit
	case n < p.weights.Admit+p.weights.Retire:
		return Retire
	default:
		return Search
	}
}

func (p *weighted) SearchTag(capacity int) admission.Tag {
	if capacity <= 0 {
		return 0
	}
	return admission.Tag(p.rng.IntN(capacity))
}

// ParsePolicy returns the PolicyFactory named by name: "round-robin", "random"
// or "weighted". Weights are only used by "weighted"; seed is ignored by
// "round-robin".
func ParsePolicy(name string, w Weights, seed uint64) (PolicyFactory, error) {
	switch name {
	case "round-robin":
		return RoundRobin(), nil
	case "random":
		return Random(seed), nil
	case "weighted":
		return Weighted(w, seed)
	default:
		return nil, fmt.Errorf("worker: unknown policy %q", name)
	}
}
