package worker

import "fmt"

// Action is what a worker does in one iteration of its loop.
type Action int

const (
	Admit Action = iota
	Retire
	Search
)

func (a Action) String() string {
	switch a {
	case Admit:
		return "admit"
	case Retire:
		return "retire"
	case Search:
		return "search"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Outcome describes how an action ended.
type Outcome string

const (
	// Succeeded means a tag was admitted or retired, or a search found its tag.
	Succeeded Outcome = "succeeded"
	// Missed means the action had nothing to do: another worker admitted the
	// eligible tag first, nothing was pending, or a search came up empty.
	Missed Outcome = "missed"
)

// Observer is notified of every action a worker completes. It is called from
// the worker goroutines concurrently.
type Observer interface {
	Acted(worker int, action Action, outcome Outcome)
}
