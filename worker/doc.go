// Package worker drives an admission.Store with a pool of goroutines until
// every tag has been both admitted and retired.
//
// # Worker Loop
//
// Each [Worker] repeatedly asks its [Policy] for an [Action] and applies it to
// the shared Store:
//
//   - Admit: admit the currently eligible tag ([admission.Store.Next]). Losing
//     the race to another worker is not an error.
//   - Retire: retire the head of the sequence if there is one.
//   - Search: look up a tag chosen by the policy.
//
// A worker that keeps finding nothing to retire falls back to admitting, so no
// policy can starve admission. Once the producer phase is closed the worker
// ignores its policy and only retires, until the Store reports that every tag
// has been retired. A worker never exits while tags are still pending.
//
// # Scripted Workers
//
// A Worker with a Script admits exactly the listed tags, in order, and then
// helps retiring. Scripts are how tests and the command line reproduce a
// specific assignment of tags to workers:
//
//	report, err := worker.RunScript(ctx, store, [][]admission.Tag{{0, 2, 4}, {1, 3}}, opts)
//
// # Running a Pool
//
// [Run] starts the pool, waits for the Store's termination barrier and checks
// that the run admitted and retired every tag exactly once. Options.Timeout
// bounds the whole run, so a stuck pool is reported as an error instead of
// hanging.
package worker
