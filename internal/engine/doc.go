// Package engine runs the engine's recurring jobs.
//
// A job is a named function with an interval: the convergence tick, and one
// claim job per reporting agent. Engine.Run starts every job in its own
// goroutine under one errgroup and returns when the context is cancelled.
//
// Jobs share nothing in memory. Everything they coordinate on lives in the
// store, behind unique constraints and guarded updates, so two engines
// pointed at the same database are as safe as one.
//
// ERROR HANDLING: a failing run is logged with the job name and counted;
// the job runs again at its next interval. There is no retry loop inside a
// run. A panic inside a run is recovered, logged, and treated the same way.
//
// Ticks of one job never overlap within a process: a run that outlasts its
// interval delays the next run rather than starting a second one.
package engine
