// Package engine implements cadence's cooperative scheduling core.
//
// The core ticks many long-lived entities forward in time without letting
// one slow entity delay another. It has three pieces:
//
//   - Clock: the tick source. Wall-clock time is the only external input;
//     nothing in the core polls real I/O on its own.
//   - Unit: anything that, given the current time, may do some work and
//     return events. Each unit carries a minimum re-fire interval enforced
//     by a Gate.
//   - Runner: one goroutine loop per unit. A stalled tick (for example an
//     outbound fetch that hangs) only holds up its own runner.
//
// ARCHITECTURE:
//
// One loop per entity, not one shared loop:
// Every entity container gets its own Runner. Runners share the Clock and
// nothing else, so there is no ordering between entities and none is needed.
//
// Strictly sequential ticks per unit:
// A runner never starts tick k+1 before tick k returns. Units therefore
// never see interleaved mutations from their own scheduler and need no
// locking against themselves.
//
// Cooperative stop:
// Stop never interrupts an in-flight tick. It arms a flag that the loop
// consumes at its next boundary and hands back a channel that closes once
// the loop has returned.
//
// Log and continue:
// A failed tick is reported and logged, and the runner keeps looping. A
// transient failure in one tick must not stop the next tick from trying.
package engine
