// Package entity composes the per-entity units into a Container and runs a
// Population of them.
//
// A Container owns one callback registry, one change tracker, any number of
// attached agents and an event outbox. It is itself an engine.Unit: each
// tick runs registry, tracker and agents strictly in that order, each behind
// its own gate, and publishes the combined events to the outbox.
//
// A Population maps entity ids to Containers, gives every Container its own
// engine.Runner and persists the durable parts of the population through a
// snapshot.Store. Business logic never touches Containers directly; it goes
// through a Handle.
package entity
