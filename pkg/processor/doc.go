// Package processor provides the contracts composed by Relay chains and executors.
//
// A pipeline is a list of steps. A plain step is a Processor: it receives
// an event and returns the event to hand to the next step. An intercepting
// step is an Interceptor: it receives the event together with the rest of
// the pipeline (next) and decides itself whether to continue.
//
// Every single-processor call made by an executor goes through a Template,
// which is where cross-cutting behaviour (tracing, retries, panic recovery)
// is attached. Lifecycle phases are optional interfaces (Initialiser,
// Starter, Stopper, Disposer) checked with the *IfNeeded helpers.
package processor
