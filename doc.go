// Package foodtruck is the runtime scaffold for the food-truck idle game:
// a component lifecycle manager, a publish-subscribe event bus, and a
// diagnostics sink, all driven by a single cooperative scheduler tick.
//
// # Architecture
//
// Game subsystems (economy, production, staff, locations, research) are
// plain Go values that implement lifecycle.Hooks. They register with a
// lifecycle.Manager, declaring which other subsystems they depend on, and
// only reach the READY state once every declared dependency is READY. Once
// running they communicate exclusively through an event.Bus: producers emit
// named events with a payload, consumers register callbacks, and neither
// side knows the other's identity.
//
// The runtime is single-threaded in the logical sense: one sched.Loop owns
// the tick, and each tick drains the bus's deferred-event queue and
// re-checks components that are still waiting on dependencies. "Waiting" is
// always deferral to a future tick, never blocking. All shared registries
// are still mutex-guarded because listener registration and unregistration
// may happen from inside a dispatch callback.
//
// # Packages
//
//   - lifecycle: component state machine, dependency resolution, and
//     per-operation performance instrumentation
//   - event: the publish-subscribe bus with immediate and queued delivery,
//     bounded history, and stats
//   - diag: the structured diagnostics sink the other packages report into
//   - sched: the cooperative tick loop
//   - metric: Prometheus metrics for everything above
//   - config: JSON runtime configuration
//   - errors: classified error handling shared by all packages
//   - pkg/retry: exponential backoff used for bounded re-initialization
//
// Game balance, UI, and persistence live outside this module and interact
// with it only through lifecycle calls and bus events.
package foodtruck
