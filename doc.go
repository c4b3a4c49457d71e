// Package conduit provides an in-process job-dispatch and event-notification
// runtime for Go. It decouples what should happen (state coordination) from
// how it happens (task execution): callers submit typed jobs, the runtime
// routes each job to exactly one registered handler, executes it under
// uniform policies (timeout, retry, cancellation, caching), and publishes
// exactly one terminal domain event per job onto a shared notification bus.
//
// Conduit is a library, not a service. Import it, build an engine from a
// bus and a dispatcher, and register handlers as ordinary Go functions.
//
// # Quick Start
//
//	b := bus.New(logger)
//	eng, err := engine.Build(b, logger)
//	engine.Register(eng, job.NewDefinition("fetch-profile", fetchProfile))
//	h, err := engine.Dispatch(context.Background(), eng, "fetch-profile", req)
//	ev, err := h.Await(ctx)
//
// # Architecture
//
// Events carry a correlation identifier matching the job that produced
// them, so coordinators distinguish results they requested (direct) from
// results originating elsewhere (passive). Each bus instance is isolated:
// an event published on one scoped bus is never observed on another.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package conduit
