// Package job defines the immutable request-for-work and its typed
// definition machinery.
//
// A [Job] is created by a coordinator immediately before dispatch and is
// read-only thereafter. It carries its identity (which doubles as the
// correlation ID on its terminal event), the msgpack-encoded payload,
// and the optional execution policies: cancellation token, timeout,
// retry policy, and data strategy.
//
// A [Definition] pairs a job type name with a typed handler and, fixed
// at the type level, the event constructor used to report its result —
// so every job has exactly one corresponding event constructor. The
// [Registry] holds type-erased handlers; [RegisterDefinition] performs
// the erasure by closing over msgpack encode/decode and the typed
// handler.
package job
