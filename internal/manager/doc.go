// Package manager is the lifecycle coordinator: the single owner of model
// registry state, the active-model marker, and generation admission. It is
// structured into small files by concern:
//
//   - manager.go: core Manager type, Config, constructor, shutdown.
//   - errors.go: error types and predicates (IsModelNotFound, IsNotLoaded, ...).
//   - lifecycle.go: Load/Unload/SetActive transitions and unload finalization.
//   - session.go: generation sessions, handle refcounting, admission gate.
//   - generate.go: buffered and streaming generation entry points.
//   - status.go: List/Health/Status projections.
//   - events.go: lifecycle event names and the publisher interface;
//     eventpub_memory.go and eventpub_redis.go carry the implementations.
//   - metrics.go: Prometheus instruments.
//
// All registry mutation goes through this package. Transitions on one model
// id are totally ordered; transitions on different ids proceed
// independently. Generation sessions capture their own handle reference, so
// an unload waits for in-flight sessions instead of invalidating them.
package manager
