/*
Package engine wires the Index Store, content Store, Governor, Resolver
Chain, Fetcher, Quality Verifier, and Work Queue Scheduler into one runnable
component.

It exposes exactly Start(ctx) error, Shutdown(ctx, grace) error, and a
Handle bundling Enqueue, Observe, and Subscribe — a deliberately small
surface, grounded on a functional-options constructor plus a boot-time
crash-recovery sweep (the only two moving parts a caller needs from an
ingestion pipeline's outer orchestrator). Process-wide singletons are
replaced throughout by explicit, constructed components passed to New.
*/
package engine
