/*
Package types defines the core data structures shared across the ingestion
engine.

This package contains the domain model described by the Index Store, the
Resolver Chain, the Robust Fetcher, the Quality Verifier, and the Work
Queue: references, locators, artifacts, resolver descriptors, host budgets,
and queue entries. It has no behavior of its own — every other package
imports these types and operates on them.

# Core Types

Reference is the unit of work: a canonicalized content locator tracked from
enqueue through one of three terminal outcomes (full content archived, a
fallback version archived, or a permanent failure). Its Stage field is the
pkg/stage.Stage lifecycle position.

Locator is a resolver's candidate URL, carrying a transport hint and a
confidence score. Artifact is the verified, stored result of fetching and
cleaning content for a Reference — it is immutable once ContentHash is set.

ResolverDescriptor, HostBudget, and QueueEntry back the Resolver Chain, the
Governor, and the Scheduler respectively; see pkg/resolver, pkg/governor,
and pkg/queue.

# Design Patterns

Enums are typed strings (Kind, Quality, BreakerState, ...) rather than raw
strings, matching the convention used throughout this codebase. Optional
fields are zero-valued rather than pointer-typed except where nil carries
distinct meaning from the zero value (DedupPolicyMarginal: nil means "no
per-reference policy"; there is no engine-wide default setting, and the
field is stored and read back but not consulted by dedup).
*/
package types
