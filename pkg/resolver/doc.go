/*
Package resolver implements the Resolver Chain: an ordered set of
content-locator strategies tried against a Reference to produce candidate
Locators before the Robust Fetcher ever opens a connection.

The chain is a registry of capability descriptors, not a type hierarchy:
Chain holds a plain []Resolver plus each Resolver's own Applies predicate.
Run filters by predicate, stable-sorts by (priority asc, name asc), invokes
locate in order, merges results preserving first-seen order deduplicated by
LocatorURL, and caps the merged list to a configurable size.

A Resolver's locate call is isolated: a panic or error is logged and
treated as transient, never propagated to the caller, so one broken
resolver cannot stall the chain for every other resolver behind it.
*/
package resolver
