/*
Package fetch implements the Robust Fetcher: given an ordered list of
Locators, it produces an Artifact's raw bytes or a typed outcome via a
cascading transport strategy (direct HTTP, direct with host-scoped
cookies, headless-browser render, archive.is, Wayback).

Every attempt is gated by a pkg/governor.Governor lease keyed on the
Locator's host; a deferred budget surfaces as outcome.RateLimited so the
caller (the Scheduler) can re-enqueue rather than block the worker. SSRF
defense resolves the Locator's host before dialing and rejects loopback,
link-local, and private addresses, then re-validates the same resolved
address at dial time through a custom DialContext so the check cannot be
bypassed by a DNS answer that changes between resolution and connection.
*/
package fetch
