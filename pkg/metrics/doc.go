/*
Package metrics provides Prometheus metrics collection and exposition for the
ingestion engine.

The metrics package defines and registers every engine metric using the
Prometheus client library, providing observability into queue depth, resolver
and fetch latency, per-host circuit breaker state, and stored-artifact
quality. Metrics are exposed via an HTTP endpoint for scraping by Prometheus
servers.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Queue: depth, scheduled, dead-lettered      │          │
	│  │  Resolver: locators produced, duration       │          │
	│  │  Fetch: attempts by transport, duration      │          │
	│  │  Governor: breaker state, deferred attempts  │          │
	│  │  Storage: artifacts stored, duplicates       │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint               │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Metrics Catalog

ingest_queue_depth{classification}: Gauge, current queue depth by
classification (processable, retryable, dead_letter).

ingest_references_scheduled_total{kind}: Counter, references handed to a
worker by content kind.

ingest_references_dead_lettered_total{reason}: Counter, references moved to
the dead letter state, by outcome reason.

ingest_resolver_locators_total{resolver}, ingest_resolver_duration_seconds{resolver}:
locate() call volume and latency per registered resolver.

ingest_fetch_duration_seconds{transport}, ingest_fetch_attempts_total{transport,outcome}:
fetch attempt latency and outcome distribution per transport strategy
(direct_http, direct_cookies, browser_render, archive_is, wayback).

ingest_breaker_state{host}: Gauge, 0=closed, 1=half_open, 2=open.

ingest_rate_limit_deferred_total{host}: Counter, attempts deferred by the
per-host token bucket before ever reaching a transport.

ingest_artifacts_stored_total{quality}, ingest_duplicate_content_total,
ingest_index_transition_duration_seconds: content-store and index-store
outcomes.

# Usage

The fetcher records each transport attempt t like this:

	timer := metrics.NewTimer()
	res, o := f.attempt(ctx, loc, t, now)
	timer.ObserveDurationVec(metrics.FetchDuration, string(t))
	metrics.FetchAttemptsTotal.WithLabelValues(string(t), string(o.Kind)).Inc()

# Design Patterns

All metrics are registered in init(); MustRegister panics on duplicate
registration, which is deliberate — a second registration means two packages
picked the same metric name. Labels are kept low-cardinality: host, resolver,
and transport are bounded small sets, never reference IDs or timestamps.
*/
package metrics
