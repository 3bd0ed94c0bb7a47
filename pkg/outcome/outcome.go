// Package outcome defines the closed set of outcome kinds the engine uses
// instead of ad-hoc error wrapping for control flow: Transient, RateLimited,
// Permanent, Structural, and Internal. Resolver, transport, and storage code
// returns an Outcome alongside the wrapped error so the Scheduler can switch
// on the Kind field to decide retry, backoff, or dead-letter routing without
// re-parsing error strings.
package outcome

import (
	"fmt"
	"time"
)

// Kind is one of the taxonomy's five failure kinds, or KindSuccess.
type Kind string

const (
	// KindSuccess is not a failure outcome but is included so call sites can
	// treat the full result set uniformly.
	KindSuccess     Kind = "success"
	KindTransient   Kind = "transient"
	KindRateLimited Kind = "rate_limited"
	KindPermanent   Kind = "permanent"
	KindStructural  Kind = "structural"
	KindInternal    Kind = "internal"
)

// Reason is a stable, enumerated tag further classifying an Outcome within
// its Kind, surfaced to operators via the Observe interface and recorded in
// dead-letter diagnostics.
type Reason string

const (
	ReasonTimeout        Reason = "timeout"
	Reason5xx            Reason = "5xx"
	ReasonDNSSoftFail    Reason = "dns_soft_fail"
	ReasonGovernorDeferred Reason = "governor_deferred"
	ReasonResolverError  Reason = "resolver_transient"

	ReasonNotFoundAfterAll Reason = "404_after_all"
	ReasonGone             Reason = "410"
	ReasonUnavailableLegal Reason = "451"
	ReasonDisallowedScheme Reason = "disallowed_scheme"
	ReasonSSRFBlocked      Reason = "ssrf"
	ReasonVerifierBad      Reason = "verifier_bad_terminal"
	ReasonMaxAttempts      Reason = "max_attempts"
	ReasonTimeBudget       Reason = "time_budget"
	ReasonSizeCap          Reason = "size_cap"

	ReasonBadScheme Reason = "bad_scheme"
	ReasonBadHost   Reason = "bad_host"

	ReasonPanic        Reason = "panic"
	ReasonStorageFault Reason = "storage_fault"
)

// Outcome is the value every fetch/resolve/verify/storage operation returns
// in place of a bare error, so the caller can branch on Kind without
// classifying an error string.
type Outcome struct {
	Kind Kind
	// Reason further classifies the outcome within its Kind.
	Reason Reason
	// RetryAfter is set only for KindRateLimited: the server's advisory
	// instant to retry at, honored verbatim and not counted as an attempt.
	RetryAfter time.Time
	// Detail is a human-readable elaboration, not used for control flow.
	Detail string
	// Err is the underlying wrapped error, if any, for logging.
	Err error
}

func (o Outcome) Error() string {
	if o.Err != nil {
		return fmt.Sprintf("%s(%s): %v", o.Kind, o.Reason, o.Err)
	}
	return fmt.Sprintf("%s(%s): %s", o.Kind, o.Reason, o.Detail)
}

func (o Outcome) Unwrap() error { return o.Err }

// Success builds the non-failure outcome.
func Success() Outcome { return Outcome{Kind: KindSuccess} }

// Transient builds a retry-with-backoff outcome.
func Transient(reason Reason, err error) Outcome {
	return Outcome{Kind: KindTransient, Reason: reason, Err: err}
}

// RateLimited builds a retry-at-instant outcome that does not count as an
// attempt.
func RateLimited(retryAfter time.Time, detail string) Outcome {
	return Outcome{Kind: KindRateLimited, Reason: ReasonGovernorDeferred, RetryAfter: retryAfter, Detail: detail}
}

// Permanent builds a dead-letter outcome.
func Permanent(reason Reason, err error) Outcome {
	return Outcome{Kind: KindPermanent, Reason: reason, Err: err}
}

// Structural builds an unprocessable-at-enqueue outcome; the item never
// enters the queue.
func Structural(reason Reason, detail string) Outcome {
	return Outcome{Kind: KindStructural, Reason: reason, Detail: detail}
}

// Internal builds a bug/panic outcome. The lease is released and the
// reference is left untouched for safe retry.
func Internal(reason Reason, err error) Outcome {
	return Outcome{Kind: KindInternal, Reason: reason, Err: err}
}

// IsFailure reports whether o represents anything other than success.
func (o Outcome) IsFailure() bool { return o.Kind != KindSuccess }
