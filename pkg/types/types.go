package types

import (
	"time"

	"github.com/cuemby/ingestengine/pkg/stage"
)

// Kind identifies the category of content a Reference points at.
type Kind string

const (
	KindPodcastEpisode Kind = "podcast_episode"
	KindArticle        Kind = "article"
	KindNewsletter     Kind = "newsletter"
	KindDocument       Kind = "document"
	KindGenericURL     Kind = "generic_url"
)

// Quality is the Quality Verifier's classification of a produced artifact.
type Quality string

const (
	QualityGood     Quality = "good"
	QualityMarginal Quality = "marginal"
	QualityBad      Quality = "bad"
)

// TransportHint restricts which fetch strategies a Locator may be tried with.
type TransportHint string

const (
	TransportDirect  TransportHint = "direct"
	TransportBrowser TransportHint = "browser"
	TransportArchive TransportHint = "archive"
	TransportMirror  TransportHint = "mirror"
)

// ObtainedFrom records which family of source ultimately produced an Artifact.
type ObtainedFrom string

const (
	ObtainedFromOrigin      ObtainedFrom = "origin"
	ObtainedFromArchiveIs   ObtainedFrom = "archive_is"
	ObtainedFromWayback     ObtainedFrom = "wayback"
	ObtainedFromAlternate   ObtainedFrom = "alternate_url"
)

// Reference is one unit of work: a content locator the engine has committed
// to driving to a terminal outcome.
type Reference struct {
	ReferenceID   string
	Kind          Kind
	SourceURL     string
	CanonicalURL  string
	Host          string
	ContentHash   string // empty until terminal-good
	Stage         stage.Stage
	Processable   bool
	FailureReason string
	Priority      int

	DedupPolicyMarginal *bool // stored and read back; canonical-URL dedup does not consult it

	CreatedAt          time.Time
	UpdatedAt          time.Time
	NextRetryAt        time.Time
	Attempts           int
	LastAttemptOutcome string
}

// Locator is a candidate produced by a Resolver.
type Locator struct {
	LocatorURL     string
	TransportHint  TransportHint
	SourceResolver string
	Confidence     float64
	AuthContextRef string
}

// Artifact is stored content for a Reference.
type Artifact struct {
	ArtifactID         string
	ReferenceID        string
	RawBytesRef        string
	CleanedMarkdownRef string
	SidecarRef         string
	ByteCount          int64
	WordCount          int
	ContentHash        string
	Quality            Quality
	QualityReasons      []string
	ObtainedViaResolver string
	ObtainedViaTransport string
	ObtainedFrom        ObtainedFrom
	FetchLatencyMS      int64
	AttemptsUsed        int
	CreatedAt           time.Time
}

// ResolverDescriptor describes a registered locate() strategy for the
// chain's predicate filter and ordering.
type ResolverDescriptor struct {
	Name           string
	Priority       int
	AuthRequired   bool
	RateHostPattern string
}

// HostBudget is the Governor's per-host bookkeeping.
type HostBudget struct {
	HostKey              string
	TokenCapacity        float64
	RefillRate           float64
	ConcurrentLeasesMax  int
	BreakerState         BreakerState
	BreakerOpenedAt      time.Time
	ConsecutiveFailures  int
	HalfOpenProbeDueAt   time.Time
	LastProbeOutcome     string
}

// BreakerState is the circuit breaker's state machine position.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// QueueClassification buckets a Queue Entry for scheduling purposes.
type QueueClassification string

const (
	ClassificationProcessable QueueClassification = "processable"
	ClassificationDeadLetter  QueueClassification = "dead_letter"
	ClassificationRetryable   QueueClassification = "retryable"
)

// QueueEntry is a durable work item tracked by the scheduler.
type QueueEntry struct {
	ReferenceID    string
	LeaseOwner     string // empty when unleased
	LeaseExpiresAt time.Time
	ReadyAt        time.Time
	Attempts       int
	Priority       int
	Classification QueueClassification
}
