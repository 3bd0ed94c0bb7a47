// Package config loads and validates the ingestion engine's configuration
// surface from YAML. Per the engine's external-interfaces contract, the
// engine never reads environment or files itself — this package is the
// external collaborator cmd/ingestengine uses to build an engine.Config.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/cuemby/ingestengine/pkg/engine"
	"github.com/cuemby/ingestengine/pkg/fetch"
	"github.com/cuemby/ingestengine/pkg/governor"
	"github.com/cuemby/ingestengine/pkg/quality"
	"github.com/cuemby/ingestengine/pkg/queue"
	"github.com/cuemby/ingestengine/pkg/types"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration surface. Zero-valued fields fall
// back to each wired component's own withDefaults(), so an operator only
// needs to specify what they want to override.
type Config struct {
	DBPath      string `yaml:"db_path" validate:"required"`
	ContentRoot string `yaml:"content_root" validate:"required"`
	ResolverCap int    `yaml:"resolver_cap" validate:"gte=0"`

	Scheduler SchedulerConfig `yaml:"scheduler"`
	Governor  GovernorConfig  `yaml:"governor"`
	Fetcher   FetcherConfig   `yaml:"fetcher"`
	SSRF      SSRFConfig      `yaml:"ssrf"`
	Quality   QualityConfig   `yaml:"quality"`
}

// SchedulerConfig controls the Work Queue & Scheduler (C7).
type SchedulerConfig struct {
	Workers      int           `yaml:"workers" validate:"gte=0"`
	BatchSize    int           `yaml:"batch_size" validate:"gte=0"`
	LeaseTTL     time.Duration `yaml:"lease_ttl"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// GovernorConfig controls the per-host Governor (C3).
type GovernorConfig struct {
	DefaultRate         float64                 `yaml:"default_rate" validate:"gte=0"`
	DefaultBurst        int                     `yaml:"default_burst" validate:"gte=0"`
	PerHost             map[string]HostOverride `yaml:"per_host"`
	Breaker             BreakerConfig           `yaml:"breaker"`
	ConcurrentLeasesMax int                     `yaml:"concurrent_leases_max" validate:"gte=0"`
	// SnapshotPath, if set, persists breaker state to a bbolt file across
	// restarts. Opening it is the loading collaborator's responsibility
	// (it owns a file handle the Config struct itself cannot).
	SnapshotPath string `yaml:"snapshot_path"`
}

// HostOverride customizes the token bucket for one host_key.
type HostOverride struct {
	Rate  float64 `yaml:"rate" validate:"gte=0"`
	Burst int     `yaml:"burst" validate:"gte=0"`
}

// BreakerConfig configures the per-host circuit breaker.
type BreakerConfig struct {
	Threshold    int           `yaml:"threshold" validate:"gte=0"`
	CooldownBase time.Duration `yaml:"cooldown_base"`
	CooldownCap  time.Duration `yaml:"cooldown_cap"`
}

// FetcherConfig controls the transport cascade (C5).
type FetcherConfig struct {
	UserAgent            string        `yaml:"user_agent"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	ReadTimeout          time.Duration `yaml:"read_timeout"`
	TotalTimeout         time.Duration `yaml:"total_timeout"`
	SizeCap              int64         `yaml:"size_cap" validate:"gte=0"`
	RedirectCap          int           `yaml:"redirect_cap" validate:"gte=0"`
	SoftNotFoundMinWords int           `yaml:"soft_not_found_min_words" validate:"gte=0"`
}

// SSRFConfig controls the transport cascade's private-address policy.
// AllowPrivate is accepted for forward-compat with a future test-only
// bypass; the Fetcher today only honors AllowList.
type SSRFConfig struct {
	AllowPrivate bool     `yaml:"allow_private"`
	AllowList    []string `yaml:"allow_list"`
}

// QualityConfig controls the Quality Verifier (C6). Kind-keyed maps use
// the Kind's wire string (e.g. "article", "podcast_episode") as the key.
type QualityConfig struct {
	MinBytes             map[string]int `yaml:"min_bytes"`
	MinWords             map[string]int `yaml:"min_words"`
	PaywallPatterns      []string       `yaml:"paywall_patterns"`
	JSBlockPatterns      []string       `yaml:"js_block_patterns"`
	JSBlockWordExemption int            `yaml:"js_block_word_exemption" validate:"gte=0"`
	MinParagraphChars    int            `yaml:"min_paragraph_chars" validate:"gte=0"`
}

// Load reads, parses, and validates a Config from a YAML file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: invalid %s: %w", path, err)
	}

	return &cfg, nil
}

// ToEngineConfig maps the loaded Config onto the Engine's construction-time
// Config. The Governor's optional snapshot Store is left unset here — it
// owns a file handle the caller must open and close around the Engine's
// lifetime, so opening it is cmd/ingestengine's job, not this mapping's.
func (c Config) ToEngineConfig() engine.Config {
	return engine.Config{
		DBPath:      c.DBPath,
		ContentRoot: c.ContentRoot,
		ResolverCap: c.ResolverCap,
		Governor: governor.Config{
			DefaultRate:         c.Governor.DefaultRate,
			DefaultBurst:        c.Governor.DefaultBurst,
			PerHost:             toHostOverrides(c.Governor.PerHost),
			ConcurrentLeasesMax: c.Governor.ConcurrentLeasesMax,
			Breaker: governor.BreakerConfig{
				Threshold:    c.Governor.Breaker.Threshold,
				CooldownBase: c.Governor.Breaker.CooldownBase,
				CooldownCap:  c.Governor.Breaker.CooldownCap,
			},
		},
		Fetch: fetch.Config{
			UserAgent: c.Fetcher.UserAgent,
			Timeouts: fetch.Timeouts{
				Connect: c.Fetcher.ConnectTimeout,
				Read:    c.Fetcher.ReadTimeout,
				Total:   c.Fetcher.TotalTimeout,
			},
			SizeCap:              c.Fetcher.SizeCap,
			RedirectCap:          c.Fetcher.RedirectCap,
			SoftNotFoundMinWords: c.Fetcher.SoftNotFoundMinWords,
			SSRFAllowlist:        c.SSRF.AllowList,
		},
		Quality: quality.Config{
			MinBytes:             toKindIntMap(c.Quality.MinBytes),
			MinWords:             toKindIntMap(c.Quality.MinWords),
			PaywallPatterns:      c.Quality.PaywallPatterns,
			JSBlockPatterns:      c.Quality.JSBlockPatterns,
			JSBlockWordExemption: c.Quality.JSBlockWordExemption,
			MinParagraphChars:    c.Quality.MinParagraphChars,
		},
		Queue: queue.Config{
			BatchSize:      c.Scheduler.BatchSize,
			LeaseTTL:       c.Scheduler.LeaseTTL,
			PollInterval:   c.Scheduler.PollInterval,
			WorkerCount:    c.Scheduler.Workers,
			WorkerIDPrefix: "worker",
		},
	}
}

func toHostOverrides(in map[string]HostOverride) map[string]governor.HostOverride {
	if in == nil {
		return nil
	}
	out := make(map[string]governor.HostOverride, len(in))
	for host, o := range in {
		out[host] = governor.HostOverride{Rate: o.Rate, Burst: o.Burst}
	}
	return out
}

func toKindIntMap(in map[string]int) map[types.Kind]int {
	if in == nil {
		return nil
	}
	out := make(map[types.Kind]int, len(in))
	for k, v := range in {
		out[types.Kind(k)] = v
	}
	return out
}
