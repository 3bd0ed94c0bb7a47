package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/ingestengine/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
db_path: ./data/index.db
content_root: ./data/content
resolver_cap: 5
scheduler:
  workers: 8
  batch_size: 32
  lease_ttl: 5m
  poll_interval: 2s
governor:
  default_rate: 2
  default_burst: 4
  concurrent_leases_max: 10
  per_host:
    slow.test:
      rate: 0.5
      burst: 1
  breaker:
    threshold: 5
    cooldown_base: 30s
    cooldown_cap: 30m
fetcher:
  user_agent: ingestengine-test/1.0
  connect_timeout: 10s
  read_timeout: 20s
  size_cap: 10485760
  redirect_cap: 3
ssrf:
  allow_list:
    - 127.0.0.1
quality:
  min_words:
    article: 100
    podcast_episode: 500
  js_block_word_exemption: 5000
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadParsesValidConfig(t *testing.T) {
	path := writeTempConfig(t, validYAML)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "./data/index.db", cfg.DBPath)
	assert.Equal(t, 8, cfg.Scheduler.Workers)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.LeaseTTL)
	assert.Equal(t, 0.5, cfg.Governor.PerHost["slow.test"].Rate)
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	path := writeTempConfig(t, "resolver_cap: 1\n")

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsNegativeRate(t *testing.T) {
	path := writeTempConfig(t, `
db_path: ./data/index.db
content_root: ./data/content
governor:
  default_rate: -1
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestToEngineConfigMapsQualityKindKeys(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	ecfg := cfg.ToEngineConfig()
	assert.Equal(t, 100, ecfg.Quality.MinWords[types.KindArticle])
	assert.Equal(t, 500, ecfg.Quality.MinWords[types.KindPodcastEpisode])
	assert.Equal(t, []string{"127.0.0.1"}, ecfg.Fetch.SSRFAllowlist)
	assert.Equal(t, 10, ecfg.Governor.ConcurrentLeasesMax)
	assert.Equal(t, 32, ecfg.Queue.BatchSize)
}
