package content

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/ingestengine/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitWritesSentinelAndHash(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	ref := types.Reference{ReferenceID: "ref-1", Kind: types.KindArticle, SourceURL: "https://example.com/a"}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	artifact, err := store.Commit(ref, Files{CleanedMarkdown: []byte("# hello")}, now)
	require.NoError(t, err)
	assert.NotEmpty(t, artifact.ContentHash)

	dir := store.Path(ref.Kind, now, ref.ReferenceID)
	assert.True(t, store.Committed(dir))
	assert.FileExists(t, filepath.Join(dir, "content.md"))
	assert.FileExists(t, filepath.Join(dir, "metadata.json"))
}

func TestCommitIsDeterministicHash(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	now := time.Now()

	a1, err := store.Commit(types.Reference{ReferenceID: "r1", Kind: types.KindArticle}, Files{CleanedMarkdown: []byte("same")}, now)
	require.NoError(t, err)
	a2, err := store.Commit(types.Reference{ReferenceID: "r2", Kind: types.KindArticle}, Files{CleanedMarkdown: []byte("same")}, now)
	require.NoError(t, err)

	assert.Equal(t, a1.ContentHash, a2.ContentHash)
}

func TestReclaimRemovesUncommittedDirectories(t *testing.T) {
	root := t.TempDir()
	store, err := Open(root)
	require.NoError(t, err)
	now := time.Now()

	ref := types.Reference{ReferenceID: "ref-2", Kind: types.KindArticle}
	_, err = store.Commit(ref, Files{CleanedMarkdown: []byte("ok")}, now)
	require.NoError(t, err)

	staleDir := filepath.Join(root, "article", "2020", "01", "01", "stale-ref")
	require.NoError(t, os.MkdirAll(staleDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(staleDir, "metadata.json"), []byte("{}"), 0o640))

	removed, err := store.Reclaim()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.True(t, store.Committed(store.Path(ref.Kind, now, ref.ReferenceID)))
	_, statErr := os.Stat(staleDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCommitRequiresBytes(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = store.Commit(types.Reference{ReferenceID: "empty", Kind: types.KindArticle}, Files{}, time.Now())
	assert.Error(t, err)
}
