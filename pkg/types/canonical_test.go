package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeHostCaseAndSchemeEquivalence(t *testing.T) {
	a, err := Canonicalize("https://Example.COM/a")
	require.NoError(t, err)
	b, err := Canonicalize("HTTP://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCanonicalizeStripsTrailingSlash(t *testing.T) {
	a, err := Canonicalize("https://example.com/a/")
	require.NoError(t, err)
	b, err := Canonicalize("https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCanonicalizeKeepsRootSlash(t *testing.T) {
	got, err := Canonicalize("https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/", got)
}

func TestCanonicalizeIsIdempotent(t *testing.T) {
	once, err := Canonicalize("HTTPS://Example.com:443/a/b/")
	require.NoError(t, err)
	twice, err := Canonicalize(once)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestCanonicalizeDropsDefaultPort(t *testing.T) {
	got, err := Canonicalize("https://example.com:443/a")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/a", got)
}

func TestHostKeyLowercasesHost(t *testing.T) {
	assert.Equal(t, "example.com", HostKey("https://Example.COM/a"))
}
