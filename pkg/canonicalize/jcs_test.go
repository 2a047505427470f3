package canonicalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalSortsKeys(t *testing.T) {
	out, err := CanonicalString(map[string]any{"b": 1, "a": 2})
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1}`, out)
}

func TestCanonicalNoHTMLEscaping(t *testing.T) {
	out, err := CanonicalString(map[string]any{"url": "https://x.test/a?b=<c>&d=e"})
	require.NoError(t, err)
	assert.Contains(t, out, "<c>&d=e")
}

func TestFingerprintDeterministic(t *testing.T) {
	a, err := Fingerprint("bash", map[string]any{"command": "ls", "cwd": "/tmp"})
	require.NoError(t, err)
	b, err := Fingerprint("bash", map[string]any{"cwd": "/tmp", "command": "ls"})
	require.NoError(t, err)

	assert.Equal(t, a, b, "key order must not change the fingerprint")
	assert.Len(t, a, 32, "128-bit digest, hex encoded")
}

func TestFingerprintDistinguishesToolAndInput(t *testing.T) {
	a, err := Fingerprint("bash", map[string]any{"command": "ls"})
	require.NoError(t, err)
	b, err := Fingerprint("sh", map[string]any{"command": "ls"})
	require.NoError(t, err)
	c, err := Fingerprint("bash", map[string]any{"command": "ls -la"})
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestFingerprintNestedInput(t *testing.T) {
	a, err := Fingerprint("http", map[string]any{
		"url":     "https://example.com",
		"headers": map[string]any{"X-B": "2", "X-A": "1"},
	})
	require.NoError(t, err)
	b, err := Fingerprint("http", map[string]any{
		"headers": map[string]any{"X-A": "1", "X-B": "2"},
		"url":     "https://example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDetectionFingerprint(t *testing.T) {
	a := DetectionFingerprint("destructive", "critical", "recursive delete of /")
	b := DetectionFingerprint("destructive", "critical", "recursive delete of /")
	c := DetectionFingerprint("destructive", "high", "recursive delete of /")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
