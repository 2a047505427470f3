package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawsec/core/pkg/config"
	"github.com/clawsec/core/pkg/contracts"
)

func oracleConfig(t *testing.T, baseURL string, timeoutMs int) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(fmt.Sprintf(`
llm:
  enabled: true
  model: test-model
  baseUrl: %q
  timeoutMs: %d
`, baseURL, timeoutMs)))
	require.NoError(t, err)
	return cfg
}

func verdictServer(t *testing.T, calls *atomic.Int64, verdict string, delay time.Duration) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if delay > 0 {
			time.Sleep(delay)
		}
		assert.Equal(t, "/chat/completions", r.URL.Path)
		resp := map[string]any{
			"choices": []any{
				map[string]any{"message": map[string]any{"content": verdict}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func testRequest() *contracts.OracleRequest {
	return &contracts.OracleRequest{
		Detection: contracts.Detection{
			Category:   contracts.CategoryDestructive,
			Severity:   contracts.SeverityCritical,
			Confidence: 0.6,
			Reason:     "SQL DROP statement",
		},
		Tool:  "bash",
		Input: map[string]any{"command": "psql -c 'DROP TABLE staging_tmp'"},
	}
}

func TestAnalyzeParsesVerdict(t *testing.T) {
	var calls atomic.Int64
	srv := verdictServer(t, &calls,
		`{"determination":"safe","confidence":0.85,"reasoning":"temp table","suggested_action":"allow"}`, 0)
	defer srv.Close()

	c := NewHTTPClient(oracleConfig(t, srv.URL, 2000), slog.Default())
	resp, err := c.Analyze(context.Background(), testRequest())

	require.NoError(t, err)
	assert.Equal(t, contracts.DeterminationSafe, resp.Determination)
	assert.InDelta(t, 0.85, resp.Confidence, 1e-9)
	assert.Equal(t, contracts.ActionAllow, resp.SuggestedAction)
}

func TestAnalyzeCachesVerdictByFingerprint(t *testing.T) {
	var calls atomic.Int64
	srv := verdictServer(t, &calls,
		`{"determination":"threat","confidence":0.9,"suggested_action":"block"}`, 0)
	defer srv.Close()

	c := NewHTTPClient(oracleConfig(t, srv.URL, 2000), slog.Default())

	_, err := c.Analyze(context.Background(), testRequest())
	require.NoError(t, err)
	resp, err := c.Analyze(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, int64(1), calls.Load(), "identical question answered from cache")
	assert.Equal(t, contracts.DeterminationThreat, resp.Determination)

	// A different call input is a different question.
	other := testRequest()
	other.Input = map[string]any{"command": "psql -c 'DROP TABLE users'"}
	_, err = c.Analyze(context.Background(), other)
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestAnalyzeTimeoutDegradesToUncertain(t *testing.T) {
	var calls atomic.Int64
	srv := verdictServer(t, &calls,
		`{"determination":"safe","confidence":0.9,"suggested_action":"allow"}`, 300*time.Millisecond)
	defer srv.Close()

	c := NewHTTPClient(oracleConfig(t, srv.URL, 50), slog.Default())
	resp, err := c.Analyze(context.Background(), testRequest())

	require.NoError(t, err)
	assert.Equal(t, contracts.DeterminationUncertain, resp.Determination)
	assert.InDelta(t, 0.5, resp.Confidence, 1e-9)
	assert.Equal(t, contracts.ActionConfirm, resp.SuggestedAction)
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string) (bool, error) { return false, nil }

func TestAnalyzeRateLimitedDegradesToUncertain(t *testing.T) {
	var calls atomic.Int64
	srv := verdictServer(t, &calls, `{}`, 0)
	defer srv.Close()

	c := NewHTTPClient(oracleConfig(t, srv.URL, 2000), slog.Default()).WithLimiter(denyLimiter{})
	resp, err := c.Analyze(context.Background(), testRequest())

	require.NoError(t, err)
	assert.Equal(t, contracts.DeterminationUncertain, resp.Determination)
	assert.Equal(t, int64(0), calls.Load(), "no request past the limiter")
}

func TestParseVerdictCodeFence(t *testing.T) {
	resp, err := parseVerdict("```json\n{\"determination\":\"threat\",\"confidence\":1,\"suggested_action\":\"block\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, contracts.DeterminationThreat, resp.Determination)
}

func TestParseVerdictRejectsGarbage(t *testing.T) {
	cases := []string{
		"not json at all",
		`{"determination":"maybe","confidence":0.5,"suggested_action":"confirm"}`,
		`{"determination":"safe","confidence":0.5,"suggested_action":"log"}`,
		`{"determination":"safe","confidence":1.5,"suggested_action":"allow"}`,
	}
	for _, c := range cases {
		_, err := parseVerdict(c)
		assert.Error(t, err, c)
	}
}

func TestUnavailableStub(t *testing.T) {
	var c Client = Unavailable{}
	assert.False(t, c.Available())

	resp, err := c.Analyze(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, contracts.DeterminationUncertain, resp.Determination)
}

func TestNewFromConfigDisabled(t *testing.T) {
	c := NewFromConfig(config.Default(), slog.Default())
	assert.False(t, c.Available())
}

func TestLocalLimiterBurst(t *testing.T) {
	l := NewLocalLimiter(60, 2)
	ok1, _ := l.Allow(context.Background(), "x")
	ok2, _ := l.Allow(context.Background(), "x")
	ok3, _ := l.Allow(context.Background(), "x")
	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.False(t, ok3)
}
