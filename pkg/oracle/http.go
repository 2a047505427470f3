package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/clawsec/core/pkg/canonicalize"
	"github.com/clawsec/core/pkg/config"
	"github.com/clawsec/core/pkg/contracts"
)

const (
	defaultBaseURL  = "https://api.openai.com/v1"
	defaultModel    = "gpt-4o-mini"
	verdictCacheTTL = 60 * time.Second
)

const systemPrompt = `You are a security classifier for an AI agent's tool calls.
You receive one pattern detection plus the tool call that triggered it.
Decide whether the call is a real threat. Respond with JSON only:
{"determination": "threat"|"safe"|"uncertain", "confidence": 0.0-1.0,
"reasoning": "<one sentence>", "suggested_action": "block"|"confirm"|"allow"}`

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type cachedVerdict struct {
	response  contracts.OracleResponse
	expiresAt time.Time
}

// HTTPClient speaks the chat-completions protocol to the configured
// model. Verdicts are cached by (detection, call) fingerprint for a short
// window so retry loops do not re-bill the same question.
type HTTPClient struct {
	baseURL string
	model   string
	apiKey  string
	timeout time.Duration
	httpc   *http.Client
	limiter Limiter
	logger  *slog.Logger

	mu       sync.Mutex
	verdicts map[string]cachedVerdict
	clock    func() time.Time
}

// NewHTTPClient builds the client from the llm config block. The API key
// comes from CLAWSEC_LLM_API_KEY.
func NewHTTPClient(cfg *config.Config, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := cfg.LLM.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.LLM.Model
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.OracleTimeout()
	return &HTTPClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		model:    model,
		apiKey:   os.Getenv("CLAWSEC_LLM_API_KEY"),
		timeout:  timeout,
		httpc:    &http.Client{Timeout: timeout},
		limiter:  NewLocalLimiter(60, 10),
		logger:   logger.With("component", "oracle"),
		verdicts: make(map[string]cachedVerdict),
		clock:    time.Now,
	}
}

// WithLimiter swaps the rate limiter, e.g. for the shared Redis bucket.
func (c *HTTPClient) WithLimiter(l Limiter) *HTTPClient {
	c.limiter = l
	return c
}

// WithClock overrides the clock for deterministic testing.
func (c *HTTPClient) WithClock(clock func() time.Time) *HTTPClient {
	c.clock = clock
	return c
}

// Available implements Client.
func (c *HTTPClient) Available() bool { return true }

// Analyze implements Client. Timeouts and rate-limit denials degrade to
// the uncertain verdict; only transport and protocol failures surface as
// errors.
func (c *HTTPClient) Analyze(ctx context.Context, req *contracts.OracleRequest) (*contracts.OracleResponse, error) {
	key, err := verdictKey(req)
	if err != nil {
		return nil, err
	}
	if resp := c.lookup(key); resp != nil {
		return resp, nil
	}

	allowed, err := c.limiter.Allow(ctx, "oracle")
	if err != nil {
		c.logger.Warn("limiter check failed", "error", err)
		return Uncertain("rate limiter unavailable"), nil
	}
	if !allowed {
		return Uncertain("oracle rate limit reached"), nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.call(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			c.logger.Warn("oracle timed out", "tool", req.Tool, "timeout", c.timeout)
			return Uncertain("oracle timed out"), nil
		}
		return nil, err
	}

	c.store(key, resp)
	return resp, nil
}

func (c *HTTPClient) call(ctx context.Context, req *contracts.OracleRequest) (*contracts.OracleResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("oracle: marshal request: %w", err)
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: string(payload)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("oracle: marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("oracle: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oracle: status %d", httpResp.StatusCode)
	}

	var chat chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("oracle: decode response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("oracle: empty choices")
	}

	return parseVerdict(chat.Choices[0].Message.Content)
}

// parseVerdict extracts the JSON verdict, tolerating code fences around
// it.
func parseVerdict(content string) (*contracts.OracleResponse, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var resp contracts.OracleResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return nil, fmt.Errorf("oracle: unparseable verdict: %w", err)
	}

	switch resp.Determination {
	case contracts.DeterminationThreat, contracts.DeterminationSafe, contracts.DeterminationUncertain:
	default:
		return nil, fmt.Errorf("oracle: unknown determination %q", resp.Determination)
	}
	switch resp.SuggestedAction {
	case contracts.ActionBlock, contracts.ActionConfirm, contracts.ActionAllow:
	default:
		return nil, fmt.Errorf("oracle: unsupported suggested action %q", resp.SuggestedAction)
	}
	if resp.Confidence < 0 || resp.Confidence > 1 {
		return nil, fmt.Errorf("oracle: confidence %v out of range", resp.Confidence)
	}
	return &resp, nil
}

func verdictKey(req *contracts.OracleRequest) (string, error) {
	callFP, err := canonicalize.Fingerprint(req.Tool, req.Input)
	if err != nil {
		return "", err
	}
	detFP := canonicalize.DetectionFingerprint(
		string(req.Detection.Category),
		string(req.Detection.Severity),
		req.Detection.Reason,
	)
	return detFP + ":" + callFP, nil
}

func (c *HTTPClient) lookup(key string) *contracts.OracleResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.verdicts[key]
	if !ok || c.clock().After(v.expiresAt) {
		delete(c.verdicts, key)
		return nil
	}
	resp := v.response
	return &resp
}

func (c *HTTPClient) store(key string, resp *contracts.OracleResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verdicts[key] = cachedVerdict{response: *resp, expiresAt: c.clock().Add(verdictCacheTTL)}
}
