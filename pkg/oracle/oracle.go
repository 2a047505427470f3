// Package oracle is the language-model escalation client. The engine
// consults it only for calls in the ambiguous confidence band; every
// implementation must honour the caller's deadline and degrade to an
// uncertain verdict rather than an error when the model cannot answer in
// time.
package oracle

import (
	"context"
	"log/slog"

	"github.com/clawsec/core/pkg/config"
	"github.com/clawsec/core/pkg/contracts"
)

// Client classifies an ambiguous detection. Analyze must return within
// the context deadline; Available reports whether calls are worth
// attempting at all.
type Client interface {
	Analyze(ctx context.Context, req *contracts.OracleRequest) (*contracts.OracleResponse, error)
	Available() bool
}

// Uncertain is the degraded verdict used on timeout and rate limiting.
// Its suggested confirm action leaves the engine's pattern-based action
// untouched.
func Uncertain(reason string) *contracts.OracleResponse {
	return &contracts.OracleResponse{
		Determination:   contracts.DeterminationUncertain,
		Confidence:      0.5,
		Reasoning:       reason,
		SuggestedAction: contracts.ActionConfirm,
	}
}

// Unavailable is the stub used when no oracle is configured.
type Unavailable struct{}

// Analyze implements Client; it always degrades.
func (Unavailable) Analyze(context.Context, *contracts.OracleRequest) (*contracts.OracleResponse, error) {
	return Uncertain("oracle not configured"), nil
}

// Available implements Client.
func (Unavailable) Available() bool { return false }

// NewFromConfig builds the configured client: the HTTP chat client when
// the oracle is enabled, the stub otherwise.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) Client {
	if !cfg.OracleEnabled() {
		return Unavailable{}
	}
	return NewHTTPClient(cfg, logger)
}
