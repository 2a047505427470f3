package contracts

// OracleDetermination is the oracle's classification of an ambiguous call.
type OracleDetermination string

// Determinations.
const (
	DeterminationThreat    OracleDetermination = "threat"
	DeterminationSafe      OracleDetermination = "safe"
	DeterminationUncertain OracleDetermination = "uncertain"
)

// OracleRequest carries the primary detection plus tool context to the
// language-model oracle. Only calls in the ambiguous confidence band reach
// it.
type OracleRequest struct {
	Detection Detection      `json:"detection"`
	Tool      string         `json:"tool"`
	Input     map[string]any `json:"input"`
}

// OracleResponse is the oracle's verdict. SuggestedAction is restricted to
// block, confirm, or allow; the engine applies its own override rules on
// top.
type OracleResponse struct {
	Determination   OracleDetermination `json:"determination"`
	Confidence      float64             `json:"confidence"`
	Reasoning       string              `json:"reasoning,omitempty"`
	SuggestedAction Action              `json:"suggested_action"`
}
