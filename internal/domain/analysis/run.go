package analysis

import "encoding/json"

// AstDocument is the outcome of running the external AST analyzer over one
// file. A failed extraction is a value, not an error: the pipeline continues
// with a degraded prompt.
type AstDocument struct {
	FilePath string
	JSON     json.RawMessage
	Failed   bool
	Reason   string
}

// FailedAst builds a Failed document with the captured diagnostic text.
func FailedAst(path, reason string) AstDocument {
	return AstDocument{FilePath: path, Failed: true, Reason: reason}
}

// RuleHints are the user's include/exclude identifier lists from the swingft
// project config. They are injected into the prompt as additive signals only;
// they never filter model output after the fact.
type RuleHints struct {
	Exclude []string
	Include []string
}

// GenerationRequest for the model session. One per FileTask.
type GenerationRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Mode        Mode
	DegradedAST bool
	Truncated   bool
}

// GenerationResult from the model session.
type GenerationResult struct {
	RawText    string
	TokenCount int
	DurationMS int64
}

// CacheKey identifies a cached generation: same file bytes, same mode, same
// prompt means the same (deterministic, low temperature) answer is reusable.
type CacheKey struct {
	FileHash   string
	Mode       Mode
	PromptHash string
}
