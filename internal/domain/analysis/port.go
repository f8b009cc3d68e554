package analysis

import "context"

// AstExtractor port (interface for the external SwiftASTAnalyzer binaries;
// each mode ships its own). Extract never returns a Go error for tool-level
// faults; those become a Failed AstDocument.
type AstExtractor interface {
	Extract(ctx context.Context, path string, mode Mode) AstDocument
}

// Session port: one loaded base model plus the currently attached adapter.
// Generate is NOT safe for concurrent use; the scheduler serializes calls
// through a per-session gate.
type Session interface {
	Generate(ctx context.Context, req GenerationRequest) (GenerationResult, error)
	Close() error
}

// PromptBuilder port. Build is deterministic given its inputs.
type PromptBuilder interface {
	Build(source string, ast AstDocument, mode Mode, hints RuleHints) GenerationRequest
}

// Parsed is the recoverable portion of a model response.
type Parsed struct {
	Reasoning   string
	Identifiers []string
	OK          bool
}

// ResponseParser port. Parse never fails hard: an unrecoverable response
// yields Parsed{OK: false} and the caller records a parse failure.
type ResponseParser interface {
	Parse(raw string, mode Mode) Parsed
}

// GenerationCache port (interface for the sqlite response cache).
type GenerationCache interface {
	Get(ctx context.Context, key CacheKey) (raw string, ok bool)
	Put(ctx context.Context, key CacheKey, raw string) error
}

// RecordWriter port (interface for result persistence).
type RecordWriter interface {
	WriteRecord(rec Record) (string, error)
	WriteSummary(sum Summary) (string, error)
}

// ArtifactStore port (interface for remote artifact storage).
type ArtifactStore interface {
	Upload(ctx context.Context, localPath, key string) (string, error)
}

// FileFinder port (interface for project file discovery).
type FileFinder interface {
	// SwiftFiles lists every Swift source under root in deterministic order.
	SwiftFiles(root string) ([]string, error)
	// MatchingFiles lists Swift sources under root whose content matches at
	// least one identifier pattern.
	MatchingFiles(root string, identifiers []string) ([]string, error)
}
