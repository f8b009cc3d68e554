package analysis

import (
	"encoding/json"
)

// Mode enum: which analysis pass a task belongs to. The mode selects the
// LoRA adapter, the prompt template and the summary field naming.
type Mode string

const (
	ModeExclude   Mode = "exclude"
	ModeSensitive Mode = "sensitive"
)

// Valid reports whether m is a known analysis mode.
func (m Mode) Valid() bool {
	return m == ModeExclude || m == ModeSensitive
}

// Status enum for a per-file record.
type Status string

const (
	StatusSuccess           Status = "success"
	StatusParseFailure      Status = "parse_failure"
	StatusExtractionFailure Status = "extraction_failure"
	StatusModelFailure      Status = "model_failure"
)

// FileTask is one unit of work: a single Swift file analyzed in a single
// mode. Index is the position in the original discovery order and is the
// ordering key for the final summary.
type FileTask struct {
	Index int
	Path  string
	Mode  Mode
}

// Record is the durable per-(file, mode) result. Exactly one Record exists
// per FileTask regardless of which stage failed; failures are carried in
// Status and Error, never dropped.
type Record struct {
	FilePath    string          `json:"file_path"`
	Mode        Mode            `json:"mode"`
	Reasoning   string          `json:"reasoning"`
	Identifiers []string        `json:"identifiers"`
	RawOutput   string          `json:"raw_output,omitempty"`
	AstJSON     json.RawMessage `json:"ast_json,omitempty"`
	AstError    string          `json:"ast_error,omitempty"`
	Status      Status          `json:"status"`
	Error       string          `json:"error,omitempty"`
	DurationMS  int64           `json:"duration_ms"`
	FromCache   bool            `json:"from_cache,omitempty"`
}

// Summary is the aggregate result of one run in one mode. Records are
// ordered by FileTask index, not by completion order.
type Summary struct {
	RunID             string
	Mode              Mode
	FilesAnalyzed     int
	Successful        int
	Failed            int
	TotalIdentifiers  int
	UniqueIdentifiers []string
	Records           []Record
	DurationMS        int64
	ArtifactURL       string
}

// MarshalJSON emits the swingft summary shape. The identifier tallies are
// named per mode (total_sensitive_identifiers_found vs
// total_exclude_identifiers_found) so downstream consumers can merge both
// passes into one document.
func (s Summary) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		"run_id":         s.RunID,
		"mode":           s.Mode,
		"files_analyzed": s.FilesAnalyzed,
		"successful":     s.Successful,
		"failed":         s.Failed,
		"duration_ms":    s.DurationMS,
		"results":        s.Records,
	}
	m["total_"+string(s.Mode)+"_identifiers_found"] = s.TotalIdentifiers
	m["unique_"+string(s.Mode)+"_identifiers"] = s.UniqueIdentifiers
	if s.ArtifactURL != "" {
		m["artifact_url"] = s.ArtifactURL
	}
	return json.Marshal(m)
}
