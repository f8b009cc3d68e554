package ast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	domain "github.com/swingft/console-llm/internal/domain/analysis"
)

// Bridge invokes the external SwiftASTAnalyzer binary per file. Every
// tool-level fault (missing binary, non-zero exit, timeout, garbage on
// stdout) becomes a Failed AstDocument; the bridge never propagates a
// process error into the pipeline.
type Bridge struct {
	binPath string
	timeout time.Duration
}

func NewBridge(binPath string, timeout time.Duration) *Bridge {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Bridge{binPath: binPath, timeout: timeout}
}

// Extract runs the analyzer with the file path as its single argument and
// recovers the JSON document from stdout. Repeated calls over an unchanged
// file yield structurally identical documents.
func (b *Bridge) Extract(ctx context.Context, path string) domain.AstDocument {
	runCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, b.binPath, path)
	// Children of the analyzer inherit the stdout/stderr pipes; without a
	// WaitDelay, Run would block past the deadline until they exit.
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return domain.FailedAst(path, fmt.Sprintf("analyzer timed out after %s", b.timeout))
	}
	if err != nil {
		reason := fmt.Sprintf("analyzer failed: %v", err)
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			reason = fmt.Sprintf("analyzer failed: %v: %s", err, firstLine(msg))
		}
		return domain.FailedAst(path, reason)
	}

	doc, reason := recoverJSON(stdout.String())
	if reason != "" {
		return domain.FailedAst(path, reason)
	}
	return domain.AstDocument{FilePath: path, JSON: doc}
}

// recoverJSON extracts the JSON object from analyzer output. The tool may
// print banner lines before the document, so scanning starts at the first
// opening brace.
func recoverJSON(out string) (json.RawMessage, string) {
	out = strings.TrimSpace(out)
	if out == "" {
		return nil, "analyzer produced no output"
	}
	start := strings.IndexByte(out, '{')
	if start < 0 {
		return nil, "no JSON document in analyzer output"
	}
	candidate := []byte(out[start:])
	if !json.Valid(candidate) {
		return nil, "malformed JSON in analyzer output"
	}
	return json.RawMessage(candidate), ""
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Selector implements the AstExtractor port by routing each mode to its own
// analyzer binary. Modes without a configured analyzer degrade to a Failed
// document, which the prompt builder turns into a source-only prompt.
type Selector struct {
	bridges map[domain.Mode]*Bridge
}

func NewSelector(bridges map[domain.Mode]*Bridge) *Selector {
	return &Selector{bridges: bridges}
}

func (s *Selector) Extract(ctx context.Context, path string, mode domain.Mode) domain.AstDocument {
	b, ok := s.bridges[mode]
	if !ok || b == nil {
		return domain.FailedAst(path, fmt.Sprintf("no AST analyzer configured for mode %s", mode))
	}
	return b.Extract(ctx, path)
}
