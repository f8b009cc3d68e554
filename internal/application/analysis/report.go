package analysis

import (
	"context"
	"fmt"
	"os"

	domain "github.com/swingft/console-llm/internal/domain/analysis"
)

// InputSize describes how much data one file would feed into the model.
type InputSize struct {
	FilePath    string
	CodeBytes   int
	AstBytes    int
	PromptBytes int
	AstFailed   bool
}

// InputSizes runs extraction and prompt construction only, reporting the
// per-file input footprint without touching the model. Used by the dry-run
// flag to size a project against the context window before committing to a
// long run.
func (s *Service) InputSizes(ctx context.Context, mode domain.Mode, files []string, hints domain.RuleHints) ([]InputSize, error) {
	out := make([]InputSize, 0, len(files))
	for _, file := range files {
		source, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		ast := s.Extractor.Extract(ctx, file, mode)
		req := s.Prompts.Build(string(source), ast, mode, hints)
		out = append(out, InputSize{
			FilePath:    file,
			CodeBytes:   len(source),
			AstBytes:    len(ast.JSON),
			PromptBytes: len(req.System) + len(req.Prompt),
			AstFailed:   ast.Failed,
		})
	}
	return out, nil
}
