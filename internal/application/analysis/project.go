package analysis

import (
	"context"
	"fmt"
	"log"

	domain "github.com/swingft/console-llm/internal/domain/analysis"
)

// RunProject discovers the files for a mode and analyzes them. Exclude mode
// covers every Swift file in the project; sensitive mode narrows to files
// that mention one of the user's excluded identifiers, and widens back to
// every Swift file when no identifiers were configured.
func (s *Service) RunProject(ctx context.Context, mode domain.Mode, root string, hints domain.RuleHints) (domain.Summary, error) {
	files, err := s.projectFiles(mode, root, hints)
	if err != nil {
		return domain.Summary{}, err
	}
	return s.Run(ctx, mode, files, hints)
}

// RunBoth runs the exclude pass then the sensitive pass over one project.
// The passes share the engine, so with a single session the adapter swaps
// exactly once between them.
func (s *Service) RunBoth(ctx context.Context, root string, hints domain.RuleHints) (map[domain.Mode]domain.Summary, error) {
	out := make(map[domain.Mode]domain.Summary, 2)
	for _, mode := range []domain.Mode{domain.ModeExclude, domain.ModeSensitive} {
		sum, err := s.RunProject(ctx, mode, root, hints)
		if err != nil {
			return out, fmt.Errorf("%s pass: %w", mode, err)
		}
		out[mode] = sum
	}
	return out, nil
}

func (s *Service) projectFiles(mode domain.Mode, root string, hints domain.RuleHints) ([]string, error) {
	switch mode {
	case domain.ModeExclude:
		return s.Finder.SwiftFiles(root)
	case domain.ModeSensitive:
		if len(hints.Exclude) == 0 {
			log.Printf("event=no_target_identifiers mode=%s action=analyze_all", mode)
			return s.Finder.SwiftFiles(root)
		}
		return s.Finder.MatchingFiles(root, hints.Exclude)
	default:
		return nil, fmt.Errorf("unknown analysis mode: %s", mode)
	}
}
