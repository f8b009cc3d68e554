package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/swingft/console-llm/internal/application"
	domain "github.com/swingft/console-llm/internal/domain/analysis"
)

// Service implements the analysis use-cases: it drives per-file tasks
// through AST extraction, prompt construction, generation and parsing under
// a bounded worker pool. Safe for concurrent use.
type Service struct {
	Extractor  domain.AstExtractor
	Finder     domain.FileFinder
	Sessions   *SessionPool
	Prompts    domain.PromptBuilder
	Parser     domain.ResponseParser
	Cache      domain.GenerationCache // optional
	Writer     domain.RecordWriter    // optional
	Artifacts  domain.ArtifactStore   // optional
	Clock      application.Clock
	MaxWorkers int
}

// Run analyzes the given files in one mode and returns the finalized
// summary. Stage failures are captured per record; the only fatal condition
// is a missing session, which fails fast before any task executes. Under
// cancellation every task still yields a record (in-flight stages observe
// the dead context and degrade to their typed failure).
func (s *Service) Run(ctx context.Context, mode domain.Mode, files []string, hints domain.RuleHints) (domain.Summary, error) {
	handle, err := s.Sessions.Handle(mode)
	if err != nil {
		return domain.Summary{}, err
	}

	workers := s.MaxWorkers
	if workers <= 0 {
		workers = 4
	}

	runID := fmt.Sprintf("%s-%s", uuid.New().String(), mode)
	started := s.Clock.Now()
	agg := NewAggregator(runID, mode, len(files))

	log.Printf("event=run_started run_id=%s mode=%s files=%d workers=%d", runID, mode, len(files), workers)

	g := new(errgroup.Group)
	g.SetLimit(workers)
	for i, file := range files {
		task := domain.FileTask{Index: i, Path: file, Mode: mode}
		g.Go(func() error {
			rec := s.analyzeOne(ctx, task, hints, handle)
			agg.Accumulate(task.Index, rec)
			s.persistRecord(rec)
			return nil
		})
	}
	_ = g.Wait() // per-task failures live in the records

	sum := agg.Finalize(s.Clock.Now().Sub(started).Milliseconds())
	s.persistSummary(ctx, &sum)

	log.Printf("event=run_finished run_id=%s mode=%s successful=%d failed=%d unique_identifiers=%d",
		runID, mode, sum.Successful, sum.Failed, len(sum.UniqueIdentifiers))
	return sum, ctx.Err()
}

// analyzeOne runs the four pipeline stages sequentially for a single task
// and always returns a record, whatever fails along the way.
func (s *Service) analyzeOne(ctx context.Context, task domain.FileTask, hints domain.RuleHints, handle *SessionHandle) domain.Record {
	start := s.Clock.Now()
	rec := domain.Record{
		FilePath:    task.Path,
		Mode:        task.Mode,
		Identifiers: []string{},
	}
	defer func() {
		rec.DurationMS = s.Clock.Now().Sub(start).Milliseconds()
	}()

	source, err := os.ReadFile(task.Path)
	if err != nil {
		rec.Status = domain.StatusExtractionFailure
		rec.Error = fmt.Sprintf("read source: %v", err)
		return rec
	}

	ast := s.Extractor.Extract(ctx, task.Path, task.Mode)
	rec.AstJSON = ast.JSON
	if ast.Failed {
		rec.AstError = ast.Reason
	}

	req := s.Prompts.Build(string(source), ast, task.Mode, hints)

	raw, fromCache := s.cachedOutput(ctx, source, req)
	if !fromCache {
		res, genErr := s.generate(ctx, handle, req)
		if genErr != nil {
			rec.Status = domain.StatusModelFailure
			rec.Error = genErr.Error()
			return rec
		}
		raw = res.RawText
		s.storeOutput(ctx, source, req, raw)
	}
	rec.RawOutput = raw
	rec.FromCache = fromCache

	parsed := s.Parser.Parse(raw, task.Mode)
	rec.Reasoning = parsed.Reasoning
	rec.Identifiers = parsed.Identifiers
	if rec.Identifiers == nil {
		rec.Identifiers = []string{}
	}
	if !parsed.OK {
		rec.Status = domain.StatusParseFailure
		rec.Error = "no structured identifiers recovered from model output"
		return rec
	}
	rec.Status = domain.StatusSuccess
	return rec
}

// generate serializes access to the session through its gate. Adapter swaps
// happen inside Generate under the same exclusion.
func (s *Service) generate(ctx context.Context, handle *SessionHandle, req domain.GenerationRequest) (domain.GenerationResult, error) {
	if err := handle.acquire(ctx); err != nil {
		return domain.GenerationResult{}, fmt.Errorf("acquire model session: %w", err)
	}
	defer handle.release()
	return handle.session.Generate(ctx, req)
}

func (s *Service) cachedOutput(ctx context.Context, source []byte, req domain.GenerationRequest) (string, bool) {
	if s.Cache == nil {
		return "", false
	}
	raw, ok := s.Cache.Get(ctx, cacheKeyFor(source, req))
	return raw, ok
}

func (s *Service) storeOutput(ctx context.Context, source []byte, req domain.GenerationRequest, raw string) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Put(ctx, cacheKeyFor(source, req), raw); err != nil {
		log.Printf("event=cache_put_failed error=%v", err)
	}
}

func cacheKeyFor(source []byte, req domain.GenerationRequest) domain.CacheKey {
	return domain.CacheKey{
		FileHash:   hashBytes(source),
		Mode:       req.Mode,
		PromptHash: hashBytes([]byte(req.System + "\x00" + req.Prompt)),
	}
}

func hashBytes(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

func (s *Service) persistRecord(rec domain.Record) {
	if s.Writer == nil {
		return
	}
	if _, err := s.Writer.WriteRecord(rec); err != nil {
		log.Printf("event=record_write_failed file=%s error=%v", rec.FilePath, err)
		return
	}
	if rec.Status == domain.StatusSuccess {
		log.Printf("event=file_done file=%s identifiers=%d cached=%t",
			filepath.Base(rec.FilePath), len(rec.Identifiers), rec.FromCache)
	} else {
		log.Printf("event=file_failed file=%s status=%s error=%q",
			filepath.Base(rec.FilePath), rec.Status, rec.Error)
	}
}

func (s *Service) persistSummary(ctx context.Context, sum *domain.Summary) {
	if s.Writer == nil {
		return
	}
	path, err := s.Writer.WriteSummary(*sum)
	if err != nil {
		log.Printf("event=summary_write_failed error=%v", err)
		return
	}
	if s.Artifacts == nil {
		return
	}
	key := fmt.Sprintf("%s/%s", sum.RunID, filepath.Base(path))
	url, err := s.Artifacts.Upload(ctx, path, key)
	if err != nil {
		log.Printf("event=artifact_upload_failed error=%v", err)
		return
	}
	sum.ArtifactURL = url
	if _, err := s.Writer.WriteSummary(*sum); err != nil {
		log.Printf("event=summary_rewrite_failed error=%v", err)
	}
}
