package main

import (
	"context"
	"fmt"
	"log"

	"github.com/swingft/console-llm/internal/application"
	appanalysis "github.com/swingft/console-llm/internal/application/analysis"
	"github.com/swingft/console-llm/internal/config"
	domain "github.com/swingft/console-llm/internal/domain/analysis"
	"github.com/swingft/console-llm/internal/infra/ast"
	"github.com/swingft/console-llm/internal/infra/cache"
	"github.com/swingft/console-llm/internal/infra/discovery"
	"github.com/swingft/console-llm/internal/infra/llama"
	"github.com/swingft/console-llm/internal/infra/output"
	"github.com/swingft/console-llm/internal/infra/parse"
	"github.com/swingft/console-llm/internal/infra/prompt"
	"github.com/swingft/console-llm/internal/infra/storage"
	"github.com/swingft/console-llm/internal/middleware"
)

// engine bundles the assembled analysis service with the resources that
// need teardown when the process exits.
type engine struct {
	svc     *appanalysis.Service
	cache   *cache.SQLite
	closers []func() error
}

// healthChecks assembles the sidecar health probes for the wired backends.
func (e *engine) healthChecks() map[string]middleware.HealthChecker {
	checks := map[string]middleware.HealthChecker{}
	if e.cache != nil {
		checks["cache"] = middleware.CheckerFunc(e.cache.Ping)
	}
	return checks
}

func (e *engine) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			log.Printf("event=shutdown_error error=%v", err)
		}
	}
}

// buildEngine wires the infra adapters into the service. withModel=false
// builds a model-less engine for dry runs (extraction and prompt sizing
// only). Model loading is fail-fast: a session that cannot load aborts
// assembly before any task runs.
func buildEngine(ctx context.Context, cfg *config.Config, startMode domain.Mode, withModel bool) (*engine, error) {
	e := &engine{}

	bridges := map[domain.Mode]*ast.Bridge{}
	if cfg.Analyzer.ExcludeBin != "" {
		bridges[domain.ModeExclude] = ast.NewBridge(cfg.Analyzer.ExcludeBin, cfg.AnalyzerTimeout())
	}
	if cfg.Analyzer.SensitiveBin != "" {
		bridges[domain.ModeSensitive] = ast.NewBridge(cfg.Analyzer.SensitiveBin, cfg.AnalyzerTimeout())
	}
	extractor, err := ast.NewCachedExtractor(ast.NewSelector(bridges), 512)
	if err != nil {
		return nil, fmt.Errorf("ast cache: %w", err)
	}

	writer, err := output.NewWriter(cfg.Run.OutputDir)
	if err != nil {
		return nil, err
	}

	svc := &appanalysis.Service{
		Extractor:  extractor,
		Finder:     discovery.Finder{},
		Prompts:    prompt.NewBuilder(cfg.Run.PromptBudget, cfg.Run.MaxTokens),
		Parser:     parse.NewParser(),
		Writer:     writer,
		Clock:      application.SystemClock{},
		MaxWorkers: cfg.Run.MaxWorkers,
	}

	if cfg.Cache.Enabled {
		db, err := cache.Open(ctx, cfg.Cache.Path, cfg.Cache.Flush)
		if err != nil {
			e.close()
			return nil, err
		}
		svc.Cache = db
		e.cache = db
		e.closers = append(e.closers, db.Close)
	}

	if cfg.MinioEnabled() {
		store, err := storage.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
		)
		if err != nil {
			e.close()
			return nil, fmt.Errorf("minio init: %w", err)
		}
		svc.Artifacts = store
	}

	if withModel {
		pool, err := buildSessions(ctx, cfg, startMode)
		if err != nil {
			e.close()
			return nil, err
		}
		svc.Sessions = pool
		e.closers = append(e.closers, pool.Close)
	}

	e.svc = svc
	return e, nil
}

func buildSessions(ctx context.Context, cfg *config.Config, startMode domain.Mode) (*appanalysis.SessionPool, error) {
	base := llama.Config{
		ServerBin:     cfg.Model.ServerBin,
		BaseModelPath: cfg.Model.BasePath,
		ContextLen:    cfg.Model.ContextLen,
		GPULayers:     cfg.Model.GPULayers,
		Threads:       cfg.Model.Threads,
		KVCache4Bit:   cfg.Model.KVCache4Bit,
		Host:          cfg.Model.Host,
		Port:          cfg.Model.Port,
	}

	if cfg.Model.Instances == "per-mode" {
		exCfg := base
		exCfg.AdapterPaths = map[domain.Mode]string{domain.ModeExclude: cfg.Model.LoraExclude}
		exclude, err := llama.New(ctx, exCfg, domain.ModeExclude)
		if err != nil {
			return nil, err
		}
		seCfg := base
		seCfg.Port = base.Port + 1
		seCfg.AdapterPaths = map[domain.Mode]string{domain.ModeSensitive: cfg.Model.LoraSensitive}
		sensitive, err := llama.New(ctx, seCfg, domain.ModeSensitive)
		if err != nil {
			_ = exclude.Close()
			return nil, err
		}
		return appanalysis.PerModePool(exclude, sensitive), nil
	}

	base.AdapterPaths = map[domain.Mode]string{
		domain.ModeExclude:   cfg.Model.LoraExclude,
		domain.ModeSensitive: cfg.Model.LoraSensitive,
	}
	session, err := llama.New(ctx, base, startMode)
	if err != nil {
		return nil, err
	}
	return appanalysis.SinglePool(session), nil
}
