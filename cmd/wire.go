package cmd

import (
	"os"

	"github.com/xorwow/serial-pdf/internal/config"
	"github.com/xorwow/serial-pdf/internal/jobs"
	"github.com/xorwow/serial-pdf/internal/latex"
	"github.com/xorwow/serial-pdf/internal/logging"
	"github.com/xorwow/serial-pdf/internal/placeholder"
	"github.com/xorwow/serial-pdf/internal/stage"
	"github.com/xorwow/serial-pdf/internal/vcs"
)

// pipelineParts bundles the long-lived components behind the job workers.
type pipelineParts struct {
	resolver *vcs.Resolver
	engine   *placeholder.Engine
	compiler *latex.Compiler
	stager   *stage.Stager
	pipeline *jobs.RenderPipeline
}

// buildLogger assembles the console logger plus, when a log directory is
// configured, a debug-level file logger. The returned closer flushes the
// file sink.
func buildLogger(cfg *config.Config) (logging.Logger, func(), error) {
	consoleCfg := &logging.LoggerConfig{
		Level:  logging.ParseLevel(cfg.Logging.Level),
		Format: cfg.Logging.Format,
		Output: os.Stdout,
	}
	console := logging.NewLogger(consoleCfg)

	if cfg.Paths.LogDir == "" {
		return console, func() {}, nil
	}

	fileCfg := *consoleCfg
	fileCfg.Level = logging.LevelDebug
	file, err := logging.NewFileLogger(&fileCfg, cfg.Paths.LogDir)
	if err != nil {
		return nil, nil, err
	}

	return logging.NewMultiLogger(console, file), func() { file.Close() }, nil
}

// buildPipeline wires the resolve-render-compile-stage path. Collected PDFs
// land in exportDir.
func buildPipeline(cfg *config.Config, exportDir string, log logging.Logger) (*pipelineParts, error) {
	resolver := vcs.NewResolver(cfg.Paths.TemplateRoot, nil, log)
	engine := placeholder.NewEngine(placeholder.DefaultPattern(), cfg.Template.StyleFile, log)
	compiler := latex.NewCompiler(cfg.Latex, log)

	stager, err := stage.NewStager(exportDir, log)
	if err != nil {
		return nil, err
	}

	return &pipelineParts{
		resolver: resolver,
		engine:   engine,
		compiler: compiler,
		stager:   stager,
		pipeline: jobs.NewRenderPipeline(resolver, engine, compiler, stager, cfg.Template.EntryFile, log),
	}, nil
}

// buildStore selects the job store backend.
func buildStore(cfg *config.Config) (jobs.Store, error) {
	switch cfg.Store.Backend {
	case config.StoreRedis:
		return jobs.NewRedisStore(cfg.Store.Redis)
	default:
		return jobs.NewMemoryStore(), nil
	}
}
