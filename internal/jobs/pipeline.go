package jobs

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/xorwow/serial-pdf/internal/errors"
	"github.com/xorwow/serial-pdf/internal/latex"
	"github.com/xorwow/serial-pdf/internal/logging"
	"github.com/xorwow/serial-pdf/internal/placeholder"
	"github.com/xorwow/serial-pdf/internal/stage"
	"github.com/xorwow/serial-pdf/internal/vcs"
)

// Task couples a pending record with the submission data. Data is only held
// in the queue, never persisted.
type Task struct {
	Record  Record
	Subpath string
	Data    map[string]placeholder.Value
}

// Outcome is what a successful pipeline run leaves behind for the record
// transition.
type Outcome struct {
	StagedPath string
	Unmatched  placeholder.Report
	Duration   time.Duration
	Pages      int
}

// Pipeline validates submissions and produces staged artifacts. The split
// from the manager lets lifecycle tests run without git or latexmk.
type Pipeline interface {
	// Validate checks a submission and returns the template subpath in the
	// repository plus the resolved commit.
	Validate(ctx context.Context, templateID, commit string, data map[string]placeholder.Value) (subpath, resolved string, err error)
	// Run takes one job from checkout through compilation and leaves the
	// artifact staged for collection.
	Run(ctx context.Context, task Task) (*Outcome, error)
}

var commitPattern = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

// RenderPipeline is the production pipeline: commit-pinned checkout,
// placeholder substitution, latexmk, staging.
type RenderPipeline struct {
	resolver  *vcs.Resolver
	engine    *placeholder.Engine
	compiler  *latex.Compiler
	stager    *stage.Stager
	entryFile string
	log       logging.Logger
}

func NewRenderPipeline(resolver *vcs.Resolver, engine *placeholder.Engine, compiler *latex.Compiler, stager *stage.Stager, entryFile string, log logging.Logger) *RenderPipeline {
	if log == nil {
		log = logging.Nop()
	}
	return &RenderPipeline{
		resolver:  resolver,
		engine:    engine,
		compiler:  compiler,
		stager:    stager,
		entryFile: entryFile,
		log:       log.WithComponent("pipeline"),
	}
}

func (p *RenderPipeline) Validate(ctx context.Context, templateID, commit string, data map[string]placeholder.Value) (string, string, error) {
	if commit != "" && !strings.EqualFold(commit, "HEAD") && !commitPattern.MatchString(commit) {
		return "", "", errors.NewValidationError(errors.ErrCodeInvalidCommit, "commit must be alphanumeric").WithTemplate(templateID)
	}

	subpath, resolved, err := p.resolver.Resolve(ctx, templateID, commit)
	if err != nil {
		return "", "", err
	}

	ok, err := p.resolver.Exists(ctx, path.Join(subpath, p.entryFile), resolved)
	if err != nil {
		return "", "", err
	}
	if !ok {
		return "", "", errors.ErrEntryNotFound(templateID, p.entryFile, resolved)
	}

	for key := range data {
		if !placeholder.ValidKey(key) {
			return "", "", errors.NewValidationError(errors.ErrCodeInvalidData,
				fmt.Sprintf("placeholder key %q is not allowed", key)).WithTemplate(templateID)
		}
	}

	return subpath, resolved, nil
}

func (p *RenderPipeline) Run(ctx context.Context, task Task) (*Outcome, error) {
	record := task.Record

	snapshot, err := p.resolver.Snapshot(ctx, task.Subpath, record.Commit)
	if err != nil {
		return nil, err
	}
	defer snapshot.Remove()

	unmatched, err := p.engine.RenderAll(ctx, snapshot.Dir, task.Data, true)
	if err != nil {
		return nil, err
	}

	artifact, err := p.compiler.Compile(ctx, snapshot.Dir, p.entryFile, record.ID)
	if err != nil {
		return nil, err
	}

	staged, err := p.stager.Stage(ctx, record.ID, artifact.PDFPath)
	if err != nil {
		return nil, err
	}

	return &Outcome{
		StagedPath: staged,
		Unmatched:  unmatched,
		Duration:   artifact.Duration,
		Pages:      artifact.Pages,
	}, nil
}
