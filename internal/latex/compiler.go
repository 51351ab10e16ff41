// Package latex runs latexmk against checked-out template snapshots and
// verifies the produced artifacts.
package latex

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/xorwow/serial-pdf/internal/config"
	"github.com/xorwow/serial-pdf/internal/errors"
	"github.com/xorwow/serial-pdf/internal/logging"
)

// outDirName is the snapshot subdirectory latexmk writes final targets to.
// Aux files stay in the snapshot root so a single log path covers both.
const outDirName = "out"

// Artifact describes one successfully compiled PDF.
type Artifact struct {
	// PDFPath is the artifact inside the snapshot, before staging moves it.
	PDFPath string
	// Pages is the verified page count, 0 when verification is disabled.
	Pages int
	// Duration covers the latexmk run only, not checkout or rendering.
	Duration time.Duration
}

// Compiler invokes latexmk with a per-run timeout and collects the filtered
// build log on failure.
type Compiler struct {
	binary   string
	baseArgs []string
	timeout  time.Duration
	verify   bool
	log      logging.Logger
}

func NewCompiler(cfg config.LatexConfig, log logging.Logger) *Compiler {
	if log == nil {
		log = logging.Nop()
	}
	return &Compiler{
		binary:   cfg.LatexmkPath,
		baseArgs: cfg.LatexmkArgs,
		timeout:  cfg.Timeout,
		verify:   cfg.VerifyPDF,
		log:      log.WithComponent("latex"),
	}
}

// Compile runs latexmk on entryFile inside snapshotDir, writing aux files to
// the snapshot root and the PDF to out/<jobID>.pdf. Failures carry the
// filtered build log as error output so callers can persist it.
func (c *Compiler) Compile(ctx context.Context, snapshotDir, entryFile, jobID string) (*Artifact, error) {
	entryPath := filepath.Join(snapshotDir, entryFile)
	outDir := filepath.Join(snapshotDir, outDirName)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, errors.NewInternalError(errors.ErrCodeInternal, "creating latexmk output directory", err).WithJob(jobID)
	}

	args := make([]string, 0, len(c.baseArgs)+4)
	args = append(args, c.baseArgs...)
	args = append(args,
		"--auxdir="+snapshotDir,
		"--outdir="+outDir,
		"--jobname="+jobID,
		entryPath,
	)

	c.log.Debug(ctx, "running latexmk", "job_id", jobID, "entry", entryPath)

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.binary, args...)
	cmd.Dir = filepath.Dir(entryPath)

	start := time.Now()
	output, runErr := cmd.CombinedOutput()
	elapsed := time.Since(start)

	if runErr != nil {
		buildLog := c.collectLog(snapshotDir, jobID, output)
		if runCtx.Err() == context.DeadlineExceeded {
			return nil, errors.NewCompilationError(errors.ErrCodeCompileTimeout,
				fmt.Sprintf("latexmk exceeded the %s limit", c.timeout), runErr).
				WithJob(jobID).WithOutput(buildLog)
		}
		return nil, errors.NewCompilationError(errors.ErrCodeCompileFailed,
			"latexmk exited with an error", runErr).
			WithJob(jobID).WithOutput(buildLog)
	}

	pdfPath := filepath.Join(outDir, jobID+".pdf")
	pdf, err := os.Open(pdfPath)
	if err != nil {
		buildLog := c.collectLog(snapshotDir, jobID, output)
		return nil, errors.NewCompilationError(errors.ErrCodeArtifactMissing,
			"latexmk exited cleanly but produced no readable PDF", err).
			WithJob(jobID).WithOutput(buildLog)
	}
	pdf.Close()

	pages := 0
	if c.verify {
		if err := pdfapi.ValidateFile(pdfPath, nil); err != nil {
			return nil, errors.NewCompilationError(errors.ErrCodeArtifactInvalid,
				"produced PDF failed structural validation", err).WithJob(jobID)
		}
		if pages, err = pdfapi.PageCountFile(pdfPath); err != nil {
			return nil, errors.NewCompilationError(errors.ErrCodeArtifactInvalid,
				"produced PDF has no readable page tree", err).WithJob(jobID)
		}
	}

	c.log.Debug(ctx, "latexmk finished", "job_id", jobID, "duration", elapsed, "pages", pages)

	return &Artifact{PDFPath: pdfPath, Pages: pages, Duration: elapsed}, nil
}

// collectLog prefers the aux log written for the run's jobname and falls back
// to latexmk's combined output when the run died before creating one.
func (c *Compiler) collectLog(snapshotDir, jobID string, fallback []byte) string {
	content, err := os.ReadFile(filepath.Join(snapshotDir, jobID+".log"))
	if err != nil {
		return FilterLog(fallback)
	}
	return FilterLog(content)
}
