// Package stage holds compiled PDFs between compilation and collection.
// Artifacts land in a private staging directory first and move into the
// export root only when a client collects the finished job.
package stage

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/xorwow/serial-pdf/internal/errors"
	"github.com/xorwow/serial-pdf/internal/logging"
)

type Stager struct {
	dir       string
	exportDir string
	log       logging.Logger
}

func NewStager(exportDir string, log logging.Logger) (*Stager, error) {
	if log == nil {
		log = logging.Nop()
	}
	if err := os.MkdirAll(exportDir, 0o755); err != nil {
		return nil, errors.NewInternalError(errors.ErrCodeInternal, "creating export directory", err)
	}

	dir, err := os.MkdirTemp("", "staging_*")
	if err != nil {
		return nil, errors.NewInternalError(errors.ErrCodeInternal, "creating staging directory", err)
	}

	return &Stager{
		dir:       dir,
		exportDir: exportDir,
		log:       log.WithComponent("stage"),
	}, nil
}

// Stage moves a compiled PDF out of its build snapshot into the staging
// directory, so the snapshot can be deleted while the artifact waits for
// collection. Returns the staged location.
func (s *Stager) Stage(ctx context.Context, jobID, pdfPath string) (string, error) {
	staged := filepath.Join(s.dir, jobID+".pdf")
	if err := moveFile(pdfPath, staged); err != nil {
		return "", errors.NewInternalError(errors.ErrCodeInternal, "staging compiled PDF", err).WithJob(jobID)
	}

	s.log.Debug(ctx, "staged artifact", "job_id", jobID, "path", staged)
	return staged, nil
}

// Export moves a staged PDF into the export root as <jobID>.pdf and returns
// that name. The staged copy is gone afterwards, so callers must record the
// outcome and serve repeat requests from that record.
func (s *Stager) Export(ctx context.Context, jobID, stagedPath string) (string, error) {
	name := jobID + ".pdf"
	if err := moveFile(stagedPath, filepath.Join(s.exportDir, name)); err != nil {
		return "", errors.NewInternalError(errors.ErrCodeExportFailed, "exporting staged PDF", err).WithJob(jobID)
	}

	s.log.Info(ctx, "exported artifact", "job_id", jobID, "export_file", name)
	return name, nil
}

// Discard drops a staged artifact that will never be collected.
func (s *Stager) Discard(ctx context.Context, jobID string) {
	if err := os.Remove(filepath.Join(s.dir, jobID+".pdf")); err != nil && !os.IsNotExist(err) {
		s.log.Warn(ctx, err, "discarding staged artifact failed", "job_id", jobID)
	}
}

// Close removes the staging directory and everything still in it. Safe to
// call more than once.
func (s *Stager) Close() error {
	if err := os.RemoveAll(s.dir); err != nil {
		return errors.NewInternalError(errors.ErrCodeInternal, "removing staging directory", err)
	}
	return nil
}

// moveFile renames src onto dst and falls back to copy-and-delete when the
// two live on different filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	return os.Remove(src)
}
