package jobs

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/xorwow/serial-pdf/internal/config"
	"github.com/xorwow/serial-pdf/internal/errorlog"
	"github.com/xorwow/serial-pdf/internal/errors"
	"github.com/xorwow/serial-pdf/internal/logging"
	"github.com/xorwow/serial-pdf/internal/placeholder"
)

// Exporter moves staged artifacts into the export root on collection.
// Implemented by stage.Stager.
type Exporter interface {
	Export(ctx context.Context, jobID, stagedPath string) (string, error)
}

// Manager runs the job lifecycle: it validates submissions, queues them for
// the worker pool, records state transitions, and hands out results.
type Manager struct {
	store     Store
	pipeline  Pipeline
	exporter  Exporter
	errorLogs *errorlog.Store

	mode    string
	tasks   chan Task
	workers int

	workerWg sync.WaitGroup
	cancel   context.CancelFunc
	quit     chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool

	log logging.Logger
}

func NewManager(store Store, pipeline Pipeline, exporter Exporter, errorLogs *errorlog.Store, cfg config.JobsConfig, log logging.Logger) *Manager {
	if log == nil {
		log = logging.Nop()
	}
	return &Manager{
		store:     store,
		pipeline:  pipeline,
		exporter:  exporter,
		errorLogs: errorLogs,
		mode:      cfg.ShutdownMode,
		tasks:     make(chan Task, cfg.QueueSize),
		workers:   cfg.Concurrency,
		quit:      make(chan struct{}),
		log:       log.WithComponent("jobs"),
	}
}

// Start launches the worker pool. Workers inherit ctx, so canceling it
// force-stops them; prefer Shutdown for an orderly stop.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	ctx, m.cancel = context.WithCancel(ctx)
	for i := 0; i < m.workers; i++ {
		m.workerWg.Add(1)
		go m.worker(ctx)
	}

	m.log.Info(ctx, "worker pool started", "workers", m.workers, "queue_size", cap(m.tasks))
}

// Workers returns the worker pool size.
func (m *Manager) Workers() int {
	return m.workers
}

// QueueDepth returns how many queued jobs no worker has claimed yet.
func (m *Manager) QueueDepth() int {
	return len(m.tasks)
}

// QueueSize returns the submission queue capacity.
func (m *Manager) QueueSize() int {
	return cap(m.tasks)
}

// Submit validates a submission, records it as PENDING, and queues it.
// Returns the new job ID. When the queue is full the record is withdrawn
// and a queue-full error comes back instead.
func (m *Manager) Submit(ctx context.Context, templateID, commit string, data map[string]placeholder.Value) (string, error) {
	m.mu.Lock()
	stopped := m.stopped
	m.mu.Unlock()
	if stopped {
		return "", errors.NewInternalError(errors.ErrCodeShutdown, "service is shutting down", nil)
	}

	subpath, resolved, err := m.pipeline.Validate(ctx, templateID, commit, data)
	if err != nil {
		return "", err
	}

	record := Record{
		ID:          NewJobID(),
		State:       StatePending,
		TemplateID:  templateID,
		Commit:      resolved,
		SubmittedAt: time.Now().UTC(),
	}
	if err := m.store.Put(ctx, record); err != nil {
		return "", err
	}

	select {
	case m.tasks <- Task{Record: record, Subpath: subpath, Data: data}:
	default:
		if err := m.store.Delete(ctx, record.ID); err != nil {
			m.log.Warn(ctx, err, "withdrawing record for rejected submission failed", "job_id", record.ID)
		}
		return "", errors.ErrQueueFull()
	}

	m.log.Info(ctx, "job queued", "job_id", record.ID, "template", templateID, "commit", resolved)
	return record.ID, nil
}

// Poll answers a status request. The first poll of a READY job moves its
// artifact into the export root; later polls serve the recorded metadata.
func (m *Manager) Poll(ctx context.Context, id string) (Status, error) {
	if !ValidJobID(id) {
		return Status{}, errors.NewValidationError(errors.ErrCodeInvalidJobID, "job id must be alphanumeric")
	}

	record, err := m.store.Get(ctx, id)
	if err != nil {
		return Status{}, err
	}

	if record.State == StateReady && !record.Exported() {
		record, err = m.collect(ctx, record)
		if err != nil {
			return Status{}, err
		}
	}

	return statusFromRecord(record), nil
}

// collect performs the one-time export. The claim is taken inside the store
// update so concurrent pollers agree on a single mover; losers return the
// record as the winner left it.
func (m *Manager) collect(ctx context.Context, record Record) (Record, error) {
	name := record.ID + ".pdf"
	claimed := false
	updated, err := m.store.Update(ctx, record.ID, func(r Record) (Record, error) {
		claimed = false
		if r.State != StateReady || r.Exported() {
			return r, nil
		}
		r.ExportFile = name
		claimed = true
		return r, nil
	})
	if err != nil {
		return Record{}, err
	}
	if !claimed {
		return updated, nil
	}

	if _, err := m.exporter.Export(ctx, record.ID, updated.StagedPath); err != nil {
		if _, uerr := m.store.Update(ctx, record.ID, func(r Record) (Record, error) {
			r.ExportFile = ""
			return r, nil
		}); uerr != nil {
			m.log.Error(ctx, uerr, "releasing export claim failed", "job_id", record.ID)
		}
		return Record{}, err
	}

	return m.store.Update(ctx, record.ID, func(r Record) (Record, error) {
		r.StagedPath = ""
		return r, nil
	})
}

func (m *Manager) worker(ctx context.Context) {
	defer m.workerWg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.quit:
			return
		case task := <-m.tasks:
			m.process(ctx, task)
		}
	}
}

func (m *Manager) process(ctx context.Context, task Task) {
	id := task.Record.ID
	m.log.Info(ctx, "job started", "job_id", id, "template", task.Record.TemplateID, "commit", task.Record.Commit)

	outcome, err := m.pipeline.Run(ctx, task)
	if err != nil {
		m.fail(ctx, task, err)
		return
	}

	processing := math.Round(outcome.Duration.Seconds()*100) / 100
	if _, err := m.store.Update(context.WithoutCancel(ctx), id, func(r Record) (Record, error) {
		if r.State.Terminal() {
			return r, nil
		}
		r.State = StateReady
		r.StagedPath = outcome.StagedPath
		r.Unmatched = outcome.Unmatched
		r.ProcessingTime = processing
		r.Pages = outcome.Pages
		return r, nil
	}); err != nil {
		m.log.Error(ctx, err, "recording finished job failed", "job_id", id)
		return
	}

	m.log.Info(ctx, "job ready", "job_id", id, "processing_time", processing)
}

// fail records a terminal failure, writing the filtered build log first when
// the error carries one. Record writes survive worker cancellation.
func (m *Manager) fail(ctx context.Context, task Task, cause error) {
	id := task.Record.ID
	storeCtx := context.WithoutCancel(ctx)

	if ctx.Err() != nil {
		cause = errors.NewInternalError(errors.ErrCodeShutdown, "job abandoned during shutdown", cause).WithJob(id)
	}

	logName := ""
	if output := errors.OutputOf(cause); output != "" && m.errorLogs != nil {
		name, err := m.errorLogs.Write(storeCtx, id, output)
		if err != nil {
			m.log.Error(ctx, err, "writing error log failed", "job_id", id)
		} else {
			logName = name
		}
	}

	if _, err := m.store.Update(storeCtx, id, func(r Record) (Record, error) {
		if r.State.Terminal() {
			return r, nil
		}
		r.State = StateFailed
		r.ErrorLog = logName
		return r, nil
	}); err != nil {
		m.log.Error(ctx, err, "recording failed job failed", "job_id", id)
	}

	m.log.Warn(ctx, cause, "job failed", "job_id", id, "template", task.Record.TemplateID)
}

// Shutdown stops the pool. Drain mode lets running jobs finish within ctx
// and abandon mode cancels them; queued jobs that never started are marked
// FAILED in both modes. Safe to call more than once.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	started := m.started
	m.mu.Unlock()

	if !started {
		return nil
	}

	if m.mode == config.ShutdownAbandon {
		m.cancel()
	} else {
		close(m.quit)
	}

	m.discardQueued(ctx)

	done := make(chan struct{})
	go func() {
		m.workerWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		m.cancel()
		<-done
		return ctx.Err()
	}
}

func (m *Manager) discardQueued(ctx context.Context) {
	storeCtx := context.WithoutCancel(ctx)
	for {
		select {
		case task := <-m.tasks:
			if _, err := m.store.Update(storeCtx, task.Record.ID, func(r Record) (Record, error) {
				if r.State.Terminal() {
					return r, nil
				}
				r.State = StateFailed
				return r, nil
			}); err != nil {
				m.log.Warn(ctx, err, "marking queued job during shutdown failed", "job_id", task.Record.ID)
			}
		default:
			return
		}
	}
}
