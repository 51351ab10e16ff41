package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xorwow/serial-pdf/internal/config"
	"github.com/xorwow/serial-pdf/internal/errorlog"
	"github.com/xorwow/serial-pdf/internal/errors"
	"github.com/xorwow/serial-pdf/internal/jobs"
	"github.com/xorwow/serial-pdf/internal/logging"
	"github.com/xorwow/serial-pdf/internal/placeholder"
	"github.com/xorwow/serial-pdf/internal/registry"
)

// stubPipeline answers Validate from fixed data and Run from a canned
// outcome, optionally blocking until released.
type stubPipeline struct {
	validateErr error
	runErr      error
	outcome     jobs.Outcome
	block       chan struct{}
}

func (p *stubPipeline) Validate(ctx context.Context, templateID, commit string, data map[string]placeholder.Value) (string, string, error) {
	if p.validateErr != nil {
		return "", "", p.validateErr
	}

	return templateID, "abc1234", nil
}

func (p *stubPipeline) Run(ctx context.Context, task jobs.Task) (*jobs.Outcome, error) {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return nil, errors.NewCompilationError(errors.ErrCodeCompileFailed, "compile interrupted", ctx.Err())
		}
	}
	if p.runErr != nil {
		return nil, p.runErr
	}

	outcome := p.outcome
	return &outcome, nil
}

type stubExporter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (e *stubExporter) Export(ctx context.Context, jobID, stagedPath string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls++
	if e.err != nil {
		return "", e.err
	}

	return jobID + ".pdf", nil
}

type apiFixture struct {
	handler  http.Handler
	manager  *jobs.Manager
	pipeline *stubPipeline
	exporter *stubExporter
}

func defaultOutcome() jobs.Outcome {
	return jobs.Outcome{
		StagedPath: "staging/job.pdf",
		Unmatched:  placeholder.Report{"main.tex": {`\placeholder{Missing}`}},
		Duration:   1234 * time.Millisecond,
		Pages:      2,
	}
}

func newAPIFixture(t *testing.T, pipe *stubPipeline, jcfg config.JobsConfig) *apiFixture {
	t.Helper()

	if pipe == nil {
		pipe = &stubPipeline{outcome: defaultOutcome()}
	}
	exporter := &stubExporter{}

	logs, err := errorlog.NewStore(t.TempDir(), config.ErrorLogConfig{MaxFiles: 10, PruneExtra: 2}, logging.Nop())
	require.NoError(t, err)

	manager := jobs.NewManager(jobs.NewMemoryStore(), pipe, exporter, logs, jcfg, logging.Nop())
	manager.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		manager.Shutdown(ctx)
	})

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "invoice"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "invoice", "main.tex"), []byte("x"), 0o644))
	reg, err := registry.New(root, "main.tex", 0, logging.Nop())
	require.NoError(t, err)

	api := NewAPI(manager, reg, logging.Nop())
	srv := New(config.ServerConfig{Host: "127.0.0.1", Port: 8080}, api, logging.Nop())

	return &apiFixture{handler: srv.Handler(), manager: manager, pipeline: pipe, exporter: exporter}
}

func testJobsConfig() config.JobsConfig {
	return config.JobsConfig{Concurrency: 2, QueueSize: 4, ShutdownMode: config.ShutdownDrain}
}

func (f *apiFixture) do(method, target string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	return rec
}

func (f *apiFixture) submit(t *testing.T, target, body string) string {
	t.Helper()

	rec := f.do(http.MethodPost, target, strings.NewReader(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var answer map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &answer))
	require.NotEmpty(t, answer["id"])

	return answer["id"]
}

// pollUntil polls the job endpoint until the wanted state appears and
// returns the final answer.
func (f *apiFixture) pollUntil(t *testing.T, id string, want jobs.State) statusResponse {
	t.Helper()

	var last statusResponse
	require.Eventually(t, func() bool {
		rec := f.do(http.MethodGet, "/job?id="+id, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		var status statusResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
			return false
		}
		last = status
		return status.State == want
	}, 3*time.Second, 10*time.Millisecond, "job %s never reached %s", id, want)

	return last
}

func TestIndexReportsWorkerCount(t *testing.T) {
	f := newAPIFixture(t, nil, testJobsConfig())

	rec := f.do(http.MethodGet, "/", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "serial-pdf is running with up to 2 worker(s)")
}

func TestIndexRejectsUnknownPaths(t *testing.T) {
	f := newAPIFixture(t, nil, testJobsConfig())

	rec := f.do(http.MethodGet, "/nope", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitReturnsJobID(t *testing.T) {
	f := newAPIFixture(t, nil, testJobsConfig())

	id := f.submit(t, "/job?template_id=invoice", `{"Name": "Bob"}`)

	assert.Regexp(t, `^[a-zA-Z0-9]+$`, id)
}

func TestSubmitAcceptsTrailingSlashRoute(t *testing.T) {
	f := newAPIFixture(t, nil, testJobsConfig())

	f.submit(t, "/job/?template_id=invoice", `{}`)
}

func TestSubmitRequiresTemplateID(t *testing.T) {
	f := newAPIFixture(t, nil, testJobsConfig())

	rec := f.do(http.MethodPost, "/job", strings.NewReader(`{}`))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "template_id")
}

func TestSubmitRequiresJSONObjectBody(t *testing.T) {
	f := newAPIFixture(t, nil, testJobsConfig())

	for _, body := range []string{``, `null`, `not json`, `[1, 2]`, `"text"`} {
		rec := f.do(http.MethodPost, "/job?template_id=invoice", strings.NewReader(body))
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
	}
}

func TestSubmitMapsRejectionsToBadRequest(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"validation", errors.NewValidationError(errors.ErrCodeInvalidCommit, "commit hash must be alphanumeric")},
		{"not found", errors.ErrTemplateNotFound("ghost", "abc1234")},
		{"checkout", errors.NewCheckoutError(errors.ErrCodeCommitUnknown, "unknown commit", nil)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pipe := &stubPipeline{validateErr: tc.err, outcome: defaultOutcome()}
			f := newAPIFixture(t, pipe, testJobsConfig())

			rec := f.do(http.MethodPost, "/job?template_id=ghost", strings.NewReader(`{}`))

			require.Equal(t, http.StatusBadRequest, rec.Code)

			var answer map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &answer))
			assert.Equal(t, errors.MessageOf(tc.err), answer["error"])
		})
	}
}

func TestSubmitQueueFullAnswersServerError(t *testing.T) {
	pipe := &stubPipeline{outcome: defaultOutcome(), block: make(chan struct{})}
	defer close(pipe.block)

	f := newAPIFixture(t, pipe, config.JobsConfig{
		Concurrency: 1, QueueSize: 1, ShutdownMode: config.ShutdownDrain,
	})

	// First job occupies the only worker, second fills the queue.
	f.submit(t, "/job?template_id=invoice", `{}`)
	require.Eventually(t, func() bool { return f.manager.QueueDepth() == 0 },
		2*time.Second, 5*time.Millisecond)
	f.submit(t, "/job?template_id=invoice", `{}`)

	rec := f.do(http.MethodPost, "/job?template_id=invoice", strings.NewReader(`{}`))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "failed to create new job")
}

func TestPollUnknownJobAnswersNotFound(t *testing.T) {
	f := newAPIFixture(t, nil, testJobsConfig())

	rec := f.do(http.MethodGet, "/job?id=ABCDEF123456", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var status statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ABCDEF123456", status.ID)
	assert.Equal(t, jobs.StateNotFound, status.State)
	assert.Nil(t, status.PDFData)
}

func TestPollRejectsBadJobID(t *testing.T) {
	f := newAPIFixture(t, nil, testJobsConfig())

	for _, target := range []string{"/job", "/job?id=", "/job?id=abc$12"} {
		rec := f.do(http.MethodGet, target, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "target %q", target)
	}
}

func TestPollReadyCarriesPDFData(t *testing.T) {
	f := newAPIFixture(t, nil, testJobsConfig())

	id := f.submit(t, "/job?template_id=invoice", `{"Name": "Bob"}`)
	status := f.pollUntil(t, id, jobs.StateReady)

	require.NotNil(t, status.PDFData)
	assert.Equal(t, id+".pdf", status.PDFData.ExportFile)
	assert.Equal(t, "abc1234", status.PDFData.Commit)
	assert.Equal(t, 1.23, status.PDFData.ProcessingTime)
	assert.Equal(t, 2, status.PDFData.Pages)
	assert.Equal(t, placeholder.Report{"main.tex": {`\placeholder{Missing}`}}, status.PDFData.Unmatched)
	assert.Empty(t, status.ErrorLog)

	// Terminal answers repeat, the export itself happens once.
	again := f.pollUntil(t, id, jobs.StateReady)
	assert.Equal(t, status.PDFData.ExportFile, again.PDFData.ExportFile)
	f.exporter.mu.Lock()
	defer f.exporter.mu.Unlock()
	assert.Equal(t, 1, f.exporter.calls)
}

func TestPollFailedCarriesErrorLog(t *testing.T) {
	pipe := &stubPipeline{
		runErr: errors.NewCompilationError(errors.ErrCodeCompileFailed, "latexmk exited 1", nil).
			WithOutput("! Undefined control sequence."),
	}
	f := newAPIFixture(t, pipe, testJobsConfig())

	id := f.submit(t, "/job?template_id=invoice", `{}`)
	status := f.pollUntil(t, id, jobs.StateFailed)

	assert.Equal(t, id+".log", status.ErrorLog)
	assert.Nil(t, status.PDFData)
}

func TestJobRouteRejectsOtherMethods(t *testing.T) {
	f := newAPIFixture(t, nil, testJobsConfig())

	rec := f.do(http.MethodDelete, "/job?id=ABCDEF123456", nil)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, POST", rec.Header().Get("Allow"))
}

func TestTemplatesListsRegistry(t *testing.T) {
	f := newAPIFixture(t, nil, testJobsConfig())

	rec := f.do(http.MethodGet, "/templates", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var ids []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ids))
	assert.Equal(t, []string{"invoice"}, ids)
}

func TestHealthReportsQueueSnapshot(t *testing.T) {
	f := newAPIFixture(t, nil, testJobsConfig())

	rec := f.do(http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var health healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 2, health.Workers)
	assert.Equal(t, 4, health.QueueSize)
	assert.Equal(t, 1, health.Templates)
}

func TestShutdownIsIdempotent(t *testing.T) {
	api := NewAPI(nil, nil, logging.Nop())
	srv := New(config.ServerConfig{Host: "127.0.0.1", Port: 8080}, api, logging.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, srv.Shutdown(ctx))
}
