package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/xorwow/serial-pdf/internal/errors"
	"github.com/xorwow/serial-pdf/internal/jobs"
	"github.com/xorwow/serial-pdf/internal/logging"
	"github.com/xorwow/serial-pdf/internal/placeholder"
	"github.com/xorwow/serial-pdf/internal/registry"
)

// API implements Handlers on top of the job manager and template registry.
type API struct {
	manager  *jobs.Manager
	registry *registry.Registry
	log      logging.Logger
}

func NewAPI(manager *jobs.Manager, reg *registry.Registry, log logging.Logger) *API {
	if log == nil {
		log = logging.Nop()
	}

	return &API{
		manager:  manager,
		registry: reg,
		log:      log.WithComponent("api"),
	}
}

// statusResponse is the poll answer shape. PDFData appears only for READY,
// error_log only for FAILED jobs that produced a build log.
type statusResponse struct {
	ID       string        `json:"id"`
	State    jobs.State    `json:"state"`
	ErrorLog string        `json:"error_log,omitempty"`
	PDFData  *jobs.PDFData `json:"pdf_data,omitempty"`
}

type healthResponse struct {
	Status     string `json:"status"`
	Workers    int    `json:"workers"`
	QueueDepth int    `json:"queue_depth"`
	QueueSize  int    `json:"queue_size"`
	Templates  int    `json:"templates"`
}

// HandleIndex serves a minimal liveness line on the root path.
func (a *API) HandleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<h1>serial-pdf is running with up to %d worker(s)</h1>", a.manager.Workers())
}

// HandleSubmit queues a new job. The template is named by the template_id
// query parameter, the optional commit parameter pins a template version,
// and the JSON object body is the placeholder data.
func (a *API) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	templateID := r.URL.Query().Get("template_id")
	if templateID == "" {
		writeError(w, http.StatusBadRequest, "missing parameter: template_id")
		return
	}
	commit := r.URL.Query().Get("commit")

	var data map[string]placeholder.Value
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil || data == nil {
		writeError(w, http.StatusBadRequest, "request body is not a JSON data object")
		return
	}

	id, err := a.manager.Submit(r.Context(), templateID, commit, data)
	if err != nil {
		switch {
		case errors.IsValidation(err), errors.IsNotFound(err), errors.IsCheckout(err):
			writeError(w, http.StatusBadRequest, errors.MessageOf(err))
		default:
			a.log.Error(r.Context(), err, "job submission failed", "template", templateID)
			writeError(w, http.StatusInternalServerError, "failed to create new job")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

// HandlePoll answers a job status query. Unknown jobs answer NOT_FOUND in
// the body rather than a 404 so pollers can treat every answer uniformly.
func (a *API) HandlePoll(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")

	status, err := a.manager.Poll(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, statusResponse{
			ID:       status.ID,
			State:    status.State,
			ErrorLog: status.ErrorLog,
			PDFData:  status.PDFData,
		})
	case errors.IsValidation(err):
		writeError(w, http.StatusBadRequest, "missing or bad parameter: id (alphanum)")
	case errors.IsNotFound(err):
		writeJSON(w, http.StatusOK, statusResponse{ID: id, State: jobs.StateNotFound})
	default:
		a.log.Error(r.Context(), err, "collecting job result failed", "job_id", id)
		writeError(w, http.StatusInternalServerError, "could not collect job result")
	}
}

// HandleTemplates lists the template IDs currently offered by the root.
func (a *API) HandleTemplates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, a.registry.IDs())
}

// HandleHealth reports liveness and a queue snapshot.
func (a *API) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:     "ok",
		Workers:    a.manager.Workers(),
		QueueDepth: a.manager.QueueDepth(),
		QueueSize:  a.manager.QueueSize(),
		Templates:  a.registry.Count(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
