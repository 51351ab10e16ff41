// Package jobs owns the asynchronous compilation lifecycle: submission,
// the worker pool, state tracking, and collection of finished artifacts.
package jobs

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xorwow/serial-pdf/internal/placeholder"
)

// State of a job. Jobs start PENDING and move exactly once to READY or
// FAILED; terminal states never change again.
type State string

const (
	StatePending State = "PENDING"
	StateReady   State = "READY"
	StateFailed  State = "FAILED"

	// StateNotFound is a query-time answer for unknown job IDs, never stored
	// on a record.
	StateNotFound State = "NOT_FOUND"
)

// Terminal reports whether a job in this state is finished.
func (s State) Terminal() bool {
	return s == StateReady || s == StateFailed
}

// NewJobID returns a fresh 12 character job identifier, the uppercased last
// segment of a random UUID.
func NewJobID() string {
	id := uuid.New().String()
	return strings.ToUpper(id[len(id)-12:])
}

var jobIDPattern = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

// ValidJobID accepts any non-empty alphanumeric identifier. Lookups decide
// whether the job actually exists.
func ValidJobID(id string) bool {
	return jobIDPattern.MatchString(id)
}

// Record is everything the service remembers about one job. Records are
// stored as JSON so both store backends share one shape.
type Record struct {
	ID          string    `json:"id"`
	State       State     `json:"state"`
	TemplateID  string    `json:"template_id"`
	Commit      string    `json:"commit"`
	SubmittedAt time.Time `json:"submitted_at"`

	// ErrorLog names the filtered build log for FAILED jobs, relative to
	// the error log root. Empty when the failure produced no log.
	ErrorLog string `json:"error_log,omitempty"`

	// StagedPath holds the compiled artifact until collection moves it.
	StagedPath string `json:"staged_path,omitempty"`
	// ExportFile is set once the artifact has been moved into the export
	// root. A non-empty value means collection already happened.
	ExportFile     string             `json:"export_file,omitempty"`
	Unmatched      placeholder.Report `json:"unmatched_placeholders,omitempty"`
	ProcessingTime float64            `json:"processing_time,omitempty"`
	Pages          int                `json:"pages,omitempty"`
}

// Exported reports whether the artifact has been collected.
func (r Record) Exported() bool {
	return r.ExportFile != ""
}

// PDFData is the artifact metadata returned to polling clients once a job
// is READY.
type PDFData struct {
	ExportFile     string             `json:"export_file"`
	Commit         string             `json:"commit"`
	Unmatched      placeholder.Report `json:"unmatched_placeholders"`
	ProcessingTime float64            `json:"processing_time"`
	Pages          int                `json:"pages,omitempty"`
}

// Status is one poll answer.
type Status struct {
	ID       string
	State    State
	ErrorLog string
	PDFData  *PDFData
}

func statusFromRecord(r Record) Status {
	status := Status{ID: r.ID, State: r.State, ErrorLog: r.ErrorLog}
	if r.State == StateReady {
		unmatched := r.Unmatched
		if unmatched == nil {
			unmatched = placeholder.Report{}
		}
		status.PDFData = &PDFData{
			ExportFile:     r.ExportFile,
			Commit:         r.Commit,
			Unmatched:      unmatched,
			ProcessingTime: r.ProcessingTime,
			Pages:          r.Pages,
		}
	}
	return status
}
