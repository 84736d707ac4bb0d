package pipeline

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/couchcryptid/geodata-etl/internal/domain"
)

// StageResult is the outcome of one pipeline stage.
type StageResult struct {
	Name      string
	OK        bool
	Err       error
	Duration  time.Duration
	Artifacts []string
}

// Kind is the stage name up to the first colon ("ingest", "crs", ...).
func (r StageResult) Kind() string {
	kind, _, _ := strings.Cut(r.Name, ":")
	return kind
}

// Summary aggregates the stage results of a run.
type Summary struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	Stages    []StageResult
	Warnings  []string
}

// Failed reports whether any stage failed.
func (s Summary) Failed() bool {
	for _, r := range s.Stages {
		if !r.OK {
			return true
		}
	}
	return false
}

// FailedCount returns the number of failed stages.
func (s Summary) FailedCount() int {
	n := 0
	for _, r := range s.Stages {
		if !r.OK {
			n++
		}
	}
	return n
}

// Print writes a human-readable OK/FAILED table.
func (s Summary) Print(w io.Writer) {
	rule := strings.Repeat("=", 60)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Run %s summary:\n", s.RunID)
	for _, r := range s.Stages {
		status := "OK"
		if !r.OK {
			status = "FAILED"
		}
		fmt.Fprintf(w, "  %-28s %-6s %8s", r.Name, status, r.Duration.Round(time.Millisecond))
		if r.Err != nil {
			fmt.Fprintf(w, "  %s", r.Err)
		}
		fmt.Fprintln(w)
	}
	for _, warn := range s.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warn)
	}
	fmt.Fprintf(w, "%d stages, %d failed, %s\n", len(s.Stages), s.FailedCount(), s.Duration.Round(time.Millisecond))
	fmt.Fprintln(w, rule)
}

// Status is the JSON view of a run served by the HTTP adapter.
type Status struct {
	RunID     string        `json:"run_id,omitempty"`
	Running   bool          `json:"running"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	Stages    []StageStatus `json:"stages"`
	Warnings  []string      `json:"warnings,omitempty"`
}

// StageStatus is the JSON view of a StageResult.
type StageStatus struct {
	Name       string   `json:"name"`
	OK         bool     `json:"ok"`
	Error      string   `json:"error,omitempty"`
	ErrorKind  string   `json:"error_kind,omitempty"`
	DurationMS int64    `json:"duration_ms"`
	Artifacts  []string `json:"artifacts,omitempty"`
}

func (s Summary) status(running bool) Status {
	st := Status{
		RunID:    s.RunID,
		Running:  running,
		Stages:   make([]StageStatus, 0, len(s.Stages)),
		Warnings: s.Warnings,
	}
	if !s.StartedAt.IsZero() {
		t := s.StartedAt.UTC()
		st.StartedAt = &t
	}
	for _, r := range s.Stages {
		ss := StageStatus{
			Name:       r.Name,
			OK:         r.OK,
			DurationMS: r.Duration.Milliseconds(),
			Artifacts:  r.Artifacts,
		}
		if r.Err != nil {
			ss.Error = r.Err.Error()
			ss.ErrorKind = domain.ErrorKind(r.Err)
		}
		st.Stages = append(st.Stages, ss)
	}
	return st
}
