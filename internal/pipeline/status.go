package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// ErrAlreadyRunning is returned by Start when a run is in progress.
var ErrAlreadyRunning = errors.New("pipeline: scraping process already running")

// ErrInvalidOptions is returned by Start for options it cannot run with.
var ErrInvalidOptions = errors.New("pipeline: invalid options")

// ErrorKind says which stage produced a RunError.
type ErrorKind string

const (
	KindSearch  ErrorKind = "search"
	KindFetch   ErrorKind = "fetch"
	KindPersist ErrorKind = "persist"
	KindFatal   ErrorKind = "fatal"
)

// RunError is one recorded failure. URL is set for fetch failures only.
type RunError struct {
	Kind   ErrorKind `json:"kind"`
	Query  string    `json:"query,omitempty"`
	URL    string    `json:"url,omitempty"`
	Reason string    `json:"reason"`
	Time   time.Time `json:"time"`
}

func (e RunError) String() string {
	switch {
	case e.URL != "":
		return fmt.Sprintf("%s: error processing %s: %s", e.Kind, e.URL, e.Reason)
	case e.Query != "":
		return fmt.Sprintf("%s: error with query %q: %s", e.Kind, e.Query, e.Reason)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
}

// RunStatus is the orchestrator's view of the current or last run.
type RunStatus struct {
	IsRunning        bool       `json:"is_running"`
	RunID            string     `json:"run_id,omitempty"`
	CurrentQuery     string     `json:"current_query"`
	LastRun          *time.Time `json:"last_run"`
	TotalRecords     int        `json:"total_records"`
	QueriesProcessed int        `json:"queries_processed"`
	Errors           []RunError `json:"errors"`
}

func (s RunStatus) clone() RunStatus {
	out := s
	out.Errors = append([]RunError{}, s.Errors...)
	if s.LastRun != nil {
		t := *s.LastRun
		out.LastRun = &t
	}
	return out
}

// Stats is RunStatus plus the size of the master table.
type Stats struct {
	RunStatus
	StoreRecords int `json:"store_records"`
}

// RunSummary is returned for every run that completes.
type RunSummary struct {
	RunID            string     `json:"run_id"`
	Status           string     `json:"status"`
	TotalRecords     int        `json:"total_records"`
	QueriesProcessed int        `json:"queries_processed"`
	Batches          []string   `json:"batches"`
	Errors           []RunError `json:"errors"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       time.Time  `json:"finished_at"`
}

// RunFailedError reports a run aborted by a structural failure.
type RunFailedError struct {
	RunID string
	Err   error
}

func (e *RunFailedError) Error() string {
	return fmt.Sprintf("scraping process failed: %v", e.Err)
}

func (e *RunFailedError) Unwrap() error { return e.Err }
