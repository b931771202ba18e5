package types

import (
	"fmt"
	"time"
)

// Backend names the collaborator a request is dispatched to.
type Backend string

// Backends.
const (
	BackendREST  Backend = "rest"
	BackendCQL   Backend = "cql"
	BackendIndex Backend = "index"
	BackendQueue Backend = "queue"
	BackendFile  Backend = "file"
)

// Request is one fully built backend request.
//
// Body is the exact byte payload sent on the wire (JSON for rest, index,
// queue and file backends). For cql, Target is the statement text and Args
// the bound values, with timestamps bound as time.Time. Dry-run logging prints the same Request that a live run
// dispatches.
type Request struct {
	Backend Backend
	Method  string
	Target  string
	Headers map[string]string
	Body    []byte
	Args    []any
}

// String renders the request for operator logs.
func (r Request) String() string {
	if r.Backend == BackendCQL {
		args := make([]any, len(r.Args))
		for i, a := range r.Args {
			if t, ok := a.(time.Time); ok {
				args[i] = t.Format(time.DateTime)
				continue
			}
			args[i] = a
		}
		return fmt.Sprintf("%s %s %v", r.Method, r.Target, args)
	}
	return fmt.Sprintf("%s %s %s", r.Method, r.Target, r.Body)
}

// Response is what a backend returned for one request.
type Response struct {
	// Status is the HTTP status (0 for non-HTTP backends).
	Status int
	// Body is the raw response body, when the backend has one.
	Body []byte
	// DryRun marks a synthetic response produced without dispatch.
	DryRun bool
}

// StepStatus is the outcome of one mutation step.
type StepStatus string

// Step statuses.
const (
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
)

// StepResult records the outcome of one step for one record.
type StepResult struct {
	// Step is the step name, e.g. "remove-template".
	Step string
	// Backend is the backend the step targeted.
	Backend Backend
	// Status is succeeded or failed.
	Status StepStatus
	// DryRun marks a synthetic success.
	DryRun bool
	// Attempts is the number of candidate encodings tried.
	Attempts int
	// Request is the last request attempted (the successful one on success).
	Request Request
	// Response is the backend response for the last attempt, if any.
	Response Response
	// Err is the failure cause (nil on success).
	Err error
	// Duration is the wall time spent on the step.
	Duration time.Duration
}

// OK reports whether the step succeeded.
func (r StepResult) OK() bool {
	return r.Status == StepSucceeded
}

// RecordOutcome is the terminal accounting for one record.
type RecordOutcome struct {
	Record  *ResolvedRecord
	Row     int
	Label   string
	State   RecordState
	Missing []KeyKind
	Steps   []StepResult
	Window  int
}

// Failed returns the number of failed steps.
func (o RecordOutcome) Failed() int {
	n := 0
	for _, s := range o.Steps {
		if !s.OK() {
			n++
		}
	}
	return n
}
