package sync

import (
	"time"

	"github.com/harborlight/marksync/internal/model"
)

// Status is the terminal outcome of a reconciliation pass.
type Status int

const (
	// StatusSuccess means every candidate across all three apply sets was
	// applied without error.
	StatusSuccess Status = iota
	// StatusPartial means writes were attempted and some subset failed.
	// Callers should treat this as "sync incomplete, retry later".
	StatusPartial
	// StatusFailure means preflight or fetch failed before any writes were
	// attempted.
	StatusFailure
)

// String returns the status label.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusPartial:
		return "partial"
	case StatusFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Phase identifies which apply set a candidate error occurred in.
type Phase int

const (
	// PhasePartition covers key construction before any write.
	PhasePartition Phase = iota
	// PhaseUpload covers remote inserts of local-only records.
	PhaseUpload
	// PhaseDownload covers local inserts of remote-only records.
	PhaseDownload
	// PhaseResolve covers conflict resolution of matched pairs.
	PhaseResolve
)

// String returns the phase label.
func (p Phase) String() string {
	switch p {
	case PhasePartition:
		return "partition"
	case PhaseUpload:
		return "upload"
	case PhaseDownload:
		return "download"
	case PhaseResolve:
		return "resolve"
	default:
		return "unknown"
	}
}

// CandidateError records one per-candidate failure. Candidate failures never
// abort sibling candidates; they accumulate on the report instead.
type CandidateError struct {
	Type  model.EntityType
	Key   model.EntityKey
	Phase Phase
	Class ErrorClass
	Err   error
}

// Report is the structured outcome of one reconciliation pass.
type Report struct {
	Status Status

	// Uploaded, Downloaded, and Resolved count successfully applied
	// candidates per phase. Matched pairs with identical values are no-ops
	// and are not counted.
	Uploaded   int
	Downloaded int
	Resolved   int

	StartedAt time.Time
	Duration  time.Duration

	// Err is the single terminal error when Status is [StatusFailure].
	Err error

	// CandidateErrors lists per-candidate failures when Status is
	// [StatusPartial].
	CandidateErrors []CandidateError
}

// failure marks the report as a terminal failure with err.
func (r *Report) failure(err error) Report {
	r.Status = StatusFailure
	r.Err = err
	r.Duration = time.Since(r.StartedAt)
	return *r
}

// finish derives the terminal status from accumulated candidate outcomes.
func (r *Report) finish() Report {
	if len(r.CandidateErrors) > 0 {
		r.Status = StatusPartial
	} else {
		r.Status = StatusSuccess
	}
	r.Duration = time.Since(r.StartedAt)
	return *r
}
