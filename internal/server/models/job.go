package models

import "time"

// JobState is a stage of the job lifecycle. Succeeded and Failed are final.
type JobState string

const (
	JobValidating      JobState = "validating"
	JobAwaitingBalance JobState = "awaiting_balance"
	JobDownloading     JobState = "downloading"
	JobTransforming    JobState = "transforming"
	JobSucceeded       JobState = "succeeded"
	JobFailed          JobState = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s JobState) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// Job is one submission travelling through the pipeline.
type Job struct {
	RequestID      string
	OwnerUserID    string
	SourceFilename string
	SourceSize     int64
	State          JobState
	CreatedAt      time.Time
}

// Advance moves the job to next unless it already reached a final state.
// It returns false when the transition was refused.
func (j *Job) Advance(next JobState) bool {
	if j.State.Terminal() {
		return false
	}
	j.State = next
	return true
}

// TransformResult is handed to the caller and not retained by the pipeline.
type TransformResult struct {
	RequestID    string
	Output       []byte
	OutputName   string
	OriginalSize int64
	OutputSize   int64
	// Diagnostics is the tool's stdout/stderr; advisory only.
	Diagnostics string
	// Links holds distinct URLs found in Output, in first-seen order.
	Links []string
	// Digest is the hex BLAKE2b-256 of Output.
	Digest   string
	Duration time.Duration
	// RemainingBalance is the owner's balance after the debit, or
	// UnknownBalance when it could not be read.
	RemainingBalance int64
	// DownloadURL is set when the output was archived to object storage.
	DownloadURL string
}

// UnknownBalance marks a RemainingBalance the ledger failed to report.
const UnknownBalance int64 = -1
