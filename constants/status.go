package constants

// JobState is the canonical state for rows in jobs.
type JobState string

// Stable values (store these exact strings in DB).
const (
	JobStateQueued    JobState = "QUEUED"     // waiting for a worker slot
	JobStateActive    JobState = "ACTIVE"     // claimed by a worker
	JobStateRetryWait JobState = "RETRY_WAIT" // failed, waiting out the backoff delay
	JobStateCompleted JobState = "COMPLETED"  // terminal success
	JobStateFailed    JobState = "FAILED"     // terminal failure
)

// Terminal reports whether a state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}
