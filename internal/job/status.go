package job

// Status is the overall state of a job, derived from its stage results.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusRunning         Status = "RUNNING"
	StatusPartiallyFailed Status = "PARTIALLY_FAILED"
	StatusCompleted       Status = "COMPLETED"
	StatusFailed          Status = "FAILED"
)

// Terminal reports whether the job has reached a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusPartiallyFailed:
		return true
	}
	return false
}

// StageStatus is the state of a single stage result.
type StageStatus string

const (
	StagePending        StageStatus = "PENDING"
	StageRunning        StageStatus = "RUNNING"
	StageRetryScheduled StageStatus = "RETRY_SCHEDULED"
	StageSucceeded      StageStatus = "SUCCEEDED"
	StageFailed         StageStatus = "FAILED"
)

// Terminal reports whether the stage can never run again.
func (s StageStatus) Terminal() bool {
	return s == StageSucceeded || s == StageFailed
}

// Derive computes the job status from its stage results:
//
//	COMPLETED         all stages succeeded
//	PARTIALLY_FAILED  all stages terminal, at least one succeeded, one failed
//	FAILED            all stages terminal, none succeeded
//	RUNNING           any stage currently running
//	PENDING           otherwise (pending or waiting out a retry backoff)
//
// It is the only way a job status may be produced.
func Derive(stages map[Stage]*StageResult) Status {
	var succeeded, failed, running, terminal int
	for _, r := range stages {
		switch r.Status {
		case StageSucceeded:
			succeeded++
			terminal++
		case StageFailed:
			failed++
			terminal++
		case StageRunning:
			running++
		}
	}

	switch {
	case terminal == len(stages) && failed == 0:
		return StatusCompleted
	case terminal == len(stages) && succeeded > 0:
		return StatusPartiallyFailed
	case terminal == len(stages):
		return StatusFailed
	case running > 0:
		return StatusRunning
	default:
		return StatusPending
	}
}
