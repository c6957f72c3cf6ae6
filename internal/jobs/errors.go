package jobs

import "fmt"

// ValidationError names the first required submission field that was missing or empty.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required field %q", e.Field)
}

// DeliveryGapError means the job record was written but its queue message was not. The
// record stays QUEUED and nothing will pick it up.
type DeliveryGapError struct {
	JobID string
	Err   error
}

func (e *DeliveryGapError) Error() string {
	return fmt.Sprintf("job %s recorded but not enqueued: %v", e.JobID, e.Err)
}

func (e *DeliveryGapError) Unwrap() error {
	return e.Err
}

// ExecutionError wraps a failure of one worker stage other than date parsing.
type ExecutionError struct {
	JobID string
	Stage string
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("job %s: %s: %v", e.JobID, e.Stage, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
