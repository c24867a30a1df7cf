package generation

// State tracks one generation job through its lifecycle. A job is terminal
// once it leaves pending/running and is never mutated again.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateTimedOut:
		return true
	}
	return false
}

// Job is one request/response cycle with the remote generation service,
// tied back to the originating script line. Image is populated iff the job
// succeeded.
type Job struct {
	LineIndex   int
	SceneNumber int
	Prompt      string
	RemoteID    string
	State       State
	Image       []byte
	Err         error
}

// ErrorMessage returns the recorded failure, or "" for a healthy job.
func (j Job) ErrorMessage() string {
	if j.Err == nil {
		return ""
	}
	return j.Err.Error()
}

// Result is the outcome of one batch run. Jobs are ordered by original
// script-line index regardless of remote completion order, so packaging and
// display are deterministic.
type Result struct {
	Jobs []Job
}

// Succeeded returns the jobs that produced an image, in line order.
func (r *Result) Succeeded() []Job {
	if r == nil {
		return nil
	}
	out := make([]Job, 0, len(r.Jobs))
	for _, job := range r.Jobs {
		if job.State == StateSucceeded {
			out = append(out, job)
		}
	}
	return out
}

// JobByScene finds the job for a 1-based scene number.
func (r *Result) JobByScene(scene int) (Job, bool) {
	if r == nil {
		return Job{}, false
	}
	for _, job := range r.Jobs {
		if job.SceneNumber == scene {
			return job, true
		}
	}
	return Job{}, false
}
