package task

// Status is a task's lifecycle state. Only the task's own runner may
// mutate it (Task invariant).
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusStreaming  Status = "STREAMING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusAborting   Status = "ABORTING"
	StatusAborted    Status = "ABORTED"
	StatusDisabled   Status = "DISABLED"
)

// Terminal reports whether s is a terminal state from which no further
// transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusAborted, StatusDisabled:
		return true
	default:
		return false
	}
}

// transitions enumerates the legal edges of the status state machine from
// : PENDING -> PROCESSING -> {COMPLETED, FAILED, ABORTING -> FAILED};
// PROCESSING -> STREAMING -> COMPLETED; PENDING -> DISABLED. ABORTING may
// also resolve to ABORTED for an orderly user-initiated cancellation.
var transitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusProcessing: true,
		StatusDisabled:   true,
	},
	StatusProcessing: {
		StatusStreaming: true,
		StatusCompleted: true,
		StatusFailed:    true,
		StatusAborting:  true,
	},
	StatusStreaming: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusAborting:  true,
	},
	StatusAborting: {
		StatusFailed:  true,
		StatusAborted: true,
	},
}

// CanTransition reports whether moving from 'from' to 'to' is legal.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	targets, ok := transitions[from]
	if !ok {
		return false
	}
	return targets[to]
}
