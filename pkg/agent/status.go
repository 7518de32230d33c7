// Package agent drives one user message through the two-level LLM loop:
// outer iterations retry after turn exhaustion, inner turns call the LLM and
// execute tools until the mission terminates or suspends on an LPT.
package agent

// RunStatus is the terminal status of an agent run.
type RunStatus string

// Run statuses.
const (
	// StatusMissionCompleted means TERMINATE_TASK was seen; history flushed.
	StatusMissionCompleted RunStatus = "MISSION_COMPLETED"
	// StatusLPTInProgress means a worker task was dispatched; the brain
	// suspends with full history until the callback arrives.
	StatusLPTInProgress RunStatus = "LPT_IN_PROGRESS"
	// StatusTextOutput means the LLM replied with plain text and no tool
	// calls: a clarification back to the user. History is kept.
	StatusTextOutput RunStatus = "TEXT_OUTPUT"
	// StatusMaxTurnsReached means the inner loop exhausted its turns; the
	// outer loop may retry with a carried-over report.
	StatusMaxTurnsReached RunStatus = "MAX_TURNS_REACHED"
	// StatusNoAction means the LLM produced an empty response.
	StatusNoAction RunStatus = "NO_IA_ACTION"
	// StatusErrorFatal means an unrecoverable error; history flushed.
	StatusErrorFatal RunStatus = "ERROR_FATAL"
)

// RunResult is the outcome of one agent run.
type RunResult struct {
	Status RunStatus
	// Message is the user-facing text: the conclusion, clarification,
	// suspension notice, or error description.
	Message string
	// TaskIDs lists LPTs dispatched during this run.
	TaskIDs []string
	// Iterations is how many outer iterations ran.
	Iterations int
	// Turns is how many inner turns ran in total.
	Turns int
}
