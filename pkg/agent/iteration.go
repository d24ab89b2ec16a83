package agent

import (
	"fmt"

	"github.com/tarsy-io/tarsy/pkg/models"
)

// MaxConsecutiveTimeouts bounds how many back-to-back timed-out LLM calls a
// run tolerates before giving up. A single timeout is usually transient; two
// in a row means the provider or the network is down for this run.
const MaxConsecutiveTimeouts = 2

// PauseReasonMaxIterations and PauseReasonRequested are the two ways a run
// suspends: it spent its iteration budget without reaching a final answer,
// or an operator asked for a pause mid-investigation.
const (
	PauseReasonMaxIterations = "max_iterations_reached"
	PauseReasonRequested     = "pause_requested"
)

// IterationState tracks loop progress and failure streaks for the ReAct and
// NativeThinking controllers. CurrentIteration is 1-based and cumulative
// across resumes.
type IterationState struct {
	CurrentIteration           int
	MaxIterations              int
	LastInteractionFailed      bool
	LastErrorMessage           string
	ConsecutiveTimeoutFailures int
}

// ShouldAbortOnTimeouts reports whether the consecutive-timeout streak has
// hit the abort threshold.
func (s *IterationState) ShouldAbortOnTimeouts() bool {
	return s.ConsecutiveTimeoutFailures >= MaxConsecutiveTimeouts
}

// RecordSuccess clears the failure streak after a good interaction.
func (s *IterationState) RecordSuccess() {
	s.LastInteractionFailed = false
	s.LastErrorMessage = ""
	s.ConsecutiveTimeoutFailures = 0
}

// RecordFailure notes a failed interaction. Only timeouts extend the streak;
// any other failure kind resets it.
func (s *IterationState) RecordFailure(errMsg string, isTimeout bool) {
	s.LastInteractionFailed = true
	s.LastErrorMessage = errMsg
	if isTimeout {
		s.ConsecutiveTimeoutFailures++
	} else {
		s.ConsecutiveTimeoutFailures = 0
	}
}

// PauseAtCap builds the suspension metadata for a run that spent its
// iteration budget without a final answer.
func (s *IterationState) PauseAtCap() *models.PauseMetadata {
	return &models.PauseMetadata{
		Reason:           PauseReasonMaxIterations,
		CurrentIteration: s.CurrentIteration,
		Message:          fmt.Sprintf("no final answer after %d iterations", s.CurrentIteration),
	}
}

// PauseOnRequest builds the suspension metadata for an operator-requested
// pause observed at an iteration boundary.
func (s *IterationState) PauseOnRequest() *models.PauseMetadata {
	return &models.PauseMetadata{
		Reason:           PauseReasonRequested,
		CurrentIteration: s.CurrentIteration,
		Message:          "pause requested by operator",
	}
}
