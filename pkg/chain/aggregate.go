package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tarsy-io/tarsy/pkg/agent"
	"github.com/tarsy-io/tarsy/pkg/config"
	"github.com/tarsy-io/tarsy/pkg/models"
)

// aggregateStatus reduces a stage's per-agent outcomes to a single stage
// status under the given success policy:
//
//   - a paused agent always pauses the whole stage, regardless of policy —
//     the stage isn't done until every agent either finished or was resumed
//     to a verdict;
//   - a stage where every agent was cancelled is cancelled;
//   - "any": the stage succeeds if at least one agent completed;
//   - "all" (default): every agent must complete for the stage to succeed.
func aggregateStatus(outcomes []agentOutcome, policy config.SuccessPolicy) (models.StageStatus, error) {
	if len(outcomes) == 0 {
		return models.StageStatusFailed, errors.New("stage had no agents to execute")
	}

	completed, cancelled, paused := 0, 0, 0
	for _, o := range outcomes {
		switch o.status {
		case agent.ExecutionStatusCompleted:
			completed++
		case agent.ExecutionStatusCancelled:
			cancelled++
		case agent.ExecutionStatusPaused:
			paused++
		}
	}

	if paused > 0 {
		return models.StageStatusPaused, nil
	}
	if cancelled == len(outcomes) {
		return models.StageStatusCancelled, aggregateError(outcomes)
	}

	switch policy {
	case config.SuccessPolicyAny:
		if completed > 0 {
			return models.StageStatusCompleted, nil
		}
		return models.StageStatusFailed, aggregateError(outcomes)
	default: // SuccessPolicyAll
		if completed == len(outcomes) {
			return models.StageStatusCompleted, nil
		}
		return models.StageStatusFailed, aggregateError(outcomes)
	}
}

func aggregateError(outcomes []agentOutcome) error {
	var msgs []string
	for _, o := range outcomes {
		if o.err != nil {
			msgs = append(msgs, fmt.Sprintf("%s: %v", o.agentName, o.err))
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return errors.New(strings.Join(msgs, "; "))
}
