package session

import (
	"fmt"

	"github.com/meetplay/lobby/internal/models"
)

// TransitionReason explains why the state machine proposed a transition.
type TransitionReason string

const (
	ReasonEmptyLobby     TransitionReason = "empty_lobby"
	ReasonFullQuorum     TransitionReason = "full_quorum"
	ReasonEarlyConsensus TransitionReason = "early_consensus"
)

// EvalInput is everything the state machine looks at for one evaluation.
type EvalInput struct {
	Status      models.SessionStatus
	JoinedCount int
	ReadyCount  int
	// Capacity is the meeting's fixed participant count,
	// models.UnboundedCapacity for an open lobby.
	Capacity   int
	MinPlayers int
}

// Decision is a proposed transition. The store applies it atomically per
// session; the state machine itself never mutates anything.
type Decision struct {
	Next    models.SessionStatus
	Changed bool
	Reason  TransitionReason
}

// Evaluate computes the next status for a session after a mutation changed
// its participant set or readiness. Rules are checked strictly in order:
//
//  1. Waiting with zero participants completes (empty-lobby cleanup).
//  2. Waiting at exactly full capacity starts (full quorum). Unbounded
//     meetings never satisfy this rule.
//  3. Waiting at or above the game minimum, below capacity, with every
//     joined participant voted ready, starts (early consensus).
//  4. Otherwise the status stays as it is.
//
// Once in progress, joins and votes are inert for status purposes.
func Evaluate(in EvalInput) Decision {
	if in.Status != models.SessionStatusWaiting {
		return Decision{Next: in.Status}
	}

	if in.JoinedCount == 0 {
		return Decision{Next: models.SessionStatusCompleted, Changed: true, Reason: ReasonEmptyLobby}
	}

	if in.Capacity != models.UnboundedCapacity && in.JoinedCount == in.Capacity {
		return Decision{Next: models.SessionStatusInProgress, Changed: true, Reason: ReasonFullQuorum}
	}

	belowCapacity := in.Capacity == models.UnboundedCapacity || in.JoinedCount < in.Capacity
	if in.JoinedCount >= in.MinPlayers && belowCapacity && in.ReadyCount == in.JoinedCount {
		return Decision{Next: models.SessionStatusInProgress, Changed: true, Reason: ReasonEarlyConsensus}
	}

	return Decision{Next: models.SessionStatusWaiting}
}

var allowedTransitions = map[models.SessionStatus][]models.SessionStatus{
	models.SessionStatusWaiting:    {models.SessionStatusInProgress, models.SessionStatusCompleted},
	models.SessionStatusInProgress: {models.SessionStatusCompleted},
	models.SessionStatusCompleted:  {},
}

// ValidateTransition reports whether a status change is legal. Same-status
// transitions are allowed as no-ops so repeated courtesy cleanups from
// multiple clients never error.
func ValidateTransition(current, next models.SessionStatus) error {
	if current == next {
		return nil
	}

	allowed, ok := allowedTransitions[current]
	if !ok {
		return fmt.Errorf("%w: unknown status %s", ErrInvalidTransition, current)
	}
	for _, s := range allowed {
		if next == s {
			return nil
		}
	}
	return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current, next)
}
