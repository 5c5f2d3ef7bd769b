package session

import (
	"errors"
	"testing"

	"github.com/meetplay/lobby/internal/models"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name       string
		in         EvalInput
		wantNext   models.SessionStatus
		wantChange bool
		wantReason TransitionReason
	}{
		{
			name:       "empty waiting lobby completes",
			in:         EvalInput{Status: models.SessionStatusWaiting, JoinedCount: 0, Capacity: 4, MinPlayers: 2},
			wantNext:   models.SessionStatusCompleted,
			wantChange: true,
			wantReason: ReasonEmptyLobby,
		},
		{
			name:       "full quorum starts",
			in:         EvalInput{Status: models.SessionStatusWaiting, JoinedCount: 3, ReadyCount: 0, Capacity: 3, MinPlayers: 2},
			wantNext:   models.SessionStatusInProgress,
			wantChange: true,
			wantReason: ReasonFullQuorum,
		},
		{
			name:     "partial lobby stays waiting",
			in:       EvalInput{Status: models.SessionStatusWaiting, JoinedCount: 2, ReadyCount: 0, Capacity: 3, MinPlayers: 2},
			wantNext: models.SessionStatusWaiting,
		},
		{
			name:       "early consensus starts below capacity",
			in:         EvalInput{Status: models.SessionStatusWaiting, JoinedCount: 2, ReadyCount: 2, Capacity: 5, MinPlayers: 2},
			wantNext:   models.SessionStatusInProgress,
			wantChange: true,
			wantReason: ReasonEarlyConsensus,
		},
		{
			name:     "consensus below game minimum stays waiting",
			in:       EvalInput{Status: models.SessionStatusWaiting, JoinedCount: 1, ReadyCount: 1, Capacity: 5, MinPlayers: 2},
			wantNext: models.SessionStatusWaiting,
		},
		{
			name:     "late joiner breaks consensus",
			in:       EvalInput{Status: models.SessionStatusWaiting, JoinedCount: 3, ReadyCount: 2, Capacity: 5, MinPlayers: 2},
			wantNext: models.SessionStatusWaiting,
		},
		{
			name:     "unbounded capacity never hits full quorum",
			in:       EvalInput{Status: models.SessionStatusWaiting, JoinedCount: 10, ReadyCount: 0, Capacity: models.UnboundedCapacity, MinPlayers: 2},
			wantNext: models.SessionStatusWaiting,
		},
		{
			name:       "unbounded capacity still allows early consensus",
			in:         EvalInput{Status: models.SessionStatusWaiting, JoinedCount: 4, ReadyCount: 4, Capacity: models.UnboundedCapacity, MinPlayers: 2},
			wantNext:   models.SessionStatusInProgress,
			wantChange: true,
			wantReason: ReasonEarlyConsensus,
		},
		{
			name:       "full quorum checked before early consensus",
			in:         EvalInput{Status: models.SessionStatusWaiting, JoinedCount: 3, ReadyCount: 3, Capacity: 3, MinPlayers: 2},
			wantNext:   models.SessionStatusInProgress,
			wantChange: true,
			wantReason: ReasonFullQuorum,
		},
		{
			name:     "in-progress session is inert",
			in:       EvalInput{Status: models.SessionStatusInProgress, JoinedCount: 0, Capacity: 3, MinPlayers: 2},
			wantNext: models.SessionStatusInProgress,
		},
		{
			name:     "completed session is inert",
			in:       EvalInput{Status: models.SessionStatusCompleted, JoinedCount: 5, ReadyCount: 5, Capacity: 5, MinPlayers: 2},
			wantNext: models.SessionStatusCompleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.in)
			if got.Next != tt.wantNext {
				t.Errorf("Next = %s, want %s", got.Next, tt.wantNext)
			}
			if got.Changed != tt.wantChange {
				t.Errorf("Changed = %v, want %v", got.Changed, tt.wantChange)
			}
			if got.Reason != tt.wantReason {
				t.Errorf("Reason = %s, want %s", got.Reason, tt.wantReason)
			}
		})
	}
}

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		current models.SessionStatus
		next    models.SessionStatus
		wantErr bool
	}{
		{name: "waiting to in-progress", current: models.SessionStatusWaiting, next: models.SessionStatusInProgress},
		{name: "waiting to completed", current: models.SessionStatusWaiting, next: models.SessionStatusCompleted},
		{name: "in-progress to completed", current: models.SessionStatusInProgress, next: models.SessionStatusCompleted},
		{name: "same status is a no-op", current: models.SessionStatusCompleted, next: models.SessionStatusCompleted},
		{name: "in-progress back to waiting", current: models.SessionStatusInProgress, next: models.SessionStatusWaiting, wantErr: true},
		{name: "completed cannot reopen", current: models.SessionStatusCompleted, next: models.SessionStatusWaiting, wantErr: true},
		{name: "completed cannot restart", current: models.SessionStatusCompleted, next: models.SessionStatusInProgress, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.current, tt.next)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("expected ErrInvalidTransition, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
