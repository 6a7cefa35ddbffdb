package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentMachineHappyPath(t *testing.T) {
	machine := NewDocumentMachine(StateNew)
	ctx := context.Background()

	require.NoError(t, machine.Fire(ctx, TriggerExtract))
	assert.Equal(t, StateExtracted, machine.State())

	require.NoError(t, machine.Fire(ctx, TriggerValidate))
	assert.Equal(t, StateValidated, machine.State())

	require.NoError(t, machine.Fire(ctx, TriggerPost))
	assert.Equal(t, StatePosted, machine.State())
	assert.True(t, machine.State().IsTerminal())
}

func TestDocumentMachineRejectsTransitionOutOfPosted(t *testing.T) {
	machine := NewDocumentMachine(StatePosted)
	ctx := context.Background()

	for _, trigger := range []Trigger{TriggerExtract, TriggerValidate, TriggerPost, TriggerRequestReview, TriggerFail, TriggerReopen} {
		err := machine.Fire(ctx, trigger)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTerminalState, "trigger %s must be rejected from POSTED", trigger)
	}
	assert.Equal(t, StatePosted, machine.State())
}

func TestDocumentMachineReviewAndErrorAreReopenable(t *testing.T) {
	tests := []struct {
		name  string
		state State
	}{
		{name: "review pending reopens", state: StateReviewPending},
		{name: "error reopens", state: StateError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			machine := NewDocumentMachine(tt.state)
			require.NoError(t, machine.Fire(context.Background(), TriggerReopen))
			assert.Equal(t, StateNew, machine.State())
		})
	}
}

func TestDocumentMachineInvalidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    State
		trigger Trigger
	}{
		{name: "post from new", from: StateNew, trigger: TriggerPost},
		{name: "validate from new", from: StateNew, trigger: TriggerValidate},
		{name: "post from extracted", from: StateExtracted, trigger: TriggerPost},
		{name: "extract from validated", from: StateValidated, trigger: TriggerExtract},
		{name: "extract from review", from: StateReviewPending, trigger: TriggerExtract},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			machine := NewDocumentMachine(tt.from)
			err := machine.Fire(context.Background(), tt.trigger)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidTransition)
			assert.Equal(t, tt.from, machine.State(), "failed transition must not change state")
		})
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    State
		to      State
		allowed bool
	}{
		{name: "new to extracted", from: StateNew, to: StateExtracted, allowed: true},
		{name: "extracted to validated", from: StateExtracted, to: StateValidated, allowed: true},
		{name: "validated to posted", from: StateValidated, to: StatePosted, allowed: true},
		{name: "validated to review", from: StateValidated, to: StateReviewPending, allowed: true},
		{name: "same state is a no-op", from: StateExtracted, to: StateExtracted, allowed: true},
		{name: "posted never regresses", from: StatePosted, to: StateNew, allowed: false},
		{name: "posted to review rejected", from: StatePosted, to: StateReviewPending, allowed: false},
		{name: "new cannot jump to posted", from: StateNew, to: StatePosted, allowed: false},
		{name: "review reopens to new", from: StateReviewPending, to: StateNew, allowed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to))
		})
	}
}

func TestBuilderPanicsOnTerminalStateConfiguration(t *testing.T) {
	builder := NewBuilder()
	assert.Panics(t, func() {
		builder.Configure(StatePosted).Permit(TriggerReopen, StateNew)
	})
}

func TestPermittedTriggers(t *testing.T) {
	machine := NewDocumentMachine(StateValidated)
	triggers := machine.PermittedTriggers()
	assert.ElementsMatch(t, []Trigger{TriggerPost, TriggerRequestReview, TriggerFail}, triggers)
}
