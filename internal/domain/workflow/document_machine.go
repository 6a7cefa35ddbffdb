package workflow

import "context"

// NewDocumentMachine builds the document lifecycle state machine starting
// from the given state.
//
// The happy path is NEW → EXTRACTED → VALIDATED → POSTED. Any pre-terminal
// state may fail into ERROR or divert into REVIEW_PENDING; both are
// resolvable via REOPEN, which restarts the pipeline from NEW. POSTED admits
// no transitions at all.
func NewDocumentMachine(initial State) StateMachine {
	builder := NewBuilder()

	builder.Configure(StateNew).
		Permit(TriggerExtract, StateExtracted).
		Permit(TriggerFail, StateError).
		Permit(TriggerRequestReview, StateReviewPending)

	builder.Configure(StateExtracted).
		Permit(TriggerValidate, StateValidated).
		Permit(TriggerFail, StateError).
		Permit(TriggerRequestReview, StateReviewPending)

	builder.Configure(StateValidated).
		Permit(TriggerPost, StatePosted).
		Permit(TriggerRequestReview, StateReviewPending).
		Permit(TriggerFail, StateError)

	builder.Configure(StateReviewPending).
		Permit(TriggerReopen, StateNew)

	builder.Configure(StateError).
		Permit(TriggerReopen, StateNew)

	return builder.Build(initial)
}

// CanTransition reports whether a status change is legal under the lifecycle
// machine, used by the persistence layer as a write guard.
func CanTransition(from, to State) bool {
	if from == to {
		return true
	}
	if from.IsTerminal() {
		return false
	}
	machine := NewDocumentMachine(from)
	for _, trigger := range machine.PermittedTriggers() {
		probe := NewDocumentMachine(from)
		if err := probe.Fire(context.Background(), trigger); err == nil && probe.State() == to {
			return true
		}
	}
	return false
}
