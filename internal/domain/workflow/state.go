package workflow

// State represents a document lifecycle state
type State string

const (
	StateNew           State = "NEW"
	StateExtracted     State = "EXTRACTED"
	StateValidated     State = "VALIDATED"
	StatePosted        State = "POSTED"
	StateReviewPending State = "REVIEW_PENDING"
	StateError         State = "ERROR"
)

var validStates = map[State]bool{
	StateNew:           true,
	StateExtracted:     true,
	StateValidated:     true,
	StatePosted:        true,
	StateReviewPending: true,
	StateError:         true,
}

// POSTED is the only hard-terminal state: a posted entry is retained for
// audit and dedupe lookups and must never regress. REVIEW_PENDING and ERROR
// are resolvable and may be reopened for reprocessing.
var terminalStates = map[State]bool{
	StatePosted: true,
}

// IsTerminal returns true if no further transitions are allowed from the state
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a valid lifecycle state
func (s State) IsValid() bool {
	return validStates[s]
}
