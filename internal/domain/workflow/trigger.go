package workflow

// Trigger represents an event that can cause a state transition
type Trigger string

const (
	TriggerExtract       Trigger = "EXTRACT"
	TriggerValidate      Trigger = "VALIDATE"
	TriggerPost          Trigger = "POST"
	TriggerRequestReview Trigger = "REQUEST_REVIEW"
	TriggerFail          Trigger = "FAIL"
	TriggerReopen        Trigger = "REOPEN"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
