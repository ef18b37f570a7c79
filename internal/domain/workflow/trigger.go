package workflow

// Trigger is an action on a journal entry
type Trigger string

const (
	TriggerValidate Trigger = "VALIDATE"
	TriggerCancel   Trigger = "CANCEL"
)

func (t Trigger) String() string {
	return string(t)
}
