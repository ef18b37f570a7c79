package workflow

// State is a journal entry lifecycle state
type State string

const (
	StateDraft     State = "DRAFT"
	StateValidated State = "VALIDATED"
	StateCancelled State = "CANCELLED"
)

func (s State) String() string {
	return string(s)
}

// IsValid reports whether s is a lifecycle state
func (s State) IsValid() bool {
	switch s {
	case StateDraft, StateValidated, StateCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves s
func (s State) IsTerminal() bool {
	return s == StateCancelled
}
