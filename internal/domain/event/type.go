package event

// Type identifies a document lifecycle event
type Type string

const (
	TypeDocumentAccepted Type = "document.accepted"
	TypeDocumentRejected Type = "document.rejected"
	TypeDocumentBooked   Type = "document.booked"
)

func (t Type) String() string {
	return string(t)
}

// IsValid reports whether t is one of the defined event types
func (t Type) IsValid() bool {
	switch t {
	case TypeDocumentAccepted, TypeDocumentRejected, TypeDocumentBooked:
		return true
	default:
		return false
	}
}
