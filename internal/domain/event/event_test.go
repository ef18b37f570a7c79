package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestType_IsValid(t *testing.T) {
	tests := []struct {
		name      string
		eventType Type
		want      bool
	}{
		{"accepted", TypeDocumentAccepted, true},
		{"rejected", TypeDocumentRejected, true},
		{"booked", TypeDocumentBooked, true},
		{"unknown", Type("document.lost"), false},
		{"empty", Type(""), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.eventType.IsValid())
		})
	}
}

func TestNewEvent(t *testing.T) {
	evt := NewEvent(TypeDocumentAccepted, "inv-1", map[string]any{"status": "ACCEPTED"})

	require.NotEmpty(t, evt.ID)
	assert.Equal(t, evt.ID, evt.CorrelationID)
	assert.Equal(t, "inv-1", evt.DocumentID)
	assert.Equal(t, "ACCEPTED", evt.GetPayloadString("status"))
	assert.False(t, evt.Timestamp.IsZero())

	other := NewEvent(TypeDocumentAccepted, "inv-1", nil)
	assert.NotEqual(t, evt.ID, other.ID)
}

func TestEvent_Follow(t *testing.T) {
	accepted := NewEvent(TypeDocumentAccepted, "inv-1", nil)
	booked := accepted.Follow(TypeDocumentBooked, map[string]any{"entry_id": "je-1"})

	assert.NotEqual(t, accepted.ID, booked.ID)
	assert.Equal(t, accepted.CorrelationID, booked.CorrelationID)
	assert.Equal(t, "inv-1", booked.DocumentID)
	assert.Equal(t, "je-1", booked.GetPayloadString("entry_id"))
}

func TestEvent_WithPayload(t *testing.T) {
	evt := NewEvent(TypeDocumentRejected, "inv-2", map[string]any{"errors": 2})
	next := evt.WithPayload("ambiguous", true)

	assert.True(t, next.GetPayloadBool("ambiguous"))
	assert.Equal(t, 2, next.GetPayloadInt("errors"))
	assert.False(t, evt.GetPayloadBool("ambiguous"))
	assert.Equal(t, evt.ID, next.ID)
}

func TestEvent_PayloadAccessors(t *testing.T) {
	evt := NewEvent(TypeDocumentAccepted, "inv-3", map[string]any{
		"name":   "Muster",
		"count":  int64(4),
		"ratio":  float64(7),
		"strict": "yes",
	})

	assert.Equal(t, "Muster", evt.GetPayloadString("name"))
	assert.Equal(t, "", evt.GetPayloadString("count"))
	assert.Equal(t, 4, evt.GetPayloadInt("count"))
	assert.Equal(t, 7, evt.GetPayloadInt("ratio"))
	assert.Equal(t, 0, evt.GetPayloadInt("missing"))
	assert.False(t, evt.GetPayloadBool("strict"))
}
