package messagelog

import "time"

// Direction of a logged message relative to the bot.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Entry is one inbound or outbound message attempt.
//
// Invariants:
// - Entries are appended, never deleted.
// - A non-empty MessageID appears at most once.
// - Only DeliveryStatus and Error change after creation.
type Entry struct {
	Row int `json:"-"`

	Timestamp      time.Time `json:"ts"`
	EventKey       string    `json:"event_key"`
	ConversationID string    `json:"conversation_id"`
	CorrelationID  string    `json:"correlation_id,omitempty"`
	Address        string    `json:"contact_phone_e164"`
	Direction      Direction `json:"direction"`

	// Kind is a short summary tag, e.g. "template_open" or "time_selected=14:30".
	Kind string `json:"kind"`
	Body string `json:"body,omitempty"`

	MessageID      string `json:"message_sid,omitempty"`
	DeliveryStatus string `json:"delivery_status,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Delivery statuses that mean the message never reached the contact.
const (
	StatusFailed      = "failed"
	StatusUndelivered = "undelivered"
)

// IsDeliveryFailure reports whether a vendor delivery status is a hard failure.
func IsDeliveryFailure(status string) bool {
	return status == StatusFailed || status == StatusUndelivered
}
