package messaging

import (
	"context"
	"fmt"
)

// Sender is the outbound capability the workflow depends on.
//
// Rules:
// - No vendor calls outside messaging adapters.
// - A send either returns the vendor message id or a *SendError.
// - Senders never retry; operators re-run the sweep.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg OutboundMessage) (SendResult, error)
}

// OutboundMessage is a provider-agnostic message to one channel address.
type OutboundMessage struct {
	To string `json:"to"`

	// Kind is the log tag for this message, e.g. "template_open".
	Kind string `json:"kind"`

	Body        string       `json:"body,omitempty"`
	Interactive *Interactive `json:"interactive,omitempty"`
}

// Interactive is a list or reply-button message.
type Interactive struct {
	Type   string `json:"type"` // "list" or "button"
	Header string `json:"header,omitempty"`
	Body   string `json:"body"`
	Footer string `json:"footer,omitempty"`

	// List messages.
	Button   string        `json:"button,omitempty"`
	Sections []ListSection `json:"sections,omitempty"`

	// Button messages.
	Buttons []ReplyButton `json:"buttons,omitempty"`
}

type ListSection struct {
	Title string    `json:"title"`
	Rows  []ListRow `json:"rows"`
}

type ListRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type ReplyButton struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

const (
	InteractiveList   = "list"
	InteractiveButton = "button"
)

// Summary is the text stored in the message log for msg.
func (m OutboundMessage) Summary() string {
	if m.Body != "" {
		return m.Body
	}
	if m.Interactive != nil {
		return m.Interactive.Body
	}
	return ""
}

// SendResult is the vendor acknowledgement of an accepted message.
type SendResult struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// SendError is a transport-level failure.
type SendError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *SendError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: send failed: %v", e.Provider, e.Err)
	case e.Code != "":
		return fmt.Sprintf("%s: send failed: status=%d code=%s: %s", e.Provider, e.StatusCode, e.Code, e.Message)
	default:
		return fmt.Sprintf("%s: send failed: status=%d: %s", e.Provider, e.StatusCode, e.Message)
	}
}

func (e *SendError) Unwrap() error { return e.Err }
