package reporting

import "time"

// Common filtering inputs.

// TimeRange filters message log entries. A zero bound is open.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

type SummaryRequest struct {
	Range TimeRange `json:"range"`
}

// EventsSummary counts the live event records.
type EventsSummary struct {
	Total          int            `json:"total"`
	ByStatus       map[string]int `json:"by_status"`
	ByResponseType map[string]int `json:"by_response_type"`

	AwaitingReply     int `json:"awaiting_reply"`
	WithEntryTime     int `json:"with_entry_time"`
	ScheduledFollowup int `json:"scheduled_followup"`

	// ConfirmationRate is Confirmed over all records that left Waiting.
	ConfirmationRate float64 `json:"confirmation_rate"`
}

// MessagesSummary counts message log entries inside the requested range.
type MessagesSummary struct {
	Total            int            `json:"total"`
	Inbound          int            `json:"inbound"`
	Outbound         int            `json:"outbound"`
	ByKind           map[string]int `json:"by_kind"`
	ByDeliveryStatus map[string]int `json:"by_delivery_status"`
	DeliveryFailures int            `json:"delivery_failures"`
	Unattributed     int            `json:"unattributed"`
}

type Summary struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Range       TimeRange       `json:"range"`
	Events      EventsSummary   `json:"events"`
	Messages    MessagesSummary `json:"messages"`
}
