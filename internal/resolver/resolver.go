// Package resolver attributes inbound messages to in-flight events.
//
// Precedence is fixed: an echoed correlation code, then the most recent
// outbound message to the same address inside the lookback window, then the
// unknown sentinel. Everything here is pure; callers supply history.
package resolver

import (
	"time"

	"techentry-bot/internal/messagelog"
	"techentry-bot/internal/records"
)

// UnknownEvent is the event key of unattributed messages.
const UnknownEvent = "unknown"

// DefaultLookback is the recency fallback window.
const DefaultLookback = 72 * time.Hour

type Method string

const (
	MethodCode         Method = "code"
	MethodRecency      Method = "recency"
	MethodActiveRecord Method = "active_record"
	MethodNone         Method = "none"
)

// Attribution is the result of resolving one inbound message.
type Attribution struct {
	EventKey       string
	ConversationID string
	Matched        bool
	Method         Method
}

// ConversationID is the default id for an (event, address) pair.
func ConversationID(eventKey, address string) string {
	return eventKey + ":" + address
}

// Resolve attributes an inbound message from address carrying an optional
// correlation code. Only outbound entries to the same address are considered.
func Resolve(history []messagelog.Entry, address, code string, now time.Time, lookback time.Duration) Attribution {
	if lookback <= 0 {
		lookback = DefaultLookback
	}

	if code != "" {
		if e, ok := latest(history, func(e messagelog.Entry) bool {
			return e.Address == address && e.CorrelationID == code
		}); ok {
			return attribution(e, address, MethodCode)
		}
	}

	cutoff := now.Add(-lookback)
	if e, ok := latest(history, func(e messagelog.Entry) bool {
		return e.Address == address && !e.Timestamp.Before(cutoff) && !e.Timestamp.After(now)
	}); ok {
		return attribution(e, address, MethodRecency)
	}

	return Attribution{
		EventKey:       UnknownEvent,
		ConversationID: ConversationID(UnknownEvent, address),
		Method:         MethodNone,
	}
}

// latest returns the outbound entry matching keep with the greatest timestamp.
// Equal timestamps resolve to the later log row.
func latest(history []messagelog.Entry, keep func(messagelog.Entry) bool) (messagelog.Entry, bool) {
	var (
		best  messagelog.Entry
		found bool
	)
	for _, e := range history {
		if e.Direction != messagelog.DirectionOut || e.EventKey == "" || e.EventKey == UnknownEvent {
			continue
		}
		if !keep(e) {
			continue
		}
		if !found || !e.Timestamp.Before(best.Timestamp) {
			best, found = e, true
		}
	}
	return best, found
}

func attribution(e messagelog.Entry, address string, m Method) Attribution {
	conv := e.ConversationID
	if conv == "" {
		conv = ConversationID(e.EventKey, address)
	}
	return Attribution{EventKey: e.EventKey, ConversationID: conv, Matched: true, Method: m}
}

// ActiveEvent scans live records for one awaiting a reply from address.
// With several candidates the most recently updated wins, then the later row.
// It also returns the number of candidates so callers can flag violations of
// the one-active-event-per-contact rule.
func ActiveEvent(events []records.EventRecord, address string) (records.EventRecord, int, bool) {
	var (
		best  records.EventRecord
		count int
	)
	for _, e := range events {
		if e.ContactPhoneE164 != address || !e.Status.AwaitingReply() {
			continue
		}
		count++
		if count == 1 || e.UpdatedAt.After(best.UpdatedAt) ||
			(e.UpdatedAt.Equal(best.UpdatedAt) && e.Index > best.Index) {
			best = e
		}
	}
	return best, count, count > 0
}
