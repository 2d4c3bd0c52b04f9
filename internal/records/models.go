package records

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of an event record.
type Status string

const (
	StatusWaiting   Status = "Waiting"
	StatusSent      Status = "Sent"
	StatusFollowUp  Status = "FollowUp"
	StatusConfirmed Status = "Confirmed"
	StatusNeedHuman Status = "NeedHuman"
	StatusFailed    Status = "Failed"
)

var knownStatuses = []Status{StatusWaiting, StatusSent, StatusFollowUp, StatusConfirmed, StatusNeedHuman, StatusFailed}

// ParseStatus maps a stored cell to a Status. An empty cell is Waiting;
// unknown values are kept verbatim so an operator edit is never lost.
func ParseStatus(s string) Status {
	s = strings.TrimSpace(s)
	if s == "" {
		return StatusWaiting
	}
	for _, k := range knownStatuses {
		if strings.EqualFold(s, string(k)) {
			return k
		}
	}
	return Status(s)
}

// Terminal reports whether automation must leave the record alone.
func (s Status) Terminal() bool {
	switch s {
	case StatusConfirmed, StatusFailed, StatusNeedHuman:
		return true
	}
	return false
}

// AwaitingReply reports whether inbound messages can still advance the record.
func (s Status) AwaitingReply() bool {
	switch s {
	case StatusWaiting, StatusSent, StatusFollowUp:
		return true
	}
	return false
}

type ResponseType string

const (
	ResponseNone     ResponseType = "none"
	ResponseHour     ResponseType = "hour"
	ResponseUnknown  ResponseType = "unknown"
	ResponseRedirect ResponseType = "redirect"
)

func ParseResponseType(s string) ResponseType {
	switch ResponseType(strings.ToLower(strings.TrimSpace(s))) {
	case ResponseHour:
		return ResponseHour
	case ResponseUnknown:
		return ResponseUnknown
	case ResponseRedirect:
		return ResponseRedirect
	}
	return ResponseNone
}

// EventRecord is one scheduled engagement awaiting an entry time.
type EventRecord struct {
	Index   int
	Version int64

	EventKey         string
	ContactName      string
	ContactPhoneRaw  string
	ContactPhoneE164 string
	ShowName         string
	EventDate        time.Time
	ShowTime         string
	Status           Status
	ResponseType     ResponseType
	TechEntryTime    string
	ChosenTime       string
	FollowupDate     time.Time
	LastInboundAt    time.Time
	LastOutboundAt   time.Time
	UpdatedAt        time.Time
	Notes            string
}

// HasEntryTime reports whether a tech entry time was chosen.
func (e EventRecord) HasEntryTime() bool {
	return strings.TrimSpace(e.TechEntryTime) != "" || strings.TrimSpace(e.ChosenTime) != ""
}

// EventDay is midnight of the event date in loc.
func (e EventRecord) EventDay(loc *time.Location) time.Time {
	if e.EventDate.IsZero() {
		return time.Time{}
	}
	d := e.EventDate.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
}

// DateLabel is the event date as shown to contacts.
func (e EventRecord) DateLabel(loc *time.Location) string {
	if e.EventDate.IsZero() {
		return ""
	}
	return e.EventDate.In(loc).Format("2006-01-02")
}

// ConversationRecord tracks the last message per (event, contact) pair.
type ConversationRecord struct {
	ConversationID   string
	EventID          string
	ContactPhoneE164 string
	ContactName      string
	LastMessageAt    time.Time
	LastDirection    string
	LastBody         string
}

// TechContact is a directory entry for a redirected contact.
type TechContact struct {
	EntityKey      string
	Name           string
	PhoneE164      string
	SourceEventKey string
	LastVerifiedAt time.Time
	Notes          string
}

// Patch is a partial update keyed by column name.
type Patch map[string]string

func (p Patch) Set(column, value string) Patch {
	p[column] = value
	return p
}

func (p Patch) SetTime(column string, t time.Time, loc *time.Location) Patch {
	p[column] = FormatTime(t, loc)
	return p
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTime reads an ISO-like timestamp or date. Values without an offset are
// interpreted in loc. An empty cell is the zero time.
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("records: unparsable time %q", s)
}

// FormatTime writes t as RFC3339 in loc, or "" for the zero time. Sub-second
// precision is kept so stamps written in one update still order.
func FormatTime(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	return t.In(loc).Format(time.RFC3339Nano)
}

// EntityKey derives the tech-contact dedup key from a contact name, falling
// back to the show name.
func EntityKey(contactName, showName string) string {
	base := strings.TrimSpace(contactName)
	if base == "" {
		base = strings.TrimSpace(showName)
	}
	return strings.Join(strings.Fields(strings.ToLower(base)), "_")
}

// AppendNote adds note on a new line, skipping exact duplicates.
func AppendNote(existing, note string) string {
	note = strings.TrimSpace(note)
	if note == "" {
		return existing
	}
	existing = strings.TrimSpace(existing)
	if existing == "" {
		return note
	}
	for _, line := range strings.Split(existing, "\n") {
		if strings.TrimSpace(line) == note {
			return existing
		}
	}
	return existing + "\n" + note
}
