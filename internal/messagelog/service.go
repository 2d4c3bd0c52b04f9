package messagelog

import (
	"context"
	"errors"
	"strings"
	"time"

	"techentry-bot/internal/sheet"
)

const Table = "Messages"

const (
	colTS             = "ts"
	colEventKey       = "event_key"
	colConversationID = "conversation_id"
	colCorrelationID  = "correlation_id"
	colAddress        = "contact_phone_e164"
	colDirection      = "direction"
	colKind           = "kind"
	colBody           = "body"
	colMessageSID     = "message_sid"
	colDeliveryStatus = "delivery_status"
	colError          = "error"
)

var Columns = []string{
	colTS, colEventKey, colConversationID, colCorrelationID, colAddress,
	colDirection, colKind, colBody, colMessageSID, colDeliveryStatus, colError,
}

var ErrInvalidEntry = errors.New("messagelog: invalid entry")

// Service is the only writer of message history.
//
// The duplicate check and the append are two store calls; callers that can
// receive the same message id concurrently serialize on it first.
type Service struct {
	table *sheet.Table
	clock func() time.Time
}

func NewService(backend sheet.Backend) *Service {
	return &Service{table: sheet.NewTable(backend, Table), clock: time.Now}
}

// WithClock overrides the clock used to stamp entries.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// EnsureSchema creates or extends the Messages header.
func (s *Service) EnsureSchema(ctx context.Context) error {
	return s.table.EnsureColumns(ctx, Columns)
}

// Append stores e unless an entry with the same message id already exists.
// It reports whether a row was written.
func (s *Service) Append(ctx context.Context, e Entry) (bool, error) {
	if s.table == nil {
		return false, errors.New("messagelog: store not configured")
	}
	if e.Direction != DirectionIn && e.Direction != DirectionOut {
		return false, ErrInvalidEntry
	}
	if strings.TrimSpace(e.Kind) == "" {
		return false, ErrInvalidEntry
	}

	if e.MessageID != "" {
		_, err := s.table.FindRowIndex(ctx, colMessageSID, e.MessageID)
		if err == nil {
			return false, nil
		}
		if !errors.Is(err, sheet.ErrRowNotFound) {
			return false, err
		}
	}

	if e.Timestamp.IsZero() {
		e.Timestamp = s.clock()
	}
	_, err := s.table.Append(ctx, encode(e))
	if err != nil {
		return false, err
	}
	return true, nil
}

// UpdateDeliveryStatus overwrites the status of the entry carrying messageID.
// It returns the updated entry, or false when no entry matches.
func (s *Service) UpdateDeliveryStatus(ctx context.Context, messageID, status, errText string) (Entry, bool, error) {
	if messageID == "" {
		return Entry{}, false, nil
	}
	idx, err := s.table.FindRowIndex(ctx, colMessageSID, messageID)
	if errors.Is(err, sheet.ErrRowNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}

	updates := map[string]string{colDeliveryStatus: status}
	if errText != "" {
		updates[colError] = errText
	}
	row, err := s.table.UpdateRow(ctx, idx, updates)
	if err != nil {
		return Entry{}, false, err
	}
	return decode(row), true, nil
}

// History returns every entry in append order.
func (s *Service) History(ctx context.Context) ([]Entry, error) {
	rows, err := s.table.ListRows(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, decode(r))
	}
	return out, nil
}

func encode(e Entry) map[string]string {
	return map[string]string{
		colTS:             e.Timestamp.UTC().Format(time.RFC3339Nano),
		colEventKey:       e.EventKey,
		colConversationID: e.ConversationID,
		colCorrelationID:  e.CorrelationID,
		colAddress:        e.Address,
		colDirection:      string(e.Direction),
		colKind:           e.Kind,
		colBody:           e.Body,
		colMessageSID:     e.MessageID,
		colDeliveryStatus: e.DeliveryStatus,
		colError:          e.Error,
	}
}

func decode(r sheet.Record) Entry {
	ts, _ := time.Parse(time.RFC3339Nano, r.Get(colTS))
	return Entry{
		Row:            r.Index,
		Timestamp:      ts,
		EventKey:       r.Get(colEventKey),
		ConversationID: r.Get(colConversationID),
		CorrelationID:  r.Get(colCorrelationID),
		Address:        r.Get(colAddress),
		Direction:      Direction(strings.ToLower(r.Get(colDirection))),
		Kind:           r.Get(colKind),
		Body:           r.Get(colBody),
		MessageID:      r.Get(colMessageSID),
		DeliveryStatus: r.Get(colDeliveryStatus),
		Error:          r.Get(colError),
	}
}
