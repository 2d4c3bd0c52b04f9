package records

import (
	"context"
	"errors"
	"strings"
	"time"

	"techentry-bot/internal/sheet"
)

// Conversations columns.
const (
	ColConversationID   = "conversation_id"
	ColEventID          = "event_id"
	ColLastMessageAtUTC = "last_message_at_utc"
	ColLastDirection    = "last_direction"
	ColLastBody         = "last_body"
)

var ConversationColumns = []string{
	ColConversationID, ColEventID, ColContactPhoneE164, ColContactName,
	ColLastMessageAtUTC, ColLastDirection, ColLastBody,
}

// TechContacts columns.
const (
	ColEntityKey            = "entity_key"
	ColTechContactName      = "tech_contact_name"
	ColTechContactPhoneE164 = "tech_contact_phone_e164"
	ColSourceEventKey       = "source_event_key"
	ColLastVerifiedAt       = "last_verified_at"
)

var TechContactColumns = []string{
	ColEntityKey, ColTechContactName, ColTechContactPhoneE164,
	ColSourceEventKey, ColLastVerifiedAt, ColNotes,
}

// Conversations upserts one row per conversation_id.
type Conversations struct {
	table *sheet.Table
}

func NewConversations(backend sheet.Backend) *Conversations {
	return &Conversations{table: sheet.NewTable(backend, ConversationsTable)}
}

func (r *Conversations) Upsert(ctx context.Context, c ConversationRecord) error {
	fields := map[string]string{
		ColConversationID:   c.ConversationID,
		ColEventID:          c.EventID,
		ColContactPhoneE164: c.ContactPhoneE164,
		ColContactName:      c.ContactName,
		ColLastMessageAtUTC: FormatTime(c.LastMessageAt, time.UTC),
		ColLastDirection:    c.LastDirection,
		ColLastBody:         c.LastBody,
	}
	idx, err := r.table.FindRowIndex(ctx, ColConversationID, c.ConversationID)
	if errors.Is(err, sheet.ErrRowNotFound) {
		_, err = r.table.Append(ctx, fields)
		return err
	}
	if err != nil {
		return err
	}
	// Keep a previously learned name when this message carried none.
	if c.ContactName == "" {
		delete(fields, ColContactName)
	}
	_, err = r.table.UpdateRow(ctx, idx, fields)
	return err
}

func (r *Conversations) Get(ctx context.Context, conversationID string) (ConversationRecord, error) {
	idx, err := r.table.FindRowIndex(ctx, ColConversationID, conversationID)
	if err != nil {
		return ConversationRecord{}, err
	}
	row, err := r.table.Get(ctx, idx)
	if err != nil {
		return ConversationRecord{}, err
	}
	at, _ := ParseTime(row.Get(ColLastMessageAtUTC), time.UTC)
	return ConversationRecord{
		ConversationID:   row.Get(ColConversationID),
		EventID:          row.Get(ColEventID),
		ContactPhoneE164: row.Get(ColContactPhoneE164),
		ContactName:      row.Get(ColContactName),
		LastMessageAt:    at,
		LastDirection:    row.Get(ColLastDirection),
		LastBody:         row.Get(ColLastBody),
	}, nil
}

// TechContacts upserts directory entries by entity_key (case-insensitive).
type TechContacts struct {
	table *sheet.Table
	loc   *time.Location
}

func NewTechContacts(backend sheet.Backend, loc *time.Location) *TechContacts {
	return &TechContacts{table: sheet.NewTable(backend, TechContactsTable), loc: loc}
}

// Upsert writes c; the latest verification wins.
func (r *TechContacts) Upsert(ctx context.Context, c TechContact) error {
	key := strings.ToLower(strings.TrimSpace(c.EntityKey))
	fields := map[string]string{
		ColEntityKey:            key,
		ColTechContactName:      c.Name,
		ColTechContactPhoneE164: c.PhoneE164,
		ColSourceEventKey:       c.SourceEventKey,
		ColLastVerifiedAt:       FormatTime(c.LastVerifiedAt, r.loc),
		ColNotes:                c.Notes,
	}

	rows, err := r.table.ListRows(ctx)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if strings.EqualFold(strings.TrimSpace(row.Get(ColEntityKey)), key) {
			fields[ColNotes] = AppendNote(row.Get(ColNotes), c.Notes)
			_, err := r.table.UpdateRow(ctx, row.Index, fields)
			return err
		}
	}
	_, err = r.table.Append(ctx, fields)
	return err
}

func (r *TechContacts) List(ctx context.Context) ([]TechContact, error) {
	rows, err := r.table.ListRows(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]TechContact, 0, len(rows))
	for _, row := range rows {
		at, _ := ParseTime(row.Get(ColLastVerifiedAt), r.loc)
		out = append(out, TechContact{
			EntityKey:      row.Get(ColEntityKey),
			Name:           row.Get(ColTechContactName),
			PhoneE164:      row.Get(ColTechContactPhoneE164),
			SourceEventKey: row.Get(ColSourceEventKey),
			LastVerifiedAt: at,
			Notes:          row.Get(ColNotes),
		})
	}
	return out, nil
}

// EnsureSchema creates or extends the headers of the record tables.
func EnsureSchema(ctx context.Context, backend sheet.Backend) error {
	for name, cols := range map[string][]string{
		EventsTable:        EventColumns,
		ConversationsTable: ConversationColumns,
		TechContactsTable:  TechContactColumns,
	} {
		if err := sheet.NewTable(backend, name).EnsureColumns(ctx, cols); err != nil {
			return err
		}
	}
	return nil
}
