package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"techentry-bot/internal/sheet"
)

const (
	EventsTable        = "Events"
	ConversationsTable = "Conversations"
	TechContactsTable  = "TechContacts"
)

// Events columns.
const (
	ColEventKey         = "event_key"
	ColContactName      = "contact_name"
	ColContactPhoneRaw  = "contact_phone_raw"
	ColContactPhoneE164 = "contact_phone_e164"
	ColShowName         = "show_name"
	ColEventDate        = "event_date"
	ColShowTime         = "show_time"
	ColStatus           = "status"
	ColResponseType     = "response_type"
	ColTechEntryTime    = "tech_entry_time"
	ColChosenTime       = "chosen_time"
	ColFollowupDate     = "followup_date"
	ColLastInboundAt    = "last_inbound_at"
	ColLastOutboundAt   = "last_outbound_at"
	ColUpdatedAt        = "updated_at"
	ColNotes            = "notes"
)

var EventColumns = []string{
	ColEventKey, ColContactName, ColContactPhoneRaw, ColContactPhoneE164,
	ColShowName, ColEventDate, ColShowTime, ColStatus, ColResponseType,
	ColTechEntryTime, ColChosenTime, ColFollowupDate,
	ColLastInboundAt, ColLastOutboundAt, ColUpdatedAt, ColNotes,
}

var (
	ErrEventNotFound  = errors.New("records: event not found")
	ErrImmutableField = errors.New("records: field is immutable")
)

// Events is the typed repository over the Events table.
type Events struct {
	table *sheet.Table
	loc   *time.Location
	clock func() time.Time
}

func NewEvents(backend sheet.Backend, loc *time.Location) *Events {
	return &Events{table: sheet.NewTable(backend, EventsTable), loc: loc, clock: time.Now}
}

// WithClock overrides the clock used to stamp updated_at.
func (r *Events) WithClock(clock func() time.Time) *Events {
	r.clock = clock
	return r
}

func (r *Events) Location() *time.Location { return r.loc }

// List returns every event in row order. Rows with unparsable timestamps keep
// the zero time for that field.
func (r *Events) List(ctx context.Context) ([]EventRecord, error) {
	rows, err := r.table.ListRows(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]EventRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, r.decode(row))
	}
	return out, nil
}

// Get reads a single event by its row index.
func (r *Events) Get(ctx context.Context, index int) (EventRecord, error) {
	row, err := r.table.Get(ctx, index)
	if err != nil {
		return EventRecord{}, err
	}
	return r.decode(row), nil
}

// FindByKey looks an event up by event_key.
func (r *Events) FindByKey(ctx context.Context, key string) (EventRecord, error) {
	idx, err := r.table.FindRowIndex(ctx, ColEventKey, key)
	if errors.Is(err, sheet.ErrRowNotFound) {
		return EventRecord{}, fmt.Errorf("%w: %s", ErrEventNotFound, key)
	}
	if err != nil {
		return EventRecord{}, err
	}
	return r.Get(ctx, idx)
}

// Update merges patch into the row and stamps updated_at.
// event_key can never be changed through Update.
func (r *Events) Update(ctx context.Context, index int, patch Patch) (EventRecord, error) {
	if _, ok := patch[ColEventKey]; ok {
		return EventRecord{}, fmt.Errorf("%w: %s", ErrImmutableField, ColEventKey)
	}
	updates := make(map[string]string, len(patch)+1)
	for k, v := range patch {
		updates[k] = v
	}
	updates[ColUpdatedAt] = FormatTime(r.clock(), r.loc)

	row, err := r.table.UpdateRow(ctx, index, updates)
	if err != nil {
		return EventRecord{}, err
	}
	return r.decode(row), nil
}

func (r *Events) decode(row sheet.Record) EventRecord {
	t := func(col string) time.Time {
		v, err := ParseTime(row.Get(col), r.loc)
		if err != nil {
			return time.Time{}
		}
		return v
	}
	return EventRecord{
		Index:            row.Index,
		Version:          row.Version,
		EventKey:         row.Get(ColEventKey),
		ContactName:      row.Get(ColContactName),
		ContactPhoneRaw:  row.Get(ColContactPhoneRaw),
		ContactPhoneE164: row.Get(ColContactPhoneE164),
		ShowName:         row.Get(ColShowName),
		EventDate:        t(ColEventDate),
		ShowTime:         row.Get(ColShowTime),
		Status:           ParseStatus(row.Get(ColStatus)),
		ResponseType:     ParseResponseType(row.Get(ColResponseType)),
		TechEntryTime:    row.Get(ColTechEntryTime),
		ChosenTime:       row.Get(ColChosenTime),
		FollowupDate:     t(ColFollowupDate),
		LastInboundAt:    t(ColLastInboundAt),
		LastOutboundAt:   t(ColLastOutboundAt),
		UpdatedAt:        t(ColUpdatedAt),
		Notes:            row.Get(ColNotes),
	}
}
