package audit

import (
	"context"
	"time"

	"techentry-bot/internal/sheet"
)

// SheetRepo appends audit events as rows of the OpsAudit table.
type SheetRepo struct {
	table *sheet.Table
}

func NewSheetRepo(backend sheet.Backend) *SheetRepo {
	return &SheetRepo{table: sheet.NewTable(backend, Table)}
}

// EnsureSchema creates or extends the audit table header.
func (r *SheetRepo) EnsureSchema(ctx context.Context) error {
	return r.table.EnsureColumns(ctx, Columns)
}

func (r *SheetRepo) Append(ctx context.Context, e Event) error {
	_, err := r.table.Append(ctx, map[string]string{
		ColID:        e.ID,
		ColType:      string(e.Type),
		ColActorID:   e.ActorID,
		ColActorRole: e.ActorRole,
		ColIP:        e.IPAddress,
		ColSubject:   e.Subject,
		ColMessage:   e.Message,
		ColMetadata:  e.Metadata,
		ColCreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
	})
	return err
}

// List returns the trail in append order.
func (r *SheetRepo) List(ctx context.Context) ([]Event, error) {
	rows, err := r.table.ListRows(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(rows))
	for _, row := range rows {
		at, _ := time.Parse(time.RFC3339, row.Get(ColCreatedAt))
		out = append(out, Event{
			ID:        row.Get(ColID),
			Type:      EventType(row.Get(ColType)),
			ActorID:   row.Get(ColActorID),
			ActorRole: row.Get(ColActorRole),
			IPAddress: row.Get(ColIP),
			Subject:   row.Get(ColSubject),
			Message:   row.Get(ColMessage),
			Metadata:  row.Get(ColMetadata),
			CreatedAt: at,
		})
	}
	return out, nil
}
