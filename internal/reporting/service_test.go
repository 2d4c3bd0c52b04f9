package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"techentry-bot/internal/messagelog"
	"techentry-bot/internal/records"
)

func TestReporting_EventCounts(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	repo.Events = []records.EventRecord{
		{EventKey: "E1", Status: records.StatusWaiting, ResponseType: records.ResponseNone},
		{EventKey: "E2", Status: records.StatusSent, ResponseType: records.ResponseNone},
		{EventKey: "E3", Status: records.StatusConfirmed, ResponseType: records.ResponseHour, ChosenTime: "14:30"},
		{EventKey: "E4", Status: records.StatusFollowUp, ResponseType: records.ResponseUnknown, FollowupDate: now},
		{EventKey: "", Status: records.StatusWaiting},
	}
	svc := NewService(repo, repo).WithClock(func() time.Time { return now })

	out, err := svc.Summary(context.Background(), SummaryRequest{})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	e := out.Events
	if e.Total != 4 || e.AwaitingReply != 3 || e.WithEntryTime != 1 || e.ScheduledFollowup != 1 {
		t.Fatalf("unexpected counts: %+v", e)
	}
	if e.ByStatus["Confirmed"] != 1 || e.ByResponseType["unknown"] != 1 {
		t.Fatalf("unexpected breakdown: %+v", e)
	}
	if e.ConfirmationRate < 0.33 || e.ConfirmationRate > 0.34 {
		t.Fatalf("expected 1/3 confirmation rate, got %f", e.ConfirmationRate)
	}
	if !out.GeneratedAt.Equal(now) {
		t.Fatalf("expected generated_at from clock")
	}
}

func TestReporting_MessageCountsRespectRange(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	repo.Entries = []messagelog.Entry{
		{Timestamp: now.Add(-48 * time.Hour), Direction: messagelog.DirectionOut, Kind: "template_open", DeliveryStatus: "delivered"},
		{Timestamp: now.Add(-time.Hour), Direction: messagelog.DirectionOut, Kind: "template_open", DeliveryStatus: "undelivered"},
		{Timestamp: now.Add(-time.Hour), Direction: messagelog.DirectionOut, Kind: "interactive_list", DeliveryStatus: "failed"},
		{Timestamp: now, Direction: messagelog.DirectionIn, EventKey: "unknown", Kind: "unhandled_incoming", DeliveryStatus: "received"},
		{Timestamp: now, Direction: messagelog.DirectionIn, EventKey: "E1", Kind: "time_selected=10:00", DeliveryStatus: "received"},
	}
	svc := NewService(repo, repo)

	out, err := svc.Summary(context.Background(), SummaryRequest{Range: TimeRange{From: now.Add(-2 * time.Hour), To: now.Add(time.Hour)}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	m := out.Messages
	if m.Total != 4 || m.Outbound != 2 || m.Inbound != 2 || m.Unattributed != 1 || m.DeliveryFailures != 2 {
		t.Fatalf("unexpected counts: %+v", m)
	}
	if m.ByKind["template_open"] != 1 || m.ByDeliveryStatus["received"] != 2 {
		t.Fatalf("unexpected breakdown: %+v", m)
	}
}

func TestReporting_RejectsInvertedRange(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Now()
	_, err := NewService(repo, repo).Summary(context.Background(), SummaryRequest{Range: TimeRange{From: now, To: now.Add(-time.Hour)}})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}
