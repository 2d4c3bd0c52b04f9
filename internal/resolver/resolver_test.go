package resolver

import (
	"testing"
	"time"

	"techentry-bot/internal/messagelog"
	"techentry-bot/internal/records"
)

const addr = "whatsapp:+972501234567"

var now = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

func out(event, code string, ago time.Duration) messagelog.Entry {
	return messagelog.Entry{
		Timestamp:     now.Add(-ago),
		EventKey:      event,
		CorrelationID: code,
		Address:       addr,
		Direction:     messagelog.DirectionOut,
		Kind:          "template_open",
	}
}

func TestResolve_CodeBeatsRecency(t *testing.T) {
	history := []messagelog.Entry{
		out("E1", "AAAA", 30*time.Hour),
		out("E2", "BBBB", time.Hour),
	}
	got := Resolve(history, addr, "AAAA", now, DefaultLookback)
	if got.EventKey != "E1" || got.Method != MethodCode || !got.Matched {
		t.Fatalf("expected code match on E1, got %+v", got)
	}
	if got.ConversationID != "E1:"+addr {
		t.Fatalf("expected default conversation id, got %q", got.ConversationID)
	}
}

func TestResolve_CodeMatchesOldEntriesOutsideLookback(t *testing.T) {
	history := []messagelog.Entry{out("E1", "AAAA", 200*time.Hour)}
	if got := Resolve(history, addr, "AAAA", now, DefaultLookback); got.EventKey != "E1" {
		t.Fatalf("expected code match regardless of age, got %+v", got)
	}
}

func TestResolve_DuplicateCodePrefersMostRecent(t *testing.T) {
	history := []messagelog.Entry{
		out("E1", "AAAA", 5*time.Hour),
		out("E2", "AAAA", 2*time.Hour),
		out("E3", "AAAA", 4*time.Hour),
	}
	if got := Resolve(history, addr, "AAAA", now, DefaultLookback); got.EventKey != "E2" {
		t.Fatalf("expected most recent E2, got %+v", got)
	}

	tied := []messagelog.Entry{out("E1", "AAAA", time.Hour), out("E2", "AAAA", time.Hour)}
	if got := Resolve(tied, addr, "AAAA", now, DefaultLookback); got.EventKey != "E2" {
		t.Fatalf("expected later row on tie, got %+v", got)
	}
}

func TestResolve_UnmatchedCodeFallsBackToRecency(t *testing.T) {
	history := []messagelog.Entry{
		out("E1", "AAAA", 10*time.Hour),
		out("E2", "BBBB", 3*time.Hour),
	}
	got := Resolve(history, addr, "ZZZZ", now, DefaultLookback)
	if got.EventKey != "E2" || got.Method != MethodRecency {
		t.Fatalf("expected recency match on E2, got %+v", got)
	}
}

func TestResolve_IgnoresOtherAddressesAndInbound(t *testing.T) {
	other := out("E9", "AAAA", time.Hour)
	other.Address = "whatsapp:+972509999999"
	inbound := out("E8", "AAAA", time.Minute)
	inbound.Direction = messagelog.DirectionIn

	got := Resolve([]messagelog.Entry{other, inbound}, addr, "AAAA", now, DefaultLookback)
	if got.Matched || got.EventKey != UnknownEvent || got.ConversationID != "unknown:"+addr {
		t.Fatalf("expected unknown sentinel, got %+v", got)
	}
}

func TestResolve_LookbackWindow(t *testing.T) {
	history := []messagelog.Entry{out("E1", "", 73*time.Hour)}
	if got := Resolve(history, addr, "", now, DefaultLookback); got.Matched {
		t.Fatalf("expected no match outside lookback, got %+v", got)
	}
	if got := Resolve(history, addr, "", now, 96*time.Hour); got.EventKey != "E1" {
		t.Fatalf("expected match with wider lookback, got %+v", got)
	}
}

func TestResolve_RecordedConversationID(t *testing.T) {
	e := out("E1", "AAAA", time.Hour)
	e.ConversationID = "conv-7"
	if got := Resolve([]messagelog.Entry{e}, addr, "", now, 0); got.ConversationID != "conv-7" {
		t.Fatalf("expected recorded conversation id, got %+v", got)
	}
}

func TestActiveEvent_DeterministicTieBreak(t *testing.T) {
	base := now.Add(-time.Hour)
	events := []records.EventRecord{
		{Index: 2, EventKey: "E1", ContactPhoneE164: addr, Status: records.StatusSent, UpdatedAt: base},
		{Index: 3, EventKey: "E2", ContactPhoneE164: addr, Status: records.StatusConfirmed, UpdatedAt: now},
		{Index: 4, EventKey: "E3", ContactPhoneE164: addr, Status: records.StatusFollowUp, UpdatedAt: base.Add(time.Minute)},
		{Index: 5, EventKey: "E4", ContactPhoneE164: "whatsapp:+972500000000", Status: records.StatusSent, UpdatedAt: now},
	}
	got, n, ok := ActiveEvent(events, addr)
	if !ok || n != 2 || got.EventKey != "E3" {
		t.Fatalf("expected E3 among 2 candidates, got %s n=%d ok=%v", got.EventKey, n, ok)
	}

	events[3].ContactPhoneE164 = addr
	events[3].UpdatedAt = events[2].UpdatedAt
	events[3].Status = records.StatusWaiting
	got, n, _ = ActiveEvent(events, addr)
	if n != 3 || got.EventKey != "E4" {
		t.Fatalf("expected later row E4 on tie, got %s n=%d", got.EventKey, n)
	}

	if _, _, ok := ActiveEvent(nil, addr); ok {
		t.Fatalf("expected no active event")
	}
}
