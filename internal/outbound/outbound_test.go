package outbound

import (
	"context"
	"errors"
	"testing"
	"time"

	"techentry-bot/internal/locks"
	"techentry-bot/internal/messagelog"
	"techentry-bot/internal/messaging"
	"techentry-bot/internal/notify"
	"techentry-bot/internal/phone"
	"techentry-bot/internal/records"
	"techentry-bot/internal/sheet"
)

var jerusalem = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Jerusalem")
	if err != nil {
		return time.FixedZone("IST", 2*3600)
	}
	return loc
}()

type recordingNotifier struct {
	got []notify.Escalation
}

func (n *recordingNotifier) NotifyEscalation(ctx context.Context, e notify.Escalation) error {
	n.got = append(n.got, e)
	return nil
}

type fixture struct {
	now      time.Time
	backend  *sheet.MemoryBackend
	events   *records.Events
	log      *messagelog.Service
	sender   *messaging.DryRunSender
	locker   *locks.LocalLocker
	notifier *recordingNotifier
	sched    *Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		now:      time.Date(2026, 2, 10, 10, 0, 0, 0, jerusalem),
		backend:  sheet.NewMemoryBackend(),
		sender:   messaging.NewDryRunSender(),
		locker:   locks.NewLocalLocker(),
		notifier: &recordingNotifier{},
	}
	clock := func() time.Time { return f.now }

	if err := records.EnsureSchema(ctx, f.backend); err != nil {
		t.Fatalf("schema: %v", err)
	}
	f.events = records.NewEvents(f.backend, jerusalem).WithClock(clock)
	f.log = messagelog.NewService(f.backend).WithClock(clock)
	if err := f.log.EnsureSchema(ctx); err != nil {
		t.Fatalf("log schema: %v", err)
	}

	w, err := NewWindow("09:00", "17:00", jerusalem)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	f.sched = NewScheduler(Config{Window: w}, Deps{
		Events:     f.events,
		Dispatcher: NewDispatcher(f.sender, f.log, jerusalem).WithClock(clock),
		Log:        f.log,
		Normalizer: phone.New("972"),
		Locker:     f.locker,
		Notifier:   f.notifier,
		Clock:      clock,
	})
	return f
}

func (f *fixture) seed(t *testing.T, fields map[string]string) {
	t.Helper()
	if _, err := sheet.NewTable(f.backend, records.EventsTable).Append(context.Background(), fields); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func (f *fixture) event(t *testing.T, key string) records.EventRecord {
	t.Helper()
	ev, err := f.events.FindByKey(context.Background(), key)
	if err != nil {
		t.Fatalf("find %s: %v", key, err)
	}
	return ev
}

func (f *fixture) date(days int) string {
	return f.now.AddDate(0, 0, days).Format("2006-01-02")
}

func (f *fixture) ts(d time.Duration) string {
	return records.FormatTime(f.now.Add(d), jerusalem)
}

func (f *fixture) history(t *testing.T) []messagelog.Entry {
	t.Helper()
	h, err := f.log.History(context.Background())
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	return h
}

func TestWindow(t *testing.T) {
	w, err := NewWindow("09:00", "17:00", jerusalem)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	day := time.Date(2026, 2, 10, 0, 0, 0, 0, jerusalem)
	cases := map[time.Duration]bool{
		8*time.Hour + 59*time.Minute: false,
		9 * time.Hour:                true,
		13 * time.Hour:               true,
		17 * time.Hour:               true,
		17*time.Hour + time.Second:   false,
		22 * time.Hour:               false,
	}
	for offset, want := range cases {
		if got := w.Open(day.Add(offset)); got != want {
			t.Fatalf("at %s: expected open=%v", day.Add(offset).Format("15:04:05"), want)
		}
	}

	// Clock-change days: spring forward on 2026-03-27, fall back on 2026-10-25.
	dst := []struct {
		at   time.Time
		want bool
	}{
		{time.Date(2026, 3, 27, 8, 59, 0, 0, jerusalem), false},
		{time.Date(2026, 3, 27, 9, 30, 0, 0, jerusalem), true},
		{time.Date(2026, 3, 27, 17, 0, 0, 0, jerusalem), true},
		{time.Date(2026, 3, 27, 17, 30, 0, 0, jerusalem), false},
		{time.Date(2026, 10, 25, 9, 0, 0, 0, jerusalem), true},
		{time.Date(2026, 10, 25, 16, 30, 0, 0, jerusalem), true},
		{time.Date(2026, 10, 25, 17, 1, 0, 0, jerusalem), false},
	}
	for _, tc := range dst {
		if got := w.Open(tc.at); got != tc.want {
			t.Fatalf("at %s: expected open=%v", tc.at.Format(time.RFC3339), tc.want)
		}
	}
	if _, err := NewWindow("17:00", "09:00", jerusalem); err == nil {
		t.Fatalf("expected inverted window to be rejected")
	}
	if _, err := ParseClock("9am"); err == nil {
		t.Fatalf("expected invalid clock")
	}
}

func TestDispatchInitial_SendsOpeningSequence(t *testing.T) {
	f := newFixture(t)
	f.seed(t, map[string]string{
		records.ColEventKey:        "E1",
		records.ColContactName:     "Dana",
		records.ColContactPhoneRaw: "0501234567",
		records.ColShowName:        "Show",
		records.ColEventDate:       f.date(20),
		records.ColShowTime:        "20:00",
		records.ColStatus:          "Waiting",
	})

	res, err := f.sched.DispatchInitial(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Records != 1 || res.Messages != 3 || res.Failed != 0 {
		t.Fatalf("unexpected result %+v", res)
	}

	ev := f.event(t, "E1")
	if ev.Status != records.StatusSent || !ev.LastOutboundAt.Equal(f.now) {
		t.Fatalf("unexpected record %+v", ev)
	}
	if ev.ContactPhoneE164 != "whatsapp:+972501234567" {
		t.Fatalf("unexpected address %q", ev.ContactPhoneE164)
	}

	hist := f.history(t)
	want := []string{messaging.KindTemplateOpen, messaging.KindInteractiveList, messaging.KindMetaButtons}
	if len(hist) != len(want) {
		t.Fatalf("expected %d log entries, got %d", len(want), len(hist))
	}
	for i, e := range hist {
		if e.Direction != messagelog.DirectionOut || e.Kind != want[i] || e.Address != "whatsapp:+972501234567" {
			t.Fatalf("entry %d: unexpected %+v", i, e)
		}
		if e.CorrelationID == "" || e.CorrelationID != hist[0].CorrelationID || e.MessageID == "" {
			t.Fatalf("entry %d: expected shared correlation id and vendor id: %+v", i, e)
		}
	}

	// Already Sent: a second run inside the same window sends nothing.
	res, _ = f.sched.DispatchInitial(context.Background(), 0)
	if res.Records != 0 || len(f.sender.Sent()) != 3 {
		t.Fatalf("expected no resend, got %+v", res)
	}
}

func TestSweeps_WindowClosed(t *testing.T) {
	f := newFixture(t)
	f.now = time.Date(2026, 2, 10, 20, 0, 0, 0, jerusalem)
	f.seed(t, map[string]string{records.ColEventKey: "E1", records.ColContactPhoneRaw: "0501234567", records.ColEventDate: f.date(20)})
	f.seed(t, map[string]string{records.ColEventKey: "E2", records.ColContactPhoneRaw: "0501234568", records.ColEventDate: f.date(20),
		records.ColStatus: "Sent", records.ColLastOutboundAt: f.ts(-50 * time.Hour)})

	if _, err := f.sched.DispatchInitial(context.Background(), 5); !errors.Is(err, ErrWindowClosed) {
		t.Fatalf("expected ErrWindowClosed, got %v", err)
	}
	if _, err := f.sched.FollowupSweep(context.Background()); !errors.Is(err, ErrWindowClosed) {
		t.Fatalf("expected ErrWindowClosed, got %v", err)
	}
	if len(f.sender.Sent()) != 0 || len(f.history(t)) != 0 {
		t.Fatalf("expected zero sends outside the window")
	}
}

func TestDispatchInitial_Eligibility(t *testing.T) {
	f := newFixture(t)
	f.seed(t, map[string]string{records.ColEventKey: "future-followup", records.ColContactPhoneRaw: "0501111111",
		records.ColEventDate: f.date(20), records.ColStatus: "FollowUp", records.ColFollowupDate: f.ts(24 * time.Hour)})
	f.seed(t, map[string]string{records.ColEventKey: "due-followup", records.ColContactPhoneRaw: "0502222222",
		records.ColEventDate: f.date(20), records.ColStatus: "FollowUp", records.ColFollowupDate: f.ts(-time.Hour)})
	f.seed(t, map[string]string{records.ColEventKey: "past-event", records.ColContactPhoneRaw: "0503333333",
		records.ColEventDate: f.date(-1), records.ColStatus: "Waiting", records.ColChosenTime: "10:00"})
	f.seed(t, map[string]string{records.ColEventKey: "confirmed", records.ColContactPhoneRaw: "0504444444",
		records.ColEventDate: f.date(20), records.ColStatus: "Confirmed", records.ColChosenTime: "10:00"})
	f.seed(t, map[string]string{records.ColEventKey: "recent-followup", records.ColContactPhoneRaw: "0505555555",
		records.ColEventDate: f.date(20), records.ColStatus: "FollowUp", records.ColLastOutboundAt: f.ts(-time.Hour)})

	res, err := f.sched.DispatchInitial(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Records != 1 {
		t.Fatalf("expected only the due follow-up to be sent, got %+v", res)
	}
	if f.event(t, "future-followup").Status != records.StatusFollowUp {
		t.Fatalf("future follow-up must not be dispatched")
	}
	due := f.event(t, "due-followup")
	if due.Status != records.StatusSent || !due.FollowupDate.IsZero() {
		t.Fatalf("expected due follow-up sent and cleared, got %+v", due)
	}
	if f.event(t, "past-event").Status != records.StatusWaiting {
		t.Fatalf("past event must be skipped")
	}
}

func TestDispatchInitial_LimitAndValidation(t *testing.T) {
	f := newFixture(t)
	for _, key := range []string{"A", "B", "C"} {
		f.seed(t, map[string]string{records.ColEventKey: key, records.ColContactPhoneRaw: "0501234567", records.ColEventDate: f.date(30)})
	}
	// Escalation is still applied past the limit.
	f.seed(t, map[string]string{records.ColEventKey: "SOON", records.ColContactPhoneRaw: "0501234567", records.ColEventDate: f.date(3)})

	res, err := f.sched.DispatchInitial(context.Background(), 2)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Records != 2 || res.Messages != 6 || res.Escalated != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if f.event(t, "C").Status != records.StatusWaiting {
		t.Fatalf("expected third record left for the next run")
	}

	for _, limit := range []int{-1, DefaultMaxSendLimit + 1} {
		if _, err := f.sched.DispatchInitial(context.Background(), limit); !errors.Is(err, ErrInvalidLimit) {
			t.Fatalf("limit %d: expected ErrInvalidLimit, got %v", limit, err)
		}
	}
}

func TestDispatchInitial_InvalidPhoneFailsRecord(t *testing.T) {
	f := newFixture(t)
	f.seed(t, map[string]string{records.ColEventKey: "E1", records.ColContactPhoneRaw: "abc", records.ColEventDate: f.date(20)})
	f.seed(t, map[string]string{records.ColEventKey: "E2", records.ColContactPhoneRaw: "0501234567", records.ColEventDate: f.date(20)})

	res, err := f.sched.DispatchInitial(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Failed != 1 || res.Records != 1 {
		t.Fatalf("expected one failure and one send, got %+v", res)
	}
	ev := f.event(t, "E1")
	if ev.Status != records.StatusFailed || ev.Notes != noteInvalidPhone {
		t.Fatalf("unexpected failed record %+v", ev)
	}
	hist := f.history(t)
	if hist[0].EventKey != "E1" || hist[0].Kind != "send_attempt" || hist[0].Error == "" {
		t.Fatalf("expected failure log entry, got %+v", hist[0])
	}
}

func TestDispatchInitial_TransportFailure(t *testing.T) {
	f := newFixture(t)
	f.sender.FailTo["whatsapp:+972501234567"] = errors.New("connection reset")
	f.seed(t, map[string]string{records.ColEventKey: "E1", records.ColContactPhoneRaw: "0501234567", records.ColEventDate: f.date(20)})

	res, err := f.sched.DispatchInitial(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Failed != 1 || res.Records != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if ev := f.event(t, "E1"); ev.Status != records.StatusFailed || ev.Notes == "" {
		t.Fatalf("expected Failed with reason, got %+v", ev)
	}
	hist := f.history(t)
	if len(hist) != 1 || hist[0].DeliveryStatus != messagelog.StatusFailed || hist[0].Error == "" {
		t.Fatalf("expected one failed attempt logged, got %+v", hist)
	}
}

func TestFollowupSweep_StaleFiresOnce(t *testing.T) {
	f := newFixture(t)
	f.seed(t, map[string]string{
		records.ColEventKey:         "E2",
		records.ColContactPhoneE164: "whatsapp:+972501234567",
		records.ColEventDate:        f.date(20),
		records.ColStatus:           "Sent",
		records.ColLastOutboundAt:   f.ts(-50 * time.Hour),
	})
	f.seed(t, map[string]string{
		records.ColEventKey:         "answered",
		records.ColContactPhoneE164: "whatsapp:+972501234568",
		records.ColEventDate:        f.date(20),
		records.ColStatus:           "Sent",
		records.ColLastOutboundAt:   f.ts(-50 * time.Hour),
		records.ColLastInboundAt:    f.ts(-49 * time.Hour),
	})

	res, err := f.sched.FollowupSweep(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Records != 1 || res.Messages != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	ev := f.event(t, "E2")
	if ev.Status != records.StatusFollowUp || !ev.LastOutboundAt.Equal(f.now) {
		t.Fatalf("unexpected record %+v", ev)
	}
	if got := f.history(t)[0].Kind; got != messaging.KindFollowupTemplate {
		t.Fatalf("unexpected first kind %q", got)
	}

	res, _ = f.sched.FollowupSweep(context.Background())
	if res.Records != 0 || len(f.sender.Sent()) != 2 {
		t.Fatalf("expected no resend on immediate rerun, got %+v", res)
	}
	// The fresh follow-up also keeps the dispatch sweep away.
	res, _ = f.sched.DispatchInitial(context.Background(), 0)
	if res.Records != 0 {
		t.Fatalf("expected dispatch to skip a just-followed-up record, got %+v", res)
	}
}

func TestFollowupSweep_ScheduledFiresAndClears(t *testing.T) {
	f := newFixture(t)
	f.seed(t, map[string]string{
		records.ColEventKey:        "E1",
		records.ColContactPhoneRaw: "050-123-4567",
		records.ColEventDate:       f.date(20),
		records.ColStatus:          "FollowUp",
		records.ColFollowupDate:    f.ts(-time.Minute),
		records.ColLastOutboundAt:  f.ts(-24 * time.Hour),
		records.ColLastInboundAt:   f.ts(-23 * time.Hour),
	})

	res, err := f.sched.FollowupSweep(context.Background())
	if err != nil || res.Records != 1 {
		t.Fatalf("expected scheduled follow-up, res=%+v err=%v", res, err)
	}
	ev := f.event(t, "E1")
	if !ev.FollowupDate.IsZero() || ev.Status != records.StatusFollowUp {
		t.Fatalf("expected follow-up date cleared, got %+v", ev)
	}
}

func TestSweeps_EscalateNearEvents(t *testing.T) {
	f := newFixture(t)
	f.seed(t, map[string]string{records.ColEventKey: "E3", records.ColContactPhoneE164: "whatsapp:+972501234567",
		records.ColEventDate: f.date(5), records.ColStatus: "Sent", records.ColLastOutboundAt: f.ts(-time.Hour)})
	f.seed(t, map[string]string{records.ColEventKey: "chosen", records.ColContactPhoneE164: "whatsapp:+972501234568",
		records.ColEventDate: f.date(5), records.ColStatus: "Sent", records.ColTechEntryTime: "14:00"})
	f.seed(t, map[string]string{records.ColEventKey: "far", records.ColContactPhoneE164: "whatsapp:+972501234569",
		records.ColEventDate: f.date(11), records.ColStatus: "Sent", records.ColLastOutboundAt: f.ts(-time.Hour)})

	res, err := f.sched.FollowupSweep(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Escalated != 1 || res.Records != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if ev := f.event(t, "E3"); ev.Status != records.StatusNeedHuman {
		t.Fatalf("expected NeedHuman, got %s", ev.Status)
	}
	if f.event(t, "chosen").Status != records.StatusSent || f.event(t, "far").Status != records.StatusSent {
		t.Fatalf("expected other records untouched")
	}
	if len(f.notifier.got) != 1 || f.notifier.got[0].EventKey != "E3" || f.notifier.got[0].DaysLeft != 5 {
		t.Fatalf("unexpected notifications %+v", f.notifier.got)
	}
	if len(f.sender.Sent()) != 0 {
		t.Fatalf("escalated records must not be messaged")
	}

	// Terminal now; a later dispatch run leaves it alone.
	res, _ = f.sched.DispatchInitial(context.Background(), 0)
	if res.Escalated != 0 {
		t.Fatalf("expected no repeated escalation, got %+v", res)
	}
}

func TestSweeps_RejectOverlap(t *testing.T) {
	f := newFixture(t)
	unlock, ok, _ := f.locker.TryLock(context.Background(), locks.SweepKey, time.Minute)
	if !ok {
		t.Fatalf("expected lock")
	}
	defer unlock()
	if _, err := f.sched.FollowupSweep(context.Background()); !errors.Is(err, ErrSweepInProgress) {
		t.Fatalf("expected ErrSweepInProgress, got %v", err)
	}
}

// slowNotifier takes longer than the sweep lock TTL and checks, mid-sweep,
// whether a second sweep could start.
type slowNotifier struct {
	locker    locks.Locker
	delay     time.Duration
	overlapOK bool
}

func (n *slowNotifier) NotifyEscalation(ctx context.Context, e notify.Escalation) error {
	time.Sleep(n.delay)
	if unlock, ok, _ := n.locker.TryLock(ctx, locks.SweepKey, time.Minute); ok {
		n.overlapOK = true
		unlock()
	}
	return nil
}

func TestSweeps_LockOutlivesTTL(t *testing.T) {
	f := newFixture(t)
	f.seed(t, map[string]string{records.ColEventKey: "E1", records.ColContactPhoneE164: "whatsapp:+972501234567",
		records.ColEventDate: f.date(5), records.ColStatus: "Sent"})

	w, _ := NewWindow("09:00", "17:00", jerusalem)
	slow := &slowNotifier{locker: f.locker, delay: 200 * time.Millisecond}
	clock := func() time.Time { return f.now }
	sched := NewScheduler(Config{Window: w, LockTTL: 40 * time.Millisecond}, Deps{
		Events:     f.events,
		Dispatcher: NewDispatcher(f.sender, f.log, jerusalem).WithClock(clock),
		Log:        f.log,
		Normalizer: phone.New("972"),
		Locker:     f.locker,
		Notifier:   slow,
		Clock:      clock,
	})

	res, err := sched.FollowupSweep(context.Background())
	if err != nil {
		t.Fatalf("followup sweep: %v", err)
	}
	if res.Escalated != 1 {
		t.Fatalf("expected escalation, got %+v", res)
	}
	if slow.overlapOK {
		t.Fatalf("expected the sweep lock to stay held past its TTL")
	}
	unlock, ok, _ := f.locker.TryLock(context.Background(), locks.SweepKey, time.Minute)
	if !ok {
		t.Fatalf("expected the sweep lock released after the run")
	}
	unlock()
}

type stubSweeper struct {
	open               bool
	dispatch, followup int
}

func (s *stubSweeper) WindowOpen() bool { return s.open }

func (s *stubSweeper) DispatchInitial(ctx context.Context, limit int) (Result, error) {
	s.dispatch++
	return Result{}, nil
}

func (s *stubSweeper) FollowupSweep(ctx context.Context) (Result, error) {
	s.followup++
	return Result{}, ErrSweepInProgress
}

func TestRunner_Tick(t *testing.T) {
	s := &stubSweeper{}
	r := Runner{Sweeper: s, Interval: time.Minute}
	r.Tick(context.Background())
	if s.dispatch != 0 {
		t.Fatalf("expected closed window to skip the tick")
	}
	s.open = true
	r.Tick(context.Background())
	if s.dispatch != 1 || s.followup != 1 {
		t.Fatalf("expected both sweeps, got %+v", s)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Run(ctx)
}
