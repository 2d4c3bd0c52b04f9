package outbound

import (
	"context"
	"errors"
	"fmt"
	"time"

	"techentry-bot/internal/locks"
	"techentry-bot/internal/messagelog"
	"techentry-bot/internal/notify"
	"techentry-bot/internal/phone"
	"techentry-bot/internal/records"
	"techentry-bot/pkg/logger"
)

var (
	ErrInvalidLimit     = errors.New("outbound: invalid send limit")
	ErrSweepInProgress  = errors.New("outbound: another sweep is running")
	errNoLongerEligible = errors.New("outbound: record no longer eligible")
)

const (
	DefaultSendLimit      = 20
	DefaultMaxSendLimit   = 200
	DefaultStaleAfter     = 48 * time.Hour
	DefaultEscalationLead = 10 * 24 * time.Hour
	DefaultLockTTL        = 2 * time.Minute

	noteInvalidPhone = "Missing/invalid phone"
)

// Config holds the scheduler policy. Zero values take the defaults above.
type Config struct {
	Window         Window
	DefaultLimit   int
	MaxLimit       int
	StaleAfter     time.Duration
	EscalationLead time.Duration
	LockTTL        time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.DefaultLimit <= 0 {
		out.DefaultLimit = DefaultSendLimit
	}
	if out.MaxLimit <= 0 {
		out.MaxLimit = DefaultMaxSendLimit
	}
	if out.StaleAfter <= 0 {
		out.StaleAfter = DefaultStaleAfter
	}
	if out.EscalationLead <= 0 {
		out.EscalationLead = DefaultEscalationLead
	}
	if out.LockTTL <= 0 {
		out.LockTTL = DefaultLockTTL
	}
	return out
}

// Deps are the collaborators of a Scheduler.
type Deps struct {
	Events     *records.Events
	Dispatcher *Dispatcher
	Log        *messagelog.Service
	Normalizer phone.Normalizer
	Locker     locks.Locker
	Notifier   notify.Notifier
	Clock      func() time.Time
}

// Result summarizes one sweep.
type Result struct {
	Records   int `json:"sent"`
	Messages  int `json:"messages"`
	Failed    int `json:"failed"`
	Escalated int `json:"escalated"`
	Errors    int `json:"errors"`
}

// Scheduler runs the initial dispatch and follow-up sweeps.
// It holds no state between runs; every decision re-reads the store.
type Scheduler struct {
	cfg  Config
	deps Deps
}

func NewScheduler(cfg Config, deps Deps) *Scheduler {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Locker == nil {
		deps.Locker = locks.NewLocalLocker()
	}
	return &Scheduler{cfg: cfg.withDefaults(), deps: deps}
}

func (s *Scheduler) loc() *time.Location { return s.deps.Events.Location() }

// WindowOpen reports whether sends are currently allowed.
func (s *Scheduler) WindowOpen() bool { return s.cfg.Window.Open(s.deps.Clock()) }

// DispatchInitial sends the opening sequence to up to limit eligible records.
// A limit of 0 means the configured default. Escalation is applied to every
// record regardless of the limit.
func (s *Scheduler) DispatchInitial(ctx context.Context, limit int) (Result, error) {
	now := s.deps.Clock()
	if !s.cfg.Window.Open(now) {
		return Result{}, ErrWindowClosed
	}
	if limit == 0 {
		limit = s.cfg.DefaultLimit
	}
	if limit < 0 || limit > s.cfg.MaxLimit {
		return Result{}, fmt.Errorf("%w: %d (max %d)", ErrInvalidLimit, limit, s.cfg.MaxLimit)
	}
	return s.sweep(ctx, "dispatch", func(ctx context.Context, ev records.EventRecord, res *Result) error {
		if res.Records >= limit || !s.dispatchEligible(ev, now) {
			return nil
		}
		return s.dispatchOne(ctx, ev, now, res)
	})
}

// FollowupSweep re-engages stale or rescheduled records.
func (s *Scheduler) FollowupSweep(ctx context.Context) (Result, error) {
	now := s.deps.Clock()
	if !s.cfg.Window.Open(now) {
		return Result{}, ErrWindowClosed
	}
	return s.sweep(ctx, "followup", func(ctx context.Context, ev records.EventRecord, res *Result) error {
		if !s.followupDue(ev, now) {
			return nil
		}
		return s.followupOne(ctx, ev, now, res)
	})
}

type visitFunc func(ctx context.Context, ev records.EventRecord, res *Result) error

func (s *Scheduler) sweep(ctx context.Context, name string, visit visitFunc) (Result, error) {
	log := logger.From(ctx).With("sweep", name)

	// The sweep lock is extended while the loop runs; ctx ends if it is lost.
	ctx, release, ok, err := locks.Hold(ctx, s.deps.Locker, locks.SweepKey, s.cfg.LockTTL)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, ErrSweepInProgress
	}
	defer release()

	events, err := s.deps.Events.List(ctx)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, ev := range events {
		if err := context.Cause(ctx); err != nil {
			log.Error("sweep stopped", "err", err, "sent", res.Records)
			return res, err
		}
		if ev.EventKey == "" {
			continue
		}
		ctx := logger.With(ctx, log.With("event_key", ev.EventKey))

		escalated, err := s.escalate(ctx, ev, s.deps.Clock())
		if err != nil {
			res.Errors++
			log.Error("escalation failed", "event_key", ev.EventKey, "err", err)
			continue
		}
		if escalated {
			res.Escalated++
			continue
		}
		if err := visit(ctx, ev, &res); err != nil && !errors.Is(err, errNoLongerEligible) {
			res.Errors++
			log.Error("record failed", "event_key", ev.EventKey, "err", err)
		}
	}

	log.Info("sweep finished", "sent", res.Records, "messages", res.Messages,
		"failed", res.Failed, "escalated", res.Escalated, "errors", res.Errors)
	return res, nil
}

func (s *Scheduler) dispatchEligible(ev records.EventRecord, now time.Time) bool {
	switch ev.Status {
	case records.StatusWaiting:
	case records.StatusFollowUp:
		// A follow-up already went out recently; leave it to the follow-up sweep.
		if ev.FollowupDate.IsZero() && !ev.LastOutboundAt.IsZero() && now.Sub(ev.LastOutboundAt) < s.cfg.StaleAfter {
			return false
		}
	default:
		return false
	}
	if day := ev.EventDay(s.loc()); !day.IsZero() && day.Before(startOfDay(now, s.loc())) {
		return false
	}
	if !ev.FollowupDate.IsZero() && ev.FollowupDate.After(now) {
		return false
	}
	return true
}

func (s *Scheduler) followupDue(ev records.EventRecord, now time.Time) bool {
	if ev.Status != records.StatusSent && ev.Status != records.StatusFollowUp {
		return false
	}
	// An inbound stamped with the send it triggered is not a reply to it.
	stale := !ev.LastOutboundAt.IsZero() &&
		now.Sub(ev.LastOutboundAt) >= s.cfg.StaleAfter &&
		!ev.LastInboundAt.After(ev.LastOutboundAt)
	scheduled := !ev.FollowupDate.IsZero() && !ev.FollowupDate.After(now)
	return stale || scheduled
}

// escalationDue reports whether an unresolved record is too close to its event.
func (s *Scheduler) escalationDue(ev records.EventRecord, now time.Time) bool {
	if ev.Status.Terminal() || ev.HasEntryTime() {
		return false
	}
	day := ev.EventDay(s.loc())
	if day.IsZero() {
		return false
	}
	return day.Sub(now) <= s.cfg.EscalationLead
}

func (s *Scheduler) escalate(ctx context.Context, ev records.EventRecord, now time.Time) (bool, error) {
	if !s.escalationDue(ev, now) {
		return false, nil
	}
	var (
		prev     records.EventRecord
		daysLeft int
	)
	updated, err := s.withRecord(ctx, ev, func(cur records.EventRecord) (records.Patch, error) {
		if !s.escalationDue(cur, now) {
			return nil, errNoLongerEligible
		}
		prev = cur
		daysLeft = int(cur.EventDay(s.loc()).Sub(startOfDay(now, s.loc())).Hours() / 24)
		return records.Patch{
			records.ColStatus: string(records.StatusNeedHuman),
			records.ColNotes:  records.AppendNote(cur.Notes, fmt.Sprintf("escalated: no entry time %d days before event", daysLeft)),
		}, nil
	})
	if errors.Is(err, errNoLongerEligible) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	log := logger.From(ctx)
	log.Warn("record escalated", "prev_status", prev.Status, "days_left", daysLeft)
	if err := s.deps.Notifier.NotifyEscalation(ctx, notify.Escalation{
		EventKey:    updated.EventKey,
		ShowName:    updated.ShowName,
		EventDate:   updated.DateLabel(s.loc()),
		ContactName: updated.ContactName,
		Address:     updated.ContactPhoneE164,
		PrevStatus:  string(prev.Status),
		DaysLeft:    daysLeft,
	}); err != nil {
		log.Warn("escalation notification failed", "err", err)
	}
	return true, nil
}

func (s *Scheduler) dispatchOne(ctx context.Context, ev records.EventRecord, now time.Time, res *Result) error {
	return s.sendWithLock(ctx, ev, res,
		func(cur records.EventRecord) bool { return s.dispatchEligible(cur, now) },
		s.deps.Dispatcher.SendInitial,
		records.StatusSent)
}

func (s *Scheduler) followupOne(ctx context.Context, ev records.EventRecord, now time.Time, res *Result) error {
	return s.sendWithLock(ctx, ev, res,
		func(cur records.EventRecord) bool { return s.followupDue(cur, now) },
		s.deps.Dispatcher.SendFollowup,
		records.StatusFollowUp)
}

type sendFunc func(ctx context.Context, ev records.EventRecord, address string) (int, error)

// sendWithLock re-reads the record under its lock, sends, and records the outcome.
func (s *Scheduler) sendWithLock(ctx context.Context, ev records.EventRecord, res *Result, eligible func(records.EventRecord) bool, send sendFunc, next records.Status) error {
	unlock, err := s.deps.Locker.Lock(ctx, locks.EventKey(ev.EventKey), s.cfg.LockTTL)
	if err != nil {
		return err
	}
	defer unlock()

	cur, err := s.deps.Events.Get(ctx, ev.Index)
	if err != nil {
		return err
	}
	if cur.EventKey != ev.EventKey || !eligible(cur) {
		return errNoLongerEligible
	}

	address, err := s.address(cur)
	if err != nil {
		res.Failed++
		return s.failInvalidPhone(ctx, cur, err)
	}

	n, sendErr := send(ctx, cur, address)
	res.Messages += n
	now := s.deps.Clock()
	patch := records.Patch{records.ColContactPhoneE164: address}
	if n > 0 {
		patch.SetTime(records.ColLastOutboundAt, now, s.loc())
	}
	if sendErr != nil {
		res.Failed++
		patch[records.ColStatus] = string(records.StatusFailed)
		patch[records.ColNotes] = records.AppendNote(cur.Notes, "send failed: "+sendErr.Error())
		_, err := s.deps.Events.Update(ctx, cur.Index, patch)
		return err
	}

	res.Records++
	patch[records.ColStatus] = string(next)
	patch[records.ColFollowupDate] = ""
	_, err = s.deps.Events.Update(ctx, cur.Index, patch)
	return err
}

// address derives the channel address, preferring a previously stored one.
func (s *Scheduler) address(ev records.EventRecord) (string, error) {
	raw := ev.ContactPhoneE164
	if raw == "" {
		raw = ev.ContactPhoneRaw
	}
	return s.deps.Normalizer.Normalize(raw)
}

func (s *Scheduler) failInvalidPhone(ctx context.Context, ev records.EventRecord, cause error) error {
	logger.From(ctx).Warn("invalid contact phone", "raw", ev.ContactPhoneRaw, "err", cause)
	if _, err := s.deps.Log.Append(ctx, messagelog.Entry{
		Timestamp: s.deps.Clock(),
		EventKey:  ev.EventKey,
		Address:   ev.ContactPhoneRaw,
		Direction: messagelog.DirectionOut,
		Kind:      "send_attempt",
		Error:     "failed_missing_phone: " + cause.Error(),
	}); err != nil {
		return err
	}
	_, err := s.deps.Events.Update(ctx, ev.Index, records.Patch{
		records.ColStatus: string(records.StatusFailed),
		records.ColNotes:  records.AppendNote(ev.Notes, noteInvalidPhone),
	})
	return err
}

// withRecord applies a patch computed from a fresh read under the record lock.
func (s *Scheduler) withRecord(ctx context.Context, ev records.EventRecord, fn func(cur records.EventRecord) (records.Patch, error)) (records.EventRecord, error) {
	unlock, err := s.deps.Locker.Lock(ctx, locks.EventKey(ev.EventKey), s.cfg.LockTTL)
	if err != nil {
		return records.EventRecord{}, err
	}
	defer unlock()

	cur, err := s.deps.Events.Get(ctx, ev.Index)
	if err != nil {
		return records.EventRecord{}, err
	}
	if cur.EventKey != ev.EventKey {
		return records.EventRecord{}, errNoLongerEligible
	}
	patch, err := fn(cur)
	if err != nil {
		return records.EventRecord{}, err
	}
	return s.deps.Events.Update(ctx, cur.Index, patch)
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
