// Package workflow applies inbound replies and delivery callbacks to event
// records.
//
// One webhook delivery is one unit of work: it re-reads everything it needs,
// serializes on the message id and on the target event, and writes through
// the message log before touching the record.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"techentry-bot/internal/intent"
	"techentry-bot/internal/locks"
	"techentry-bot/internal/messagelog"
	"techentry-bot/internal/messaging"
	"techentry-bot/internal/outbound"
	"techentry-bot/internal/phone"
	"techentry-bot/internal/records"
	"techentry-bot/internal/resolver"
	"techentry-bot/pkg/logger"
)

const (
	defaultLockTTL = time.Minute

	deliveryReceived = "received"
)

var errStaleTarget = errors.New("workflow: event changed under lock")

// Deps are the collaborators of an Engine.
type Deps struct {
	Events        *records.Events
	Conversations *records.Conversations
	Contacts      *records.TechContacts
	Log           *messagelog.Service
	Dispatcher    *outbound.Dispatcher
	Locker        locks.Locker
	Normalizer    phone.Normalizer
	Lookback      time.Duration
	LockTTL       time.Duration
	Clock         func() time.Time
}

// Engine is the event state machine driven by inbound traffic.
type Engine struct {
	deps Deps
}

var _ messaging.InboundProcessor = (*Engine)(nil)

func NewEngine(deps Deps) *Engine {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Locker == nil {
		deps.Locker = locks.NewLocalLocker()
	}
	if deps.Lookback <= 0 {
		deps.Lookback = resolver.DefaultLookback
	}
	if deps.LockTTL <= 0 {
		deps.LockTTL = defaultLockTTL
	}
	return &Engine{deps: deps}
}

func (e *Engine) loc() *time.Location { return e.deps.Events.Location() }

// target is the event an inbound message was attributed to.
type target struct {
	event          records.EventRecord
	found          bool
	conversationID string
	method         resolver.Method
}

// classify reads the signal of form. Free text that starts like a mobile
// number but does not normalize is ordinary text; only a contact card gets
// the plain-number prompt.
func (e *Engine) classify(form messaging.InboundForm) intent.Signal {
	sig := intent.Classify(form.Inbound())
	if sig.Kind == intent.KindContact && sig.FromText {
		if _, err := e.deps.Normalizer.Normalize(sig.ContactPhone); err != nil {
			return intent.Signal{Kind: intent.KindNone}
		}
	}
	return sig
}

// HandleInbound logs one inbound message and applies its signal.
// Duplicate deliveries of the same message id are dropped.
func (e *Engine) HandleInbound(ctx context.Context, form messaging.InboundForm) error {
	log := logger.From(ctx)

	if form.MessageSID != "" {
		unlock, err := e.deps.Locker.Lock(ctx, locks.MessageKey(form.MessageSID), e.deps.LockTTL)
		if err != nil {
			return err
		}
		defer unlock()
	}

	now := e.deps.Clock()
	sig := e.classify(form)

	address, err := e.deps.Normalizer.Normalize(form.From)
	if err != nil {
		log.Warn("inbound sender address invalid", "from", form.From, "err", err)
		_, err := e.deps.Log.Append(ctx, messagelog.Entry{
			Timestamp:      now,
			EventKey:       resolver.UnknownEvent,
			ConversationID: resolver.ConversationID(resolver.UnknownEvent, form.From),
			Address:        form.From,
			Direction:      messagelog.DirectionIn,
			Kind:           sig.Summary(),
			Body:           form.Body,
			MessageID:      form.MessageSID,
			DeliveryStatus: deliveryReceived,
		})
		return err
	}

	code, _ := intent.ExtractCode(form.Body)
	tgt, err := e.attribute(ctx, address, code, now)
	if err != nil {
		return err
	}
	eventKey := resolver.UnknownEvent
	if tgt.found {
		eventKey = tgt.event.EventKey
	}

	appended, err := e.deps.Log.Append(ctx, messagelog.Entry{
		Timestamp:      now,
		EventKey:       eventKey,
		ConversationID: tgt.conversationID,
		CorrelationID:  code,
		Address:        address,
		Direction:      messagelog.DirectionIn,
		Kind:           sig.Summary(),
		Body:           form.Body,
		MessageID:      form.MessageSID,
		DeliveryStatus: deliveryReceived,
	})
	if err != nil {
		return err
	}
	if !appended {
		log.Info("duplicate inbound message dropped", "message_sid", form.MessageSID)
		return nil
	}

	if err := e.deps.Conversations.Upsert(ctx, records.ConversationRecord{
		ConversationID:   tgt.conversationID,
		EventID:          eventKey,
		ContactPhoneE164: address,
		ContactName:      form.ProfileName,
		LastMessageAt:    now,
		LastDirection:    string(messagelog.DirectionIn),
		LastBody:         form.Body,
	}); err != nil {
		log.Error("conversation upsert failed", "conversation_id", tgt.conversationID, "err", err)
	}

	log = log.With("event_key", eventKey, "conversation_id", tgt.conversationID)
	log.Info("inbound attributed", "method", tgt.method, "signal", sig.Summary())
	if !tgt.found {
		return nil
	}

	ctx = logger.With(ctx, log)
	return e.apply(ctx, tgt, address, code, sig)
}

// attribute resolves the message against outbound history, then falls back
// to scanning live records for one awaiting this address.
func (e *Engine) attribute(ctx context.Context, address, code string, now time.Time) (target, error) {
	history, err := e.deps.Log.History(ctx)
	if err != nil {
		return target{}, err
	}
	att := resolver.Resolve(history, address, code, now, e.deps.Lookback)

	if att.Matched {
		ev, err := e.deps.Events.FindByKey(ctx, att.EventKey)
		if err == nil {
			return target{event: ev, found: true, conversationID: att.ConversationID, method: att.Method}, nil
		}
		if !errors.Is(err, records.ErrEventNotFound) {
			return target{}, err
		}
		logger.From(ctx).Warn("attributed event missing", "event_key", att.EventKey)
	}

	events, err := e.deps.Events.List(ctx)
	if err != nil {
		return target{}, err
	}
	ev, n, ok := resolver.ActiveEvent(events, address)
	if !ok {
		return target{conversationID: att.ConversationID, method: resolver.MethodNone}, nil
	}
	if n > 1 {
		logger.From(ctx).Warn("several active events for one contact", "address", address,
			"candidates", n, "picked", ev.EventKey)
	}
	return target{
		event:          ev,
		found:          true,
		conversationID: resolver.ConversationID(ev.EventKey, address),
		method:         resolver.MethodActiveRecord,
	}, nil
}

// apply runs the transition for sig under the event lock.
func (e *Engine) apply(ctx context.Context, tgt target, address, code string, sig intent.Signal) error {
	unlock, err := e.deps.Locker.Lock(ctx, locks.EventKey(tgt.event.EventKey), e.deps.LockTTL)
	if err != nil {
		return err
	}
	defer unlock()

	cur, err := e.deps.Events.Get(ctx, tgt.event.Index)
	if err != nil {
		return err
	}
	if cur.EventKey != tgt.event.EventKey {
		return errStaleTarget
	}

	now := e.deps.Clock()
	patch := records.Patch{}
	patch.SetTime(records.ColLastInboundAt, now, e.loc())

	if !cur.Status.AwaitingReply() {
		logger.From(ctx).Info("reply to settled event ignored", "status", cur.Status, "signal", sig.Summary())
		_, err := e.deps.Events.Update(ctx, cur.Index, patch)
		return err
	}

	del := outbound.Delivery{EventKey: cur.EventKey, ConversationID: tgt.conversationID, CorrelationID: code}
	t := transition{engine: e, cur: cur, address: address, del: del, patch: patch, now: now}

	switch sig.Kind {
	case intent.KindTimeSelected:
		t.selectTime(sig.Time)
	case intent.KindUnknown:
		t.unknown()
	case intent.KindFollowupDelay:
		t.delay(sig.DelayDays)
	case intent.KindRedirect:
		t.redirect()
	case intent.KindContact:
		if err := t.replaceContact(ctx, sig); err != nil {
			return err
		}
	}
	return t.commit(ctx)
}

// HandleStatusCallback backfills the delivery status of a logged message.
// A hard failure of a message sent to the event's current address fails the
// event unless it has already settled.
func (e *Engine) HandleStatusCallback(ctx context.Context, form messaging.InboundForm) error {
	log := logger.From(ctx)

	entry, found, err := e.deps.Log.UpdateDeliveryStatus(ctx, form.MessageSID, form.MessageStatus, form.DeliveryError())
	if err != nil {
		return err
	}
	if !found {
		log.Debug("status callback for unknown message", "message_sid", form.MessageSID, "status", form.MessageStatus)
		return nil
	}
	if !messagelog.IsDeliveryFailure(form.MessageStatus) || entry.EventKey == "" || entry.EventKey == resolver.UnknownEvent {
		return nil
	}

	ev, err := e.deps.Events.FindByKey(ctx, entry.EventKey)
	if errors.Is(err, records.ErrEventNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	unlock, err := e.deps.Locker.Lock(ctx, locks.EventKey(ev.EventKey), e.deps.LockTTL)
	if err != nil {
		return err
	}
	defer unlock()

	cur, err := e.deps.Events.Get(ctx, ev.Index)
	if err != nil {
		return err
	}
	if cur.EventKey != ev.EventKey || cur.Status.Terminal() || cur.ContactPhoneE164 != entry.Address {
		return nil
	}

	reason := fmt.Sprintf("delivery %s", form.MessageStatus)
	if d := form.DeliveryError(); d != "" {
		reason += ": " + d
	}
	log.Warn("delivery failed; event marked failed", "event_key", cur.EventKey, "kind", entry.Kind, "reason", reason)
	_, err = e.deps.Events.Update(ctx, cur.Index, records.Patch{
		records.ColStatus: string(records.StatusFailed),
		records.ColNotes:  records.AppendNote(cur.Notes, reason),
	})
	return err
}
