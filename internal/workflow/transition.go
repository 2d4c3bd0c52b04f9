package workflow

import (
	"context"
	"time"

	"techentry-bot/internal/intent"
	"techentry-bot/internal/messaging"
	"techentry-bot/internal/outbound"
	"techentry-bot/internal/phone"
	"techentry-bot/internal/records"
	"techentry-bot/pkg/logger"
)

// transition accumulates the record patch and the replies for one inbound
// signal; commit sends the replies and writes the patch once.
type transition struct {
	engine  *Engine
	cur     records.EventRecord
	address string
	del     outbound.Delivery
	patch   records.Patch
	now     time.Time

	replies []messaging.OutboundMessage

	// The opening sequence goes to initialTo with the record as patched.
	initialTo string
	next      records.EventRecord

	// Courtesy messages whose failure only leaves a note.
	courtesy []messaging.OutboundMessage
}

func (t *transition) selectTime(hhmm string) {
	t.patch[records.ColStatus] = string(records.StatusConfirmed)
	t.patch[records.ColResponseType] = string(records.ResponseHour)
	t.patch[records.ColChosenTime] = hhmm
	t.patch[records.ColTechEntryTime] = hhmm
	t.patch[records.ColFollowupDate] = ""
	t.replies = append(t.replies, messaging.Confirmation(t.address, hhmm))
}

func (t *transition) unknown() {
	t.patch[records.ColStatus] = string(records.StatusFollowUp)
	t.patch[records.ColResponseType] = string(records.ResponseUnknown)
	t.replies = append(t.replies, messaging.DelayChoice(t.address))
}

func (t *transition) delay(days int) {
	t.patch[records.ColStatus] = string(records.StatusFollowUp)
	t.patch[records.ColResponseType] = string(records.ResponseUnknown)
	t.patch.SetTime(records.ColFollowupDate, t.now.AddDate(0, 0, days), t.engine.loc())
	t.replies = append(t.replies, messaging.FollowupAck(t.address, days))
}

func (t *transition) redirect() {
	t.patch[records.ColResponseType] = string(records.ResponseRedirect)
	t.replies = append(t.replies, messaging.AskReplacement(t.address))
}

// replaceContact moves the event to a new contact. An unreadable number only
// asks for a plain one; the status is left alone either way.
func (t *transition) replaceContact(ctx context.Context, sig intent.Signal) error {
	newAddr, err := t.engine.deps.Normalizer.Normalize(sig.ContactPhone)
	if err != nil {
		logger.From(ctx).Info("replacement contact unreadable", "raw", sig.ContactPhone, "err", err)
		t.replies = append(t.replies, messaging.AskPlainNumber(t.address))
		return nil
	}

	name := sig.ContactName
	if name == "" {
		name = messaging.DefaultTechContactName
	}
	lineage := "redirected_from=" + t.address

	if err := t.engine.deps.Contacts.Upsert(ctx, records.TechContact{
		// Keyed on the contact being replaced.
		EntityKey:      records.EntityKey(t.cur.ContactName, t.cur.ShowName),
		Name:           name,
		PhoneE164:      phone.E164(newAddr),
		SourceEventKey: t.cur.EventKey,
		LastVerifiedAt: t.now,
		Notes:          lineage,
	}); err != nil {
		return err
	}

	t.patch[records.ColContactName] = name
	t.patch[records.ColContactPhoneRaw] = sig.ContactPhone
	t.patch[records.ColContactPhoneE164] = newAddr
	t.patch[records.ColResponseType] = string(records.ResponseRedirect)
	t.patch[records.ColNotes] = records.AppendNote(t.cur.Notes, lineage)

	t.next = t.cur
	t.next.ContactName = name
	t.next.ContactPhoneRaw = sig.ContactPhone
	t.next.ContactPhoneE164 = newAddr
	t.initialTo = newAddr
	t.courtesy = append(t.courtesy, messaging.ReplacementThanks(t.address))

	logger.From(ctx).Info("event redirected", "from", t.address, "to", newAddr)
	return nil
}

// commit sends the queued messages and writes the record.
// A failed send fails the record unless the reply only acknowledged a
// confirmation that is already stored.
func (t *transition) commit(ctx context.Context) error {
	d := t.engine.deps.Dispatcher
	sent := 0
	var sendErr error

	if t.initialTo != "" {
		n, err := d.SendInitial(ctx, t.next, t.initialTo)
		sent += n
		sendErr = err
	}
	for _, m := range t.replies {
		if sendErr != nil {
			break
		}
		if err := d.SendOne(ctx, t.del, m); err != nil {
			sendErr = err
			break
		}
		sent++
	}
	notes := t.cur.Notes
	if v, ok := t.patch[records.ColNotes]; ok {
		notes = v
	}
	if sendErr == nil {
		for _, m := range t.courtesy {
			if err := d.SendOne(ctx, t.del, m); err != nil {
				notes = records.AppendNote(notes, "courtesy send failed: "+err.Error())
				t.patch[records.ColNotes] = notes
				continue
			}
			sent++
		}
	}

	if sent > 0 {
		t.patch.SetTime(records.ColLastOutboundAt, t.engine.deps.Clock(), t.engine.loc())
	}
	if sendErr != nil {
		if t.patch[records.ColStatus] != string(records.StatusConfirmed) {
			t.patch[records.ColStatus] = string(records.StatusFailed)
		}
		t.patch[records.ColNotes] = records.AppendNote(notes, "send failed: "+sendErr.Error())
	}

	_, err := t.engine.deps.Events.Update(ctx, t.cur.Index, t.patch)
	return err
}
