package outbound

import (
	"context"
	"fmt"
	"time"

	"techentry-bot/internal/intent"
	"techentry-bot/internal/messagelog"
	"techentry-bot/internal/messaging"
	"techentry-bot/internal/records"
	"techentry-bot/internal/resolver"
	"techentry-bot/pkg/logger"
)

// Delivery links a send to the event and conversation it belongs to.
type Delivery struct {
	EventKey       string
	ConversationID string
	CorrelationID  string
}

// Dispatcher is the send primitive shared by the sweeps and the workflow.
// Every attempt, successful or not, is written to the message log.
type Dispatcher struct {
	sender messaging.Sender
	log    *messagelog.Service
	loc    *time.Location
	clock  func() time.Time
}

func NewDispatcher(sender messaging.Sender, log *messagelog.Service, loc *time.Location) *Dispatcher {
	return &Dispatcher{sender: sender, log: log, loc: loc, clock: time.Now}
}

// WithClock overrides the clock used to stamp log entries.
func (d *Dispatcher) WithClock(clock func() time.Time) *Dispatcher {
	d.clock = clock
	return d
}

// SendAll sends msgs in order and stops at the first failure.
// It returns how many messages the transport accepted.
func (d *Dispatcher) SendAll(ctx context.Context, del Delivery, msgs []messaging.OutboundMessage) (int, error) {
	for i, m := range msgs {
		if err := d.SendOne(ctx, del, m); err != nil {
			return i, err
		}
	}
	return len(msgs), nil
}

// SendOne sends a single message and logs the attempt.
func (d *Dispatcher) SendOne(ctx context.Context, del Delivery, m messaging.OutboundMessage) error {
	log := logger.From(ctx)

	res, sendErr := d.sender.Send(ctx, m)
	entry := messagelog.Entry{
		Timestamp:      d.clock(),
		EventKey:       del.EventKey,
		ConversationID: del.ConversationID,
		CorrelationID:  del.CorrelationID,
		Address:        m.To,
		Direction:      messagelog.DirectionOut,
		Kind:           m.Kind,
		Body:           m.Summary(),
		MessageID:      res.MessageID,
		DeliveryStatus: res.Status,
	}
	if sendErr != nil {
		entry.DeliveryStatus = messagelog.StatusFailed
		entry.Error = sendErr.Error()
	}
	if _, err := d.log.Append(ctx, entry); err != nil {
		log.Error("message log append failed", "event_key", del.EventKey, "kind", m.Kind, "err", err)
	}
	if sendErr != nil {
		log.Warn("send failed", "event_key", del.EventKey, "kind", m.Kind, "to", m.To, "err", sendErr)
		return fmt.Errorf("outbound: send %s to %s: %w", m.Kind, m.To, sendErr)
	}
	return nil
}

// SendInitial sends the opening prompt sequence with a fresh correlation code.
func (d *Dispatcher) SendInitial(ctx context.Context, ev records.EventRecord, address string) (int, error) {
	return d.sendSequence(ctx, ev, address, messaging.InitialSequence)
}

// SendFollowup sends the follow-up sequence with a fresh correlation code.
func (d *Dispatcher) SendFollowup(ctx context.Context, ev records.EventRecord, address string) (int, error) {
	return d.sendSequence(ctx, ev, address, messaging.FollowupSequence)
}

func (d *Dispatcher) sendSequence(ctx context.Context, ev records.EventRecord, address string, build func(string, messaging.PromptData) []messaging.OutboundMessage) (int, error) {
	code, err := intent.NewCorrelationCode()
	if err != nil {
		return 0, err
	}
	msgs := build(address, messaging.PromptData{
		ContactName: ev.ContactName,
		ShowName:    ev.ShowName,
		EventDate:   ev.DateLabel(d.loc),
		ShowTime:    ev.ShowTime,
		Code:        code,
	})
	return d.SendAll(ctx, Delivery{
		EventKey:       ev.EventKey,
		ConversationID: resolver.ConversationID(ev.EventKey, address),
		CorrelationID:  code,
	}, msgs)
}
