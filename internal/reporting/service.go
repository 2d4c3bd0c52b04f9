package reporting

import (
	"context"
	"errors"
	"time"

	"techentry-bot/internal/messagelog"
	"techentry-bot/internal/records"
	"techentry-bot/internal/resolver"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// EventSource lists live event records; *records.Events implements it.
type EventSource interface {
	List(ctx context.Context) ([]records.EventRecord, error)
}

// MessageSource reads the message log; *messagelog.Service implements it.
type MessageSource interface {
	History(ctx context.Context) ([]messagelog.Entry, error)
}

// Service aggregates read-only ops metrics. It never writes.
type Service struct {
	events   EventSource
	messages MessageSource
	clock    func() time.Time
}

func NewService(events EventSource, messages MessageSource) *Service {
	return &Service{events: events, messages: messages, clock: time.Now}
}

func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

func (s *Service) Summary(ctx context.Context, req SummaryRequest) (Summary, error) {
	r := req.Range
	if !r.From.IsZero() && !r.To.IsZero() && !r.To.After(r.From) {
		return Summary{}, ErrInvalidRequest
	}
	if s.events == nil || s.messages == nil {
		return Summary{}, errors.New("reporting: sources not configured")
	}

	evs, err := s.events.List(ctx)
	if err != nil {
		return Summary{}, err
	}
	entries, err := s.messages.History(ctx)
	if err != nil {
		return Summary{}, err
	}

	return Summary{
		GeneratedAt: s.clock(),
		Range:       r,
		Events:      summarizeEvents(evs),
		Messages:    summarizeMessages(entries, r),
	}, nil
}

func summarizeEvents(evs []records.EventRecord) EventsSummary {
	out := EventsSummary{ByStatus: map[string]int{}, ByResponseType: map[string]int{}}
	var engaged, confirmed int
	for _, e := range evs {
		if e.EventKey == "" {
			continue
		}
		out.Total++
		out.ByStatus[string(e.Status)]++
		out.ByResponseType[string(e.ResponseType)]++
		if e.Status.AwaitingReply() {
			out.AwaitingReply++
		}
		if e.HasEntryTime() {
			out.WithEntryTime++
		}
		if !e.FollowupDate.IsZero() {
			out.ScheduledFollowup++
		}
		if e.Status != records.StatusWaiting {
			engaged++
		}
		if e.Status == records.StatusConfirmed {
			confirmed++
		}
	}
	if engaged > 0 {
		out.ConfirmationRate = float64(confirmed) / float64(engaged)
	}
	return out
}

func summarizeMessages(entries []messagelog.Entry, r TimeRange) MessagesSummary {
	out := MessagesSummary{ByKind: map[string]int{}, ByDeliveryStatus: map[string]int{}}
	for _, m := range entries {
		if !r.From.IsZero() && m.Timestamp.Before(r.From) {
			continue
		}
		if !r.To.IsZero() && !m.Timestamp.Before(r.To) {
			continue
		}
		out.Total++
		switch m.Direction {
		case messagelog.DirectionIn:
			out.Inbound++
			if m.EventKey == resolver.UnknownEvent || m.EventKey == "" {
				out.Unattributed++
			}
		case messagelog.DirectionOut:
			out.Outbound++
			out.ByKind[m.Kind]++
		}
		if m.DeliveryStatus != "" {
			out.ByDeliveryStatus[m.DeliveryStatus]++
		}
		if messagelog.IsDeliveryFailure(m.DeliveryStatus) {
			out.DeliveryFailures++
		}
	}
	return out
}
