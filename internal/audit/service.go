package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Lister is implemented by repositories that can read the trail back.
type Lister interface {
	List(ctx context.Context) ([]Event, error)
}

// Service records operator actions against the bot.
//
// IMPORTANT:
// - Audit is internal-only. It is never sent to contacts.
// - Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

var (
	ErrInvalidEvent = errors.New("audit: invalid event")
	ErrNotListable  = errors.New("audit: repository cannot list events")
)

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.ActorID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogTokenIssued records an admin issuing a token for another operator.
func (s *Service) LogTokenIssued(ctx context.Context, actorID, actorRole, ip, subject, subjectRole string) error {
	return s.Append(ctx, Event{
		Type:      EventTypeTokenIssued,
		ActorID:   actorID,
		ActorRole: actorRole,
		IPAddress: ip,
		Subject:   subject,
		Message:   "ops token issued with role " + subjectRole,
	})
}

// LogSweep records a manually triggered sweep and its outcome.
// outcome is marshalled into Metadata.
func (s *Service) LogSweep(ctx context.Context, actorID, actorRole, ip, sweep string, outcome any) error {
	meta, err := json.Marshal(outcome)
	if err != nil {
		return err
	}
	return s.Append(ctx, Event{
		Type:      EventTypeSweepTriggered,
		ActorID:   actorID,
		ActorRole: actorRole,
		IPAddress: ip,
		Subject:   sweep,
		Message:   sweep + " sweep triggered",
		Metadata:  string(meta),
	})
}

// Recent returns up to n events, newest first. n <= 0 returns the whole trail.
func (s *Service) Recent(ctx context.Context, n int) ([]Event, error) {
	l, ok := s.repo.(Lister)
	if !ok {
		return nil, ErrNotListable
	}
	evs, err := l.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(evs))
	for i := len(evs) - 1; i >= 0; i-- {
		if n > 0 && len(out) == n {
			break
		}
		out = append(out, evs[i])
	}
	return out, nil
}
