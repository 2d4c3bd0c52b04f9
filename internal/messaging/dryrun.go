package messaging

import (
	"context"
	"fmt"
	"sync"
)

// DryRunSender accepts every message without contacting a provider.
// Local environments without transport credentials use it; tests use it to
// inspect what was sent and to inject failures.
type DryRunSender struct {
	mu   sync.Mutex
	sent []OutboundMessage
	seq  int

	// FailTo makes every send to the given address fail.
	FailTo map[string]error
}

func NewDryRunSender() *DryRunSender {
	return &DryRunSender{FailTo: map[string]error{}}
}

func (s *DryRunSender) Name() string { return "dryrun" }

func (s *DryRunSender) Send(ctx context.Context, msg OutboundMessage) (SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailTo[msg.To]; err != nil {
		return SendResult{}, &SendError{Provider: s.Name(), Err: err}
	}
	s.seq++
	s.sent = append(s.sent, msg)
	return SendResult{MessageID: fmt.Sprintf("DRY%06d", s.seq), Status: "queued"}, nil
}

// Sent returns accepted messages in send order.
func (s *DryRunSender) Sent() []OutboundMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]OutboundMessage(nil), s.sent...)
}

// Reset forgets accepted messages.
func (s *DryRunSender) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = nil
}
