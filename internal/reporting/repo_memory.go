package reporting

import (
	"context"
	"sync"

	"techentry-bot/internal/messagelog"
	"techentry-bot/internal/records"
)

// MemoryRepo is a fixed in-memory source for tests and local tooling.
type MemoryRepo struct {
	mu sync.Mutex

	Events  []records.EventRecord
	Entries []messagelog.Entry
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) List(ctx context.Context) ([]records.EventRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]records.EventRecord(nil), r.Events...), nil
}

func (r *MemoryRepo) History(ctx context.Context) ([]messagelog.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]messagelog.Entry(nil), r.Entries...), nil
}
