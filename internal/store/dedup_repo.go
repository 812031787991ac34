package store

import (
	"context"
	"sync"
	"time"
)

// DedupRepo records inbound channel message ids so redelivered messages
// are handed to the assistant only once.
type DedupRepo interface {
	// RecordInbound inserts a new inbound message record. Returns false if the
	// message was already recorded (duplicate).
	RecordInbound(ctx context.Context, messageID, sender string) (bool, error)

	// MarkProcessed sets the processed_at timestamp for a message.
	MarkProcessed(ctx context.Context, messageID string) error

	// PurgeInbound deletes records received before cutoff and returns how many were removed.
	PurgeInbound(ctx context.Context, cutoff time.Time) (int64, error)
}

var _ DedupRepo = (*MemoryDedup)(nil)

// MemoryDedup is a process-local DedupRepo for stores without a dedup table.
type MemoryDedup struct {
	mu   sync.Mutex
	seen map[string]inboundRecord
	now  func() time.Time
}

type inboundRecord struct {
	receivedAt  time.Time
	processedAt *time.Time
}

// NewMemoryDedup creates an empty MemoryDedup.
func NewMemoryDedup() *MemoryDedup {
	return &MemoryDedup{seen: make(map[string]inboundRecord), now: time.Now}
}

func (d *MemoryDedup) RecordInbound(ctx context.Context, messageID, sender string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[messageID]; ok {
		return false, nil
	}
	d.seen[messageID] = inboundRecord{receivedAt: d.now()}
	return true, nil
}

func (d *MemoryDedup) MarkProcessed(ctx context.Context, messageID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.seen[messageID]
	if !ok {
		return nil
	}
	now := d.now()
	rec.processedAt = &now
	d.seen[messageID] = rec
	return nil
}

func (d *MemoryDedup) PurgeInbound(ctx context.Context, cutoff time.Time) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var n int64
	for id, rec := range d.seen {
		if rec.receivedAt.Before(cutoff) {
			delete(d.seen, id)
			n++
		}
	}
	return n, nil
}

// DedupFor returns the store's own DedupRepo when it has one, else a MemoryDedup.
func DedupFor(s Store) DedupRepo {
	if d, ok := s.(DedupRepo); ok {
		return d
	}
	return NewMemoryDedup()
}
