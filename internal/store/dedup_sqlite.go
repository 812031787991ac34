package store

import (
	"context"
	"fmt"
	"time"
)

var _ DedupRepo = (*SQLiteStore)(nil)

func (s *SQLiteStore) RecordInbound(ctx context.Context, messageID, sender string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO inbound_dedup (message_id, sender, received_at) VALUES (?, ?, ?)`,
		messageID, sender, s.now().UTC())
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dedup rows affected check failed: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) MarkProcessed(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE inbound_dedup SET processed_at = ? WHERE message_id = ?`, s.now().UTC(), messageID)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PurgeInbound(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM inbound_dedup WHERE received_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge inbound failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge rows affected check failed: %w", err)
	}
	return n, nil
}
