package store

import (
	"context"
	"fmt"
)

// AddActivity appends an audit line. followupID 0 records a user-level event.
func (s *Store) AddActivity(ctx context.Context, userID, followupID int64, action, message string) error {
	var fid any
	if followupID != 0 {
		fid = followupID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activity_logs (user_id, followup_id, action, message) VALUES (?, ?, ?, ?)`,
		userID, fid, action, message)
	if err != nil {
		return fmt.Errorf("add activity: %w", err)
	}
	return nil
}

// ListActivity returns recent audit lines for the user, newest first.
func (s *Store) ListActivity(ctx context.Context, userID int64, limit int) ([]ActivityEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, COALESCE(followup_id,0), action, COALESCE(message,''), COALESCE(created_at,'')
		 FROM activity_logs WHERE user_id = ? ORDER BY id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	var out []ActivityEntry
	for rows.Next() {
		var e ActivityEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.FollowupID, &e.Action, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
