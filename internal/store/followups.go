package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// followupCols is the canonical SELECT list. COALESCE folds NULLs into zero
// values so rows scan into plain strings and ints.
const followupCols = `id, user_id, client_name, COALESCE(phone,''), COALESCE(email,''),
	COALESCE(followup_type,''), COALESCE(description,''), COALESCE(due_date,''),
	COALESCE(status,'pending'), COALESCE(created_at,''), COALESCE(message_override,''),
	COALESCE(preferred_channel,'whatsapp'), COALESCE(last_error,''), COALESCE(last_attempt_at,''),
	COALESCE(sent_count,0), COALESCE(last_sent_at,''), COALESCE(replied_at,''),
	COALESCE(schedule_enabled,0), COALESCE(schedule_repeat,''), COALESCE(schedule_start_date,''),
	COALESCE(schedule_end_date,''), COALESCE(schedule_send_time,'09:00'), COALESCE(schedule_send_time_2,''),
	COALESCE(schedule_interval,1), COALESCE(schedule_byweekday,''), COALESCE(schedule_rel_value,0),
	COALESCE(schedule_rel_unit,''), COALESCE(next_send_at,'')`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFollowup(r rowScanner) (Followup, error) {
	var f Followup
	var enabled int
	err := r.Scan(
		&f.ID, &f.UserID, &f.ClientName, &f.Phone, &f.Email,
		&f.FollowupType, &f.Description, &f.DueDate,
		&f.Status, &f.CreatedAt, &f.MessageOverride,
		&f.PreferredChannel, &f.LastError, &f.LastAttemptAt,
		&f.SentCount, &f.LastSentAt, &f.RepliedAt,
		&enabled, &f.ScheduleRepeat, &f.ScheduleStartDate,
		&f.ScheduleEndDate, &f.ScheduleSendTime, &f.ScheduleSendTime2,
		&f.ScheduleInterval, &f.ScheduleByWeekday, &f.ScheduleRelValue,
		&f.ScheduleRelUnit, &f.NextSendAt,
	)
	if err != nil {
		return Followup{}, err
	}
	f.ScheduleEnabled = enabled != 0
	return f, nil
}

// nullable maps "" to SQL NULL so optional text columns stay NULL instead of
// accumulating empty strings.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

// CreateFollowup inserts a new followup and returns its id.
func (s *Store) CreateFollowup(ctx context.Context, f Followup) (int64, error) {
	if f.Status == "" {
		f.Status = StatusPending
	}
	if f.PreferredChannel == "" {
		f.PreferredChannel = "whatsapp"
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO followups (user_id, client_name, phone, email, followup_type, description, due_date, status, message_override, preferred_channel)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.UserID, f.ClientName, nullable(f.Phone), nullable(f.Email),
		nullable(f.FollowupType), nullable(f.Description), nullable(f.DueDate),
		f.Status, nullable(f.MessageOverride), f.PreferredChannel,
	)
	if err != nil {
		return 0, fmt.Errorf("create followup: %w", err)
	}
	return res.LastInsertId()
}

// GetFollowup returns the followup with id, scoped to userID.
func (s *Store) GetFollowup(ctx context.Context, userID, id int64) (Followup, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+followupCols+` FROM followups WHERE id = ? AND user_id = ?`, id, userID)
	f, err := scanFollowup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Followup{}, ErrNotFound
	}
	if err != nil {
		return Followup{}, fmt.Errorf("get followup: %w", err)
	}
	return f, nil
}

// ListFollowups returns the user's followups, newest first. A non-empty
// status narrows the result.
func (s *Store) ListFollowups(ctx context.Context, userID int64, status string) ([]Followup, error) {
	query := `SELECT ` + followupCols + ` FROM followups WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		query += ` AND COALESCE(status,'pending') = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list followups: %w", err)
	}
	defer rows.Close()

	var out []Followup
	for rows.Next() {
		f, err := scanFollowup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan followup: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// UpdateFollowupCore writes the editable contact and content fields.
func (s *Store) UpdateFollowupCore(ctx context.Context, f Followup) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE followups
		 SET client_name = ?, phone = ?, email = ?, followup_type = ?, description = ?, due_date = ?, message_override = ?, preferred_channel = ?
		 WHERE id = ? AND user_id = ?`,
		f.ClientName, nullable(f.Phone), nullable(f.Email), nullable(f.FollowupType),
		nullable(f.Description), nullable(f.DueDate), nullable(f.MessageOverride),
		f.PreferredChannel, f.ID, f.UserID,
	)
	if err != nil {
		return fmt.Errorf("update followup: %w", err)
	}
	return rowsOrNotFound(res)
}

// SetScheduleRule installs a schedule rule. The ever-sent and finalized
// checks run inside the same transaction as the write, so the scheduler loop
// cannot slip a send between check and install.
func (s *Store) SetScheduleRule(ctx context.Context, userID, id int64, r ScheduleFields) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var status, lastSentAt string
	var sentCount int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(status,'pending'), COALESCE(sent_count,0), COALESCE(last_sent_at,'')
		 FROM followups WHERE id = ? AND user_id = ?`, id, userID,
	).Scan(&status, &sentCount, &lastSentAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load followup for rule install: %w", err)
	}

	if ok, reason := CanInstallRule(status, sentCount, lastSentAt); !ok {
		return fmt.Errorf("%w: %s", ErrAlreadyFinalized, reason)
	}

	interval := r.Interval
	if interval == 0 {
		interval = 1
	}
	dueDate := r.StartDate
	if dueDate == "" && len(r.NextSendAt) >= 10 {
		dueDate = r.NextSendAt[:10]
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE followups
		 SET schedule_enabled = 1,
		     schedule_repeat = ?,
		     schedule_start_date = ?,
		     schedule_end_date = ?,
		     schedule_send_time = ?,
		     schedule_send_time_2 = ?,
		     schedule_interval = ?,
		     schedule_byweekday = ?,
		     schedule_rel_value = ?,
		     schedule_rel_unit = ?,
		     next_send_at = ?,
		     last_error = NULL,
		     status = CASE WHEN status IN ('sent','done','deleted') THEN status ELSE 'scheduled' END,
		     due_date = CASE WHEN due_date IS NULL OR due_date = '' THEN ? ELSE due_date END
		 WHERE id = ? AND user_id = ?`,
		r.Repeat, nullable(r.StartDate), nullable(r.EndDate),
		nullable(r.SendTime), nullable(r.SendTime2), interval,
		nullable(r.ByWeekday), nullableInt(r.RelValue), nullable(r.RelUnit),
		r.NextSendAt, nullable(dueDate), id, userID,
	)
	if err != nil {
		return fmt.Errorf("install rule: %w", err)
	}
	return tx.Commit()
}

// BulkSetScheduleRule applies one rule (with a shared precomputed
// next_send_at) to every followup that was never sent and is not finalized.
// Returns the number of rows updated.
func (s *Store) BulkSetScheduleRule(ctx context.Context, userID int64, r ScheduleFields) (int64, error) {
	interval := r.Interval
	if interval == 0 {
		interval = 1
	}
	dueDate := r.StartDate
	if dueDate == "" && len(r.NextSendAt) >= 10 {
		dueDate = r.NextSendAt[:10]
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE followups
		 SET schedule_enabled = 1,
		     schedule_repeat = ?,
		     schedule_start_date = ?,
		     schedule_end_date = ?,
		     schedule_send_time = ?,
		     schedule_send_time_2 = ?,
		     schedule_interval = ?,
		     schedule_byweekday = ?,
		     schedule_rel_value = ?,
		     schedule_rel_unit = ?,
		     next_send_at = ?,
		     last_error = NULL,
		     status = 'scheduled',
		     due_date = CASE WHEN due_date IS NULL OR due_date = '' THEN ? ELSE due_date END
		 WHERE user_id = ?
		   AND COALESCE(status,'pending') NOT IN ('sent','done','deleted')
		   AND COALESCE(sent_count,0) = 0
		   AND COALESCE(last_sent_at,'') = ''`,
		r.Repeat, nullable(r.StartDate), nullable(r.EndDate),
		nullable(r.SendTime), nullable(r.SendTime2), interval,
		nullable(r.ByWeekday), nullableInt(r.RelValue), nullable(r.RelUnit),
		r.NextSendAt, nullable(dueDate), userID,
	)
	if err != nil {
		return 0, fmt.Errorf("bulk install rule: %w", err)
	}
	return res.RowsAffected()
}

// ClearSchedule removes the rule and the materialized next send. An item
// that was ever sent keeps status sent; anything else reverts to pending.
func (s *Store) ClearSchedule(ctx context.Context, userID, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE followups
		 SET schedule_enabled = 0,
		     schedule_repeat = NULL,
		     schedule_start_date = NULL,
		     schedule_end_date = NULL,
		     schedule_send_time = NULL,
		     schedule_send_time_2 = NULL,
		     schedule_interval = NULL,
		     schedule_byweekday = NULL,
		     schedule_rel_value = NULL,
		     schedule_rel_unit = NULL,
		     next_send_at = NULL,
		     status = CASE WHEN COALESCE(sent_count,0) > 0 THEN 'sent' ELSE 'pending' END
		 WHERE id = ? AND user_id = ?`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("clear schedule: %w", err)
	}
	return rowsOrNotFound(res)
}

// UsersWithDue returns ids of users holding at least one due followup,
// ascending. The loop processes users in this order.
func (s *Store) UsersWithDue(ctx context.Context, now time.Time) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM followups
		 WHERE schedule_enabled = 1
		   AND next_send_at IS NOT NULL
		   AND next_send_at <= ?
		   AND COALESCE(status,'pending') IN ('pending','scheduled')
		 ORDER BY user_id`,
		FormatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("users with due: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DueFollowups returns the user's due items, earliest first, capped at limit.
func (s *Store) DueFollowups(ctx context.Context, userID int64, now time.Time, limit int) ([]Followup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+followupCols+` FROM followups
		 WHERE user_id = ?
		   AND schedule_enabled = 1
		   AND next_send_at IS NOT NULL
		   AND next_send_at <= ?
		   AND COALESCE(status,'pending') IN ('pending','scheduled')
		 ORDER BY next_send_at ASC
		 LIMIT ?`,
		userID, FormatTime(now), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("due followups: %w", err)
	}
	defer rows.Close()

	var out []Followup
	for rows.Next() {
		f, err := scanFollowup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due followup: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ClaimRunning moves a due item to running. Best-effort: returns false when
// another path already advanced the row.
func (s *Store) ClaimRunning(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE followups SET status = 'running', last_attempt_at = ?
		 WHERE id = ? AND COALESCE(status,'pending') IN ('pending','scheduled')`,
		FormatTime(at), id,
	)
	if err != nil {
		return false, fmt.Errorf("claim running: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkSendSuccessOnce finalizes a delivered once-item: sent, disabled, no
// next occurrence.
func (s *Store) MarkSendSuccessOnce(ctx context.Context, id int64, sentAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE followups
		 SET status = 'sent',
		     schedule_enabled = 0,
		     next_send_at = NULL,
		     sent_count = COALESCE(sent_count,0) + 1,
		     last_sent_at = ?,
		     last_error = NULL
		 WHERE id = ?`,
		FormatTime(sentAt), id,
	)
	if err != nil {
		return fmt.Errorf("mark sent (once): %w", err)
	}
	return nil
}

// MarkSendSuccessRearm records a delivery on a recurring item and arms the
// next occurrence.
func (s *Store) MarkSendSuccessRearm(ctx context.Context, id int64, sentAt, nextSendAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE followups
		 SET status = 'scheduled',
		     schedule_enabled = 1,
		     next_send_at = ?,
		     sent_count = COALESCE(sent_count,0) + 1,
		     last_sent_at = ?,
		     last_error = NULL
		 WHERE id = ?`,
		FormatTime(nextSendAt), FormatTime(sentAt), id,
	)
	if err != nil {
		return fmt.Errorf("mark sent (rearm): %w", err)
	}
	return nil
}

// MarkSendFailed records a delivery failure. The rule and next_send_at stay
// untouched so a rewrite can recover the item.
func (s *Store) MarkSendFailed(ctx context.Context, id int64, message string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE followups SET status = 'failed', last_error = ?, last_attempt_at = ? WHERE id = ?`,
		message, FormatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// SweepPassedOnce marks undelivered once-items whose slot is older than the
// cutoff as passed. Returns the number swept.
func (s *Store) SweepPassedOnce(ctx context.Context, userID int64, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE followups
		 SET status = 'passed', schedule_enabled = 0
		 WHERE user_id = ?
		   AND schedule_repeat = 'once'
		   AND COALESCE(status,'pending') IN ('pending','scheduled')
		   AND next_send_at IS NOT NULL
		   AND next_send_at < ?
		   AND COALESCE(last_sent_at,'') = ''`,
		userID, FormatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("sweep passed: %w", err)
	}
	return res.RowsAffected()
}

// SweepOrphanRunning fails rows stuck in running since before the cutoff
// (a crash between claim and outcome). The failure message tells the
// operator the item will be retried on the next rule write.
func (s *Store) SweepOrphanRunning(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE followups
		 SET status = 'failed', last_error = 'send interrupted; will retry'
		 WHERE status = 'running'
		   AND (last_attempt_at IS NULL OR last_attempt_at < ?)`,
		FormatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("sweep orphans: %w", err)
	}
	return res.RowsAffected()
}

// MarkDone closes out a followup.
func (s *Store) MarkDone(ctx context.Context, userID, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE followups SET status = 'done' WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("mark done: %w", err)
	}
	return rowsOrNotFound(res)
}

// MarkDoneByEmail closes every open followup for the contact email.
func (s *Store) MarkDoneByEmail(ctx context.Context, userID int64, email string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE followups SET status = 'done'
		 WHERE user_id = ? AND lower(COALESCE(email,'')) = lower(?)
		   AND COALESCE(status,'pending') NOT IN ('done','deleted')`,
		userID, email,
	)
	if err != nil {
		return 0, fmt.Errorf("mark done by email: %w", err)
	}
	return res.RowsAffected()
}

// MarkDoneByPhone closes every open followup for the contact phone.
func (s *Store) MarkDoneByPhone(ctx context.Context, userID int64, phone string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE followups SET status = 'done'
		 WHERE user_id = ? AND COALESCE(phone,'') = ?
		   AND COALESCE(status,'pending') NOT IN ('done','deleted')`,
		userID, phone,
	)
	if err != nil {
		return 0, fmt.Errorf("mark done by phone: %w", err)
	}
	return res.RowsAffected()
}

// MarkReplied records a client reply. Legal only from pending, failed, or
// sent; anything else is a conflict.
func (s *Store) MarkReplied(ctx context.Context, userID, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE followups SET status = 'replied', replied_at = ?
		 WHERE id = ? AND user_id = ? AND COALESCE(status,'pending') IN ('pending','failed','sent')`,
		FormatTime(at), id, userID,
	)
	if err != nil {
		return fmt.Errorf("mark replied: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	// Zero rows: missing row vs. illegal transition.
	f, err := s.GetFollowup(ctx, userID, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("cannot mark replied from status %s: %w", f.Status, ErrAlreadyFinalized)
}

// DeleteFollowup removes a followup and its child rows (send logs, activity)
// in one transaction.
func (s *Store) DeleteFollowup(ctx context.Context, userID, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM followups WHERE id = ? AND user_id = ?`, id, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load followup for delete: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM whatsapp_logs WHERE followup_id = ?`, id); err != nil {
		return fmt.Errorf("delete send logs: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM activity_logs WHERE followup_id = ?`, id); err != nil {
		return fmt.Errorf("delete activity: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM followups WHERE id = ? AND user_id = ?`, id, userID); err != nil {
		return fmt.Errorf("delete followup: %w", err)
	}
	return tx.Commit()
}

// UpdateMessageOverride sets or clears the personal message used instead of
// the rendered template.
func (s *Store) UpdateMessageOverride(ctx context.Context, userID, id int64, text string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE followups SET message_override = ? WHERE id = ? AND user_id = ?`,
		nullable(text), id, userID,
	)
	if err != nil {
		return fmt.Errorf("update message override: %w", err)
	}
	return rowsOrNotFound(res)
}

// AppendSendLog records one delivery in the legacy send log table.
func (s *Store) AppendSendLog(ctx context.Context, followupID, userID int64, message string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO whatsapp_logs (followup_id, user_id, message, sent_at) VALUES (?, ?, ?, ?)`,
		followupID, userID, message, FormatTime(at),
	)
	if err != nil {
		return fmt.Errorf("append send log: %w", err)
	}
	return nil
}

// ListSendLogs returns recent deliveries for a followup, newest first.
func (s *Store) ListSendLogs(ctx context.Context, userID, followupID int64, limit int) ([]SendLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, followup_id, user_id, COALESCE(message,''), COALESCE(sent_at,'')
		 FROM whatsapp_logs
		 WHERE user_id = ? AND followup_id = ?
		 ORDER BY id DESC LIMIT ?`,
		userID, followupID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list send logs: %w", err)
	}
	defer rows.Close()

	var out []SendLog
	for rows.Next() {
		var l SendLog
		if err := rows.Scan(&l.ID, &l.FollowupID, &l.UserID, &l.Message, &l.SentAt); err != nil {
			return nil, fmt.Errorf("scan send log: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func rowsOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
