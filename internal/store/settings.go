package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetSettings returns the user's limits row, or the defaults when the user
// never saved one.
func (s *Store) GetSettings(ctx context.Context, userID int64) (Settings, error) {
	var st Settings
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, COALESCE(daily_limit,20), COALESCE(default_country,'US')
		 FROM settings WHERE user_id = ?`, userID,
	).Scan(&st.ID, &st.UserID, &st.DailyLimit, &st.DefaultCountry)
	if errors.Is(err, sql.ErrNoRows) {
		return Settings{UserID: userID, DailyLimit: 20, DefaultCountry: "US"}, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("get settings: %w", err)
	}
	return st, nil
}

// UpsertSettings saves the user's limits.
func (s *Store) UpsertSettings(ctx context.Context, userID int64, dailyLimit int, defaultCountry string) error {
	if dailyLimit <= 0 {
		dailyLimit = 20
	}
	if defaultCountry == "" {
		defaultCountry = "US"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (user_id, daily_limit, default_country)
		 VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET daily_limit = excluded.daily_limit, default_country = excluded.default_country`,
		userID, dailyLimit, defaultCountry,
	)
	if err != nil {
		return fmt.Errorf("upsert settings: %w", err)
	}
	return nil
}

// GetSchedulerSettings returns the user's scheduler preferences, defaulted
// when absent.
func (s *Store) GetSchedulerSettings(ctx context.Context, userID int64) (SchedulerSettings, error) {
	var ss SchedulerSettings
	var enabled int
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, COALESCE(enabled,0), COALESCE(start_date,''), COALESCE(end_date,''),
		        COALESCE(send_time,'09:00'), COALESCE(mode,'both'), COALESCE(last_bulk_run_date,''),
		        COALESCE(created_at,''), COALESCE(updated_at,'')
		 FROM scheduler_settings WHERE user_id = ?`, userID,
	).Scan(&ss.UserID, &enabled, &ss.StartDate, &ss.EndDate, &ss.SendTime, &ss.Mode,
		&ss.LastBulkRunDate, &ss.CreatedAt, &ss.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SchedulerSettings{UserID: userID, SendTime: "09:00", Mode: "both"}, nil
	}
	if err != nil {
		return SchedulerSettings{}, fmt.Errorf("get scheduler settings: %w", err)
	}
	ss.Enabled = enabled != 0
	return ss, nil
}

// UpsertSchedulerSettings saves the user's scheduler preferences.
func (s *Store) UpsertSchedulerSettings(ctx context.Context, ss SchedulerSettings) error {
	if ss.SendTime == "" {
		ss.SendTime = "09:00"
	}
	if ss.Mode == "" {
		ss.Mode = "both"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduler_settings (user_id, enabled, start_date, end_date, send_time, mode, last_bulk_run_date, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(user_id) DO UPDATE SET
		   enabled = excluded.enabled,
		   start_date = excluded.start_date,
		   end_date = excluded.end_date,
		   send_time = excluded.send_time,
		   mode = excluded.mode,
		   last_bulk_run_date = excluded.last_bulk_run_date,
		   updated_at = CURRENT_TIMESTAMP`,
		ss.UserID, boolToInt(ss.Enabled), nullable(ss.StartDate), nullable(ss.EndDate),
		ss.SendTime, ss.Mode, nullable(ss.LastBulkRunDate),
	)
	if err != nil {
		return fmt.Errorf("upsert scheduler settings: %w", err)
	}
	return nil
}

// SetLastBulkRunDate stamps the date the bulk scheduler last ran for the
// user, creating the row if needed.
func (s *Store) SetLastBulkRunDate(ctx context.Context, userID int64, date string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduler_settings (user_id, last_bulk_run_date, updated_at)
		 VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(user_id) DO UPDATE SET last_bulk_run_date = excluded.last_bulk_run_date, updated_at = CURRENT_TIMESTAMP`,
		userID, date,
	)
	if err != nil {
		return fmt.Errorf("set last bulk run date: %w", err)
	}
	return nil
}
