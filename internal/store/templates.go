package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SchedulerTemplateName is the per-user template the loop falls back to when
// a followup has no message override.
const SchedulerTemplateName = "scheduler_default"

// GetTemplate returns the user's template with the given name.
func (s *Store) GetTemplate(ctx context.Context, userID int64, name string) (EmailTemplate, error) {
	var t EmailTemplate
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, COALESCE(subject,''), COALESCE(html_content,''), COALESCE(created_at,'')
		 FROM email_templates WHERE user_id = ? AND name = ?`,
		userID, name,
	).Scan(&t.ID, &t.UserID, &t.Name, &t.Subject, &t.HTMLContent, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return EmailTemplate{}, ErrNotFound
	}
	if err != nil {
		return EmailTemplate{}, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

// UpsertTemplate inserts or replaces the user's template by name.
func (s *Store) UpsertTemplate(ctx context.Context, userID int64, name, subject, html string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO email_templates (user_id, name, subject, html_content)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, name) DO UPDATE SET subject = excluded.subject, html_content = excluded.html_content`,
		userID, name, subject, html,
	)
	if err != nil {
		return fmt.Errorf("upsert template: %w", err)
	}
	return nil
}

// ListTemplates returns the user's templates, newest first.
func (s *Store) ListTemplates(ctx context.Context, userID int64) ([]EmailTemplate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, COALESCE(subject,''), COALESCE(html_content,''), COALESCE(created_at,'')
		 FROM email_templates WHERE user_id = ? ORDER BY id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []EmailTemplate
	for rows.Next() {
		var t EmailTemplate
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &t.Subject, &t.HTMLContent, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteTemplate removes a template by name.
func (s *Store) DeleteTemplate(ctx context.Context, userID int64, name string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM email_templates WHERE user_id = ? AND name = ?`, userID, name)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	return rowsOrNotFound(res)
}
