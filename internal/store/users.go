package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const userCols = `id, name, email, password_hash, COALESCE(gmail_token,''), COALESCE(created_at,''),
	COALESCE(trial_start,''), COALESCE(trial_end,''), COALESCE(is_subscribed,0),
	COALESCE(brand_logo,''), COALESCE(brand_color,'#36A2EB'), COALESCE(company_name,''),
	COALESCE(support_email,''), COALESCE(email_footer,''),
	COALESCE(email_verified,0), COALESCE(verification_code,''), COALESCE(verification_expires_at,''),
	COALESCE(verification_last_sent_at,''), COALESCE(reset_token,''), COALESCE(reset_expires_at,''),
	COALESCE(subscription_status,'none'), COALESCE(stripe_customer_id,''), COALESCE(stripe_subscription_id,''),
	COALESCE(plan,''), COALESCE(current_period_end,'')`

func scanUser(r rowScanner) (User, error) {
	var u User
	var subscribed, verified int
	err := r.Scan(
		&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.GmailToken, &u.CreatedAt,
		&u.TrialStart, &u.TrialEnd, &subscribed,
		&u.BrandLogo, &u.BrandColor, &u.CompanyName,
		&u.SupportEmail, &u.EmailFooter,
		&verified, &u.VerificationCode, &u.VerificationExpiresAt,
		&u.VerificationLastSentAt, &u.ResetToken, &u.ResetExpiresAt,
		&u.SubscriptionStatus, &u.StripeCustomerID, &u.StripeSubscriptionID,
		&u.Plan, &u.CurrentPeriodEnd,
	)
	if err != nil {
		return User{}, err
	}
	u.IsSubscribed = subscribed != 0
	u.EmailVerified = verified != 0
	return u, nil
}

// CreateUser inserts an account. Email is stored lower-cased; trial and
// verification fields come in on u pre-filled by the auth service.
func (s *Store) CreateUser(ctx context.Context, u User) (int64, error) {
	if u.SubscriptionStatus == "" {
		u.SubscriptionStatus = "none"
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (name, email, password_hash, trial_start, trial_end, subscription_status,
		                    email_verified, verification_code, verification_expires_at, verification_last_sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Name, strings.ToLower(strings.TrimSpace(u.Email)), u.PasswordHash,
		nullable(u.TrialStart), nullable(u.TrialEnd), u.SubscriptionStatus,
		boolToInt(u.EmailVerified), nullable(u.VerificationCode),
		nullable(u.VerificationExpiresAt), nullable(u.VerificationLastSentAt),
	)
	if err != nil {
		return 0, fmt.Errorf("create user: %w", err)
	}
	return res.LastInsertId()
}

// GetUserByID returns the account with id.
func (s *Store) GetUserByID(ctx context.Context, id int64) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetUserByEmail returns the account with the (case-insensitive) email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userCols+` FROM users WHERE email = ?`,
		strings.ToLower(strings.TrimSpace(email)))
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// SetGmailToken stores (or clears, with an empty string) the user's Gmail
// credential blob. The transport's refresh callback also lands here.
func (s *Store) SetGmailToken(ctx context.Context, userID int64, tokenJSON string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET gmail_token = ? WHERE id = ?`, nullable(tokenJSON), userID)
	if err != nil {
		return fmt.Errorf("set gmail token: %w", err)
	}
	return rowsOrNotFound(res)
}

// SetVerificationCode stores a fresh signup verification code.
func (s *Store) SetVerificationCode(ctx context.Context, userID int64, code, expiresAt, sentAt string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET verification_code = ?, verification_expires_at = ?, verification_last_sent_at = ? WHERE id = ?`,
		code, expiresAt, sentAt, userID)
	if err != nil {
		return fmt.Errorf("set verification code: %w", err)
	}
	return rowsOrNotFound(res)
}

// MarkEmailVerified flips the verified flag and clears the code.
func (s *Store) MarkEmailVerified(ctx context.Context, userID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET email_verified = 1, verification_code = NULL, verification_expires_at = NULL WHERE id = ?`,
		userID)
	if err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	return rowsOrNotFound(res)
}

// SetResetToken stores a password reset token.
func (s *Store) SetResetToken(ctx context.Context, userID int64, token, expiresAt string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET reset_token = ?, reset_expires_at = ? WHERE id = ?`,
		token, expiresAt, userID)
	if err != nil {
		return fmt.Errorf("set reset token: %w", err)
	}
	return rowsOrNotFound(res)
}

// GetUserByResetToken resolves an outstanding reset token.
func (s *Store) GetUserByResetToken(ctx context.Context, token string) (User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userCols+` FROM users WHERE reset_token = ? AND reset_token IS NOT NULL`, token)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user by reset token: %w", err)
	}
	return u, nil
}

// UpdatePassword replaces the password hash and consumes any reset token.
func (s *Store) UpdatePassword(ctx context.Context, userID int64, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, reset_token = NULL, reset_expires_at = NULL WHERE id = ?`,
		passwordHash, userID)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return rowsOrNotFound(res)
}

// UpdateBranding writes the fields that feed the email renderer.
func (s *Store) UpdateBranding(ctx context.Context, userID int64, logo, color, company, supportEmail, footer string) error {
	if color == "" {
		color = "#36A2EB"
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET brand_logo = ?, brand_color = ?, company_name = ?, support_email = ?, email_footer = ? WHERE id = ?`,
		nullable(logo), color, nullable(company), nullable(supportEmail), nullable(footer), userID)
	if err != nil {
		return fmt.Errorf("update branding: %w", err)
	}
	return rowsOrNotFound(res)
}

// UpdateSubscription mirrors billing state pushed in from outside (the
// billing webhook handler lives outside this service).
func (s *Store) UpdateSubscription(ctx context.Context, userID int64, status, plan, customerID, subscriptionID, periodEnd string, subscribed bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET subscription_status = ?, plan = ?, stripe_customer_id = ?, stripe_subscription_id = ?, current_period_end = ?, is_subscribed = ? WHERE id = ?`,
		status, nullable(plan), nullable(customerID), nullable(subscriptionID), nullable(periodEnd), boolToInt(subscribed), userID)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	return rowsOrNotFound(res)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
