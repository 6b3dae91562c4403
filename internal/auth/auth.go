// Package auth owns account lifecycle: signup with email verification,
// login, password reset, session cookies, and the Gmail connect flow that
// stores the per-user send credential.
package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/chasehq/followup/internal/pkg/logger"
	"github.com/chasehq/followup/internal/store"
)

const (
	trialDays          = 14
	codeTTL            = 15 * time.Minute
	codeResendInterval = 60 * time.Second
	resetTokenTTL      = time.Hour
)

// Error kinds the HTTP layer maps to responses.
var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailNotVerified   = errors.New("email not verified")
	ErrCodeInvalid        = errors.New("verification code invalid")
	ErrCodeExpired        = errors.New("verification code expired")
	ErrResendThrottled    = errors.New("verification code was just sent")
	ErrTokenInvalid       = errors.New("reset token invalid or expired")
)

// AccountMailer sends signup and reset emails. nil disables delivery (codes
// still land in the database, useful in development).
type AccountMailer interface {
	SendVerificationCode(ctx context.Context, to, name, code string) error
	SendPasswordReset(ctx context.Context, to, name, token string) error
}

// Service implements the account flows over the store.
type Service struct {
	store  *store.Store
	mailer AccountMailer
	now    func() time.Time
}

// NewService creates the auth service.
func NewService(st *store.Store, mailer AccountMailer) *Service {
	return &Service{store: st, mailer: mailer, now: time.Now}
}

// generateCode returns a 6-digit verification code.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Signup registers an account, starts the trial, and emails a verification
// code. The account cannot log in until the code is confirmed.
func (s *Service) Signup(ctx context.Context, name, email, password string) (int64, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return 0, fmt.Errorf("%w: invalid email", ErrInvalidCredentials)
	}
	if len(password) < 8 {
		return 0, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidCredentials)
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return 0, ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return 0, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}
	code, err := generateCode()
	if err != nil {
		return 0, fmt.Errorf("generate code: %w", err)
	}

	now := s.now().UTC()
	userID, err := s.store.CreateUser(ctx, store.User{
		Name:                   strings.TrimSpace(name),
		Email:                  email,
		PasswordHash:           string(hash),
		TrialStart:             now.Format("2006-01-02"),
		TrialEnd:               now.AddDate(0, 0, trialDays).Format("2006-01-02"),
		SubscriptionStatus:     "trial",
		VerificationCode:       code,
		VerificationExpiresAt:  store.FormatTime(now.Add(codeTTL)),
		VerificationLastSentAt: store.FormatTime(now),
	})
	if err != nil {
		return 0, err
	}

	s.deliverCode(ctx, email, name, code)
	return userID, nil
}

// VerifyEmail confirms the signup code and unlocks the account.
func (s *Service) VerifyEmail(ctx context.Context, email, code string) error {
	u, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return ErrCodeInvalid
	}
	if err != nil {
		return err
	}
	if u.EmailVerified {
		return nil
	}
	if u.VerificationCode == "" || u.VerificationCode != strings.TrimSpace(code) {
		return ErrCodeInvalid
	}
	if exp, err := store.ParseTime(u.VerificationExpiresAt); err != nil || s.now().UTC().After(exp) {
		return ErrCodeExpired
	}
	return s.store.MarkEmailVerified(ctx, u.ID)
}

// ResendCode issues a fresh verification code, at most once per minute.
func (s *Service) ResendCode(ctx context.Context, email string) error {
	u, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		// Do not reveal whether the address exists.
		return nil
	}
	if err != nil {
		return err
	}
	if u.EmailVerified {
		return nil
	}

	now := s.now().UTC()
	if last, err := store.ParseTime(u.VerificationLastSentAt); err == nil {
		if now.Sub(last) < codeResendInterval {
			return ErrResendThrottled
		}
	}

	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	err = s.store.SetVerificationCode(ctx, u.ID, code,
		store.FormatTime(now.Add(codeTTL)), store.FormatTime(now))
	if err != nil {
		return err
	}
	s.deliverCode(ctx, u.Email, u.Name, code)
	return nil
}

// Login checks the password and returns the account. Unverified accounts
// are rejected with ErrEmailNotVerified so the UI can offer a resend.
func (s *Service) Login(ctx context.Context, email, password string) (store.User, error) {
	u, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		// Burn a comparison anyway so missing and wrong-password take
		// similar time.
		bcrypt.CompareHashAndPassword([]byte("$2a$10$000000000000000000000uGZLcjQejZdTmquVPCM1cpJpeVXYRqR2"), []byte(password))
		return store.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if !u.EmailVerified {
		return store.User{}, ErrEmailNotVerified
	}
	return u, nil
}

// RequestPasswordReset issues a reset token and emails the link. Unknown
// addresses return success so the endpoint cannot be used for enumeration.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	u, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	token := uuid.New().String()
	now := s.now().UTC()
	if err := s.store.SetResetToken(ctx, u.ID, token, store.FormatTime(now.Add(resetTokenTTL))); err != nil {
		return err
	}
	if s.mailer == nil {
		log.Printf("[Auth] Mailer not configured; reset token for %s stored only", logger.RedactEmail(u.Email))
		return nil
	}
	if err := s.mailer.SendPasswordReset(ctx, u.Email, u.Name, token); err != nil {
		log.Printf("[Auth] Reset mail to %s failed: %v", logger.RedactEmail(u.Email), err)
		return fmt.Errorf("send reset mail: %w", err)
	}
	return nil
}

// ResetPassword consumes a reset token and installs the new password.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidCredentials)
	}
	u, err := s.store.GetUserByResetToken(ctx, strings.TrimSpace(token))
	if errors.Is(err, store.ErrNotFound) {
		return ErrTokenInvalid
	}
	if err != nil {
		return err
	}
	if exp, err := store.ParseTime(u.ResetExpiresAt); err != nil || s.now().UTC().After(exp) {
		return ErrTokenInvalid
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	// UpdatePassword clears the token, so a link cannot be replayed.
	return s.store.UpdatePassword(ctx, u.ID, string(hash))
}

func (s *Service) deliverCode(ctx context.Context, email, name, code string) {
	if s.mailer == nil {
		log.Printf("[Auth] Mailer not configured; verification code for %s stored only", logger.RedactEmail(email))
		return
	}
	if err := s.mailer.SendVerificationCode(ctx, email, name, code); err != nil {
		// Signup still succeeds; the user can ask for a resend.
		log.Printf("[Auth] Verification mail to %s failed: %v", logger.RedactEmail(email), err)
	}
}
