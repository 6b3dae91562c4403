// Package followup is the write API for reminder records: create and edit,
// schedule rule install and clear, lifecycle marks, delete. The scheduler
// loop reads the same rows through the store; everything the outer HTTP
// shell mutates goes through this service.
package followup

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/chasehq/followup/internal/schedule"
	"github.com/chasehq/followup/internal/store"
)

// phoneRe accepts E.164-ish numbers: leading +, 8 to 15 digits.
var phoneRe = regexp.MustCompile(`^\+\d{8,15}$`)

// Service validates and applies followup writes. The zero value is not
// usable; construct with New.
type Service struct {
	store   *store.Store
	inputTZ string
	now     func() time.Time
}

// New creates the write API over st. inputTZ is the IANA zone schedule
// dates and times are interpreted in; empty means UTC.
func New(st *store.Store, inputTZ string) *Service {
	return &Service{store: st, inputTZ: inputTZ, now: time.Now}
}

// CreateInput carries the fields accepted when creating a followup.
type CreateInput struct {
	ClientName      string
	Email           string
	Phone           string
	FollowupType    string
	Description     string
	DueDate         string
	MessageOverride string
}

// Create inserts a pending followup. The email channel is the live delivery
// path, so a followup without an email address is rejected; a phone number,
// when present, must be E.164.
func (s *Service) Create(ctx context.Context, userID int64, in CreateInput) (int64, error) {
	if err := validateContact(in.Email, in.Phone); err != nil {
		return 0, err
	}
	if strings.TrimSpace(in.ClientName) == "" {
		return 0, fmt.Errorf("%w: client_name is required", ErrContactMissing)
	}
	return s.store.CreateFollowup(ctx, store.Followup{
		UserID:          userID,
		ClientName:      strings.TrimSpace(in.ClientName),
		Email:           strings.TrimSpace(in.Email),
		Phone:           strings.TrimSpace(in.Phone),
		FollowupType:    strings.TrimSpace(in.FollowupType),
		Description:     in.Description,
		DueDate:         strings.TrimSpace(in.DueDate),
		MessageOverride: in.MessageOverride,
		Status:          store.StatusPending,
	})
}

// CreateDraft inserts a draft: no due date yet, not visible to the loop.
func (s *Service) CreateDraft(ctx context.Context, userID int64, in CreateInput) (int64, error) {
	if err := validateContact(in.Email, in.Phone); err != nil {
		return 0, err
	}
	if strings.TrimSpace(in.ClientName) == "" {
		return 0, fmt.Errorf("%w: client_name is required", ErrContactMissing)
	}
	return s.store.CreateFollowup(ctx, store.Followup{
		UserID:          userID,
		ClientName:      strings.TrimSpace(in.ClientName),
		Email:           strings.TrimSpace(in.Email),
		Phone:           strings.TrimSpace(in.Phone),
		FollowupType:    strings.TrimSpace(in.FollowupType),
		Description:     in.Description,
		MessageOverride: in.MessageOverride,
		Status:          store.StatusDraft,
	})
}

// Get returns one followup scoped to the user.
func (s *Service) Get(ctx context.Context, userID, id int64) (store.Followup, error) {
	return s.store.GetFollowup(ctx, userID, id)
}

// List returns the user's followups, optionally narrowed by status.
func (s *Service) List(ctx context.Context, userID int64, status string) ([]store.Followup, error) {
	return s.store.ListFollowups(ctx, userID, status)
}

// Update rewrites the contact and content fields, re-validating the channel.
func (s *Service) Update(ctx context.Context, userID, id int64, in CreateInput) error {
	f, err := s.store.GetFollowup(ctx, userID, id)
	if err != nil {
		return err
	}

	if in.ClientName != "" {
		f.ClientName = strings.TrimSpace(in.ClientName)
	}
	if in.Email != "" {
		f.Email = strings.TrimSpace(in.Email)
	}
	if in.Phone != "" {
		f.Phone = strings.TrimSpace(in.Phone)
	}
	if in.FollowupType != "" {
		f.FollowupType = strings.TrimSpace(in.FollowupType)
	}
	if in.Description != "" {
		f.Description = in.Description
	}
	if in.DueDate != "" {
		f.DueDate = strings.TrimSpace(in.DueDate)
	}
	if in.MessageOverride != "" {
		f.MessageOverride = in.MessageOverride
	}

	if err := validateContact(f.Email, f.Phone); err != nil {
		return err
	}
	return s.store.UpdateFollowupCore(ctx, f)
}

// Rule is the schedule a caller installs. Field meanings match the compiler;
// an empty Timezone falls back to the service-wide input timezone.
type Rule struct {
	Repeat    string
	StartDate string
	EndDate   string
	SendTime  string
	SendTime2 string
	Interval  int
	ByWeekday string
	RelValue  int
	RelUnit   string
	Timezone  string
}

func (s *Service) compileRule(r Rule) (schedule.Rule, time.Time, error) {
	cr := schedule.Rule{
		Repeat:    r.Repeat,
		StartDate: r.StartDate,
		EndDate:   r.EndDate,
		SendTime:  r.SendTime,
		SendTime2: r.SendTime2,
		Interval:  r.Interval,
		ByWeekday: r.ByWeekday,
		RelValue:  r.RelValue,
		RelUnit:   r.RelUnit,
		Timezone:  r.Timezone,
	}
	if cr.Timezone == "" {
		cr.Timezone = s.inputTZ
	}
	next, err := schedule.Next(cr, s.now().UTC())
	if err != nil {
		return schedule.Rule{}, time.Time{}, err
	}
	return cr, next, nil
}

// SetScheduleRule validates the rule, computes next_send_at, and installs
// both. Finalized and ever-sent followups are rejected with
// ErrAlreadyFinalized; the check runs inside the store transaction.
func (s *Service) SetScheduleRule(ctx context.Context, userID, id int64, r Rule) (time.Time, error) {
	_, next, err := s.compileRule(r)
	if err != nil {
		return time.Time{}, err
	}
	err = s.store.SetScheduleRule(ctx, userID, id, store.ScheduleFields{
		Repeat:     strings.ToLower(strings.TrimSpace(r.Repeat)),
		StartDate:  r.StartDate,
		EndDate:    r.EndDate,
		SendTime:   r.SendTime,
		SendTime2:  r.SendTime2,
		Interval:   r.Interval,
		ByWeekday:  r.ByWeekday,
		RelValue:   r.RelValue,
		RelUnit:    r.RelUnit,
		NextSendAt: store.FormatTime(next),
	})
	if err != nil {
		return time.Time{}, err
	}
	return next, nil
}

// BulkSetScheduleRule applies one rule to every open, never-sent followup of
// the user and returns how many rows it touched. Items that were sent or
// finalized are silently skipped, not errors.
func (s *Service) BulkSetScheduleRule(ctx context.Context, userID int64, r Rule) (int64, error) {
	_, next, err := s.compileRule(r)
	if err != nil {
		return 0, err
	}
	n, err := s.store.BulkSetScheduleRule(ctx, userID, store.ScheduleFields{
		Repeat:     strings.ToLower(strings.TrimSpace(r.Repeat)),
		StartDate:  r.StartDate,
		EndDate:    r.EndDate,
		SendTime:   r.SendTime,
		SendTime2:  r.SendTime2,
		Interval:   r.Interval,
		ByWeekday:  r.ByWeekday,
		RelValue:   r.RelValue,
		RelUnit:    r.RelUnit,
		NextSendAt: store.FormatTime(next),
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		today := s.now().UTC().Format("2006-01-02")
		if err := s.store.SetLastBulkRunDate(ctx, userID, today); err != nil {
			return n, err
		}
	}
	return n, nil
}

// ClearSchedule drops the rule. A followup that has ever been delivered
// stays sent; anything else reverts to pending.
func (s *Service) ClearSchedule(ctx context.Context, userID, id int64) error {
	return s.store.ClearSchedule(ctx, userID, id)
}

// MarkDone closes out a followup.
func (s *Service) MarkDone(ctx context.Context, userID, id int64) error {
	return s.store.MarkDone(ctx, userID, id)
}

// MarkDoneByEmail closes every open followup for the contact email and
// returns how many it closed.
func (s *Service) MarkDoneByEmail(ctx context.Context, userID int64, email string) (int64, error) {
	if strings.TrimSpace(email) == "" {
		return 0, fmt.Errorf("%w: email is required", ErrContactMissing)
	}
	return s.store.MarkDoneByEmail(ctx, userID, strings.TrimSpace(email))
}

// MarkDoneByPhone closes every open followup for the contact phone.
func (s *Service) MarkDoneByPhone(ctx context.Context, userID int64, phone string) (int64, error) {
	if strings.TrimSpace(phone) == "" {
		return 0, fmt.Errorf("%w: phone is required", ErrContactMissing)
	}
	return s.store.MarkDoneByPhone(ctx, userID, strings.TrimSpace(phone))
}

// MarkReplied records that the client answered.
func (s *Service) MarkReplied(ctx context.Context, userID, id int64) error {
	return s.store.MarkReplied(ctx, userID, id, s.now().UTC())
}

// Delete removes a followup and its child log rows.
func (s *Service) Delete(ctx context.Context, userID, id int64) error {
	return s.store.DeleteFollowup(ctx, userID, id)
}

// UpdateMessageOverride sets (or, with empty text, clears) the personal
// message that bypasses template rendering.
func (s *Service) UpdateMessageOverride(ctx context.Context, userID, id int64, text string) error {
	return s.store.UpdateMessageOverride(ctx, userID, id, text)
}

// validateContact enforces the delivery channel requirements: email is
// mandatory, phone optional but well-formed when present.
func validateContact(email, phone string) error {
	if strings.TrimSpace(email) == "" {
		return fmt.Errorf("%w: email is required for email delivery", ErrContactMissing)
	}
	if !strings.Contains(email, "@") {
		return fmt.Errorf("%w: invalid email %q", ErrContactMissing, email)
	}
	if p := strings.TrimSpace(phone); p != "" && !phoneRe.MatchString(p) {
		return fmt.Errorf("%w: phone must be E.164 (+ and 8-15 digits), got %q", ErrContactMissing, phone)
	}
	return nil
}
