package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

var base = time.Date(2026, 2, 17, 12, 0, 0, 0, time.UTC)

func dailyRule(next time.Time) ScheduleFields {
	return ScheduleFields{
		Repeat:     "daily",
		StartDate:  "2026-02-17",
		SendTime:   "09:00",
		NextSendAt: FormatTime(next),
	}
}

// =============================================================================
// CRUD
// =============================================================================

func TestCreateAndGetFollowup(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	uid := seedUser(t, s, "crud@example.com")

	id, err := s.CreateFollowup(ctx, Followup{
		UserID:       uid,
		ClientName:   "Jane Doe",
		Email:        "jane@client.test",
		Phone:        "+2348012345678",
		FollowupType: "invoice",
		Description:  "Q1 invoice reminder",
		DueDate:      "2026-02-20",
	})
	if err != nil {
		t.Fatalf("CreateFollowup() error: %v", err)
	}

	f, err := s.GetFollowup(ctx, uid, id)
	if err != nil {
		t.Fatalf("GetFollowup() error: %v", err)
	}
	if f.Status != StatusPending {
		t.Errorf("status = %q, want pending default", f.Status)
	}
	if f.PreferredChannel != "whatsapp" {
		t.Errorf("preferred_channel = %q, want whatsapp default", f.PreferredChannel)
	}
	if f.ClientName != "Jane Doe" || f.Email != "jane@client.test" || f.DueDate != "2026-02-20" {
		t.Errorf("roundtrip mismatch: %+v", f)
	}
	if f.SentCount != 0 || f.ScheduleEnabled {
		t.Errorf("fresh item has send state: %+v", f)
	}
}

func TestGetFollowup_ScopedToUser(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	owner := seedUser(t, s, "owner@example.com")
	other := seedUser(t, s, "other@example.com")
	id := seedFollowup(t, s, owner, "Client")

	if _, err := s.GetFollowup(ctx, other, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-user read error = %v, want ErrNotFound", err)
	}
}

func TestUpdateFollowupCore(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	uid := seedUser(t, s, "upd@example.com")
	id := seedFollowup(t, s, uid, "Before")

	f, _ := s.GetFollowup(ctx, uid, id)
	f.ClientName = "After"
	f.Description = "updated"
	if err := s.UpdateFollowupCore(ctx, f); err != nil {
		t.Fatalf("UpdateFollowupCore() error: %v", err)
	}

	got, _ := s.GetFollowup(ctx, uid, id)
	if got.ClientName != "After" || got.Description != "updated" {
		t.Errorf("update not persisted: %+v", got)
	}

	f.ID = 9999
	if err := s.UpdateFollowupCore(ctx, f); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing row error = %v, want ErrNotFound", err)
	}
}

// =============================================================================
// SCHEDULE RULE INSTALL
// =============================================================================

func TestSetScheduleRule_InstallsAndDerivesDueDate(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	uid := seedUser(t, s, "rule@example.com")

	// Seed without a due date to exercise derivation from start_date.
	id, err := s.CreateFollowup(ctx, Followup{UserID: uid, ClientName: "C", Email: "c@x.test"})
	if err != nil {
		t.Fatalf("CreateFollowup() error: %v", err)
	}

	next := base.Add(24 * time.Hour)
	if err := s.SetScheduleRule(ctx, uid, id, dailyRule(next)); err != nil {
		t.Fatalf("SetScheduleRule() error: %v", err)
	}

	f, _ := s.GetFollowup(ctx, uid, id)
	if f.Status != StatusScheduled {
		t.Errorf("status = %q, want scheduled", f.Status)
	}
	if !f.ScheduleEnabled {
		t.Error("schedule_enabled not set")
	}
	if f.NextSendAt != FormatTime(next) {
		t.Errorf("next_send_at = %q, want %q", f.NextSendAt, FormatTime(next))
	}
	if f.DueDate != "2026-02-17" {
		t.Errorf("due_date = %q, want derived from start_date", f.DueDate)
	}
	if f.ScheduleRepeat != "daily" || f.ScheduleSendTime != "09:00" {
		t.Errorf("rule columns = %+v", f)
	}
}

func TestSetScheduleRule_DueDateFromNextSendWhenNoStart(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	uid := seedUser(t, s, "rel@example.com")
	id, _ := s.CreateFollowup(ctx, Followup{UserID: uid, ClientName: "C", Email: "c@x.test"})

	next := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	rule := ScheduleFields{Repeat: "relative", RelValue: 2, RelUnit: "hours", NextSendAt: FormatTime(next)}
	if err := s.SetScheduleRule(ctx, uid, id, rule); err != nil {
		t.Fatalf("SetScheduleRule() error: %v", err)
	}

	f, _ := s.GetFollowup(ctx, uid, id)
	if f.DueDate != "2026-03-01" {
		t.Errorf("due_date = %q, want next_send_at date", f.DueDate)
	}
}

func TestSetScheduleRule_KeepsExistingDueDate(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	uid := seedUser(t, s, "keep@example.com")
	id, _ := s.CreateFollowup(ctx, Followup{UserID: uid, ClientName: "C", Email: "c@x.test", DueDate: "2026-01-05"})

	if err := s.SetScheduleRule(ctx, uid, id, dailyRule(base.Add(time.Hour))); err != nil {
		t.Fatalf("SetScheduleRule() error: %v", err)
	}
	f, _ := s.GetFollowup(ctx, uid, id)
	if f.DueDate != "2026-01-05" {
		t.Errorf("due_date = %q, existing value must survive", f.DueDate)
	}
}

func TestSetScheduleRule_RejectsFinalized(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	uid := seedUser(t, s, "fin@example.com")

	for _, status := range []string{StatusSent, StatusDone, StatusDeleted} {
		t.Run(status, func(t *testing.T) {
			id := seedFollowup(t, s, uid, "Client "+status)
			if _, err := s.db.ExecContext(ctx, `UPDATE followups SET status=? WHERE id=?`, status, id); err != nil {
				t.Fatalf("seed status: %v", err)
			}
			err := s.SetScheduleRule(ctx, uid, id, dailyRule(base.Add(time.Hour)))
			if !errors.Is(err, ErrAlreadyFinalized) {
				t.Errorf("error = %v, want ErrAlreadyFinalized", err)
			}
		})
	}
}

func TestSetScheduleRule_RejectsEverSent(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	uid := seedUser(t, s, "ever@example.com")

	// sent_count alone rejects, even when status was reset.
	id1 := seedFollowup(t, s, uid, "Counted")
	if _, err := s.db.ExecContext(ctx, `UPDATE followups SET sent_count=2, status='pending' WHERE id=?`, id1); err != nil {
		t.Fatal(err)
	}
	if err := s.SetScheduleRule(ctx, uid, id1, dailyRule(base.Add(time.Hour))); !errors.Is(err, ErrAlreadyFinalized) {
		t.Errorf("sent_count>0: error = %v, want ErrAlreadyFinalized", err)
	}

	// last_sent_at alone rejects too.
	id2 := seedFollowup(t, s, uid, "Stamped")
	if _, err := s.db.ExecContext(ctx, `UPDATE followups SET last_sent_at='2026-01-01T09:00:00Z', status='pending' WHERE id=?`, id2); err != nil {
		t.Fatal(err)
	}
	if err := s.SetScheduleRule(ctx, uid, id2, dailyRule(base.Add(time.Hour))); !errors.Is(err, ErrAlreadyFinalized) {
		t.Errorf("last_sent_at set: error = %v, want ErrAlreadyFinalized", err)
	}
}

func TestSetScheduleRule_MissingRow(t *testing.T) {
	s := setupStore(t)
	uid := seedUser(t, s, "missing@example.com")
	err := s.SetScheduleRule(context.Background(), uid, 777, dailyRule(base.Add(time.Hour)))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestBulkSetScheduleRule_SkipsSentAndFinalized(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	uid := seedUser(t, s, "bulk@example.com")

	// Four eligible (pending, draft, failed, passed), two not (status sent,
	// ever-sent counter).
	eligible := []string{StatusPending, StatusDraft, StatusFailed, StatusPassed}
	for i, st := range eligible {
		id := seedFollowup(t, s, uid, "E")
		if _, err := s.db.ExecContext(ctx, `UPDATE followups SET status=? WHERE id=?`, st, id); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}
	sentID := seedFollowup(t, s, uid, "S1")
	if _, err := s.db.ExecContext(ctx, `UPDATE followups SET status='sent' WHERE id=?`, sentID); err != nil {
		t.Fatal(err)
	}
	countedID := seedFollowup(t, s, uid, "S2")
	if _, err := s.db.ExecContext(ctx, `UPDATE followups SET sent_count=1 WHERE id=?`, countedID); err != nil {
		t.Fatal(err)
	}

	n, err := s.BulkSetScheduleRule(ctx, uid, dailyRule(base.Add(time.Hour)))
	if err != nil {
		t.Fatalf("BulkSetScheduleRule() error: %v", err)
	}
	if n != 4 {
		t.Errorf("affected = %d, want 4", n)
	}

	// The sent item is untouched.
	f, _ := s.GetFollowup(ctx, uid, sentID)
	if f.ScheduleEnabled || f.Status != StatusSent {
		t.Errorf("sent item modified by bulk: %+v", f)
	}
}

func TestClearSchedule_PreservesSentStatus(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	uid := seedUser(t, s, "clear@example.com")

	// Ever-sent item keeps sent.
	sentID := seedFollowup(t, s, uid, "Sent")
	if _, err := s.db.ExecContext(ctx,
		`UPDATE followups SET status='scheduled', schedule_enabled=1, schedule_repeat='daily', sent_count=3, next_send_at='2026-03-01T08:00:00Z' WHERE id=?`, sentID); err != nil {
		t.Fatal(err)
	}
	if err := s.ClearSchedule(ctx, uid, sentID); err != nil {
		t.Fatalf("ClearSchedule() error: %v", err)
	}
	f, _ := s.GetFollowup(ctx, uid, sentID)
	if f.Status != StatusSent {
		t.Errorf("status = %q, want sent preserved", f.Status)
	}
	if f.ScheduleEnabled || f.NextSendAt != "" || f.ScheduleRepeat != "" {
		t.Errorf("rule not cleared: %+v", f)
	}
	if f.SentCount != 3 {
		t.Errorf("sent_count = %d, must survive clear", f.SentCount)
	}

	// Never-sent item reverts to pending.
	freshID := seedFollowup(t, s, uid, "Fresh")
	if err := s.SetScheduleRule(ctx, uid, freshID, dailyRule(base.Add(time.Hour))); err != nil {
		t.Fatal(err)
	}
	if err := s.ClearSchedule(ctx, uid, freshID); err != nil {
		t.Fatalf("ClearSchedule() error: %v", err)
	}
	f, _ = s.GetFollowup(ctx, uid, freshID)
	if f.Status != StatusPending || f.ScheduleEnabled || f.NextSendAt != "" {
		t.Errorf("fresh item after clear: %+v", f)
	}
}

// =============================================================================
// DUE QUERY & SEND TRANSITIONS
// =============================================================================

func TestDueFollowups_OrderAndLimit(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	uid := seedUser(t, s, "due@example.com")

	mk := func(name string, next time.Time) int64 {
		id := seedFollowup(t, s, uid, name)
		if err := s.SetScheduleRule(ctx, uid, id, dailyRule(next)); err != nil {
			t.Fatalf("rule for %s: %v", name, err)
		}
		return id
	}

	second := mk("second", base.Add(-30*time.Minute))
	first := mk("first", base.Add(-2*time.Hour))
	third := mk("third", base.Add(-1*time.Minute))
	mk("future", base.Add(2*time.Hour))

	// A failed item is not due even with a past slot.
	failedID := mk("failed", base.Add(-1*time.Hour))
	if err := s.MarkSendFailed(ctx, failedID, "boom", base); err != nil {
		t.Fatal(err)
	}

	due, err := s.DueFollowups(ctx, uid, base, 50)
	if err != nil {
		t.Fatalf("DueFollowups() error: %v", err)
	}
	if len(due) != 3 {
		t.Fatalf("due = %d items, want 3", len(due))
	}
	if due[0].ID != first || due[1].ID != second || due[2].ID != third {
		t.Errorf("order = [%d %d %d], want [%d %d %d]",
			due[0].ID, due[1].ID, due[2].ID, first, second, third)
	}

	capped, err := s.DueFollowups(ctx, uid, base, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(capped) != 2 || capped[0].ID != first {
		t.Errorf("capped = %d items starting at %d", len(capped), capped[0].ID)
	}
}

func TestUsersWithDue(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	u1 := seedUser(t, s, "u1@example.com")
	u2 := seedUser(t, s, "u2@example.com")
	u3 := seedUser(t, s, "u3@example.com")

	for _, uid := range []int64{u2, u1} {
		id := seedFollowup(t, s, uid, "due")
		if err := s.SetScheduleRule(ctx, uid, id, dailyRule(base.Add(-time.Hour))); err != nil {
			t.Fatal(err)
		}
	}
	// u3 has only a future item.
	id := seedFollowup(t, s, u3, "future")
	if err := s.SetScheduleRule(ctx, u3, id, dailyRule(base.Add(time.Hour))); err != nil {
		t.Fatal(err)
	}

	ids, err := s.UsersWithDue(ctx, base)
	if err != nil {
		t.Fatalf("UsersWithDue() error: %v", err)
	}
	if len(ids) != 2 || ids[0] != u1 || ids[1] != u2 {
		t.Errorf("ids = %v, want [%d %d] ascending", ids, u1, u2)
	}
}

func TestClaimRunning(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	uid := seedUser(t, s, "claim@example.com")
	id := seedFollowup(t, s, uid, "C")
	if err := s.SetScheduleRule(ctx, uid, id, dailyRule(base.Add(-time.Hour))); err != nil {
		t.Fatal(err)
	}

	claimed, err := s.ClaimRunning(ctx, id, base)
	if err != nil {
		t.Fatalf("ClaimRunning() error: %v", err)
	}
	if !claimed {
		t.Fatal("first claim returned false")
	}

	f, _ := s.GetFollowup(ctx, uid, id)
	if f.Status != StatusRunning || f.LastAttemptAt != FormatTime(base) {
		t.Errorf("after claim: status=%q attempt=%q", f.Status, f.LastAttemptAt)
	}

	// Second claim sees status=running and declines.
	claimed, err = s.ClaimRunning(ctx, id, base.Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if claimed {
		t.Error("second claim succeeded, want false")
	}
}

func TestMarkSendSuccessOnce(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	uid := seedUser(t, s, "once@example.com")
	id := seedFollowup(t, s, uid, "O")
	rule := ScheduleFields{Repeat: "once", StartDate: "2026-02-17", SendTime: "09:00", NextSendAt: FormatTime(base.Add(-time.Minute))}
	if err := s.SetScheduleRule(ctx, uid, id, rule); err != nil {
		t.Fatal(err)
	}

	if err := s.MarkSendSuccessOnce(ctx, id, base); err != nil {
		t.Fatalf("MarkSendSuccessOnce() error: %v", err)
	}
	f, _ := s.GetFollowup(ctx, uid, id)
	if f.Status != StatusSent || f.ScheduleEnabled || f.NextSendAt != "" {
		t.Errorf("after once-send: %+v", f)
	}
	if f.SentCount != 1 || f.LastSentAt != FormatTime(base) {
		t.Errorf("send bookkeeping: count=%d last=%q", f.SentCount, f.LastSentAt)
	}
}

func TestMarkSendSuccessRearm(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	uid := seedUser(t, s, "rearm@example.com")
	id := seedFollowup(t, s, uid, "R")
	if err := s.SetScheduleRule(ctx, uid, id, dailyRule(base.Add(-time.Minute))); err != nil {
		t.Fatal(err)
	}

	next := base.Add(24 * time.Hour)
	if err := s.MarkSendSuccessRearm(ctx, id, base, next); err != nil {
		t.Fatalf("MarkSendSuccessRearm() error: %v", err)
	}
	f, _ := s.GetFollowup(ctx, uid, id)
	if f.Status != StatusScheduled || !f.ScheduleEnabled {
		t.Errorf("after rearm: status=%q enabled=%v", f.Status, f.ScheduleEnabled)
	}
	if f.NextSendAt != FormatTime(next) || f.SentCount != 1 {
		t.Errorf("rearm bookkeeping: next=%q count=%d", f.NextSendAt, f.SentCount)
	}

	// Second delivery increments monotonically.
	if err := s.MarkSendSuccessRearm(ctx, id, base.Add(24*time.Hour), base.Add(48*time.Hour)); err != nil {
		t.Fatal(err)
	}
	f, _ = s.GetFollowup(ctx, uid, id)
	if f.SentCount != 2 {
		t.Errorf("sent_count = %d, want 2", f.SentCount)
	}
}

func TestMarkSendFailed(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	uid := seedUser(t, s, "fail@example.com")
	id := seedFollowup(t, s, uid, "F")
	if err := s.SetScheduleRule(ctx, uid, id, dailyRule(base.Add(-time.Minute))); err != nil {
		t.Fatal(err)
	}

	if err := s.MarkSendFailed(ctx, id, "Gmail not connected", base); err != nil {
		t.Fatalf("MarkSendFailed() error: %v", err)
	}
	f, _ := s.GetFollowup(ctx, uid, id)
	if f.Status != StatusFailed || f.LastError != "Gmail not connected" {
		t.Errorf("after failure: status=%q err=%q", f.Status, f.LastError)
	}
	// Rule survives so a rewrite can recover the item.
	if f.ScheduleRepeat != "daily" || f.NextSendAt == "" {
		t.Errorf("rule clobbered by failure: %+v", f)
	}
}

// =============================================================================
// SWEEPS
// =============================================================================

func TestSweepPassedOnce(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	uid := seedUser(t, s, "sweep@example.com")

	onceRule := func(next time.Time) ScheduleFields {
		return ScheduleFields{Repeat: "once", StartDate: "2026-02-17", SendTime: "09:00", NextSendAt: FormatTime(next)}
	}

	// Stale once item: swept.
	stale := seedFollowup(t, s, uid, "stale")
	if err := s.SetScheduleRule(ctx, uid, stale, onceRule(base.Add(-10*time.Minute))); err != nil {
		t.Fatal(err)
	}
	// Inside the grace window: kept.
	fresh := seedFollowup(t, s, uid, "fresh")
	if err := s.SetScheduleRule(ctx, uid, fresh, onceRule(base.Add(-time.Minute))); err != nil {
		t.Fatal(err)
	}
	// Recurring item is never swept.
	daily := seedFollowup(t, s, uid, "daily")
	if err := s.SetScheduleRule(ctx, uid, daily, dailyRule(base.Add(-10*time.Minute))); err != nil {
		t.Fatal(err)
	}

	cutoff := base.Add(-2 * time.Minute)
	n, err := s.SweepPassedOnce(ctx, uid, cutoff)
	if err != nil {
		t.Fatalf("SweepPassedOnce() error: %v", err)
	}
	if n != 1 {
		t.Errorf("swept = %d, want 1", n)
	}

	f, _ := s.GetFollowup(ctx, uid, stale)
	if f.Status != StatusPassed || f.ScheduleEnabled {
		t.Errorf("stale item: %+v", f)
	}
	f, _ = s.GetFollowup(ctx, uid, fresh)
	if f.Status != StatusScheduled {
		t.Errorf("fresh item swept: %+v", f)
	}
	f, _ = s.GetFollowup(ctx, uid, daily)
	if f.Status != StatusScheduled {
		t.Errorf("recurring item swept: %+v", f)
	}
}

func TestSweepOrphanRunning(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	uid := seedUser(t, s, "orphan@example.com")

	// Orphan: running since before the cutoff.
	orphan := seedFollowup(t, s, uid, "orphan")
	if err := s.SetScheduleRule(ctx, uid, orphan, dailyRule(base.Add(-time.Hour))); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ClaimRunning(ctx, orphan, base.Add(-5*time.Minute)); err != nil {
		t.Fatal(err)
	}

	// In-flight: claimed moments ago.
	live := seedFollowup(t, s, uid, "live")
	if err := s.SetScheduleRule(ctx, uid, live, dailyRule(base.Add(-time.Hour))); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ClaimRunning(ctx, live, base); err != nil {
		t.Fatal(err)
	}

	cutoff := base.Add(-time.Minute) // 2×T for a 30s tick
	n, err := s.SweepOrphanRunning(ctx, cutoff)
	if err != nil {
		t.Fatalf("SweepOrphanRunning() error: %v", err)
	}
	if n != 1 {
		t.Errorf("swept = %d, want 1", n)
	}

	f, _ := s.GetFollowup(ctx, uid, orphan)
	if f.Status != StatusFailed || f.LastError != "send interrupted; will retry" {
		t.Errorf("orphan: %+v", f)
	}
	f, _ = s.GetFollowup(ctx, uid, live)
	if f.Status != StatusRunning {
		t.Errorf("live claim swept: %+v", f)
	}
}

// =============================================================================
// TERMINAL TRANSITIONS
// =============================================================================

func TestMarkReplied(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	uid := seedUser(t, s, "reply@example.com")

	// Legal from sent.
	id := seedFollowup(t, s, uid, "R")
	if err := s.MarkSendSuccessOnce(ctx, id, base); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkReplied(ctx, uid, id, base.Add(time.Hour)); err != nil {
		t.Fatalf("MarkReplied() error: %v", err)
	}
	f, _ := s.GetFollowup(ctx, uid, id)
	if f.Status != StatusReplied || f.RepliedAt == "" {
		t.Errorf("after reply: %+v", f)
	}

	// Illegal from done.
	doneID := seedFollowup(t, s, uid, "D")
	if err := s.MarkDone(ctx, uid, doneID); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkReplied(ctx, uid, doneID, base); !errors.Is(err, ErrAlreadyFinalized) {
		t.Errorf("reply from done: error = %v, want ErrAlreadyFinalized", err)
	}

	// Missing row.
	if err := s.MarkReplied(ctx, uid, 999, base); !errors.Is(err, ErrNotFound) {
		t.Errorf("reply on missing: error = %v, want ErrNotFound", err)
	}
}

func TestMarkDoneByContact(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	uid := seedUser(t, s, "donecontact@example.com")

	a, _ := s.CreateFollowup(ctx, Followup{UserID: uid, ClientName: "A", Email: "Same@Client.Test"})
	b, _ := s.CreateFollowup(ctx, Followup{UserID: uid, ClientName: "B", Email: "same@client.test"})
	if err := s.MarkDone(ctx, uid, b); err != nil {
		t.Fatal(err)
	}
	c, _ := s.CreateFollowup(ctx, Followup{UserID: uid, ClientName: "C", Phone: "+2348012345678"})

	// Email match is case-insensitive and skips already-done rows.
	n, err := s.MarkDoneByEmail(ctx, uid, "SAME@client.test")
	if err != nil {
		t.Fatalf("MarkDoneByEmail() error: %v", err)
	}
	if n != 1 {
		t.Errorf("affected = %d, want 1 (b already done)", n)
	}
	f, _ := s.GetFollowup(ctx, uid, a)
	if f.Status != StatusDone {
		t.Errorf("a status = %q", f.Status)
	}

	n, err = s.MarkDoneByPhone(ctx, uid, "+2348012345678")
	if err != nil {
		t.Fatalf("MarkDoneByPhone() error: %v", err)
	}
	if n != 1 {
		t.Errorf("phone affected = %d, want 1", n)
	}
	f, _ = s.GetFollowup(ctx, uid, c)
	if f.Status != StatusDone {
		t.Errorf("c status = %q", f.Status)
	}
}

func TestDeleteFollowup_RemovesChildren(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	uid := seedUser(t, s, "del@example.com")
	id := seedFollowup(t, s, uid, "D")

	if err := s.AppendSendLog(ctx, id, uid, "sent once", base); err != nil {
		t.Fatal(err)
	}
	if err := s.AddActivity(ctx, uid, id, "send_success", "delivered"); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteFollowup(ctx, uid, id); err != nil {
		t.Fatalf("DeleteFollowup() error: %v", err)
	}

	if _, err := s.GetFollowup(ctx, uid, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("row still present: %v", err)
	}
	var logs, acts int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM whatsapp_logs WHERE followup_id=?`, id).Scan(&logs); err != nil {
		t.Fatal(err)
	}
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM activity_logs WHERE followup_id=?`, id).Scan(&acts); err != nil {
		t.Fatal(err)
	}
	if logs != 0 || acts != 0 {
		t.Errorf("children left behind: logs=%d activity=%d", logs, acts)
	}

	if err := s.DeleteFollowup(ctx, uid, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete error = %v, want ErrNotFound", err)
	}
}

func TestUpdateMessageOverride(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	uid := seedUser(t, s, "ovr@example.com")
	id := seedFollowup(t, s, uid, "O")

	if err := s.UpdateMessageOverride(ctx, uid, id, "Hi Jane,\nJust checking in."); err != nil {
		t.Fatalf("UpdateMessageOverride() error: %v", err)
	}
	f, _ := s.GetFollowup(ctx, uid, id)
	if f.MessageOverride == "" {
		t.Error("override not stored")
	}

	if err := s.UpdateMessageOverride(ctx, uid, id, ""); err != nil {
		t.Fatalf("UpdateMessageOverride(clear) error: %v", err)
	}
	f, _ = s.GetFollowup(ctx, uid, id)
	if f.MessageOverride != "" {
		t.Errorf("override after clear = %q", f.MessageOverride)
	}
}

func TestSendLogs(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	uid := seedUser(t, s, "logs@example.com")
	id := seedFollowup(t, s, uid, "L")

	for i := 0; i < 3; i++ {
		if err := s.AppendSendLog(ctx, id, uid, "msg", base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatal(err)
		}
	}
	logs, err := s.ListSendLogs(ctx, uid, id, 2)
	if err != nil {
		t.Fatalf("ListSendLogs() error: %v", err)
	}
	if len(logs) != 2 {
		t.Errorf("logs = %d, want limit 2", len(logs))
	}
}
