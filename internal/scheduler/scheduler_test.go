package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chasehq/followup/internal/render"
	"github.com/chasehq/followup/internal/store"
	"github.com/chasehq/followup/internal/transport"
)

// frozenNow is the clock every test tick runs at.
var frozenNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type sentMail struct {
	UserID  int64
	To      string
	Subject string
	Body    string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (f *fakeSender) Send(_ context.Context, u store.User, to, subject, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, sentMail{UserID: u.ID, To: to, Subject: subject, Body: body})
	return "fake-msg-id", nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func setupScheduler(t *testing.T) (*Scheduler, *store.Store, *fakeSender) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "followup.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("Init() error: %v", err)
	}

	sender := &fakeSender{}
	s := New(st, sender, render.New(), time.UTC, 30*time.Second, DefaultPerUserCap)
	s.now = func() time.Time { return frozenNow }
	return s, st, sender
}

func seedUser(t *testing.T, st *store.Store, email string) int64 {
	t.Helper()
	id, err := st.CreateUser(context.Background(), store.User{
		Name:         "Test User",
		Email:        email,
		PasswordHash: "x",
	})
	if err != nil {
		t.Fatalf("CreateUser() error: %v", err)
	}
	return id
}

// seedDue creates a followup with an installed rule whose next_send_at is
// already in the past, so the next tick picks it up.
func seedDue(t *testing.T, st *store.Store, userID int64, clientName, repeat string, due time.Time) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := st.CreateFollowup(ctx, store.Followup{
		UserID:       userID,
		ClientName:   clientName,
		Email:        "client@example.com",
		FollowupType: "invoice",
	})
	if err != nil {
		t.Fatalf("CreateFollowup() error: %v", err)
	}
	err = st.SetScheduleRule(ctx, userID, id, store.ScheduleFields{
		Repeat:     repeat,
		StartDate:  "2026-03-01",
		SendTime:   "09:00",
		NextSendAt: store.FormatTime(due),
	})
	if err != nil {
		t.Fatalf("SetScheduleRule() error: %v", err)
	}
	return id
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestScheduler_StartStop(t *testing.T) {
	s, _, _ := setupScheduler(t)

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := s.Start(); err == nil {
		t.Error("double Start() should return error")
	}
	if !s.Stats().Running {
		t.Error("Stats().Running should be true after Start()")
	}

	s.Stop()
	if s.Stats().Running {
		t.Error("Stats().Running should be false after Stop()")
	}

	// Stop on a stopped scheduler is a no-op.
	s.Stop()
}

// =============================================================================
// SEND OUTCOMES
// =============================================================================

func TestRunTick_OnceFinalizesAfterSend(t *testing.T) {
	s, st, sender := setupScheduler(t)
	ctx := context.Background()
	uid := seedUser(t, st, "once@example.com")
	fid := seedDue(t, st, uid, "Ada Client", "once", frozenNow.Add(-time.Minute))

	s.runTick(ctx, frozenNow)

	if sender.count() != 1 {
		t.Fatalf("sent %d mails, want 1", sender.count())
	}
	mail := sender.sent[0]
	if mail.To != "client@example.com" {
		t.Errorf("sent to %q", mail.To)
	}
	if mail.Subject != "Follow-up: invoice" {
		t.Errorf("subject = %q", mail.Subject)
	}
	if !strings.Contains(mail.Body, "Ada Client") {
		t.Errorf("body should greet the client:\n%s", mail.Body)
	}

	f, err := st.GetFollowup(ctx, uid, fid)
	if err != nil {
		t.Fatalf("GetFollowup() error: %v", err)
	}
	if f.Status != store.StatusSent {
		t.Errorf("status = %q, want sent", f.Status)
	}
	if f.ScheduleEnabled || f.NextSendAt != "" {
		t.Errorf("once item should be disarmed: enabled=%v next=%q", f.ScheduleEnabled, f.NextSendAt)
	}
	if f.SentCount != 1 || f.LastSentAt == "" {
		t.Errorf("send history not recorded: count=%d last=%q", f.SentCount, f.LastSentAt)
	}

	logs, err := st.ListSendLogs(ctx, uid, fid, 10)
	if err != nil {
		t.Fatalf("ListSendLogs() error: %v", err)
	}
	if len(logs) != 1 {
		t.Errorf("send logs = %d, want 1", len(logs))
	}
	if n, _ := st.UnreadNotificationCount(ctx, uid); n != 1 {
		t.Errorf("unread notifications = %d, want 1", n)
	}
}

func TestRunTick_DailyRearms(t *testing.T) {
	s, st, sender := setupScheduler(t)
	ctx := context.Background()
	uid := seedUser(t, st, "daily@example.com")
	fid := seedDue(t, st, uid, "Daily Client", "daily", frozenNow.Add(-time.Minute))

	s.runTick(ctx, frozenNow)

	if sender.count() != 1 {
		t.Fatalf("sent %d mails, want 1", sender.count())
	}
	f, _ := st.GetFollowup(ctx, uid, fid)
	if f.Status != store.StatusScheduled {
		t.Errorf("status = %q, want scheduled", f.Status)
	}
	if !f.ScheduleEnabled {
		t.Error("recurring item must stay armed")
	}
	// 09:00 already passed at the frozen clock, so the rule re-arms for
	// tomorrow at 09:00 UTC.
	want := store.FormatTime(time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC))
	if f.NextSendAt != want {
		t.Errorf("next_send_at = %q, want %q", f.NextSendAt, want)
	}
	if f.SentCount != 1 {
		t.Errorf("sent_count = %d, want 1", f.SentCount)
	}
}

func TestRunTick_SendFailureKeepsRule(t *testing.T) {
	s, st, sender := setupScheduler(t)
	ctx := context.Background()
	uid := seedUser(t, st, "fail@example.com")
	due := frozenNow.Add(-time.Minute)
	fid := seedDue(t, st, uid, "Fail Client", "daily", due)

	sender.err = &transport.Error{Msg: "gmail send failed: status 500"}
	s.runTick(ctx, frozenNow)

	f, _ := st.GetFollowup(ctx, uid, fid)
	if f.Status != store.StatusFailed {
		t.Errorf("status = %q, want failed", f.Status)
	}
	if !strings.Contains(f.LastError, "500") {
		t.Errorf("last_error = %q, want the provider detail", f.LastError)
	}
	// The rule and occurrence survive a failure so a later rule write can
	// bring the item back.
	if f.NextSendAt != store.FormatTime(due) {
		t.Errorf("next_send_at = %q, want untouched %q", f.NextSendAt, store.FormatTime(due))
	}
	if f.SentCount != 0 {
		t.Errorf("sent_count = %d, want 0", f.SentCount)
	}
	if got := s.Stats().Failed; got != 1 {
		t.Errorf("Stats().Failed = %d, want 1", got)
	}
}

func TestRunTick_NotConnectedUsesStableMessage(t *testing.T) {
	s, st, sender := setupScheduler(t)
	ctx := context.Background()
	uid := seedUser(t, st, "noauth@example.com")
	fid := seedDue(t, st, uid, "NoAuth Client", "once", frozenNow.Add(-time.Minute))

	sender.err = transport.ErrNotConnected
	s.runTick(ctx, frozenNow)

	f, _ := st.GetFollowup(ctx, uid, fid)
	if f.Status != store.StatusFailed {
		t.Errorf("status = %q, want failed", f.Status)
	}
	if f.LastError != "Gmail not connected" {
		t.Errorf("last_error = %q, want the stable reconnect message", f.LastError)
	}
}

func TestRunTick_SecondTickSendsNothing(t *testing.T) {
	s, st, sender := setupScheduler(t)
	ctx := context.Background()
	uid := seedUser(t, st, "idem@example.com")
	seedDue(t, st, uid, "Idem Client", "once", frozenNow.Add(-time.Minute))

	s.runTick(ctx, frozenNow)
	s.runTick(ctx, frozenNow.Add(30*time.Second))

	if sender.count() != 1 {
		t.Errorf("sent %d mails across two ticks, want 1", sender.count())
	}
}

// =============================================================================
// TEMPLATE SELECTION
// =============================================================================

func TestRunTick_MessageOverrideWinsOverTemplate(t *testing.T) {
	s, st, sender := setupScheduler(t)
	ctx := context.Background()
	uid := seedUser(t, st, "ovr@example.com")
	fid := seedDue(t, st, uid, "Ovr Client", "once", frozenNow.Add(-time.Minute))

	if err := st.UpsertTemplate(ctx, uid, store.SchedulerTemplateName, "", "<p>Saved template for {{name}}</p>"); err != nil {
		t.Fatalf("UpsertTemplate() error: %v", err)
	}
	if err := st.UpdateMessageOverride(ctx, uid, fid, "Personal note just for you"); err != nil {
		t.Fatalf("UpdateMessageOverride() error: %v", err)
	}

	s.runTick(ctx, frozenNow)

	if sender.count() != 1 {
		t.Fatalf("sent %d mails, want 1", sender.count())
	}
	body := sender.sent[0].Body
	if !strings.Contains(body, "Personal note just for you") {
		t.Errorf("override not rendered:\n%s", body)
	}
	if strings.Contains(body, "Saved template") {
		t.Errorf("saved template should be bypassed by the override:\n%s", body)
	}
}

func TestRunTick_SavedTemplateUsedWhenNoOverride(t *testing.T) {
	s, st, sender := setupScheduler(t)
	ctx := context.Background()
	uid := seedUser(t, st, "tpl@example.com")
	seedDue(t, st, uid, "Tpl Client", "once", frozenNow.Add(-time.Minute))

	if err := st.UpsertTemplate(ctx, uid, store.SchedulerTemplateName, "", "<p>Saved template for {{name}}</p>"); err != nil {
		t.Fatalf("UpsertTemplate() error: %v", err)
	}

	s.runTick(ctx, frozenNow)

	if sender.count() != 1 {
		t.Fatalf("sent %d mails, want 1", sender.count())
	}
	if !strings.Contains(sender.sent[0].Body, "Saved template for Tpl Client") {
		t.Errorf("saved template not used:\n%s", sender.sent[0].Body)
	}
}

// =============================================================================
// SWEEPS
// =============================================================================

func TestRunTick_PassedSweepCatchesOverflow(t *testing.T) {
	s, st, sender := setupScheduler(t)
	s.perUserCap = 1
	ctx := context.Background()
	uid := seedUser(t, st, "sweep@example.com")

	// Oldest first: the cap spends the tick on the 10-minute-old item, the
	// 5-minute-old once item stays unsent and falls past the grace window.
	seedDue(t, st, uid, "Older", "once", frozenNow.Add(-10*time.Minute))
	newer := seedDue(t, st, uid, "Newer", "once", frozenNow.Add(-5*time.Minute))

	s.runTick(ctx, frozenNow)

	if sender.count() != 1 {
		t.Fatalf("sent %d mails, want 1 (cap)", sender.count())
	}
	if sender.sent[0].To != "client@example.com" || !strings.Contains(sender.sent[0].Body, "Older") {
		t.Errorf("wrong item sent first: %+v", sender.sent[0])
	}

	f, _ := st.GetFollowup(ctx, uid, newer)
	if f.Status != store.StatusPassed {
		t.Errorf("overflow item status = %q, want passed", f.Status)
	}
	if f.ScheduleEnabled {
		t.Error("passed item must be disarmed")
	}
}

func TestRunTick_OrphanSweepFailsStuckRunning(t *testing.T) {
	s, st, _ := setupScheduler(t)
	ctx := context.Background()
	uid := seedUser(t, st, "orphan@example.com")
	fid := seedDue(t, st, uid, "Orphan Client", "once", frozenNow.Add(-2*time.Hour))

	// Simulate a crash mid-send: claimed long ago, outcome never recorded.
	claimed, err := st.ClaimRunning(ctx, fid, frozenNow.Add(-2*time.Hour))
	if err != nil || !claimed {
		t.Fatalf("ClaimRunning() = %v, %v", claimed, err)
	}

	s.runTick(ctx, frozenNow)

	f, _ := st.GetFollowup(ctx, uid, fid)
	if f.Status != store.StatusFailed {
		t.Errorf("status = %q, want failed", f.Status)
	}
	if f.LastError != "send interrupted; will retry" {
		t.Errorf("last_error = %q", f.LastError)
	}
}

// =============================================================================
// RE-ARM FALLBACKS
// =============================================================================

func TestNextOccurrence_FallsBackToToday(t *testing.T) {
	s, _, _ := setupScheduler(t)

	// No start date anywhere: the re-arm anchors on today.
	next := s.nextOccurrence(store.Followup{
		ID:               1,
		ScheduleRepeat:   "daily",
		ScheduleSendTime: "09:00",
	}, frozenNow)

	want := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestNextOccurrence_ClampsNearFutureToOneMinute(t *testing.T) {
	s, _, _ := setupScheduler(t)

	// A relative rule in minutes can land inside the current tick; the loop
	// pushes it at least a minute out so it cannot re-fire immediately.
	next := s.nextOccurrence(store.Followup{
		ID:               2,
		ScheduleRepeat:   "relative",
		ScheduleRelValue: 1,
		ScheduleRelUnit:  "minutes",
	}, frozenNow)

	if next.Before(frozenNow.Add(time.Minute)) {
		t.Errorf("next = %v, want >= now+1m", next)
	}
}

func TestNextOccurrence_BadRuleDefersOneMinute(t *testing.T) {
	s, _, _ := setupScheduler(t)

	next := s.nextOccurrence(store.Followup{
		ID:             3,
		ScheduleRepeat: "weekly", // weekly without start_date cannot compile
	}, frozenNow)

	if !next.Equal(frozenNow.Add(time.Minute)) {
		t.Errorf("next = %v, want now+1m", next)
	}
}

// =============================================================================
// DAILY CAP
// =============================================================================

func TestRunTick_DailyCapDefersOverflow(t *testing.T) {
	s, st, sender := setupScheduler(t)
	s.SetDailyLimiter(setupLimiter(t))
	ctx := context.Background()
	uid := seedUser(t, st, "cap@example.com")

	if err := st.UpsertSettings(ctx, uid, 1, "US"); err != nil {
		t.Fatalf("UpsertSettings() error: %v", err)
	}
	seedDue(t, st, uid, "Cap One", "once", frozenNow.Add(-90*time.Second))
	second := seedDue(t, st, uid, "Cap Two", "once", frozenNow.Add(-time.Minute))

	s.runTick(ctx, frozenNow)

	if sender.count() != 1 {
		t.Fatalf("sent %d mails, want 1 (daily cap)", sender.count())
	}
	f, _ := st.GetFollowup(ctx, uid, second)
	if f.Status != store.StatusScheduled {
		t.Errorf("deferred item status = %q, want scheduled", f.Status)
	}
	if f.NextSendAt == "" {
		t.Error("deferred item must keep its occurrence")
	}
}

// =============================================================================
// MULTI-USER ISOLATION
// =============================================================================

func TestRunTick_UserErrorDoesNotBlockOthers(t *testing.T) {
	s, st, sender := setupScheduler(t)
	ctx := context.Background()

	u1 := seedUser(t, st, "one@example.com")
	u2 := seedUser(t, st, "two@example.com")
	seedDue(t, st, u1, "Client One", "once", frozenNow.Add(-time.Minute))
	seedDue(t, st, u2, "Client Two", "once", frozenNow.Add(-time.Minute))

	s.runTick(ctx, frozenNow)

	if sender.count() != 2 {
		t.Fatalf("sent %d mails, want 2", sender.count())
	}
	seen := map[int64]bool{}
	for _, m := range sender.sent {
		seen[m.UserID] = true
	}
	if !seen[u1] || !seen[u2] {
		t.Errorf("both users should be served, got %+v", sender.sent)
	}
	if got := s.Stats().Sent; got != 2 {
		t.Errorf("Stats().Sent = %d, want 2", got)
	}
}

func TestRunTick_ErrorsDoNotPanicWithoutSenderError(t *testing.T) {
	s, st, _ := setupScheduler(t)
	ctx := context.Background()

	// A tick over an empty database is a no-op.
	s.runTick(ctx, frozenNow)
	if got := s.Stats().Ticks; got != 1 {
		t.Errorf("Stats().Ticks = %d, want 1", got)
	}

	// A cancelled context aborts the tick without touching rows.
	uid := seedUser(t, st, "cancel@example.com")
	fid := seedDue(t, st, uid, "Cancel Client", "once", frozenNow.Add(-time.Minute))
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	s.runTick(cancelled, frozenNow)

	f, err := st.GetFollowup(ctx, uid, fid)
	if err != nil {
		t.Fatalf("GetFollowup() error: %v", err)
	}
	if f.Status == store.StatusSent {
		t.Error("cancelled tick must not deliver")
	}
}

func TestRunTick_NotConnectedIsErrorsIsCompatible(t *testing.T) {
	// The loop matches the sentinel through wrapping, same as callers of the
	// transport package.
	wrapped := &transport.Error{Msg: "token refresh failed", Err: transport.ErrNotConnected}
	if !errors.Is(wrapped, transport.ErrNotConnected) {
		t.Fatal("wrapped transport error should match ErrNotConnected")
	}
}

// =============================================================================
// TICK LOCK
// =============================================================================

type fakeLock struct {
	held     bool
	err      error
	acquires int
	releases int
}

func (l *fakeLock) Acquire(context.Context) (bool, error) {
	l.acquires++
	if l.err != nil {
		return false, l.err
	}
	return !l.held, nil
}

func (l *fakeLock) Release(context.Context) error {
	l.releases++
	return nil
}

func TestRunTick_SkipsWhileLockHeldElsewhere(t *testing.T) {
	s, st, sender := setupScheduler(t)
	ctx := context.Background()
	uid := seedUser(t, st, "lock@example.com")
	seedDue(t, st, uid, "Lock Client", "once", frozenNow.Add(-time.Minute))

	lock := &fakeLock{held: true}
	s.SetTickLock(lock)

	s.runTick(ctx, frozenNow)

	if sender.count() != 0 {
		t.Errorf("sent %d mails while lock held elsewhere, want 0", sender.count())
	}
	if got := s.Stats().Ticks; got != 0 {
		t.Errorf("Stats().Ticks = %d, want 0 (skipped tick does not count)", got)
	}
	if lock.releases != 0 {
		t.Error("skipped tick must not release a lock it does not hold")
	}
}

func TestRunTick_RunsAndReleasesWhenLockFree(t *testing.T) {
	s, st, sender := setupScheduler(t)
	ctx := context.Background()
	uid := seedUser(t, st, "lockfree@example.com")
	seedDue(t, st, uid, "Free Client", "once", frozenNow.Add(-time.Minute))

	lock := &fakeLock{}
	s.SetTickLock(lock)

	s.runTick(ctx, frozenNow)

	if sender.count() != 1 {
		t.Fatalf("sent %d mails, want 1", sender.count())
	}
	if lock.acquires != 1 || lock.releases != 1 {
		t.Errorf("acquires = %d, releases = %d; want 1, 1", lock.acquires, lock.releases)
	}
}

func TestRunTick_LockOutageDoesNotStopSends(t *testing.T) {
	s, st, sender := setupScheduler(t)
	ctx := context.Background()
	uid := seedUser(t, st, "lockdown@example.com")
	seedDue(t, st, uid, "Outage Client", "once", frozenNow.Add(-time.Minute))

	lock := &fakeLock{err: errors.New("connection refused")}
	s.SetTickLock(lock)

	s.runTick(ctx, frozenNow)

	if sender.count() != 1 {
		t.Fatalf("sent %d mails during lock outage, want 1", sender.count())
	}
	if lock.releases != 0 {
		t.Error("failed acquire must not be released")
	}
}
