// Package scheduler drives due follow-ups to delivery. A single ticker
// wakes every tick interval, discovers due items per user, renders and
// sends them, and re-arms recurring rules. At most one tick is in flight:
// a slow tick never overlaps itself, and missed wakeups coalesce.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chasehq/followup/internal/pkg/distlock"
	"github.com/chasehq/followup/internal/render"
	"github.com/chasehq/followup/internal/schedule"
	"github.com/chasehq/followup/internal/store"
	"github.com/chasehq/followup/internal/transport"
)

const (
	// DefaultTickInterval is the loop period when none is configured.
	DefaultTickInterval = 30 * time.Second

	// DefaultPerUserCap bounds how many due items one user can consume in
	// a single tick. Overflow stays due and is picked up next tick.
	DefaultPerUserCap = 50

	// passedGrace is how stale an unsent once-item must be before the
	// sweep marks it passed. Must exceed 2x the tick interval so a busy
	// tick cannot strand a healthy item.
	passedGrace = 2 * time.Minute

	// tickTimeout bounds one full tick including transport round-trips.
	tickTimeout = 5 * time.Minute
)

// Scheduler is the background send loop. Construct with New, then Start.
type Scheduler struct {
	store      *store.Store
	sender     transport.Sender
	renderer   *render.Renderer
	limiter    *DailyLimiter
	tickLock   distlock.Lock
	loc        *time.Location
	tick       time.Duration
	perUserCap int
	now        func() time.Time

	// Stats
	ticks     int64
	sends     int64
	failures  int64
	lastTick  atomic.Value // time.Time

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// New creates a scheduler. loc is the timezone schedule rules are
// interpreted in (nil means UTC); tick and perUserCap fall back to the
// defaults when zero.
func New(st *store.Store, sender transport.Sender, r *render.Renderer, loc *time.Location, tick time.Duration, perUserCap int) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	if perUserCap <= 0 {
		perUserCap = DefaultPerUserCap
	}
	return &Scheduler{
		store:      st,
		sender:     sender,
		renderer:   r,
		loc:        loc,
		tick:       tick,
		perUserCap: perUserCap,
		now:        time.Now,
	}
}

// SetDailyLimiter installs the optional per-user daily send cap. Without it
// the loop sends without a daily bound.
func (s *Scheduler) SetDailyLimiter(l *DailyLimiter) {
	s.limiter = l
}

// SetTickLock installs the optional cross-replica tick lock. With several
// server processes sharing one database, only the lock holder runs a tick;
// the others skip and try again next interval.
func (s *Scheduler) SetTickLock(l distlock.Lock) {
	s.tickLock = l
}

// Start launches the loop. An orphan sweep runs immediately so followups
// stranded in running by a crash are failed before the first tick.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	log.Printf("[Scheduler] Starting with tick interval %v (tz %s, per-user cap %d)", s.tick, s.loc, s.perUserCap)

	if n, err := s.store.SweepOrphanRunning(s.ctx, s.now().UTC().Add(-2*s.tick)); err != nil {
		log.Printf("[Scheduler] Startup orphan sweep failed: %v", err)
	} else if n > 0 {
		log.Printf("[Scheduler] Startup orphan sweep failed %d stuck followups", n)
	}

	s.wg.Add(1)
	go s.run()
	return nil
}

// Stop cancels the loop and waits for any in-flight tick.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	log.Printf("[Scheduler] Stopping...")
	s.cancel()
	s.wg.Wait()
	log.Printf("[Scheduler] Stopped. Ticks: %d, sent: %d, failed: %d",
		atomic.LoadInt64(&s.ticks), atomic.LoadInt64(&s.sends), atomic.LoadInt64(&s.failures))
}

// Stats reports loop counters for the status endpoint.
type Stats struct {
	Running  bool      `json:"running"`
	Ticks    int64     `json:"ticks"`
	Sent     int64     `json:"sent"`
	Failed   int64     `json:"failed"`
	LastTick time.Time `json:"last_tick"`
}

// Stats returns a snapshot of the loop counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	st := Stats{
		Running: running,
		Ticks:   atomic.LoadInt64(&s.ticks),
		Sent:    atomic.LoadInt64(&s.sends),
		Failed:  atomic.LoadInt64(&s.failures),
	}
	if v := s.lastTick.Load(); v != nil {
		st.LastTick = v.(time.Time)
	}
	return st
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(s.ctx, tickTimeout)
			s.runTick(ctx, s.now().UTC())
			cancel()
		}
	}
}

// runTick executes one full pass: orphan sweep, per-user due processing,
// passed sweep. Store errors abort only the affected followup or user.
func (s *Scheduler) runTick(ctx context.Context, now time.Time) {
	if s.tickLock != nil {
		held, err := s.tickLock.Acquire(ctx)
		if err != nil {
			// A lock-backend outage must not stop reminders; run the tick.
			log.Printf("[Scheduler] Tick lock unavailable: %v", err)
		} else if !held {
			return
		} else {
			defer func() {
				if err := s.tickLock.Release(context.WithoutCancel(ctx)); err != nil {
					log.Printf("[Scheduler] Tick lock release failed: %v", err)
				}
			}()
		}
	}

	atomic.AddInt64(&s.ticks, 1)
	s.lastTick.Store(now)

	if _, err := s.store.SweepOrphanRunning(ctx, now.Add(-2*s.tick)); err != nil {
		log.Printf("[Scheduler] Orphan sweep failed: %v", err)
	}

	userIDs, err := s.store.UsersWithDue(ctx, now)
	if err != nil {
		log.Printf("[Scheduler] Due-user query failed: %v", err)
		return
	}

	for _, uid := range userIDs {
		if ctx.Err() != nil {
			return
		}
		s.processUser(ctx, uid, now)
	}
}

func (s *Scheduler) processUser(ctx context.Context, userID int64, now time.Time) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		log.Printf("[Scheduler] Load user %d failed: %v", userID, err)
		return
	}

	due, err := s.store.DueFollowups(ctx, userID, now, s.perUserCap)
	if err != nil {
		log.Printf("[Scheduler] Due query for user %d failed: %v", userID, err)
		return
	}

	dailyLimit := 0
	if s.limiter != nil {
		settings, err := s.store.GetSettings(ctx, userID)
		if err != nil {
			log.Printf("[Scheduler] Settings for user %d failed: %v", userID, err)
		} else {
			dailyLimit = settings.DailyLimit
		}
	}

	for _, f := range due {
		if ctx.Err() != nil {
			return
		}
		if s.limiter != nil && dailyLimit > 0 {
			allowed, err := s.limiter.Allow(ctx, userID, dailyLimit, now)
			if err != nil {
				// A limiter outage must not stop reminders; send uncapped.
				log.Printf("[Scheduler] Daily limiter unavailable for user %d: %v", userID, err)
			} else if !allowed {
				log.Printf("[Scheduler] User %d hit daily cap (%d); deferring %d due followups", userID, dailyLimit, len(due))
				break
			}
		}
		s.processFollowup(ctx, user, f, now)
	}

	if _, err := s.store.SweepPassedOnce(ctx, userID, now.Add(-passedGrace)); err != nil {
		log.Printf("[Scheduler] Passed sweep for user %d failed: %v", userID, err)
	}
}

// processFollowup drives one due item through claim, render, send, and
// outcome. Every failure path lands the item in failed with last_error set;
// the rule stays installed so the next tick (or a rewrite) retries.
func (s *Scheduler) processFollowup(ctx context.Context, user store.User, f store.Followup, now time.Time) {
	claimed, err := s.store.ClaimRunning(ctx, f.ID, now)
	if err != nil {
		log.Printf("[Scheduler] Claim of followup %d failed: %v", f.ID, err)
		return
	}
	if !claimed {
		// Another path (a concurrent write, an earlier tick) advanced it.
		return
	}

	body := s.renderer.Email(s.resolveTemplate(ctx, user.ID, f), render.Fields{
		ClientName:      f.ClientName,
		FollowupType:    f.FollowupType,
		Description:     f.Description,
		DueDate:         f.DueDate,
		MessageOverride: f.MessageOverride,
	}, render.Branding{
		CompanyName:  user.CompanyName,
		SupportEmail: user.SupportEmail,
		Footer:       user.EmailFooter,
		Logo:         user.BrandLogo,
	})
	subject := render.Subject(f.FollowupType)

	if _, err := s.sender.Send(ctx, user, f.Email, subject, body); err != nil {
		msg := err.Error()
		if errors.Is(err, transport.ErrNotConnected) {
			msg = "Gmail not connected"
		}
		if markErr := s.store.MarkSendFailed(ctx, f.ID, msg, now); markErr != nil {
			log.Printf("[Scheduler] Recording failure on followup %d failed: %v", f.ID, markErr)
		}
		atomic.AddInt64(&s.failures, 1)
		log.Printf("[Scheduler] Send for followup %d failed: %v", f.ID, err)
		return
	}

	if f.ScheduleRepeat == schedule.RepeatOnce {
		err = s.store.MarkSendSuccessOnce(ctx, f.ID, now)
	} else {
		err = s.store.MarkSendSuccessRearm(ctx, f.ID, now, s.nextOccurrence(f, now))
	}
	if err != nil {
		log.Printf("[Scheduler] Recording success on followup %d failed: %v", f.ID, err)
		return
	}
	atomic.AddInt64(&s.sends, 1)

	// History and UI surfaces; best effort after the durable transition.
	if err := s.store.AppendSendLog(ctx, f.ID, user.ID, subject, now); err != nil {
		log.Printf("[Scheduler] Send log for followup %d failed: %v", f.ID, err)
	}
	if err := s.store.AddActivity(ctx, user.ID, f.ID, "followup_sent", fmt.Sprintf("Sent %q to %s", subject, f.ClientName)); err != nil {
		log.Printf("[Scheduler] Activity for followup %d failed: %v", f.ID, err)
	}
	if err := s.store.AddNotification(ctx, user.ID, fmt.Sprintf("Follow-up sent to %s", f.ClientName)); err != nil {
		log.Printf("[Scheduler] Notification for followup %d failed: %v", f.ID, err)
	}
}

// resolveTemplate picks the body source: the followup's message override
// wins inside the renderer, so this only chooses between the user's saved
// scheduler template and the built-in default.
func (s *Scheduler) resolveTemplate(ctx context.Context, userID int64, f store.Followup) string {
	if f.MessageOverride != "" {
		return ""
	}
	t, err := s.store.GetTemplate(ctx, userID, store.SchedulerTemplateName)
	if err == nil && t.HTMLContent != "" {
		return t.HTMLContent
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Printf("[Scheduler] Template lookup for user %d failed: %v", userID, err)
	}
	return render.DefaultSchedulerTemplate
}

// nextOccurrence re-enters the compiler to arm a recurring rule after a
// send. The start date falls back through the rule's start, the occurrence
// that just fired, the display due date, and finally today.
func (s *Scheduler) nextOccurrence(f store.Followup, now time.Time) time.Time {
	startDate := f.ScheduleStartDate
	if startDate == "" && len(f.NextSendAt) >= 10 {
		startDate = f.NextSendAt[:10]
	}
	if startDate == "" {
		startDate = f.DueDate
	}
	if startDate == "" {
		startDate = now.Format("2006-01-02")
	}

	next, err := schedule.Next(schedule.Rule{
		Repeat:    f.ScheduleRepeat,
		StartDate: startDate,
		EndDate:   f.ScheduleEndDate,
		SendTime:  f.ScheduleSendTime,
		SendTime2: f.ScheduleSendTime2,
		Interval:  f.ScheduleInterval,
		ByWeekday: f.ScheduleByWeekday,
		RelValue:  f.ScheduleRelValue,
		RelUnit:   f.ScheduleRelUnit,
		Timezone:  s.loc.String(),
	}, now)
	if err != nil {
		// The rule was valid at install time; if it no longer compiles,
		// push one minute out so the row stays visible instead of firing
		// in a tight loop.
		log.Printf("[Scheduler] Re-arm compile for followup %d failed: %v", f.ID, err)
		return now.Add(time.Minute)
	}
	if next.Before(now.Add(time.Minute)) {
		next = now.Add(time.Minute)
	}
	return next
}
