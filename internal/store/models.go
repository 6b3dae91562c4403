package store

// User is an account row. Timestamps and dates are ISO-8601 text, matching
// what the schema stores; empty string means NULL.
type User struct {
	ID                     int64
	Name                   string
	Email                  string
	PasswordHash           string
	GmailToken             string
	CreatedAt              string
	TrialStart             string
	TrialEnd               string
	IsSubscribed           bool
	BrandLogo              string
	BrandColor             string
	CompanyName            string
	SupportEmail           string
	EmailFooter            string
	EmailVerified          bool
	VerificationCode       string
	VerificationExpiresAt  string
	VerificationLastSentAt string
	ResetToken             string
	ResetExpiresAt         string
	SubscriptionStatus     string
	StripeCustomerID       string
	StripeSubscriptionID   string
	Plan                   string
	CurrentPeriodEnd       string
}

// Followup is one reminder row including its schedule rule columns.
// next_send_at is RFC3339 UTC so string comparison orders chronologically.
type Followup struct {
	ID               int64
	UserID           int64
	ClientName       string
	Phone            string
	Email            string
	FollowupType     string
	Description      string
	DueDate          string
	Status           string
	CreatedAt        string
	MessageOverride  string
	PreferredChannel string
	LastError        string
	LastAttemptAt    string
	SentCount        int
	LastSentAt       string
	RepliedAt        string

	ScheduleEnabled   bool
	ScheduleRepeat    string
	ScheduleStartDate string
	ScheduleEndDate   string
	ScheduleSendTime  string
	ScheduleSendTime2 string
	ScheduleInterval  int
	ScheduleByWeekday string
	ScheduleRelValue  int
	ScheduleRelUnit   string
	NextSendAt        string
}

// ScheduleFields is the rule portion written by SetScheduleRule and the bulk
// variant. NextSendAt must already be computed by the caller.
type ScheduleFields struct {
	Repeat     string
	StartDate  string
	EndDate    string
	SendTime   string
	SendTime2  string
	Interval   int
	ByWeekday  string
	RelValue   int
	RelUnit    string
	NextSendAt string
}

// SendLog is one delivery record (legacy table name whatsapp_logs; the live
// path is email but the log survives for history continuity).
type SendLog struct {
	ID         int64
	FollowupID int64
	UserID     int64
	Message    string
	SentAt     string
}

// Notification is a per-user event line shown in the app.
type Notification struct {
	ID        int64
	UserID    int64
	Message   string
	Read      bool
	CreatedAt string
}

// EmailTemplate is a saved per-user template. The scheduler fallback is the
// row named "scheduler_default".
type EmailTemplate struct {
	ID          int64
	UserID      int64
	Name        string
	Subject     string
	HTMLContent string
	CreatedAt   string
}

// Settings holds per-user sending limits.
type Settings struct {
	ID             int64
	UserID         int64
	DailyLimit     int
	DefaultCountry string
}

// SchedulerSettings is the per-user scheduler preference row.
type SchedulerSettings struct {
	UserID          int64
	Enabled         bool
	StartDate       string
	EndDate         string
	SendTime        string
	Mode            string
	LastBulkRunDate string
	CreatedAt       string
	UpdatedAt       string
}

// ActivityEntry is an append-only audit line; FollowupID is 0 when the entry
// is not tied to a specific followup.
type ActivityEntry struct {
	ID         int64
	UserID     int64
	FollowupID int64
	Action     string
	Message    string
	CreatedAt  string
}
