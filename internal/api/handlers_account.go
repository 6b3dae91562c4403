package api

import (
	"net/http"

	"github.com/chasehq/followup/internal/scheduler"
	"github.com/chasehq/followup/internal/store"
)

// HandleListNotifications returns the newest notifications.
func (h *Handlers) HandleListNotifications(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListNotifications(r.Context(), userID(r), 50)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if list == nil {
		list = []store.Notification{}
	}
	unread, err := h.store.UnreadNotificationCount(r.Context(), userID(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": list,
		"unread":        unread,
	})
}

// HandleMarkNotificationRead marks one notification as read.
func (h *Handlers) HandleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.store.MarkNotificationRead(r.Context(), userID(r), id); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"read": true})
}

// HandleMarkAllNotificationsRead marks every notification as read.
func (h *Handlers) HandleMarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.MarkAllNotificationsRead(r.Context(), userID(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

// HandleListActivity returns the audit trail.
func (h *Handlers) HandleListActivity(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListActivity(r.Context(), userID(r), 100)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if list == nil {
		list = []store.ActivityEntry{}
	}
	respondJSON(w, http.StatusOK, list)
}

type templateRequest struct {
	Subject     string `json:"subject"`
	HTMLContent string `json:"html_content"`
}

// HandleGetSchedulerTemplate returns the saved scheduler template.
func (h *Handlers) HandleGetSchedulerTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := h.store.GetTemplate(r.Context(), userID(r), store.SchedulerTemplateName)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// HandleSaveSchedulerTemplate saves (or replaces) the scheduler template.
func (h *Handlers) HandleSaveSchedulerTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.store.UpsertTemplate(r.Context(), userID(r), store.SchedulerTemplateName, req.Subject, req.HTMLContent); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"saved": true})
}

// HandleDeleteSchedulerTemplate reverts to the built-in template.
func (h *Handlers) HandleDeleteSchedulerTemplate(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteTemplate(r.Context(), userID(r), store.SchedulerTemplateName); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

type brandingRequest struct {
	Logo         string `json:"brand_logo"`
	Color        string `json:"brand_color"`
	CompanyName  string `json:"company_name"`
	SupportEmail string `json:"support_email"`
	EmailFooter  string `json:"email_footer"`
}

// HandleUpdateBranding saves the presentation settings used in outgoing
// mail.
func (h *Handlers) HandleUpdateBranding(w http.ResponseWriter, r *http.Request) {
	var req brandingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	err := h.store.UpdateBranding(r.Context(), userID(r), req.Logo, req.Color, req.CompanyName, req.SupportEmail, req.EmailFooter)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"saved": true})
}

// HandleGetSettings returns the per-user sending limits.
func (h *Handlers) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.store.GetSettings(r.Context(), userID(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s)
}

type settingsRequest struct {
	DailyLimit     int    `json:"daily_limit"`
	DefaultCountry string `json:"default_country"`
}

// HandleUpdateSettings saves the per-user sending limits.
func (h *Handlers) HandleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.DailyLimit < 0 {
		respondError(w, http.StatusBadRequest, "daily_limit must be >= 0")
		return
	}
	if req.DefaultCountry == "" {
		req.DefaultCountry = "US"
	}
	if err := h.store.UpsertSettings(r.Context(), userID(r), req.DailyLimit, req.DefaultCountry); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"saved": true})
}

// HandleGetSchedulerSettings returns the per-user scheduler preferences.
func (h *Handlers) HandleGetSchedulerSettings(w http.ResponseWriter, r *http.Request) {
	ss, err := h.store.GetSchedulerSettings(r.Context(), userID(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ss)
}

type schedulerSettingsRequest struct {
	Enabled   bool   `json:"enabled"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	SendTime  string `json:"send_time"`
	Mode      string `json:"mode"`
}

// HandleUpdateSchedulerSettings saves the per-user scheduler preferences.
func (h *Handlers) HandleUpdateSchedulerSettings(w http.ResponseWriter, r *http.Request) {
	var req schedulerSettingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Mode == "" {
		req.Mode = "both"
	}
	if req.SendTime == "" {
		req.SendTime = "09:00"
	}
	err := h.store.UpsertSchedulerSettings(r.Context(), store.SchedulerSettings{
		UserID:    userID(r),
		Enabled:   req.Enabled,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		SendTime:  req.SendTime,
		Mode:      req.Mode,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"saved": true})
}

// HandleSchedulerStatus reports the loop's counters.
func (h *Handlers) HandleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		respondJSON(w, http.StatusOK, scheduler.Stats{})
		return
	}
	respondJSON(w, http.StatusOK, h.scheduler.Stats())
}

type subscriptionRequest struct {
	Status         string `json:"status"`
	Plan           string `json:"plan"`
	CustomerID     string `json:"customer_id"`
	SubscriptionID string `json:"subscription_id"`
	PeriodEnd      string `json:"current_period_end"`
	Subscribed     bool   `json:"is_subscribed"`
}

// HandleUpdateSubscription records the billing state pushed by the payment
// integration.
func (h *Handlers) HandleUpdateSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Status == "" {
		respondError(w, http.StatusBadRequest, "status is required")
		return
	}
	err := h.store.UpdateSubscription(r.Context(), userID(r), req.Status, req.Plan, req.CustomerID, req.SubscriptionID, req.PeriodEnd, req.Subscribed)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"saved": true})
}
