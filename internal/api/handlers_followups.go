package api

import (
	"fmt"
	"log"
	"net/http"

	"github.com/chasehq/followup/internal/followup"
	"github.com/chasehq/followup/internal/pkg/logger"
	"github.com/chasehq/followup/internal/store"
)

type followupRequest struct {
	ClientName      string `json:"client_name"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	FollowupType    string `json:"followup_type"`
	Description     string `json:"description"`
	DueDate         string `json:"due_date"`
	MessageOverride string `json:"message_override"`
	Draft           bool   `json:"draft"`
}

func (req followupRequest) input() followup.CreateInput {
	return followup.CreateInput{
		ClientName:      req.ClientName,
		Email:           req.Email,
		Phone:           req.Phone,
		FollowupType:    req.FollowupType,
		Description:     req.Description,
		DueDate:         req.DueDate,
		MessageOverride: req.MessageOverride,
	}
}

// HandleCreateFollowup creates a pending followup, or a draft when the body
// asks for one.
func (h *Handlers) HandleCreateFollowup(w http.ResponseWriter, r *http.Request) {
	var req followupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	uid := userID(r)

	var id int64
	var err error
	if req.Draft {
		id, err = h.followups.CreateDraft(r.Context(), uid, req.input())
	} else {
		id, err = h.followups.Create(r.Context(), uid, req.input())
	}
	if err != nil {
		respondServiceError(w, err)
		return
	}
	h.logActivity(r, uid, id, "followup_created", fmt.Sprintf("Created followup for %s", req.ClientName))
	respondJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// HandleListFollowups returns the user's followups, optionally filtered by
// ?status=.
func (h *Handlers) HandleListFollowups(w http.ResponseWriter, r *http.Request) {
	list, err := h.followups.List(r.Context(), userID(r), r.URL.Query().Get("status"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if list == nil {
		list = []store.Followup{}
	}
	respondJSON(w, http.StatusOK, list)
}

// HandleGetFollowup returns one followup.
func (h *Handlers) HandleGetFollowup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	f, err := h.followups.Get(r.Context(), userID(r), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, f)
}

// HandleUpdateFollowup rewrites contact and content fields.
func (h *Handlers) HandleUpdateFollowup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req followupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.followups.Update(r.Context(), userID(r), id, req.input()); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

// HandleDeleteFollowup removes a followup and its history rows.
func (h *Handlers) HandleDeleteFollowup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	uid := userID(r)
	if err := h.followups.Delete(r.Context(), uid, id); err != nil {
		respondServiceError(w, err)
		return
	}
	h.logActivity(r, uid, 0, "followup_deleted", fmt.Sprintf("Deleted followup %d", id))
	respondJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

type scheduleRequest struct {
	Repeat    string `json:"repeat"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	SendTime  string `json:"send_time"`
	SendTime2 string `json:"send_time_2"`
	Interval  int    `json:"interval"`
	ByWeekday string `json:"byweekday"`
	RelValue  int    `json:"rel_value"`
	RelUnit   string `json:"rel_unit"`
	Timezone  string `json:"timezone"`
}

func (req scheduleRequest) rule() followup.Rule {
	return followup.Rule{
		Repeat:    req.Repeat,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		SendTime:  req.SendTime,
		SendTime2: req.SendTime2,
		Interval:  req.Interval,
		ByWeekday: req.ByWeekday,
		RelValue:  req.RelValue,
		RelUnit:   req.RelUnit,
		Timezone:  req.Timezone,
	}
}

// HandleSetSchedule installs a schedule rule on one followup and returns
// the computed next send instant.
func (h *Handlers) HandleSetSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req scheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	uid := userID(r)
	next, err := h.followups.SetScheduleRule(r.Context(), uid, id, req.rule())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	h.logActivity(r, uid, id, "schedule_set", fmt.Sprintf("Schedule %s installed", req.Repeat))
	respondJSON(w, http.StatusOK, map[string]string{"next_send_at": store.FormatTime(next)})
}

// HandleBulkSetSchedule applies one rule to every open, never-sent followup.
func (h *Handlers) HandleBulkSetSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	uid := userID(r)
	n, err := h.followups.BulkSetScheduleRule(r.Context(), uid, req.rule())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	h.logActivity(r, uid, 0, "schedule_bulk_set", fmt.Sprintf("Schedule %s applied to %d followups", req.Repeat, n))
	respondJSON(w, http.StatusOK, map[string]int64{"affected": n})
}

// HandleClearSchedule removes the rule from a followup.
func (h *Handlers) HandleClearSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.followups.ClearSchedule(r.Context(), userID(r), id); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

// HandleMarkDone closes out a followup.
func (h *Handlers) HandleMarkDone(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	uid := userID(r)
	if err := h.followups.MarkDone(r.Context(), uid, id); err != nil {
		respondServiceError(w, err)
		return
	}
	h.logActivity(r, uid, id, "followup_done", "Marked done")
	respondJSON(w, http.StatusOK, map[string]bool{"done": true})
}

type doneByContactRequest struct {
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// HandleMarkDoneByContact closes every open followup for a contact email or
// phone and returns how many it closed.
func (h *Handlers) HandleMarkDoneByContact(w http.ResponseWriter, r *http.Request) {
	var req doneByContactRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	uid := userID(r)

	var n int64
	var err error
	var contact string
	switch {
	case req.Email != "":
		n, err = h.followups.MarkDoneByEmail(r.Context(), uid, req.Email)
		contact = logger.RedactEmail(req.Email)
	case req.Phone != "":
		n, err = h.followups.MarkDoneByPhone(r.Context(), uid, req.Phone)
		contact = logger.RedactPhone(req.Phone)
	default:
		respondError(w, http.StatusBadRequest, "email or phone is required")
		return
	}
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if n > 0 {
		h.logActivity(r, uid, 0, "followup_done", fmt.Sprintf("Closed %d followups for %s", n, contact))
	}
	respondJSON(w, http.StatusOK, map[string]int64{"closed": n})
}

// HandleMarkReplied records that the client answered.
func (h *Handlers) HandleMarkReplied(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	uid := userID(r)
	if err := h.followups.MarkReplied(r.Context(), uid, id); err != nil {
		respondServiceError(w, err)
		return
	}
	h.logActivity(r, uid, id, "followup_replied", "Client replied")
	respondJSON(w, http.StatusOK, map[string]bool{"replied": true})
}

type overrideRequest struct {
	Message string `json:"message"`
}

// HandleSetMessageOverride sets (or clears, with an empty message) the
// personal text used instead of the template.
func (h *Handlers) HandleSetMessageOverride(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req overrideRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.followups.UpdateMessageOverride(r.Context(), userID(r), id, req.Message); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

// HandleListSendLogs returns the delivery history for one followup.
func (h *Handlers) HandleListSendLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	logs, err := h.store.ListSendLogs(r.Context(), userID(r), id, 100)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if logs == nil {
		logs = []store.SendLog{}
	}
	respondJSON(w, http.StatusOK, logs)
}

// logActivity appends an audit line; failures only log.
func (h *Handlers) logActivity(r *http.Request, uid, fid int64, action, message string) {
	if err := h.store.AddActivity(r.Context(), uid, fid, action, message); err != nil {
		log.Printf("[API] Activity log failed (%s): %v", action, err)
	}
}
