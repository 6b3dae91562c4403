package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/chasehq/followup/internal/auth"
	"github.com/chasehq/followup/internal/followup"
	"github.com/chasehq/followup/internal/scheduler"
	"github.com/chasehq/followup/internal/store"
	"github.com/chasehq/followup/internal/transport"
)

// Handlers carries the wired services every endpoint needs.
type Handlers struct {
	store     *store.Store
	followups *followup.Service
	auth      *auth.Service
	sessions  *auth.SessionManager
	scheduler *scheduler.Scheduler
}

// NewHandlers creates the handler set. scheduler may be nil (status
// endpoint then reports not running).
func NewHandlers(st *store.Store, fs *followup.Service, as *auth.Service, sessions *auth.SessionManager, sched *scheduler.Scheduler) *Handlers {
	return &Handlers{
		store:     st,
		followups: fs,
		auth:      as,
		sessions:  sessions,
		scheduler: sched,
	}
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Response helpers

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps service error kinds onto HTTP statuses:
// validation 400, missing 404, finalized 409, transport 502, everything
// else 500.
func respondServiceError(w http.ResponseWriter, err error) {
	var terr *transport.Error
	switch {
	case errors.Is(err, followup.ErrInvalidRule),
		errors.Is(err, followup.ErrContactMissing):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, followup.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, followup.ErrAlreadyFinalized):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, transport.ErrNotConnected):
		respondError(w, http.StatusBadGateway, "Gmail not connected")
	case errors.As(err, &terr):
		respondError(w, http.StatusBadGateway, terr.Msg)
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeJSON reads the request body into dst; false means the 400 response
// was already written.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// userID returns the authenticated account id placed by RequireUser.
func userID(r *http.Request) int64 {
	id, _ := auth.UserIDFromContext(r.Context())
	return id
}

// pathID parses the {id} URL parameter.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}
