package api

import (
	"errors"
	"net/http"

	"github.com/chasehq/followup/internal/auth"
	"github.com/chasehq/followup/internal/store"
)

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleSignup registers a new account and mails the verification code.
func (h *Handlers) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id, err := h.auth.Signup(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrEmailTaken):
			respondError(w, http.StatusConflict, "email already registered")
		case errors.Is(err, auth.ErrInvalidCredentials):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "signup failed")
		}
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"id":                id,
		"verification_sent": true,
	})
}

type verifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// HandleVerifyEmail confirms the signup code and opens a session.
func (h *Handlers) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.auth.VerifyEmail(r.Context(), req.Email, req.Code); err != nil {
		switch {
		case errors.Is(err, auth.ErrCodeExpired):
			respondError(w, http.StatusBadRequest, "verification code expired")
		case errors.Is(err, auth.ErrCodeInvalid):
			respondError(w, http.StatusBadRequest, "verification code invalid")
		default:
			respondError(w, http.StatusInternalServerError, "verification failed")
		}
		return
	}
	u, err := h.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "verification failed")
		return
	}
	h.sessions.Issue(w, u.ID)
	respondJSON(w, http.StatusOK, map[string]bool{"verified": true})
}

type resendRequest struct {
	Email string `json:"email"`
}

// HandleResendCode issues a new verification code, throttled to once a
// minute.
func (h *Handlers) HandleResendCode(w http.ResponseWriter, r *http.Request) {
	var req resendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.auth.ResendCode(r.Context(), req.Email); err != nil {
		if errors.Is(err, auth.ErrResendThrottled) {
			respondError(w, http.StatusTooManyRequests, "a code was sent recently; wait a minute")
			return
		}
		respondError(w, http.StatusInternalServerError, "resend failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"sent": true})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleLogin checks credentials and opens a session.
func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	u, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrEmailNotVerified):
			respondError(w, http.StatusForbidden, "email not verified")
		case errors.Is(err, auth.ErrInvalidCredentials):
			respondError(w, http.StatusUnauthorized, "invalid email or password")
		default:
			respondError(w, http.StatusInternalServerError, "login failed")
		}
		return
	}
	h.sessions.Issue(w, u.ID)
	respondJSON(w, http.StatusOK, userPayload(u))
}

// HandleLogout clears the session cookie.
func (h *Handlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Clear(w)
	respondJSON(w, http.StatusOK, map[string]bool{"logged_out": true})
}

// HandleMe returns the logged-in account.
func (h *Handlers) HandleMe(w http.ResponseWriter, r *http.Request) {
	u, err := h.store.GetUserByID(r.Context(), userID(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, userPayload(u))
}

type forgotRequest struct {
	Email string `json:"email"`
}

// HandleForgotPassword mails a reset link. Always succeeds from the
// caller's perspective.
func (h *Handlers) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.auth.RequestPasswordReset(r.Context(), req.Email); err != nil {
		respondError(w, http.StatusInternalServerError, "reset request failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"sent": true})
}

type resetRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// HandleResetPassword consumes a reset token.
func (h *Handlers) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.auth.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		switch {
		case errors.Is(err, auth.ErrTokenInvalid):
			respondError(w, http.StatusBadRequest, "reset token invalid or expired")
		case errors.Is(err, auth.ErrInvalidCredentials):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "reset failed")
		}
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"reset": true})
}

// userPayload shapes the account for API responses, leaving out the hash
// and token columns.
func userPayload(u store.User) map[string]interface{} {
	return map[string]interface{}{
		"id":                  u.ID,
		"name":                u.Name,
		"email":               u.Email,
		"email_verified":      u.EmailVerified,
		"gmail_connected":     u.GmailToken != "",
		"trial_start":         u.TrialStart,
		"trial_end":           u.TrialEnd,
		"subscription_status": u.SubscriptionStatus,
		"plan":                u.Plan,
		"is_subscribed":       u.IsSubscribed,
		"company_name":        u.CompanyName,
		"support_email":       u.SupportEmail,
		"brand_logo":          u.BrandLogo,
		"brand_color":         u.BrandColor,
		"email_footer":        u.EmailFooter,
	}
}
