package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/chasehq/followup/internal/auth"
)

// SetupRoutes wires every endpoint. gmail may be nil when the OAuth client
// is not configured; the connect endpoints are then absent.
func SetupRoutes(h *Handlers, sessions *auth.SessionManager, gmail *auth.GmailConnector, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthCheck)

	// Account endpoints reachable without a session.
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/signup", h.HandleSignup)
		r.Post("/verify", h.HandleVerifyEmail)
		r.Post("/resend-code", h.HandleResendCode)
		r.Post("/login", h.HandleLogin)
		r.Post("/logout", h.HandleLogout)
		r.Post("/forgot-password", h.HandleForgotPassword)
		r.Post("/reset-password", h.HandleResetPassword)
	})

	// Everything else requires a session.
	r.Route("/api", func(r chi.Router) {
		r.Use(sessions.RequireUser)

		r.Get("/me", h.HandleMe)

		r.Route("/followups", func(r chi.Router) {
			r.Get("/", h.HandleListFollowups)
			r.Post("/", h.HandleCreateFollowup)
			r.Post("/schedule", h.HandleBulkSetSchedule)
			r.Post("/done-by-contact", h.HandleMarkDoneByContact)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.HandleGetFollowup)
				r.Put("/", h.HandleUpdateFollowup)
				r.Delete("/", h.HandleDeleteFollowup)
				r.Post("/schedule", h.HandleSetSchedule)
				r.Delete("/schedule", h.HandleClearSchedule)
				r.Post("/done", h.HandleMarkDone)
				r.Post("/replied", h.HandleMarkReplied)
				r.Put("/message", h.HandleSetMessageOverride)
				r.Get("/logs", h.HandleListSendLogs)
			})
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", h.HandleListNotifications)
			r.Post("/read-all", h.HandleMarkAllNotificationsRead)
			r.Post("/{id}/read", h.HandleMarkNotificationRead)
		})

		r.Get("/activity", h.HandleListActivity)

		r.Route("/template", func(r chi.Router) {
			r.Get("/", h.HandleGetSchedulerTemplate)
			r.Put("/", h.HandleSaveSchedulerTemplate)
			r.Delete("/", h.HandleDeleteSchedulerTemplate)
		})

		r.Put("/branding", h.HandleUpdateBranding)

		r.Route("/settings", func(r chi.Router) {
			r.Get("/", h.HandleGetSettings)
			r.Put("/", h.HandleUpdateSettings)
		})

		r.Route("/scheduler", func(r chi.Router) {
			r.Get("/status", h.HandleSchedulerStatus)
			r.Get("/settings", h.HandleGetSchedulerSettings)
			r.Put("/settings", h.HandleUpdateSchedulerSettings)
		})

		r.Put("/subscription", h.HandleUpdateSubscription)

		if gmail != nil {
			r.Route("/gmail", func(r chi.Router) {
				r.Get("/connect", gmail.HandleConnect)
				r.Get("/callback", gmail.HandleCallback)
				r.Delete("/", gmail.HandleDisconnect)
			})
		}
	})

	return r
}
