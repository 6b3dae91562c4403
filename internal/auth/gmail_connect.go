package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/chasehq/followup/internal/store"
)

// GmailConnector runs the OAuth flow that links a user's Gmail account for
// sending. The resulting token blob is stored on the user row; the transport
// reads and refreshes it per send.
type GmailConnector struct {
	store        *store.Store
	sessions     *SessionManager
	oauth2Config *oauth2.Config
}

// NewGmailConnector creates the connector. baseURL is the public app address
// the callback is registered under.
func NewGmailConnector(st *store.Store, sessions *SessionManager, clientID, clientSecret, baseURL string) *GmailConnector {
	return &GmailConnector{
		store:    st,
		sessions: sessions,
		oauth2Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  baseURL + "/api/gmail/callback",
			Scopes:       []string{"https://www.googleapis.com/auth/gmail.send"},
			Endpoint:     google.Endpoint,
		},
	}
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// HandleConnect starts the consent flow for the logged-in user.
func (g *GmailConnector) HandleConnect(w http.ResponseWriter, r *http.Request) {
	if _, ok := g.sessions.UserID(r); !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	state, err := generateState()
	if err != nil {
		http.Error(w, "Failed to generate state", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "gmail_oauth_state",
		Value:    state,
		Path:     "/",
		MaxAge:   300,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	// offline + consent forces a refresh token even on re-link.
	url := g.oauth2Config.AuthCodeURL(state, oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"))
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// HandleCallback finishes the consent flow and stores the token.
func (g *GmailConnector) HandleCallback(w http.ResponseWriter, r *http.Request) {
	userID, ok := g.sessions.UserID(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	stateCookie, err := r.Cookie("gmail_oauth_state")
	if err != nil || r.URL.Query().Get("state") != stateCookie.Value {
		log.Printf("[Auth] Gmail connect state mismatch for user %d", userID)
		http.Redirect(w, r, "/settings?gmail=error", http.StatusTemporaryRedirect)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: "gmail_oauth_state", Value: "", Path: "/", MaxAge: -1})

	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		log.Printf("[Auth] Gmail connect denied for user %d: %s", userID, errMsg)
		http.Redirect(w, r, "/settings?gmail=denied", http.StatusTemporaryRedirect)
		return
	}

	token, err := g.oauth2Config.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		log.Printf("[Auth] Gmail code exchange failed for user %d: %v", userID, err)
		http.Redirect(w, r, "/settings?gmail=error", http.StatusTemporaryRedirect)
		return
	}

	blob, err := json.Marshal(token)
	if err != nil {
		http.Error(w, "Failed to encode token", http.StatusInternalServerError)
		return
	}
	if err := g.store.SetGmailToken(r.Context(), userID, string(blob)); err != nil {
		log.Printf("[Auth] Storing Gmail token for user %d failed: %v", userID, err)
		http.Redirect(w, r, "/settings?gmail=error", http.StatusTemporaryRedirect)
		return
	}

	log.Printf("[Auth] Gmail connected for user %d", userID)
	http.Redirect(w, r, "/settings?gmail=connected", http.StatusTemporaryRedirect)
}

// HandleDisconnect drops the stored token.
func (g *GmailConnector) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := g.sessions.UserID(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if err := g.store.SetGmailToken(r.Context(), userID, ""); err != nil {
		http.Error(w, "Failed to disconnect", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
