package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// SessionManager issues and validates signed session cookies. The cookie
// value is "userID.expiryUnix.signature"; the signature is HMAC-SHA256 over
// the first two parts, so the cookie is tamper-evident without server-side
// session storage.
type SessionManager struct {
	secret     []byte
	cookieName string
	ttl        time.Duration
	secure     bool
	now        func() time.Time
}

// NewSessionManager creates a manager. secure controls the cookie's Secure
// flag; set it behind TLS.
func NewSessionManager(secret, cookieName string, ttl time.Duration, secure bool) *SessionManager {
	return &SessionManager{
		secret:     []byte(secret),
		cookieName: cookieName,
		ttl:        ttl,
		secure:     secure,
		now:        time.Now,
	}
}

func (m *SessionManager) sign(payload string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Token builds a session token for userID.
func (m *SessionManager) Token(userID int64) string {
	payload := fmt.Sprintf("%d.%d", userID, m.now().Add(m.ttl).Unix())
	return payload + "." + m.sign(payload)
}

// Parse validates a token and returns the user id it names.
func (m *SessionManager) Parse(token string) (int64, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return 0, false
	}
	payload := parts[0] + "." + parts[1]
	if !hmac.Equal([]byte(m.sign(payload)), []byte(parts[2])) {
		return 0, false
	}
	expiry, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || m.now().Unix() >= expiry {
		return 0, false
	}
	userID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || userID <= 0 {
		return 0, false
	}
	return userID, true
}

// Issue sets the session cookie for userID on the response.
func (m *SessionManager) Issue(w http.ResponseWriter, userID int64) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    m.Token(userID),
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear expires the session cookie.
func (m *SessionManager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// UserID extracts the authenticated user from the request cookie.
func (m *SessionManager) UserID(r *http.Request) (int64, bool) {
	c, err := r.Cookie(m.cookieName)
	if err != nil || c.Value == "" {
		return 0, false
	}
	return m.Parse(c.Value)
}
