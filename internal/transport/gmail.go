package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/chasehq/followup/internal/pkg/logger"
	"github.com/chasehq/followup/internal/store"
)

const gmailSendURL = "https://gmail.googleapis.com/gmail/v1/users/me/messages/send"

// TokenSaver persists a refreshed credential back to the store so the next
// send does not repeat the refresh round-trip.
type TokenSaver func(ctx context.Context, userID int64, tokenJSON string) error

// GmailSender delivers through the Gmail API using each user's own OAuth
// credential. Tokens are refreshed on demand and persisted via the saver.
type GmailSender struct {
	clientID     string
	clientSecret string
	saveToken    TokenSaver
	httpClient   *http.Client
	sendURL      string
	endpoint     oauth2.Endpoint
}

// NewGmailSender creates a Gmail sender. saveToken may be nil when refreshed
// tokens should not be written back (tests).
func NewGmailSender(clientID, clientSecret string, timeout time.Duration, saveToken TokenSaver) *GmailSender {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &GmailSender{
		clientID:     clientID,
		clientSecret: clientSecret,
		saveToken:    saveToken,
		httpClient:   &http.Client{Timeout: timeout},
		sendURL:      gmailSendURL,
		endpoint:     google.Endpoint,
	}
}

// Send builds an RFC 2822 message and posts it to the Gmail send endpoint.
func (g *GmailSender) Send(ctx context.Context, user store.User, to, subject, htmlBody string) (string, error) {
	tok, err := g.token(ctx, user)
	if err != nil {
		return "", err
	}

	raw := buildRawMessage(user, to, subject, htmlBody)
	payload, _ := json.Marshal(map[string]string{
		"raw": base64.URLEncoding.EncodeToString([]byte(raw)),
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.sendURL, bytes.NewReader(payload))
	if err != nil {
		return "", &Error{Msg: "build request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", &Error{Msg: "gmail send", Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &Error{Msg: fmt.Sprintf("gmail send failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &Error{Msg: "decode gmail response", Err: err}
	}

	log.Printf("[Gmail] Sent to %s (id: %s)", logger.RedactEmail(to), out.ID)
	return out.ID, nil
}

// token parses the stored credential and refreshes it when expired.
func (g *GmailSender) token(ctx context.Context, user store.User) (*oauth2.Token, error) {
	blob := strings.TrimSpace(user.GmailToken)
	if blob == "" {
		return nil, ErrNotConnected
	}

	var tok oauth2.Token
	if err := json.Unmarshal([]byte(blob), &tok); err != nil {
		return nil, &Error{Msg: "corrupt gmail credential", Err: err}
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, ErrNotConnected
	}
	if tok.Valid() {
		return &tok, nil
	}
	if tok.RefreshToken == "" {
		return nil, &Error{Msg: "Gmail access expired or missing refresh_token. Reconnect Gmail."}
	}

	conf := &oauth2.Config{
		ClientID:     g.clientID,
		ClientSecret: g.clientSecret,
		Endpoint:     g.endpoint,
	}
	fresh, err := conf.TokenSource(ctx, &tok).Token()
	if err != nil {
		return nil, &Error{Msg: "Gmail token refresh failed. Reconnect Gmail.", Err: err}
	}

	if g.saveToken != nil {
		if fresh.RefreshToken == "" {
			fresh.RefreshToken = tok.RefreshToken
		}
		if blob, err := json.Marshal(fresh); err == nil {
			if err := g.saveToken(ctx, user.ID, string(blob)); err != nil {
				log.Printf("[Gmail] Failed to persist refreshed token for user %d: %v", user.ID, err)
			}
		}
	}
	return fresh, nil
}

// buildRawMessage assembles the RFC 2822 text/html message Gmail expects in
// the raw field.
func buildRawMessage(user store.User, to, subject, htmlBody string) string {
	from := strings.TrimSpace(user.Email)
	if name := strings.TrimSpace(user.Name); name != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", name), user.Email)
	}

	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(htmlBody)
	return b.String()
}
