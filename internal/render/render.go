// Package render turns followup data and a stored template into the final
// HTML email document. Stored templates go through a restricted grammar
// rather than html/template, and every rendered body passes an HTML
// sanitizer before it ships, so user-authored content cannot smuggle
// script, event handlers or off-scheme URLs into outgoing mail.
package render

import (
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Fields carries the followup values the template grammar can reference.
type Fields struct {
	ClientName      string
	FollowupType    string
	Description     string
	DueDate         string
	MessageOverride string
}

// Branding carries the per-user presentation settings applied to every email.
type Branding struct {
	CompanyName  string
	SupportEmail string
	Footer       string
	Logo         string
}

// Renderer sanitizes and renders scheduler emails. Safe for concurrent use.
type Renderer struct {
	policy   *bluemonday.Policy
	override *bluemonday.Policy
}

func New() *Renderer {
	return &Renderer{policy: mainPolicy(), override: overridePolicy()}
}

// Email produces the complete HTML document for one followup email. A
// non-blank message override bypasses template rendering entirely and is
// sanitized with the tighter override policy.
func (r *Renderer) Email(tmpl string, f Fields, b Branding) string {
	sender := strings.TrimSpace(b.CompanyName)
	if sender == "" {
		sender = "Your Company"
	}
	supportEmail := strings.TrimSpace(b.SupportEmail)
	footer := strings.TrimSpace(b.Footer)
	if supportEmail != "" && footer == "" {
		footer = "Need help? Contact " + supportEmail
	}

	if override := strings.TrimSpace(f.MessageOverride); override != "" {
		safe := r.override.Sanitize(strings.ReplaceAll(override, "\n", "<br>"))
		body := strings.Replace(personalMessageWrapper, "{{content}}", safe, 1)
		return fmt.Sprintf(overrideDocument, body)
	}

	data := map[string]string{
		"name":          strings.TrimSpace(valueOr(f.ClientName, "there")),
		"type":          strings.TrimSpace(valueOr(f.FollowupType, "follow-up")),
		"description":   strings.TrimSpace(f.Description),
		"due_date":      strings.TrimSpace(f.DueDate),
		"sender":        sender,
		"company_name":  sender,
		"brand_logo":    strings.TrimSpace(b.Logo),
		"support_email": supportEmail,
		"footer":        footer,
	}

	body := renderConditionals(tmpl, data)
	body = renderVars(body, data)
	body = r.wrap(r.sanitize(body))
	return fmt.Sprintf(templateDocument, body)
}

// Subject builds the subject line for a followup email.
func Subject(followupType string) string {
	t := strings.TrimSpace(followupType)
	if t == "" {
		t = "follow-up"
	}
	return "Follow-up: " + t
}

func (r *Renderer) sanitize(html string) string {
	return linkify(r.policy.Sanitize(html))
}

// wrap puts already-sanitized content into the outer container, then
// sanitizes once more so the result as a whole stays inside the allow list.
func (r *Renderer) wrap(inner string) string {
	return r.sanitize(strings.Replace(personalMessageWrapper, "{{content}}", inner, 1))
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
