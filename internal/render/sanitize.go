package render

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// mainPolicy covers everything a scheduler email may carry: block layout,
// lists, simple tables, images and inline style. URL schemes are limited to
// http, https and mailto, and every link picks up rel="nofollow".
func mainPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"div", "p", "br", "b", "strong", "i", "em", "ul", "ol", "li",
		"span", "small", "h1", "h2", "h3", "h4", "a", "img", "hr",
		"table", "thead", "tbody", "tr", "th", "td",
	)
	p.AllowAttrs("style").Globally()
	p.AllowAttrs("href", "target", "rel").OnElements("a")
	p.AllowAttrs("src", "alt", "width", "height", "style").OnElements("img")
	p.AllowURLSchemes("http", "https", "mailto")
	p.RequireNoFollowOnLinks(true)
	return p
}

// overridePolicy is the tighter set applied to personal message overrides:
// inline formatting and links only, no styles, no images.
func overridePolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("b", "strong", "i", "em", "u", "br", "p", "ul", "ol", "li", "div", "span", "a")
	p.AllowAttrs("href", "target", "rel").OnElements("a")
	p.AllowURLSchemes("http", "https", "mailto")
	return p
}

var bareURLRe = regexp.MustCompile(`(?i)\b(?:https?://|www\.)[^\s<>"']+`)

// linkify wraps bare URLs in anchor tags. It walks the markup tag by tag so
// URLs inside attribute values or existing links stay untouched.
func linkify(s string) string {
	var out strings.Builder
	anchors := 0
	for {
		lt := strings.IndexByte(s, '<')
		if lt < 0 {
			writeLinkified(&out, s, anchors)
			return out.String()
		}
		writeLinkified(&out, s[:lt], anchors)

		gt := strings.IndexByte(s[lt:], '>')
		if gt < 0 {
			out.WriteString(s[lt:])
			return out.String()
		}
		tag := s[lt : lt+gt+1]
		switch low := strings.ToLower(tag); {
		case strings.HasPrefix(low, "<a ") || strings.HasPrefix(low, "<a>"):
			anchors++
		case strings.HasPrefix(low, "</a"):
			if anchors > 0 {
				anchors--
			}
		}
		out.WriteString(tag)
		s = s[lt+gt+1:]
	}
}

func writeLinkified(out *strings.Builder, text string, anchors int) {
	if anchors > 0 || text == "" {
		out.WriteString(text)
		return
	}
	out.WriteString(bareURLRe.ReplaceAllStringFunc(text, func(raw string) string {
		url := strings.TrimRight(raw, ".,;:!?)]")
		href := url
		if strings.HasPrefix(strings.ToLower(href), "www.") {
			href = "http://" + href
		}
		return `<a href="` + href + `" rel="nofollow">` + url + `</a>` + raw[len(url):]
	}))
}
