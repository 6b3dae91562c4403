package logger

import "strings"

// RedactEmail masks an email address for safe logging.
// "john.doe@example.com" → "jo***@example.com"
// Short local parts (≤2 chars) are fully masked: "ab@example.com" → "***@example.com"
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

// RedactPhone masks a phone number, keeping the country prefix and the last
// two digits: "+2348012345678" → "+234********78".
func RedactPhone(phone string) string {
	p := strings.TrimSpace(phone)
	if len(p) < 6 {
		return "***"
	}
	keep := 4
	if !strings.HasPrefix(p, "+") {
		keep = 3
	}
	masked := strings.Repeat("*", len(p)-keep-2)
	return p[:keep] + masked + p[len(p)-2:]
}
