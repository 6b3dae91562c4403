package render

import (
	"regexp"
	"strings"
)

// Templates use a restricted grammar instead of a full template engine:
//
//	{{ var }}                    substitution, allow-listed names only
//	{% if var %} ... {% endif %} conditional block, nestable
//
// Unknown variables render empty and stray control tags are stripped, so a
// stored template can never reach beyond the fields listed here.
var allowedVars = map[string]struct{}{
	"name":          {},
	"type":          {},
	"description":   {},
	"sender":        {},
	"company_name":  {},
	"due_date":      {},
	"brand_logo":    {},
	"support_email": {},
	"footer":        {},
	"content":       {},
}

var (
	ifOpenRe  = regexp.MustCompile(`\{%\s*if\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*%\}`)
	ifCloseRe = regexp.MustCompile(`\{%\s*endif\s*%\}`)
	varRe     = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)
	controlRe = regexp.MustCompile(`\{%.*?%\}`)
)

func truthy(v string) bool { return strings.TrimSpace(v) != "" }

// renderConditionals resolves {% if %} blocks line by line. Tag lines are
// dropped from the output; body lines survive only while every enclosing
// block is truthy. A block on an unknown variable is always false.
func renderConditionals(src string, data map[string]string) string {
	var out strings.Builder
	stack := []bool{true}

	for _, line := range strings.SplitAfter(src, "\n") {
		if m := ifOpenRe.FindStringSubmatch(line); m != nil {
			include := false
			if _, ok := allowedVars[m[1]]; ok {
				include = stack[len(stack)-1] && truthy(data[m[1]])
			}
			stack = append(stack, include)
			continue
		}
		if ifCloseRe.MatchString(line) {
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
			continue
		}
		if stack[len(stack)-1] {
			out.WriteString(line)
		}
	}
	return out.String()
}

// renderVars substitutes {{ var }} tokens and strips whatever control tags
// the conditional pass left behind.
func renderVars(src string, data map[string]string) string {
	src = varRe.ReplaceAllStringFunc(src, func(tok string) string {
		key := varRe.FindStringSubmatch(tok)[1]
		if _, ok := allowedVars[key]; !ok {
			return ""
		}
		return data[key]
	})
	return controlRe.ReplaceAllString(src, "")
}
