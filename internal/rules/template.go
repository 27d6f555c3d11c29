package rules

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TemplateVars holds the expansion context for an action's payload (spec
// §4.5 "Template variables resolved at action time").
type TemplateVars struct {
	Session   string
	Agent     string
	Timestamp time.Time
	Match     matchResult
}

// Expand substitutes {session}, {agent}, {timestamp}, {match}, {$0}...{$n}
// in payload. Capture groups are only available in regex mode; in literal
// mode {$1}... resolve to the empty string (spec §4.5).
func Expand(payload string, v TemplateVars) string {
	r := strings.NewReplacer(
		"{session}", v.Session,
		"{agent}", v.Agent,
		"{timestamp}", v.Timestamp.Format(time.RFC3339),
		"{match}", v.Match.full,
		"{$0}", v.Match.full,
	)
	out := r.Replace(payload)
	return groupRef.ReplaceAllStringFunc(out, func(ref string) string {
		n, err := strconv.Atoi(ref[2 : len(ref)-1])
		if err == nil && n <= len(v.Match.groups) {
			return v.Match.groups[n-1]
		}
		return ""
	})
}

// groupRef matches a {$n} capture-group reference with n >= 1.
var groupRef = regexp.MustCompile(`\{\$([1-9][0-9]*)\}`)
