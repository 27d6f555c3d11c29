package rules

import (
	"regexp"
	"strings"

	v1 "github.com/jpatrickfarrell/jat-sub014/pkg/jat/v1"
)

// matchResult carries the matched pattern's capture groups, if any, so
// template expansion can resolve {$1}...{$n} (spec §9 "Capture groups from
// the matched pattern... when multiple patterns matched, use the first in
// rule-declared order that produced groups").
type matchResult struct {
	matched bool
	full    string   // {match} / {$0}
	groups  []string // {$1}...
}

// matchRule implements spec §4.5 step 3a: at least one pattern must match
// (logical OR), evaluated in rule-declared order.
func matchRule(r v1.Rule, haystack string) matchResult {
	var first matchResult
	for _, p := range r.Patterns {
		m := matchPattern(p, haystack)
		if !m.matched {
			continue
		}
		if len(m.groups) > 0 {
			return m
		}
		if !first.matched {
			first = m
		}
	}
	return first
}

func matchPattern(p v1.Pattern, haystack string) matchResult {
	switch p.Mode {
	case v1.PatternRegex:
		re, err := compilePattern(p)
		if err != nil {
			return matchResult{}
		}
		loc := re.FindStringSubmatch(haystack)
		if loc == nil {
			return matchResult{}
		}
		return matchResult{matched: true, full: loc[0], groups: loc[1:]}
	case v1.PatternLiteral:
		h, needle := haystack, p.Text
		if !p.CaseSensitive {
			h = strings.ToLower(h)
			needle = strings.ToLower(needle)
		}
		if idx := strings.Index(h, needle); idx >= 0 {
			return matchResult{matched: true, full: p.Text}
		}
		return matchResult{}
	default:
		return matchResult{}
	}
}

// compilePattern compiles a regex pattern honoring case-sensitivity. Used
// both at match time and at rule-load validation time (spec §4.5 "Regex
// compilation failures on rule load mark that rule disabled").
func compilePattern(p v1.Pattern) (*regexp.Regexp, error) {
	expr := p.Text
	if !p.CaseSensitive {
		expr = "(?i)" + expr
	}
	return regexp.Compile(expr)
}

// ValidateRule checks that a rule has at least one pattern and that every
// regex pattern compiles (spec §8 boundary behavior: zero patterns → load
// error; bad regex → disabled with a validation annotation, not rejected).
func ValidateRule(r *v1.Rule) {
	r.ValidationError = ""
	if len(r.Patterns) == 0 {
		r.ValidationError = "rule must declare at least one pattern"
		r.Enabled = false
		return
	}
	for _, p := range r.Patterns {
		if p.Mode != v1.PatternRegex {
			continue
		}
		if _, err := compilePattern(p); err != nil {
			r.ValidationError = "invalid regex pattern: " + err.Error()
			r.Enabled = false
			return
		}
	}
}
