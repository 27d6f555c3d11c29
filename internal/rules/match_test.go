package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"

	v1 "github.com/jpatrickfarrell/jat-sub014/pkg/jat/v1"
)

func TestMatchRuleRegexCaptureGroups(t *testing.T) {
	rule := v1.Rule{
		Patterns: []v1.Pattern{
			{Mode: v1.PatternRegex, CaseSensitive: true, Text: `npm ERR! code (\w+)`},
		},
	}
	m := matchRule(rule, "[2024-12-11 15:42:33] npm ERR! code ERESOLVE")
	assert.True(t, m.matched)
	assert.Equal(t, []string{"ERESOLVE"}, m.groups)
}

func TestMatchRuleLiteralCaseInsensitive(t *testing.T) {
	rule := v1.Rule{
		Patterns: []v1.Pattern{{Mode: v1.PatternLiteral, CaseSensitive: false, Text: "READY FOR REVIEW"}},
	}
	m := matchRule(rule, "agent says ready for review now")
	assert.True(t, m.matched)
}

func TestMatchRuleNoPatternMatches(t *testing.T) {
	rule := v1.Rule{Patterns: []v1.Pattern{{Mode: v1.PatternLiteral, Text: "foo"}}}
	m := matchRule(rule, "bar baz")
	assert.False(t, m.matched)
}

func TestValidateRuleZeroPatterns(t *testing.T) {
	r := &v1.Rule{Enabled: true}
	ValidateRule(r)
	assert.False(t, r.Enabled)
	assert.NotEmpty(t, r.ValidationError)
}

func TestValidateRuleBadRegexDisables(t *testing.T) {
	r := &v1.Rule{Enabled: true, Patterns: []v1.Pattern{{Mode: v1.PatternRegex, Text: "("}}}
	ValidateRule(r)
	assert.False(t, r.Enabled)
	assert.NotEmpty(t, r.ValidationError)
}

func TestExpandTemplateVariables(t *testing.T) {
	v := TemplateVars{Session: "jat-alpha", Agent: "claude", Match: matchResult{full: "ERESOLVE", groups: []string{"x"}}}
	out := Expand("npm for {session} matched {match} group {$1}", v)
	assert.Equal(t, "npm for jat-alpha matched ERESOLVE group x", out)
}
