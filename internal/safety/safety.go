// Package safety implements the lexical gate every SQL statement passes
// before it reaches the query engine. It is deliberately blunt: a prefix
// check, a semicolon check and a whole-word keyword denylist. It is not a
// parser and does not try to be one.
package safety

import (
	"regexp"
	"strings"
)

const (
	ReasonOK            = "OK"
	ReasonNotSelect     = "Only SELECT queries are allowed."
	ReasonSemicolon     = "Semicolons are not allowed."
	forbiddenReasonBase = "Forbidden keyword detected: "
)

// Verdict is the outcome of one Validate call.
type Verdict struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// Policy is the ordered keyword denylist. The first listed keyword found in
// a statement is the one reported.
type Policy struct {
	Forbidden []string
}

func DefaultPolicy() Policy {
	return Policy{Forbidden: []string{
		"insert", "update", "delete", "drop", "alter", "create",
		"truncate", "attach", "detach", "copy", "export", "import",
	}}
}

// keywordRule matches kw as a whole word. Word boundaries are spelled out
// with Unicode classes since \b treats only ASCII as word characters.
type keywordRule struct {
	keyword string
	pattern *regexp.Regexp
}

// Gate is immutable after NewGate and safe for concurrent use.
type Gate struct {
	rules []keywordRule
}

func NewGate(policy Policy) *Gate {
	rules := make([]keywordRule, 0, len(policy.Forbidden))
	for _, kw := range policy.Forbidden {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		rules = append(rules, keywordRule{
			keyword: kw,
			pattern: regexp.MustCompile(`(?i)(?:^|[^\pL\pN_])` + regexp.QuoteMeta(kw) + `(?:$|[^\pL\pN_])`),
		})
	}
	return &Gate{rules: rules}
}

// Validate checks sql against the gate's rules in order; the first failing
// rule decides the verdict.
func (g *Gate) Validate(sql string) Verdict {
	normalized := strings.ToLower(strings.TrimSpace(sql))
	if !strings.HasPrefix(normalized, "select") {
		return Verdict{Reason: ReasonNotSelect}
	}
	if strings.Contains(normalized, ";") {
		return Verdict{Reason: ReasonSemicolon}
	}
	for _, rule := range g.rules {
		if rule.pattern.MatchString(normalized) {
			return Verdict{Reason: ForbiddenReason(rule.keyword)}
		}
	}
	return Verdict{Allowed: true, Reason: ReasonOK}
}

func ForbiddenReason(keyword string) string {
	return forbiddenReasonBase + keyword
}
