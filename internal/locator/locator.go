// Package locator resolves one UI control from an ordered list of fallback
// rules. Resolution is explicit: callers get a tagged Result, never a panic or
// an endless retry.
package locator

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const DefaultTimeout = 3 * time.Second

type Kind string

const (
	KindCSS   Kind = "css"
	KindXPath Kind = "xpath"
)

type Rule struct {
	Kind Kind   `json:"kind"`
	Expr string `json:"expr"`
}

func CSS(selector string) Rule {
	return Rule{Kind: KindCSS, Expr: selector}
}

func XPath(expr string) Rule {
	return Rule{Kind: KindXPath, Expr: expr}
}

// Text matches the innermost tag element whose normalized text contains
// text: an element qualifies only if none of its tag descendants also
// contains it, so ancestors such as <html> never match. An empty tag
// matches any element.
func Text(tag, text string) Rule {
	if strings.TrimSpace(tag) == "" {
		tag = "*"
	}
	lit := xpathLiteral(text)
	return XPath(fmt.Sprintf("//%s[contains(normalize-space(.), %s) and not(.//%s[contains(normalize-space(.), %s)])]", tag, lit, tag, lit))
}

func (r Rule) String() string {
	return string(r.Kind) + "=" + r.Expr
}

type Strategy struct {
	Action     string
	Candidates []Rule
	// Timeout bounds each candidate, not the whole strategy.
	Timeout time.Duration
}

func (s Strategy) candidateTimeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return DefaultTimeout
}

// Probe reports nil once rule resolves to a usable control. It must return
// when ctx is done.
type Probe func(ctx context.Context, rule Rule) error

type Result struct {
	Found bool
	Index int
	Rule  Rule
}

func Resolve(ctx context.Context, s Strategy, probe Probe) Result {
	timeout := s.candidateTimeout()
	for i, rule := range s.Candidates {
		if ctx.Err() != nil {
			break
		}
		candCtx, cancel := context.WithTimeout(ctx, timeout)
		err := probe(candCtx, rule)
		cancel()
		if err == nil {
			return Result{Found: true, Index: i, Rule: rule}
		}
	}
	return Result{Index: -1}
}

// Require is Resolve for mandatory controls.
func Require(ctx context.Context, s Strategy, probe Probe) (Rule, error) {
	res := Resolve(ctx, s, probe)
	if !res.Found {
		return Rule{}, &NotFoundError{Action: s.Action, Candidates: s.Candidates}
	}
	return res.Rule, nil
}

type NotFoundError struct {
	Action     string
	Candidates []Rule
}

func (e *NotFoundError) Error() string {
	tried := make([]string, 0, len(e.Candidates))
	for _, c := range e.Candidates {
		tried = append(tried, c.String())
	}
	return fmt.Sprintf("locator not found for %q (tried %d candidates: %s)", e.Action, len(e.Candidates), strings.Join(tried, " | "))
}

func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `'"'`)
		}
		if p != "" {
			quoted = append(quoted, `"`+p+`"`)
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
