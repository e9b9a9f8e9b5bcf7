// Package redact masks personal data in free text before it is sent to an
// external scoring provider.
package redact

import (
	"regexp"
	"strings"
)

// Kind names a category of personal data.
type Kind string

const (
	KindEmail         Kind = "email"
	KindCreditCard    Kind = "credit_card"
	KindAccountNumber Kind = "account_number"
	KindRoutingNumber Kind = "routing_number"
	KindSSN           Kind = "ssn"
	KindPhone         Kind = "phone"
	KindIPAddress     Kind = "ip_address"
)

const mask = "*"

type pattern struct {
	kind Kind
	re   *regexp.Regexp
	// group is the submatch that gets masked; 0 masks the whole match.
	group int
	apply func(s string) string
}

// Redactor masks personal data. It is stateless and safe for concurrent use.
type Redactor struct {
	patterns []pattern
}

// Result is the outcome of redacting one text.
type Result struct {
	Text   string
	Counts map[Kind]int
}

// Total returns how many values were masked.
func (r Result) Total() int {
	n := 0
	for _, c := range r.Counts {
		n += c
	}
	return n
}

// Detail summarizes the redaction for an audit trail.
func (r Result) Detail() map[string]any {
	summary := make(map[string]int, len(r.Counts))
	for k, v := range r.Counts {
		summary[string(k)] = v
	}
	return map[string]any{
		"pii_detected":    r.Total() > 0,
		"pii_summary":     summary,
		"redaction_count": r.Total(),
	}
}

// New returns a Redactor with the built-in patterns. Patterns run in
// order and later ones never see digits an earlier one masked.
func New() *Redactor {
	return &Redactor{patterns: []pattern{
		{kind: KindEmail, re: regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), apply: maskEmail},
		{kind: KindCreditCard, re: regexp.MustCompile(`\b(?:4\d{3}|5[1-5]\d{2}|3[47]\d{2}|6011)[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`), apply: maskAllButLastFour},
		{kind: KindAccountNumber, re: regexp.MustCompile(`(?i)\b(?:account|acct)[\s#:]*(\d{8,16})\b`), group: 1, apply: maskDigits},
		{kind: KindRoutingNumber, re: regexp.MustCompile(`(?i)\b(?:routing|rtn)[\s#:]*(\d{9})\b`), group: 1, apply: maskDigits},
		{kind: KindSSN, re: regexp.MustCompile(`\b\d{3}-?\d{2}-?\d{4}\b`), apply: maskDigits},
		{kind: KindPhone, re: regexp.MustCompile(`(?:\+?1[-.\s]?)?\(?\b\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`), apply: maskDigits},
		{kind: KindIPAddress, re: regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|[01]?\d\d?)\.){3}(?:25[0-5]|2[0-4]\d|[01]?\d\d?)\b`), apply: maskDigits},
	}}
}

// Redact masks every recognized value in text.
func (r *Redactor) Redact(text string) Result {
	res := Result{Text: text, Counts: make(map[Kind]int)}
	for _, p := range r.patterns {
		res.Text = p.replace(res.Text, res.Counts)
	}
	return res
}

func (p pattern) replace(text string, counts map[Kind]int) string {
	matches := p.re.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, m := range matches {
		start, end := m[2*p.group], m[2*p.group+1]
		if start < 0 {
			continue
		}
		b.WriteString(text[last:start])
		b.WriteString(p.apply(text[start:end]))
		last = end
		counts[p.kind]++
	}
	b.WriteString(text[last:])
	return b.String()
}

func maskDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return '*'
		}
		return r
	}, s)
}

// maskEmail keeps the domain: "user@bank.com" becomes "****@bank.com".
func maskEmail(s string) string {
	at := strings.LastIndexByte(s, '@')
	if at < 0 {
		return strings.Repeat(mask, len(s))
	}
	return strings.Repeat(mask, 4) + s[at:]
}

// maskAllButLastFour masks card digits but keeps the last four and the
// original separators.
func maskAllButLastFour(s string) string {
	digits := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	keep := digits - 4
	seen := 0
	return strings.Map(func(r rune) rune {
		if r < '0' || r > '9' {
			return r
		}
		seen++
		if seen <= keep {
			return '*'
		}
		return r
	}, s)
}
