// Package locator parses compound selector expressions into ordered
// alternatives and renders the in-page script that resolves them.
//
// An expression is a comma separated list of alternatives. Commas nested in
// quotes, parentheses or brackets do not split. The first alternative that
// matches an element wins; alternatives are never combined.
package locator

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSelector marks an alternative the resolver cannot evaluate.
var ErrInvalidSelector = errors.New("invalid selector")

// Kind identifies how a single alternative is matched.
type Kind string

const (
	// KindCSS is a plain CSS selector.
	KindCSS Kind = "css"
	// KindHasText is a CSS selector filtered by a case-insensitive substring
	// of the element's innerText: "button:has-text('Save')". Whatever follows
	// the clause after a combinator is matched relative to that element:
	// "div:has-text('Plan') > span".
	KindHasText Kind = "has_text"
	// KindText matches by visible text: text=Save (substring) or
	// text="Save" (exact).
	KindText Kind = "text"
	// KindRole matches by ARIA role and optional accessible name:
	// role=button[name="Save"].
	KindRole Kind = "role"
	// KindXPath is an XPath expression: xpath=//button or //button.
	KindXPath Kind = "xpath"
	// KindInvalid is an alternative that cannot be resolved. It never matches.
	KindInvalid Kind = "invalid"
)

// Alternative is one branch of an OR expression.
type Alternative struct {
	Kind Kind `json:"kind"`
	// CSS is the base selector for KindCSS and KindHasText. Empty means any element.
	CSS   string `json:"css,omitempty"`
	Text  string `json:"text,omitempty"`
	Exact bool   `json:"exact,omitempty"`
	Role  string `json:"role,omitempty"`
	Name  string `json:"name,omitempty"`
	XPath string `json:"xpath,omitempty"`
	// Within is matched relative to a KindHasText element. Its CSS starts
	// with the combinator that followed the :has-text clause.
	Within *Alternative `json:"within,omitempty"`
	// Reason explains a KindInvalid alternative.
	Reason string `json:"reason,omitempty"`
}

// Expression is a parsed selector expression.
type Expression struct {
	Raw          string
	Alternatives []Alternative
}

// String returns the expression as written.
func (e Expression) String() string { return e.Raw }

// Empty reports whether the expression has nothing to try.
func (e Expression) Empty() bool { return len(e.Alternatives) == 0 }

// Err returns an ErrInvalidSelector error when no alternative can ever
// match because every one is invalid.
func (e Expression) Err() error {
	var reasons []string
	for _, alt := range e.Alternatives {
		if alt.Kind != KindInvalid {
			return nil
		}
		reasons = append(reasons, alt.Reason)
	}
	if len(reasons) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidSelector, strings.Join(reasons, "; "))
}

// Parse splits raw on top-level commas and classifies each alternative.
// Blank alternatives are dropped.
func Parse(raw string) Expression {
	expr := Expression{Raw: raw}
	for _, part := range Split(raw) {
		expr.Alternatives = append(expr.Alternatives, parseAlternative(part))
	}
	return expr
}

// Split breaks raw on commas that are outside quotes, parentheses and
// brackets. Each part is trimmed; empty parts are omitted.
func Split(raw string) []string {
	var (
		parts []string
		depth int
		quote rune
		start int
	)
	runes := []rune(raw)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote != 0:
			if r == '\\' {
				i++
				continue
			}
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '(' || r == '[':
			depth++
		case r == ')' || r == ']':
			if depth > 0 {
				depth--
			}
		case r == ',' && depth == 0:
			parts = appendTrimmed(parts, string(runes[start:i]))
			start = i + 1
		}
	}
	return appendTrimmed(parts, string(runes[start:]))
}

func appendTrimmed(parts []string, s string) []string {
	if s = strings.TrimSpace(s); s != "" {
		parts = append(parts, s)
	}
	return parts
}

func parseAlternative(s string) Alternative {
	switch {
	case hasPrefixFold(s, "text="):
		text, exact := unquote(strings.TrimSpace(s[len("text="):]))
		return Alternative{Kind: KindText, Text: text, Exact: exact}
	case hasPrefixFold(s, "role="):
		return parseRole(s[len("role="):])
	case hasPrefixFold(s, "xpath="):
		return Alternative{Kind: KindXPath, XPath: strings.TrimSpace(s[len("xpath="):])}
	case strings.HasPrefix(s, "//") || strings.HasPrefix(s, "(//"):
		return Alternative{Kind: KindXPath, XPath: s}
	}

	return parseCSS(s)
}

// parseCSS classifies a CSS selector that may carry one :has-text clause per
// element, e.g. "section:has-text('Billing') button:has-text('Save')".
func parseCSS(s string) Alternative {
	base, text, rest, found, err := splitHasText(s)
	if err != nil {
		return Alternative{Kind: KindInvalid, Reason: fmt.Sprintf("'%s': %v", s, err)}
	}
	if !found {
		return Alternative{Kind: KindCSS, CSS: s}
	}
	alt := Alternative{Kind: KindHasText, CSS: base, Text: text}
	if rest != "" {
		within := parseCSS(rest)
		if within.Kind == KindInvalid {
			return Alternative{Kind: KindInvalid, Reason: fmt.Sprintf("'%s': %s", s, within.Reason)}
		}
		alt.Within = &within
	}
	return alt
}

const hasTextPseudo = ":has-text("

// splitHasText finds the first :has-text(...) clause outside parentheses.
// Simple selectors glued to the clause stay part of base; whatever follows
// the next combinator is returned as rest.
func splitHasText(s string) (base, text, rest string, found bool, err error) {
	idx, depth := indexOutsideQuotes(s, hasTextPseudo)
	if idx < 0 {
		return "", "", "", false, nil
	}
	if depth > 0 {
		return "", "", "", false, fmt.Errorf(":has-text() inside another pseudo-class is not supported")
	}
	open := idx + len(hasTextPseudo) - 1
	end := closingParen(s, open)
	if end < 0 {
		return "", "", "", false, fmt.Errorf("unterminated :has-text(")
	}
	text, _ = unquote(strings.TrimSpace(s[open+1 : end]))

	tail := s[end+1:]
	cut := compoundEnd(tail)
	compound := tail[:cut]
	if i, _ := indexOutsideQuotes(compound, hasTextPseudo); i >= 0 {
		return "", "", "", false, fmt.Errorf("only one :has-text() per element is supported")
	}

	prefix := s[:idx]
	base = strings.TrimSpace(prefix)
	if base != "" && (strings.TrimRight(prefix, " \t\n") != prefix || strings.ContainsAny(base[len(base)-1:], ">+~")) {
		// "div :has-text(x)" targets descendants of div, not div itself.
		base += " *"
	}
	return base + compound, text, strings.TrimSpace(tail[cut:]), true, nil
}

// indexOutsideQuotes is strings.Index ignoring matches inside quoted strings.
// depth is the parenthesis nesting at the match.
func indexOutsideQuotes(s, sub string) (idx, depth int) {
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			if depth > 0 {
				depth--
			}
		case strings.HasPrefix(s[i:], sub):
			return i, depth
		}
	}
	return -1, 0
}

// closingParen returns the index of the parenthesis closing the one at open,
// or -1.
func closingParen(s string, open int) int {
	depth := 0
	var quote byte
	for i := open; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// compoundEnd is the length of the compound selector at the start of s: it
// stops at the first whitespace or combinator outside quotes and brackets.
func compoundEnd(s string) int {
	depth := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '(' || c == '[':
			depth++
		case c == ')' || c == ']':
			if depth > 0 {
				depth--
			}
		case depth == 0 && strings.IndexByte(" \t\n>+~", c) >= 0:
			return i
		}
	}
	return len(s)
}

// parseRole handles `button`, `button[name="Save"]` and `button[name=Save]`.
// Names match as a case-insensitive substring of the accessible name.
func parseRole(s string) Alternative {
	s = strings.TrimSpace(s)
	alt := Alternative{Kind: KindRole}
	open := strings.IndexByte(s, '[')
	if open < 0 {
		alt.Role = s
		return alt
	}
	alt.Role = strings.TrimSpace(s[:open])
	attrs := strings.TrimSuffix(s[open+1:], "]")
	if key, val, found := strings.Cut(attrs, "="); found && strings.EqualFold(strings.TrimSpace(key), "name") {
		alt.Name, _ = unquote(strings.TrimSpace(val))
	}
	return alt
}

// unquote strips one pair of matching quotes and reports whether they were
// present. A trailing Playwright case flag (`"Save" i`) is discarded.
func unquote(s string) (string, bool) {
	if n := len(s); n >= 4 && (strings.HasSuffix(s, " i") || strings.HasSuffix(s, " s")) && (s[n-3] == '"' || s[n-3] == '\'') {
		s = s[:n-2]
	}
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' || first == '\'') && first == last {
			return s[1 : len(s)-1], true
		}
	}
	return s, false
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
