// Package placeholder scans checked-out template trees for placeholder
// tokens and substitutes caller-supplied values. Token recognition and the
// emitted list markup are configuration, not engine logic, so consumers can
// swap in their own markup convention.
package placeholder

import (
	"fmt"
	"regexp"
	"strings"
)

// Pattern is the recognition and emission strategy for placeholder tokens.
type Pattern struct {
	// Token matches both placeholder shapes in template source. Capture
	// group 1 is non-empty for the list variant, group 2 is the key.
	Token *regexp.Regexp
	// ListBegin opens a generated list block; takes the list length.
	ListBegin string
	// ListItem emits one element; takes the 1-based index and the value.
	ListItem string
	// ListEnd closes a generated list block.
	ListEnd string
}

// DefaultPattern returns the serial-pdf.sty markup convention: scalar tokens
// \placeholder{key}, list tokens \placeholderlist{key}, and list blocks
// rendered as a placeholders environment with \lfitem entries.
func DefaultPattern() Pattern {
	return Pattern{
		Token:     regexp.MustCompile(`\\placeholder(list)?\{([\w-]+)\}`),
		ListBegin: `\begin{placeholders}[%d]`,
		ListItem:  `\lfitem[%d]{%s}`,
		ListEnd:   `\end{placeholders}`,
	}
}

// keyRe is the key shape accepted inside tokens; submissions with other key
// shapes can never match a token and are rejected up front.
var keyRe = regexp.MustCompile(`^[\w-]+$`)

// ValidKey reports whether a data key could ever match a placeholder token.
func ValidKey(key string) bool {
	return keyRe.MatchString(key)
}

// Sanitize flattens backslashes in substituted values. Rudimentary command
// injection protection for emitted LaTeX.
func Sanitize(value string) string {
	return strings.ReplaceAll(value, `\`, "/")
}

// ExpandScalar renders the replacement for a scalar token.
func (p Pattern) ExpandScalar(value string) string {
	return Sanitize(value)
}

// ExpandList renders the replacement block for a list token. An empty list
// expands to nothing at all.
func (p Pattern) ExpandList(values []string) string {
	if len(values) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, p.ListBegin, len(values))
	b.WriteByte('\n')
	for i, value := range values {
		fmt.Fprintf(&b, p.ListItem, i+1, Sanitize(value))
		b.WriteByte('\n')
	}
	b.WriteString(p.ListEnd)
	b.WriteByte('\n')

	return b.String()
}
