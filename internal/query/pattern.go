package query

import (
	"regexp"
	"strings"
)

// CompilePattern turns a glob into a fully anchored, case-insensitive
// regular expression. '*' matches any run of characters and '?' exactly one;
// everything else is literal.
func CompilePattern(glob string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString(`(?is)^`)
	for _, r := range glob {
		switch r {
		case '*':
			sb.WriteString(`.*`)
		case '?':
			sb.WriteString(`.`)
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString(`$`)
	return regexp.Compile(sb.String())
}

// HasWildcard reports whether a pattern contains glob metacharacters.
func HasWildcard(glob string) bool {
	return strings.ContainsAny(glob, "*?")
}
