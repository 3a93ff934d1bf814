// Package query implements the boolean/wildcard filter language used to
// search merged logs.
package query

import (
	"fmt"
	"regexp"
	"strings"
)

// Node is a parsed query expression: *Term, *And, *Or, *Not or *Group.
type Node interface {
	node()
	String() string
}

// Term matches a glob pattern against one field, or any field when Field is
// empty.
type Term struct {
	Field   string
	Pattern string

	re *regexp.Regexp
}

// And matches when both sides match.
type And struct {
	Left, Right Node
}

// Or matches when either side matches.
type Or struct {
	Left, Right Node
}

// Not inverts its operand.
type Not struct {
	Inner Node
}

// Group is a parenthesized expression.
type Group struct {
	Inner Node
}

func (*Term) node()  {}
func (*And) node()   {}
func (*Or) node()    {}
func (*Not) node()   {}
func (*Group) node() {}

func (t *Term) String() string {
	if t.Field != "" {
		return fmt.Sprintf("%s:%s", t.Field, quoteIfNeeded(t.Pattern))
	}
	return quoteIfNeeded(t.Pattern)
}

func (a *And) String() string {
	return a.Left.String() + " AND " + a.Right.String()
}

func (o *Or) String() string {
	return o.Left.String() + " OR " + o.Right.String()
}

func (n *Not) String() string {
	return "NOT " + n.Inner.String()
}

func (g *Group) String() string {
	return "(" + g.Inner.String() + ")"
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\r\n():=\"\\") {
		return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
	}
	if _, ok := keywords[strings.ToUpper(s)]; ok {
		return `"` + s + `"`
	}
	return s
}
