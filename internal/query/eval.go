package query

import (
	"github.com/zeekshard/zeekshard/pkg/types"
)

// Query is a compiled filter. The zero value and a Query compiled from an
// empty string match every row. A Query is immutable and safe for
// concurrent use.
type Query struct {
	Text string
	Root Node
}

// Compile parses text into a Query.
func Compile(text string) (*Query, error) {
	root, err := Parse(text)
	if err != nil {
		return nil, err
	}
	return &Query{Text: text, Root: root}, nil
}

// Empty reports whether the query passes every row.
func (q *Query) Empty() bool {
	return q == nil || q.Root == nil
}

// Match reports whether rec satisfies the query.
func (q *Query) Match(rec types.Record) bool {
	if q.Empty() {
		return true
	}
	return Eval(q.Root, rec)
}

// Filter returns the matching rows in their original order.
func (q *Query) Filter(rows []types.Record) []types.Record {
	if q.Empty() {
		return rows
	}
	out := make([]types.Record, 0, len(rows))
	for _, r := range rows {
		if Eval(q.Root, r) {
			out = append(out, r)
		}
	}
	return out
}

// Filter compiles text and applies it to rows.
func Filter(rows []types.Record, text string) ([]types.Record, error) {
	q, err := Compile(text)
	if err != nil {
		return nil, err
	}
	return q.Filter(rows), nil
}

// Eval evaluates n against one row.
func Eval(n Node, rec types.Record) bool {
	switch n := n.(type) {
	case *Term:
		return n.match(rec)
	case *And:
		return Eval(n.Left, rec) && Eval(n.Right, rec)
	case *Or:
		return Eval(n.Left, rec) || Eval(n.Right, rec)
	case *Not:
		return !Eval(n.Inner, rec)
	case *Group:
		return Eval(n.Inner, rec)
	default:
		return false
	}
}

func (t *Term) match(rec types.Record) bool {
	re := t.re
	if re == nil {
		var err error
		if re, err = CompilePattern(t.Pattern); err != nil {
			return false
		}
	}

	if t.Field != "" {
		v, _ := rec.Get(t.Field)
		return re.MatchString(v)
	}
	for _, f := range rec {
		if re.MatchString(f.Value) {
			return true
		}
	}
	return false
}

// Terms returns the terms of n in left-to-right order.
func Terms(n Node) []*Term {
	var out []*Term
	var walk func(Node)
	walk = func(n Node) {
		switch n := n.(type) {
		case *Term:
			out = append(out, n)
		case *And:
			walk(n.Left)
			walk(n.Right)
		case *Or:
			walk(n.Left)
			walk(n.Right)
		case *Not:
			walk(n.Inner)
		case *Group:
			walk(n.Inner)
		}
	}
	walk(n)
	return out
}
