// Package zeeklog reads and writes Zeek's tab-separated ASCII log format.
package zeeklog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/zeekshard/zeekshard/pkg/types"
)

// Default header values written by Zeek's ASCII writer.
const (
	DefaultSeparator    = "\t"
	DefaultSetSeparator = ","
	DefaultEmptyField   = "(empty)"
	DefaultUnsetField   = "-"

	// RawField is the single column of a log that has no #fields header.
	RawField = "_raw"
)

// Log is one Zeek log file held in memory.
type Log struct {
	Path         string
	Separator    string
	SetSeparator string
	EmptyField   string
	UnsetField   string
	Open         string
	Close        string

	Fields []string
	Types  []string

	// Meta holds header lines this package does not interpret, verbatim.
	Meta []string

	Rows []types.Record
}

// New creates an empty log with Zeek's default header values.
func New(path string, fields, fieldTypes []string) *Log {
	return &Log{
		Path:         path,
		Separator:    DefaultSeparator,
		SetSeparator: DefaultSetSeparator,
		EmptyField:   DefaultEmptyField,
		UnsetField:   DefaultUnsetField,
		Open:         "0",
		Close:        "0",
		Fields:       append([]string(nil), fields...),
		Types:        append([]string(nil), fieldTypes...),
	}
}

// Append adds a row.
func (l *Log) Append(rec types.Record) {
	l.Rows = append(l.Rows, rec)
}

// Len returns the number of rows.
func (l *Log) Len() int {
	return len(l.Rows)
}

// Read parses a Zeek ASCII log. Rows shorter than the #fields header are
// padded with "" and longer rows are truncated. A log without a #fields
// header is read as one RawField column per line.
func Read(r io.Reader) (*Log, error) {
	l := New("", nil, nil)
	l.Open, l.Close = "", ""

	br := bufio.NewReader(r)
	haveFields := false
	for {
		line, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("zeeklog: read failed: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
		case strings.HasPrefix(line, "#"):
			if l.parseDirective(line) {
				haveFields = true
			}
		case haveFields:
			l.Rows = append(l.Rows, l.parseRow(line))
		default:
			l.Rows = append(l.Rows, types.Record{{Name: RawField, Value: line}})
		}

		if err != nil {
			break
		}
	}

	if !haveFields && len(l.Rows) > 0 {
		l.Fields = []string{RawField}
		l.Types = []string{"string"}
	}
	return l, nil
}

// ReadFile reads the log at path.
func ReadFile(path string) (*Log, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	l, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return l, nil
}

// parseDirective applies one header line and reports whether it was #fields.
func (l *Log) parseDirective(line string) bool {
	if rest, ok := strings.CutPrefix(line, "#separator "); ok {
		l.Separator = unescape(rest)
		return false
	}

	key, value, _ := strings.Cut(line[1:], l.Separator)
	switch key {
	case "set_separator":
		l.SetSeparator = value
	case "empty_field":
		l.EmptyField = value
	case "unset_field":
		l.UnsetField = value
	case "path":
		l.Path = value
	case "open":
		l.Open = value
	case "close":
		l.Close = value
	case "fields":
		l.Fields = strings.Split(value, l.Separator)
		return true
	case "types":
		l.Types = strings.Split(value, l.Separator)
	default:
		l.Meta = append(l.Meta, line)
	}
	return false
}

func (l *Log) parseRow(line string) types.Record {
	values := strings.Split(line, l.Separator)
	rec := make(types.Record, len(l.Fields))
	for i, name := range l.Fields {
		v := ""
		if i < len(values) {
			v = values[i]
		}
		rec[i] = types.Field{Name: name, Value: v}
	}
	return rec
}

// HeaderLines returns the header lines written before the rows, without
// trailing newlines.
func (l *Log) HeaderLines() []string {
	sep := orDefault(l.Separator, DefaultSeparator)
	line := func(key string, values ...string) string {
		return "#" + key + sep + strings.Join(values, sep)
	}

	lines := []string{
		"#separator " + escape(sep),
		line("set_separator", orDefault(l.SetSeparator, DefaultSetSeparator)),
		line("empty_field", orDefault(l.EmptyField, DefaultEmptyField)),
		line("unset_field", orDefault(l.UnsetField, DefaultUnsetField)),
		line("path", l.Path),
		line("open", orDefault(l.Open, "0")),
	}
	lines = append(lines, l.Meta...)
	return append(lines, line("fields", l.Fields...), line("types", l.Types...))
}

// Write emits the log in Zeek ASCII format. Fields a row does not carry are
// written as the unset marker.
func (l *Log) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	sep := orDefault(l.Separator, DefaultSeparator)

	for _, h := range l.HeaderLines() {
		bw.WriteString(h)
		bw.WriteByte('\n')
	}

	unset := orDefault(l.UnsetField, DefaultUnsetField)
	for _, rec := range l.Rows {
		bw.WriteString(strings.Join(rec.Project(l.Fields, unset), sep))
		bw.WriteByte('\n')
	}
	fmt.Fprintf(bw, "#close%s%s\n", sep, orDefault(l.Close, "0"))

	return bw.Flush()
}

// WriteFile writes the log to path.
func (l *Log) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := l.Write(f); err != nil {
		f.Close()
		return fmt.Errorf("zeeklog: write %s: %w", path, err)
	}
	return f.Close()
}

// unescape decodes \xNN sequences used by the #separator line.
func unescape(s string) string {
	if !strings.Contains(s, `\x`) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+4 <= len(s) && s[i+1] == 'x' {
			if b, err := strconv.ParseUint(s[i+2:i+4], 16, 8); err == nil {
				sb.WriteByte(byte(b))
				i += 3
				continue
			}
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

func escape(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		fmt.Fprintf(&sb, `\x%02x`, s[i])
	}
	return sb.String()
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
