package migrator

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"unicode"
)

// Script directives. A script starts with an Up section and may carry a
// Down section. Statements end with a semicolon at the end of a line unless
// they are wrapped in a StatementBegin/StatementEnd block.
const (
	directivePrefix = "-- +migrate"

	DirectiveUp             = directivePrefix + " Up"
	DirectiveDown           = directivePrefix + " Down"
	DirectiveStatementBegin = directivePrefix + " StatementBegin"
	DirectiveStatementEnd   = directivePrefix + " StatementEnd"
)

var errOutsideSection = errors.New("statement before the first section")

// Script is a parsed migration file.
type Script struct {
	Up      []string
	Down    []string
	HasDown bool
}

// Reversible reports whether the script declares a down section.
func (s *Script) Reversible() bool {
	return s.HasDown
}

// ParseScript splits a script into up and down statements. name is used in
// error messages only.
func ParseScript(name string, r io.Reader) (*Script, error) {
	s := &Script{}
	var (
		section *[]string
		hasUp   bool
		inBlock bool
		blockAt int
		buf     strings.Builder
		lineNo  int
	)

	flush := func() {
		stmt := strings.TrimSpace(buf.String())
		buf.Reset()
		if stmt != "" && section != nil {
			*section = append(*section, stmt)
		}
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 64*1024*1024)
	sc.Split(scanLF)
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		trimmed := strings.TrimFunc(line, unicode.IsSpace)

		if strings.HasPrefix(trimmed, directivePrefix) {
			var kind string
			if fields := strings.Fields(trimmed[len(directivePrefix):]); len(fields) > 0 {
				kind = fields[0]
			}
			switch kind {
			case "Up":
				if inBlock {
					return nil, &ScriptError{Path: name, Line: blockAt, Err: ErrUnterminatedBlock}
				}
				flush()
				section, hasUp = &s.Up, true
			case "Down":
				if inBlock {
					return nil, &ScriptError{Path: name, Line: blockAt, Err: ErrUnterminatedBlock}
				}
				flush()
				section, s.HasDown = &s.Down, true
			case "StatementBegin":
				if inBlock {
					return nil, &ScriptError{Path: name, Line: blockAt, Err: ErrUnterminatedBlock}
				}
				if section == nil {
					return nil, &ScriptError{Path: name, Line: lineNo, Err: errOutsideSection}
				}
				flush()
				inBlock, blockAt = true, lineNo
			case "StatementEnd":
				if !inBlock {
					return nil, &ScriptError{Path: name, Line: lineNo, Err: errors.New("StatementEnd without StatementBegin")}
				}
				flush()
				inBlock = false
			default:
				return nil, &ScriptError{Path: name, Line: lineNo, Err: errors.New("unknown directive " + trimmed)}
			}
			continue
		}

		if inBlock {
			buf.WriteString(unescapeLine(line))
			buf.WriteByte('\n')
			continue
		}

		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		if section == nil {
			return nil, &ScriptError{Path: name, Line: lineNo, Err: errOutsideSection}
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}
	if err := sc.Err(); err != nil {
		return nil, &ScriptError{Path: name, Err: err}
	}
	if inBlock {
		return nil, &ScriptError{Path: name, Line: blockAt, Err: ErrUnterminatedBlock}
	}
	flush()

	if !hasUp {
		return nil, &ScriptError{Path: name, Err: ErrNoUpSection}
	}
	return s, nil
}

// scanLF splits on '\n' only. Unlike bufio.ScanLines it keeps a trailing
// '\r', which may be part of quoted data inside a statement block.
func scanLF(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// A directive marker is "-- " + "<"*n + "+" + ">"*n + "migrate". Depth 0 is
// a live directive. Escaping adds one level and unescaping removes one, so
// text that already contains an escaped marker survives a round trip.
const (
	markerLead = "-- "
	markerTail = "migrate"
)

// markerDepth reports the nesting depth of the marker at the start of the
// line, ignoring leading whitespace, along with the indent and the text
// following the marker.
func markerDepth(line string) (depth int, indent, rest string, ok bool) {
	body := strings.TrimLeftFunc(line, unicode.IsSpace)
	indent = line[:len(line)-len(body)]
	if !strings.HasPrefix(body, markerLead) {
		return 0, "", "", false
	}
	s := body[len(markerLead):]
	n := len(s) - len(strings.TrimLeft(s, "<"))
	s = s[n:]
	if !strings.HasPrefix(s, "+") {
		return 0, "", "", false
	}
	s = s[1:]
	if len(s) < n || strings.Count(s[:n], ">") != n {
		return 0, "", "", false
	}
	s = s[n:]
	if !strings.HasPrefix(s, markerTail) {
		return 0, "", "", false
	}
	return n, indent, s[len(markerTail):], true
}

func marker(depth int) string {
	return markerLead + strings.Repeat("<", depth) + "+" + strings.Repeat(">", depth) + markerTail
}

// EscapeDirectives rewrites lines of text that would be read as directives,
// or as escaped directives, so that arbitrary data can be placed inside a
// statement block and read back unchanged.
func EscapeDirectives(text string) string {
	if !strings.Contains(text, markerLead) {
		return text
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if depth, indent, rest, ok := markerDepth(line); ok {
			lines[i] = indent + marker(depth+1) + rest
		}
	}
	return strings.Join(lines, "\n")
}

func unescapeLine(line string) string {
	depth, indent, rest, ok := markerDepth(line)
	if !ok || depth == 0 {
		return line
	}
	return indent + marker(depth-1) + rest
}
