package codec

import (
	"strings"

	"github.com/c360studio/haystack/grid"
)

// Zinc is the text/zinc codec.
//
// Strings are quoted on encode without escaping, while decode unescapes \"
// and \n. Literal scanning uses one flat toggle flipped by every quote,
// backtick and bracket character, so brackets do not nest.
type Zinc struct{}

// ContentType implements Codec.
func (Zinc) ContentType() string { return ContentZinc }

// Encode renders g as Zinc. The version is written as the ver tag and any
// "ver" entry in the grid metadata is ignored.
func (Zinc) Encode(g *grid.Grid, version string) (string, error) {
	var b strings.Builder

	b.WriteString(`ver:"`)
	b.WriteString(version)
	b.WriteByte('"')
	for _, name := range g.MetaNames() {
		if name == "ver" {
			continue
		}
		v := g.Meta(name)
		b.WriteByte(' ')
		b.WriteString(name)
		if isBareTag(v) {
			continue
		}
		b.WriteByte(':')
		b.WriteString(encodeCell(v))
	}
	b.WriteByte('\n')

	if g.Cols() == 0 {
		b.WriteString("empty\n")
	} else {
		b.WriteString(strings.Join(g.Names(), ","))
		b.WriteByte('\n')
	}

	cells := make([]string, g.Cols())
	for y := 0; y < g.Rows(); y++ {
		for x := range cells {
			cells[x] = encodeCell(g.Raw(x, y))
		}
		b.WriteString(strings.Join(cells, ","))
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func isBareTag(v grid.Value) bool {
	switch v.Kind() {
	case grid.KindAbsent, grid.KindMarker:
		return true
	case grid.KindStr:
		return v.Text() == ""
	}
	return false
}

func encodeCell(v grid.Value) string {
	switch v.Kind() {
	case grid.KindAbsent:
		return ""
	case grid.KindStr:
		return encodeStr(v.Text())
	case grid.KindURI:
		return "`" + v.Text() + "`"
	case grid.KindRef:
		if v.Dis() != "" {
			return "@" + v.Text() + ` "` + v.Dis() + `"`
		}
		return "@" + v.Text()
	case grid.KindList:
		items := v.Items()
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = encodeCell(item)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case grid.KindDict:
		d := v.Dict()
		parts := make([]string, 0, d.Len())
		for _, name := range d.Names() {
			item := d.Get(name)
			if item.Kind() == grid.KindMarker {
				parts = append(parts, name)
				continue
			}
			parts = append(parts, name+":"+encodeCell(item))
		}
		return "{" + strings.Join(parts, " ") + "}"
	}
	// Marker, bool, number, symbol, date-time, coord and raw literals are
	// already in wire form.
	return v.Display()
}

func encodeStr(s string) string {
	switch {
	case s == "":
		return `""`
	case s[0] >= '0' && s[0] <= '9', s[0] == '@', s[0] == '^':
		return s
	case strings.HasPrefix(s, "http"):
		return "`" + s + "`"
	}
	if _, ok := grid.ParseDateTime(s); ok {
		return s
	}
	return `"` + s + `"`
}

// Decode parses Zinc text. A grid carrying an err tag returns its dis text
// as the message and a grid holding only the metadata.
func (Zinc) Decode(text string) (*grid.Grid, string, error) {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}

	header := lines[0]
	if !strings.HasPrefix(header, "ver") {
		return nil, "", NewGridError("header must start with ver: %q", truncate(header))
	}

	g := grid.New()
	for _, tag := range scanHeader(header) {
		g.SetMeta(tag.name, tag.value)
	}
	if g.HasMeta("err") {
		msg := g.Meta("dis").Display()
		if msg == "" {
			msg = "server error"
		}
		return g, msg, nil
	}

	if len(lines) < 2 || lines[1] == "" {
		return nil, "", NewGridError("missing column header")
	}
	if lines[1] == "empty" {
		return g, "", nil
	}

	names := strings.Split(lines[1], ",")
	for _, name := range names {
		g.AddColumn(name)
	}
	for _, line := range lines[2:] {
		if line == "" {
			break
		}
		tokens := splitRow(line)
		for x, name := range names {
			var v grid.Value
			if x < len(tokens) {
				v = decodeCell(tokens[x])
			}
			g.Add(name, v)
		}
	}
	return g, "", nil
}

type tag struct {
	name  string
	value grid.Value
}

// scanHeader reads "name" and "name:value" tags separated by spaces. A bare
// name is a marker.
func scanHeader(line string) []tag {
	var tags []tag
	n := 0
	for n < len(line) {
		start := n
		for n < len(line) && line[n] != ':' && line[n] != ' ' {
			n++
		}
		name := line[start:n]

		value := grid.Marker()
		if n < len(line) && line[n] == ':' {
			n++
			var lit string
			lit, n = scanLiteral(line, n, ' ')
			value = decodeCell(lit)
		}
		// Skip the separator.
		n++

		if name != "" {
			tags = append(tags, tag{name: name, value: value})
		}
	}
	return tags
}

// splitRow splits a row on commas outside literals.
func splitRow(line string) []string {
	var tokens []string
	n := 0
	for n < len(line) {
		var tok string
		tok, n = scanLiteral(line, n, ',')
		tokens = append(tokens, tok)
		n++
	}
	return tokens
}

// scanLiteral returns the text from n up to the next sep outside a
// literal, and the index of that separator.
func scanLiteral(line string, n int, sep byte) (string, int) {
	start := n
	inside := false
	for n < len(line) && (inside || line[n] != sep) {
		if isToggle(line, n) {
			inside = !inside
		}
		n++
	}
	return line[start:n], n
}

func isToggle(line string, n int) bool {
	switch line[n] {
	case '"':
		return n == 0 || line[n-1] != '\\'
	case '`', '(', ')', '[', ']', '{', '}':
		return true
	}
	return false
}

var unescaper = strings.NewReplacer(`\"`, `"`, `\n`, "\n")

func decodeCell(tok string) grid.Value {
	switch {
	case tok == "":
		return grid.Absent()
	case tok == "M":
		return grid.Marker()
	case tok == "true":
		return grid.Bool(true)
	case tok == "false":
		return grid.Bool(false)
	case tok[0] == '"':
		return grid.Str(unescaper.Replace(unquote(tok)))
	case tok[0] == '`':
		return grid.URI(unescaper.Replace(unquote(tok)))
	case len(tok) > 10 && tok[10] == 'T' && tok[len(tok)-1] == 'Z':
		if t, ok := grid.ParseDateTime(tok); ok {
			return grid.DateTime(t)
		}
	case tok[0] == '@':
		return grid.ParseRef(tok)
	case tok[0] == '^':
		return grid.Symbol(tok)
	}
	if v, ok := grid.ParseNumber(tok); ok {
		return v
	}
	return grid.Raw(tok)
}

// unquote drops the first and last characters of a delimited literal.
func unquote(tok string) string {
	if len(tok) < 2 {
		return ""
	}
	return tok[1 : len(tok)-1]
}

func truncate(s string) string {
	if len(s) > 40 {
		return s[:40] + "..."
	}
	return s
}
