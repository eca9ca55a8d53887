// Package grid provides the Haystack grid: an ordered set of named columns
// plus grid-level metadata. Columns may differ in length; the row count is
// that of the longest column and missing cells read as absent.
package grid

import (
	"net/url"
	"strings"
)

type column struct {
	name  string
	cells []Value
}

// Grid is a column-major table. It is not safe for concurrent mutation.
type Grid struct {
	meta  Dict
	cols  []*column
	index map[string]int
}

// New returns an empty grid.
func New() *Grid {
	return &Grid{index: make(map[string]int)}
}

// AddColumn ensures a column exists and returns its index.
func (g *Grid) AddColumn(name string) int {
	if g.index == nil {
		g.index = make(map[string]int)
	}
	if x, ok := g.index[name]; ok {
		return x
	}
	g.cols = append(g.cols, &column{name: name})
	g.index[name] = len(g.cols) - 1
	return len(g.cols) - 1
}

// Add appends v to the named column, creating the column on first use.
func (g *Grid) Add(name string, v Value) {
	c := g.cols[g.AddColumn(name)]
	c.cells = append(c.cells, v)
}

// SetMeta stores a grid-level metadata entry.
func (g *Grid) SetMeta(name string, v Value) { g.meta.Set(name, v) }

// Meta returns a metadata entry, or absent.
func (g *Grid) Meta(name string) Value { return g.meta.Get(name) }

// HasMeta reports whether a metadata entry exists.
func (g *Grid) HasMeta(name string) bool { return g.meta.Has(name) }

// MetaNames returns metadata names in insertion order.
func (g *Grid) MetaNames() []string { return g.meta.Names() }

// Version returns the "ver" metadata entry as text.
func (g *Grid) Version() string { return g.meta.Get("ver").Display() }

// Cols returns the number of columns.
func (g *Grid) Cols() int { return len(g.cols) }

// Rows returns the number of rows, taken from the longest column.
func (g *Grid) Rows() int {
	n := 0
	for _, c := range g.cols {
		if len(c.cells) > n {
			n = len(c.cells)
		}
	}
	return n
}

// Index returns the position of a column, or -1.
func (g *Grid) Index(name string) int {
	if x, ok := g.index[name]; ok {
		return x
	}
	return -1
}

// Name returns the name of column x, or "" when out of range.
func (g *Grid) Name(x int) string {
	if x < 0 || x >= len(g.cols) {
		return ""
	}
	return g.cols[x].name
}

// Names returns the column names in order.
func (g *Grid) Names() []string {
	out := make([]string, len(g.cols))
	for i, c := range g.cols {
		out[i] = c.name
	}
	return out
}

// Raw returns the cell at column x, row y. Out-of-range cells are absent.
func (g *Grid) Raw(x, y int) Value {
	if x < 0 || x >= len(g.cols) {
		return Value{}
	}
	cells := g.cols[x].cells
	if y < 0 || y >= len(cells) {
		return Value{}
	}
	return cells[y]
}

// Display returns the display text of a cell. Absent cells are "".
func (g *Grid) Display(x, y int) string { return g.Raw(x, y).Display() }

// TypeOf classifies a cell.
func (g *Grid) TypeOf(x, y int) Type { return TypeOf(g.Raw(x, y)) }

// Row returns the cells of row y keyed by column name, skipping absent cells.
func (g *Grid) Row(y int) map[string]Value {
	out := make(map[string]Value, len(g.cols))
	for _, c := range g.cols {
		if y < len(c.cells) && !c.cells[y].IsAbsent() {
			out[c.name] = c.cells[y]
		}
	}
	return out
}

// Project keeps only the named columns, in the order given. Unknown and
// repeated names are ignored.
func (g *Grid) Project(names ...string) {
	cols := make([]*column, 0, len(names))
	index := make(map[string]int, len(names))
	for _, name := range names {
		if _, seen := index[name]; seen {
			continue
		}
		x, ok := g.index[name]
		if !ok {
			continue
		}
		index[name] = len(cols)
		cols = append(cols, g.cols[x])
	}
	g.cols = cols
	g.index = index
}

// Limit truncates every column to at most n rows. Negative n is ignored.
func (g *Grid) Limit(n int) {
	if n < 0 {
		return
	}
	for _, c := range g.cols {
		if len(c.cells) > n {
			c.cells = c.cells[:n]
		}
	}
}

// Query renders row 0 as a URL query string: ?name=value&flag. Cells whose
// display text is empty contribute a bare name.
func (g *Grid) Query() string {
	var b strings.Builder
	for x, c := range g.cols {
		if x == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(escape(c.name))
		if v := g.Display(x, 0); v != "" {
			b.WriteByte('=')
			b.WriteString(escape(v))
		}
	}
	return b.String()
}

// escape percent-encodes a query component, writing spaces as %20.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
