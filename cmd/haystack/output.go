package main

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/c360studio/haystack/grid"
	"github.com/c360studio/haystack/session"
)

// displayOptions shape how a response is printed.
type displayOptions struct {
	raw      bool
	names    []string
	limit    int
	hasLimit bool
	index    int
	hasIndex bool
}

// printer writes tables in green. Silent suppresses all output.
type printer struct {
	mu     sync.Mutex
	out    io.Writer
	silent bool
	green  *color.Color
}

func newPrinter(out io.Writer, monochrome, silent bool) *printer {
	p := &printer{
		out:    out,
		silent: silent,
		green:  color.New(color.FgGreen),
	}
	if monochrome || !isTerminal(out) {
		p.green.DisableColor()
	}
	return p
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *printer) print(text string) {
	if p.silent {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.green.Fprintln(p.out, text)
}

// renderTable draws rows with a border. A non-nil header is drawn above a
// separator.
func renderTable(header []string, rows [][]string) string {
	t := table.New().Border(lipgloss.NormalBorder())
	if header != nil {
		t.Headers(header...)
	}
	t.Rows(rows...)
	return t.String()
}

// display prints a response. Server errors are shown as a one-cell table;
// an out of range index is returned as an error.
func (p *printer) display(res *session.Response, opts displayOptions) error {
	if opts.raw {
		if !p.silent {
			fmt.Fprintln(p.out, res.Body)
		}
		return nil
	}
	if res.Err != "" {
		p.print(renderTable(nil, [][]string{{"Error", res.Err}}))
		return nil
	}

	g := res.Grid
	if g == nil {
		g = grid.New()
	}
	if len(opts.names) > 0 {
		g.Project(opts.names...)
	}
	if opts.hasLimit {
		g.Limit(opts.limit)
	}

	if opts.hasIndex {
		rows, err := indexRows(g, opts.index)
		if err != nil {
			return err
		}
		p.print(renderTable([]string{"Name", "Value", "Type"}, rows))
		return nil
	}

	p.print(renderTable(g.Names(), gridRows(g)))
	return nil
}

// gridRows returns the display values of every row.
func gridRows(g *grid.Grid) [][]string {
	rows := make([][]string, g.Rows())
	for y := range rows {
		row := make([]string, g.Cols())
		for x := range row {
			row[x] = g.Display(x, y)
		}
		rows[y] = row
	}
	return rows
}

// indexRows lists name, value and type of every column of row y.
func indexRows(g *grid.Grid, y int) ([][]string, error) {
	if y < 0 || y >= g.Rows() {
		return nil, fmt.Errorf("out of range: %d", y)
	}
	rows := make([][]string, g.Cols())
	for x := range rows {
		rows[x] = []string{g.Name(x), g.Display(x, y), string(g.TypeOf(x, y))}
	}
	return rows, nil
}
