// Package output renders hookctl results as tables, JSON or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Formats accepted by --output.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

const (
	ansiReset  = "\033[0m"
	ansiBold   = "1"
	ansiRed    = "31"
	ansiGreen  = "32"
	ansiYellow = "33"
	ansiCyan   = "36"
	ansiWhite  = "37"
)

// NoColor disables ANSI escapes, e.g. when output is piped.
var NoColor = os.Getenv("NO_COLOR") != ""

func paint(s string, codes ...string) string {
	if NoColor || len(codes) == 0 {
		return s
	}
	return "\033[" + strings.Join(codes, ";") + "m" + s + ansiReset
}

// Printer writes human and machine readable output.
type Printer struct {
	Out    io.Writer
	Err    io.Writer
	Format string
}

// New returns a Printer on stdout and stderr.
func New(format string) *Printer {
	return &Printer{Out: os.Stdout, Err: os.Stderr, Format: format}
}

func (p *Printer) Success(format string, a ...any) {
	fmt.Fprintln(p.Out, paint("✓ "+fmt.Sprintf(format, a...), ansiGreen, ansiBold))
}

func (p *Printer) Error(format string, a ...any) {
	fmt.Fprintln(p.Err, paint("✗ "+fmt.Sprintf(format, a...), ansiRed, ansiBold))
}

func (p *Printer) Info(format string, a ...any) {
	fmt.Fprintln(p.Out, paint(fmt.Sprintf(format, a...), ansiCyan))
}

func (p *Printer) Warn(format string, a ...any) {
	fmt.Fprintln(p.Out, paint("⚠ "+fmt.Sprintf(format, a...), ansiYellow))
}

func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *Printer) YAML(v any) error {
	enc := yaml.NewEncoder(p.Out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// Print renders v in the printer's format. table is called for the table
// format and may be nil, in which case YAML is used.
func (p *Printer) Print(v any, table func() *Table) error {
	switch p.Format {
	case FormatJSON:
		return p.JSON(v)
	case FormatYAML, "":
		return p.YAML(v)
	case FormatTable:
		if table == nil {
			return p.YAML(v)
		}
		table().Render(p.Out)
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", p.Format)
	}
}

type Table struct {
	headers []string
	rows    [][]string
}

func NewTable(headers ...string) *Table {
	return &Table{
		headers: headers,
		rows:    [][]string{},
	}
}

func (t *Table) AddRow(row ...string) {
	t.rows = append(t.rows, row)
}

func (t *Table) Render(w io.Writer) {
	widths := make([]int, len(t.headers))
	for i, header := range t.headers {
		widths[i] = len(header)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	for i, header := range t.headers {
		fmt.Fprint(w, paint(fmt.Sprintf("%-*s", widths[i], header), ansiWhite, ansiBold)+"  ")
	}
	fmt.Fprintln(w)

	for i := range t.headers {
		fmt.Fprint(w, strings.Repeat("-", widths[i])+"  ")
	}
	fmt.Fprintln(w)

	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) {
				fmt.Fprintf(w, "%-*s  ", widths[i], cell)
			}
		}
		fmt.Fprintln(w)
	}
}
