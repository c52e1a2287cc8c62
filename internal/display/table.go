package display

import (
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// TableStyleName represents available table styles
type TableStyleName string

const (
	TableStyleDefault TableStyleName = "default"
	TableStyleRounded TableStyleName = "rounded"
	TableStyleBorder  TableStyleName = "border"
	TableStyleMinimal TableStyleName = "minimal"
)

// Alignment represents column alignment options
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// BorderStyle defines table border characters
type BorderStyle struct {
	TopLeft, TopRight, BottomLeft, BottomRight  string
	Horizontal, Vertical                        string
	Cross, TopTee, BottomTee, LeftTee, RightTee string
}

var borderStyles = map[TableStyleName]BorderStyle{
	TableStyleDefault: {
		TopLeft: "+", TopRight: "+", BottomLeft: "+", BottomRight: "+",
		Horizontal: "-", Vertical: "|",
		Cross: "+", TopTee: "+", BottomTee: "+", LeftTee: "+", RightTee: "+",
	},
	TableStyleRounded: {
		TopLeft: "╭", TopRight: "╮", BottomLeft: "╰", BottomRight: "╯",
		Horizontal: "─", Vertical: "│",
		Cross: "┼", TopTee: "┬", BottomTee: "┴", LeftTee: "├", RightTee: "┤",
	},
	TableStyleBorder: {
		TopLeft: "┏", TopRight: "┓", BottomLeft: "┗", BottomRight: "┛",
		Horizontal: "━", Vertical: "┃",
		Cross: "╋", TopTee: "┳", BottomTee: "┻", LeftTee: "┣", RightTee: "┫",
	},
	TableStyleMinimal: {},
}

// Table renders rows with aligned columns
type Table struct {
	headers    []string
	rows       [][]string
	alignments map[int]Alignment
	border     BorderStyle
	maxWidth   int
	colors     ColorSystem
}

// NewTable creates a table in the named style. maxWidth 0 uses the terminal width.
func NewTable(style string, maxWidth int, colors ColorSystem) *Table {
	border, ok := borderStyles[TableStyleName(style)]
	if !ok {
		border = borderStyles[TableStyleDefault]
	}
	if maxWidth <= 0 {
		maxWidth = terminalWidth()
	}
	return &Table{
		alignments: make(map[int]Alignment),
		border:     border,
		maxWidth:   maxWidth,
		colors:     colors,
	}
}

// SetHeaders sets the table headers
func (t *Table) SetHeaders(headers ...string) {
	t.headers = headers
}

// AddRow adds a row to the table
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// SetAlignment sets the alignment of a column
func (t *Table) SetAlignment(column int, alignment Alignment) {
	t.alignments[column] = alignment
}

// Render returns the formatted table
func (t *Table) Render() string {
	if len(t.headers) == 0 && len(t.rows) == 0 {
		return ""
	}
	widths := t.columnWidths()

	var b strings.Builder
	if t.border.Horizontal != "" {
		b.WriteString(t.rule(widths, t.border.TopLeft, t.border.TopTee, t.border.TopRight))
	}
	if len(t.headers) > 0 {
		b.WriteString(t.row(t.headers, widths, true))
		if t.border.Horizontal != "" {
			b.WriteString(t.rule(widths, t.border.LeftTee, t.border.Cross, t.border.RightTee))
		}
	}
	for _, row := range t.rows {
		b.WriteString(t.row(row, widths, false))
	}
	if t.border.Horizontal != "" {
		b.WriteString(t.rule(widths, t.border.BottomLeft, t.border.BottomTee, t.border.BottomRight))
	}
	return b.String()
}

func (t *Table) columnCount() int {
	n := len(t.headers)
	for _, row := range t.rows {
		if len(row) > n {
			n = len(row)
		}
	}
	return n
}

// columnWidths sizes each column to its widest cell, then shrinks the widest
// columns until the table fits maxWidth
func (t *Table) columnWidths() []int {
	widths := make([]int, t.columnCount())
	measure := func(cells []string) {
		for i, cell := range cells {
			if w := utf8.RuneCountInString(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	measure(t.headers)
	for _, row := range t.rows {
		measure(row)
	}

	for t.totalWidth(widths) > t.maxWidth {
		widest := 0
		for i := range widths {
			if widths[i] > widths[widest] {
				widest = i
			}
		}
		if widths[widest] <= 4 {
			break
		}
		widths[widest]--
	}
	return widths
}

func (t *Table) totalWidth(widths []int) int {
	total := 0
	for _, w := range widths {
		total += w + 2
	}
	if t.border.Vertical != "" {
		total += len(widths) + 1
	}
	return total
}

func (t *Table) rule(widths []int, left, mid, right string) string {
	var b strings.Builder
	b.WriteString(left)
	for i, w := range widths {
		b.WriteString(strings.Repeat(t.border.Horizontal, w+2))
		if i < len(widths)-1 {
			b.WriteString(mid)
		}
	}
	b.WriteString(right)
	b.WriteString("\n")
	return b.String()
}

func (t *Table) row(cells []string, widths []int, header bool) string {
	var b strings.Builder
	b.WriteString(t.border.Vertical)
	for i, w := range widths {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		b.WriteString(" ")
		b.WriteString(t.cell(cell, w, t.alignments[i], header))
		b.WriteString(" ")
		b.WriteString(t.border.Vertical)
	}
	return strings.TrimRight(b.String(), " ") + "\n"
}

func (t *Table) cell(content string, width int, alignment Alignment, header bool) string {
	if utf8.RuneCountInString(content) > width {
		runes := []rune(content)
		if width > 3 {
			content = string(runes[:width-3]) + "..."
		} else {
			content = string(runes[:width])
		}
	}
	pad := strings.Repeat(" ", width-utf8.RuneCountInString(content))

	if header && t.colors != nil {
		content = t.colors.Colorize(content, t.colors.Theme().Primary)
	}
	if alignment == AlignRight {
		return pad + content
	}
	return content + pad
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 120
	}
	return width
}
