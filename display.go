package opteryx

import (
	"fmt"
	"strings"
	"sync"
)

// DisplayConfig controls how a Morsel is formatted when printed.
type DisplayConfig struct {
	// MaxRows is the maximum number of rows to display. If the morsel has
	// more, head and tail rows are shown with a "…" row in between.
	MaxRows int

	// MaxCols is the maximum number of columns to display. Extra columns
	// in the middle are replaced with a single "…" column.
	MaxCols int

	// MaxColWidth truncates longer cell content with "...".
	MaxColWidth int

	// MinColWidth is the minimum column width for alignment.
	MinColWidth int

	// FloatPrecision is the number of decimal places shown for float values.
	FloatPrecision int

	// ShowDTypes controls whether a dtype row is shown under column names.
	ShowDTypes bool

	// ShowShape controls whether a "(rows, cols)" header line is shown.
	ShowShape bool

	// TableStyle selects the border glyphs: "rounded", "sharp", "ascii",
	// or "minimal".
	TableStyle string
}

type tableChars struct {
	topLeft, topRight, bottomLeft, bottomRight string
	horizontal, vertical                       string
	topT, bottomT, leftT, rightT, cross        string
}

var tableStyles = map[string]tableChars{
	"rounded": {
		topLeft: "╭", topRight: "╮", bottomLeft: "╰", bottomRight: "╯",
		horizontal: "─", vertical: "│",
		topT: "┬", bottomT: "┴", leftT: "├", rightT: "┤", cross: "┼",
	},
	"sharp": {
		topLeft: "┌", topRight: "┐", bottomLeft: "└", bottomRight: "┘",
		horizontal: "─", vertical: "│",
		topT: "┬", bottomT: "┴", leftT: "├", rightT: "┤", cross: "┼",
	},
	"ascii": {
		topLeft: "+", topRight: "+", bottomLeft: "+", bottomRight: "+",
		horizontal: "-", vertical: "|",
		topT: "+", bottomT: "+", leftT: "+", rightT: "+", cross: "+",
	},
	"minimal": {
		topLeft: " ", topRight: " ", bottomLeft: " ", bottomRight: " ",
		horizontal: "─", vertical: " ",
		topT: " ", bottomT: " ", leftT: " ", rightT: " ", cross: " ",
	},
}

// DefaultDisplayConfig returns the default display configuration.
func DefaultDisplayConfig() DisplayConfig {
	return DisplayConfig{
		MaxRows:        10,
		MaxCols:        10,
		MaxColWidth:    25,
		MinColWidth:    8,
		FloatPrecision: 4,
		ShowDTypes:     true,
		ShowShape:      true,
		TableStyle:     "rounded",
	}
}

var (
	globalDisplayConfig = DefaultDisplayConfig()
	displayConfigMu     sync.RWMutex
)

// SetDisplayConfig sets the global display configuration.
func SetDisplayConfig(cfg DisplayConfig) {
	displayConfigMu.Lock()
	defer displayConfigMu.Unlock()
	globalDisplayConfig = cfg
}

// GetDisplayConfig returns the current global display configuration.
func GetDisplayConfig() DisplayConfig {
	displayConfigMu.RLock()
	defer displayConfigMu.RUnlock()
	return globalDisplayConfig
}

// SetMaxDisplayRows sets the maximum number of rows to display.
func SetMaxDisplayRows(n int) {
	displayConfigMu.Lock()
	defer displayConfigMu.Unlock()
	globalDisplayConfig.MaxRows = n
}

// SetMaxDisplayCols sets the maximum number of columns to display.
func SetMaxDisplayCols(n int) {
	displayConfigMu.Lock()
	defer displayConfigMu.Unlock()
	globalDisplayConfig.MaxCols = n
}

// SetTableStyle sets the table border style: "rounded", "sharp", "ascii",
// or "minimal".
func SetTableStyle(style string) {
	displayConfigMu.Lock()
	defer displayConfigMu.Unlock()
	if _, ok := tableStyles[style]; ok {
		globalDisplayConfig.TableStyle = style
	}
}

// cellString formats one cell of col at row i, applying FloatPrecision and
// MaxColWidth truncation. A SQL NULL always renders as "null", distinct
// from any valid empty string.
func cellString(col *Column, i int, cfg DisplayConfig) string {
	if !col.IsValid(i) {
		return truncate("null", cfg.MaxColWidth)
	}
	var s string
	switch col.DType {
	case Float64:
		v, _ := col.AtF64(i)
		s = fmt.Sprintf("%.*f", cfg.FloatPrecision, v)
	case Float32:
		v, _ := col.AtF32(i)
		s = fmt.Sprintf("%.*f", cfg.FloatPrecision, v)
	case Int64, TimestampNanos:
		v, _ := col.AtI64(i)
		s = fmt.Sprintf("%d", v)
	case Int32, Date32:
		v, _ := col.AtI32(i)
		s = fmt.Sprintf("%d", v)
	case Decimal:
		v, _ := col.AtI64(i)
		s = formatDecimal(v, col.decimalParams)
	case Bool:
		v, _ := col.AtBool(i)
		s = fmt.Sprintf("%v", v)
	case String, Categorical:
		v, _ := col.AtString(i)
		s = v
	case Binary:
		v, _ := col.AtBinary(i)
		s = fmt.Sprintf("0x%x", v)
	default:
		s = col.DType.String()
	}
	return truncate(s, cfg.MaxColWidth)
}

func formatDecimal(mantissa int64, p DecimalParams) string {
	s := fmt.Sprintf("%d", mantissa)
	if p.Scale <= 0 {
		return s
	}
	neg := mantissa < 0
	if neg {
		s = s[1:]
	}
	for len(s) <= p.Scale {
		s = "0" + s
	}
	whole, frac := s[:len(s)-p.Scale], s[len(s)-p.Scale:]
	out := whole + "." + frac
	if neg {
		out = "-" + out
	}
	return out
}

func truncate(s string, maxWidth int) string {
	if len(s) <= maxWidth {
		return s
	}
	if maxWidth <= 3 {
		return s[:maxWidth]
	}
	return s[:maxWidth-3] + "..."
}

// calculateMorselColumnWidths computes a display width per column from its
// name, dtype label (if shown), and sampled cell values.
func calculateMorselColumnWidths(m *Morsel, cfg DisplayConfig, rowIndices []int) []int {
	widths := make([]int, m.Schema.Len())
	for i, f := range m.Schema.Fields() {
		widths[i] = len(f.Name)
		if cfg.ShowDTypes && len(f.DType.String()) > widths[i] {
			widths[i] = len(f.DType.String())
		}
		col := m.Column(i)
		for _, rowIdx := range rowIndices {
			if rowIdx < 0 {
				continue
			}
			if w := len(cellString(col, rowIdx, cfg)); w > widths[i] {
				widths[i] = w
			}
		}
		if widths[i] < cfg.MinColWidth {
			widths[i] = cfg.MinColWidth
		}
		if widths[i] > cfg.MaxColWidth {
			widths[i] = cfg.MaxColWidth
		}
	}
	return widths
}

// FormatMorsel renders m as a boxed table using cfg. Selection vectors are
// materialized first since display always walks absolute row positions.
func FormatMorsel(m *Morsel, cfg DisplayConfig) string {
	mat := m.Materialize()
	height := mat.RowCount
	numCols := mat.Schema.Len()
	if height == 0 || numCols == 0 {
		return "Morsel(empty)"
	}

	chars, ok := tableStyles[cfg.TableStyle]
	if !ok {
		chars = tableStyles["rounded"]
	}

	var sb strings.Builder
	if cfg.ShowShape {
		fmt.Fprintf(&sb, "shape: (%d, %d)\n", height, numCols)
	}

	showAllCols := numCols <= cfg.MaxCols
	var colIndices []int
	if showAllCols {
		colIndices = rangeInts(numCols)
	} else {
		headCols := cfg.MaxCols / 2
		tailCols := cfg.MaxCols - headCols
		colIndices = append(rangeInts(headCols), -1)
		for i := numCols - tailCols; i < numCols; i++ {
			colIndices = append(colIndices, i)
		}
	}

	showAllRows := height <= cfg.MaxRows
	var rowIndices []int
	if showAllRows {
		rowIndices = rangeInts(height)
	} else {
		headRows := cfg.MaxRows / 2
		tailRows := cfg.MaxRows - headRows
		rowIndices = append(rangeInts(headRows), -1)
		for i := height - tailRows; i < height; i++ {
			rowIndices = append(rowIndices, i)
		}
	}

	allWidths := calculateMorselColumnWidths(mat, cfg, rowIndices)
	colWidths := make([]int, len(colIndices))
	for i, colIdx := range colIndices {
		if colIdx == -1 {
			colWidths[i] = 3
		} else {
			colWidths[i] = allWidths[colIdx]
		}
	}

	writeBorder(&sb, chars, colWidths, chars.topLeft, chars.topT, chars.topRight)

	sb.WriteString(chars.vertical)
	for i, colIdx := range colIndices {
		if colIdx == -1 {
			fmt.Fprintf(&sb, " %*s ", colWidths[i], "…")
		} else {
			fmt.Fprintf(&sb, " %-*s ", colWidths[i], truncate(mat.Schema.Field(colIdx).Name, colWidths[i]))
		}
		sb.WriteString(chars.vertical)
	}
	sb.WriteString("\n")

	if cfg.ShowDTypes {
		sb.WriteString(chars.vertical)
		for i, colIdx := range colIndices {
			if colIdx == -1 {
				fmt.Fprintf(&sb, " %*s ", colWidths[i], "---")
			} else {
				fmt.Fprintf(&sb, " %-*s ", colWidths[i], truncate(mat.Schema.Field(colIdx).DType.String(), colWidths[i]))
			}
			sb.WriteString(chars.vertical)
		}
		sb.WriteString("\n")
	}

	writeBorder(&sb, chars, colWidths, chars.leftT, chars.cross, chars.rightT)

	for _, rowIdx := range rowIndices {
		sb.WriteString(chars.vertical)
		for i, colIdx := range colIndices {
			if rowIdx == -1 || colIdx == -1 {
				fmt.Fprintf(&sb, " %*s ", colWidths[i], "…")
			} else {
				fmt.Fprintf(&sb, " %*s ", colWidths[i], cellString(mat.Column(colIdx), rowIdx, cfg))
			}
			sb.WriteString(chars.vertical)
		}
		sb.WriteString("\n")
	}

	writeBorder(&sb, chars, colWidths, chars.bottomLeft, chars.bottomT, chars.bottomRight)
	return sb.String()
}

func writeBorder(sb *strings.Builder, chars tableChars, colWidths []int, left, mid, right string) {
	sb.WriteString(left)
	for i, w := range colWidths {
		if i > 0 {
			sb.WriteString(mid)
		}
		sb.WriteString(strings.Repeat(chars.horizontal, w+2))
	}
	sb.WriteString(right)
	sb.WriteString("\n")
}

func rangeInts(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// PrintMorsel formats m with the global display configuration and writes it
// to stdout, followed by a newline — the quick-look entry point used from
// a REPL or a test failure message.
func PrintMorsel(m *Morsel) {
	fmt.Println(FormatMorsel(m, GetDisplayConfig()))
}
