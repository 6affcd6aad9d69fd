package output

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"

	"github.com/pankaj-dahiya-devops/opsaudit/internal/models"
)

// TableOptions controls RenderTable.
type TableOptions struct {
	// Columns selects and orders the fields to show. Nil shows every field
	// in first-seen order across all records.
	Columns []string

	// EmptyMessage is printed instead of a table when there are no records.
	// Defaults to "No findings.".
	EmptyMessage string

	// Colored renders the header in bold. Default false (CI-safe).
	Colored bool
}

// RenderTable writes records as a fixed-width text table. Each column is as
// wide as its longest cell or header; cells are left-justified and separated
// by two spaces. A row of dashes, one run per column, follows the header.
// Cells are never truncated.
func RenderTable(w io.Writer, records []*models.Record, opts TableOptions) error {
	if len(records) == 0 {
		msg := opts.EmptyMessage
		if msg == "" {
			msg = "No findings."
		}
		_, err := fmt.Fprintln(w, msg)
		return err
	}

	cols := opts.Columns
	if cols == nil {
		cols = columnUnion(records)
	}

	headers := make([]string, len(cols))
	widths := make([]int, len(cols))
	for i, c := range cols {
		headers[i] = strings.ToUpper(c)
		widths[i] = utf8.RuneCountInString(headers[i])
	}

	rows := make([][]string, len(records))
	for r, rec := range records {
		row := make([]string, len(cols))
		for i, c := range cols {
			v, _ := rec.Get(c)
			row[i] = FormatCell(v)
			if n := utf8.RuneCountInString(row[i]); n > widths[i] {
				widths[i] = n
			}
		}
		rows[r] = row
	}

	header := joinPadded(headers, widths)
	if opts.Colored {
		fmt.Fprintln(w, color.New(color.Bold).Sprint(header))
	} else {
		fmt.Fprintln(w, header)
	}
	dashes := make([]string, len(widths))
	for i, n := range widths {
		dashes[i] = strings.Repeat("-", n)
	}
	fmt.Fprintln(w, strings.Join(dashes, "  "))

	for _, row := range rows {
		if _, err := fmt.Fprintln(w, joinPadded(row, widths)); err != nil {
			return err
		}
	}
	return nil
}

// joinPadded left-justifies each cell to its column width and joins the
// cells with two spaces. Trailing padding is trimmed.
func joinPadded(cells []string, widths []int) string {
	var b strings.Builder
	for i, c := range cells {
		if i > 0 {
			b.WriteString("  ")
		}
		b.WriteString(c)
		if pad := widths[i] - utf8.RuneCountInString(c); pad > 0 {
			b.WriteString(strings.Repeat(" ", pad))
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// columnUnion returns every field name across records in first-seen order.
func columnUnion(records []*models.Record) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, r := range records {
		for _, k := range r.Keys() {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	return cols
}

// FormatCell renders a record value for table display. Nil prints as "-",
// floats with two decimals, string slices comma-joined and string maps as
// sorted key=value pairs.
func FormatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return "-"
	case string:
		if t == "" {
			return "-"
		}
		return t
	case *string:
		if t == nil {
			return "-"
		}
		return FormatCell(*t)
	case float64:
		return strconv.FormatFloat(t, 'f', 2, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', 2, 32)
	case bool:
		if t {
			return "yes"
		}
		return "no"
	case error:
		return t.Error()
	case []string:
		if len(t) == 0 {
			return "-"
		}
		return strings.Join(t, "; ")
	case map[string]string:
		if len(t) == 0 {
			return "-"
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + t[k]
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(t)
	}
}
