// File: internal/sheet/text.go
// Package sheet turns user input into run sections. It reads two shapes: free
// text with MODIFY:/VIEW:/PUT:/GET: headers, and exported spreadsheets with an
// operation column and a policy column.
package sheet

import (
	"strings"

	"github.com/xkilldash9x/bulkperm/api/schemas"
)

// ParseText reads one value per non-blank line. A line equal to a section header
// (case-insensitive, with the colon) switches the current section; lines before
// the first header go to defaultTarget.
func ParseText(text string, defaultTarget schemas.FieldKey) schemas.Sections {
	out := schemas.NewSections()
	current := schemas.FieldKey("")

	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if key, ok := sectionHeader(line); ok {
			current = key
			continue
		}
		if current == "" {
			current = defaultTarget
		}
		out.Add(current, line)
	}
	return out
}

func sectionHeader(line string) (schemas.FieldKey, bool) {
	upper := strings.ToUpper(line)
	if !strings.HasSuffix(upper, ":") {
		return "", false
	}
	key := schemas.FieldKey(strings.TrimSuffix(upper, ":"))
	for _, k := range schemas.FieldOrder {
		if k == key {
			return k, true
		}
	}
	return "", false
}

// FormatBlock renders sections as the text block ParseText reads: a "KEY:" line,
// its values, then a blank line, in MODIFY, VIEW, PUT, GET order. Empty sections
// are omitted. Values keep their order.
func FormatBlock(sections schemas.Sections) string {
	var b strings.Builder
	for _, k := range schemas.FieldOrder {
		values := sections[k]
		if len(values) == 0 {
			continue
		}
		b.WriteString(string(k))
		b.WriteString(":\n")
		for _, v := range values {
			b.WriteString(v)
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return ""
	}
	return out + "\n"
}
