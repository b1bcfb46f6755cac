// File: internal/sheet/load.go
package sheet

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/xuri/excelize/v2"

	"github.com/xkilldash9x/bulkperm/api/schemas"
)

// ErrNoPolicies is returned when a sheet yields nothing to apply.
var ErrNoPolicies = errors.New("no policies found in the file; verify the sheet has columns like 'Operation' and 'Domain Security Policy'")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// IsTable reports whether path names a spreadsheet LoadTable can read.
func IsTable(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm", ".csv":
		return true
	}
	return false
}

// LoadTable reads the first sheet of an .xlsx/.xlsm workbook, or a .csv file.
// The first row is the header.
func LoadTable(path string) (Table, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return Table{}, fmt.Errorf("failed to expand path %q: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return loadWorkbook(path)
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return Table{}, fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()
		return ReadCSV(f)
	default:
		return Table{}, fmt.Errorf("unsupported spreadsheet type %q", filepath.Ext(path))
	}
}

func loadWorkbook(path string) (Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Table{}, fmt.Errorf("workbook %s has no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return Table{}, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return Table{}, nil
	}
	return NewTable(rows[0], rows[1:]), nil
}

// ReadCSV reads a header row and records from r. Ragged rows are allowed.
func ReadCSV(r io.Reader) (Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Table{}, fmt.Errorf("failed to read csv: %w", err)
	}
	cr := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	records, err := cr.ReadAll()
	if err != nil {
		return Table{}, fmt.Errorf("failed to parse csv: %w", err)
	}
	if len(records) == 0 {
		return Table{}, nil
	}
	return NewTable(records[0], records[1:]), nil
}

// LoadSections reads sections from a spreadsheet or a text block, by extension.
func LoadSections(path string, defaultTarget schemas.FieldKey) (schemas.Sections, error) {
	if IsTable(path) {
		t, err := LoadTable(path)
		if err != nil {
			return nil, err
		}
		sections := BuildFromRows(t)
		if sections.Total() == 0 {
			return nil, ErrNoPolicies
		}
		return sections, nil
	}

	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand path %q: %w", path, err)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", expanded, err)
	}
	return ParseText(string(data), defaultTarget), nil
}
