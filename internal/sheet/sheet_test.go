// File: internal/sheet/sheet_test.go
package sheet

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/xkilldash9x/bulkperm/api/schemas"
)

func sections(pairs map[schemas.FieldKey][]string) schemas.Sections {
	s := schemas.NewSections()
	for k, vs := range pairs {
		for _, v := range vs {
			s.Add(k, v)
		}
	}
	return s
}

func TestParseText(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		target schemas.FieldKey
		want   schemas.Sections
	}{
		{
			name: "two sections separated by a blank line",
			text: "MODIFY:\nPolicyA\n\nVIEW:\nPolicyB\n",
			want: sections(map[schemas.FieldKey][]string{
				schemas.FieldModify: {"PolicyA"},
				schemas.FieldView:   {"PolicyB"},
			}),
		},
		{
			name: "headers are case-insensitive",
			text: "modify:\nPolicy A\n\nView:\nPolicy B\nPolicy C\nGET:\r\nPolicy D\r\n",
			want: sections(map[schemas.FieldKey][]string{
				schemas.FieldModify: {"Policy A"},
				schemas.FieldView:   {"Policy B", "Policy C"},
				schemas.FieldGet:    {"Policy D"},
			}),
		},
		{
			name:   "lines before a header go to the default target",
			text:   "  Policy A  \nPolicy B\nPUT:\nPolicy C",
			target: schemas.FieldView,
			want: sections(map[schemas.FieldKey][]string{
				schemas.FieldView: {"Policy A", "Policy B"},
				schemas.FieldPut:  {"Policy C"},
			}),
		},
		{
			name: "duplicates collapse case-insensitively",
			text: "MODIFY:\nPolicy A\npolicy a\nPolicy B\nMODIFY:\nPOLICY B",
			want: sections(map[schemas.FieldKey][]string{
				schemas.FieldModify: {"Policy A", "Policy B"},
			}),
		},
		{
			name: "a header needs its colon",
			text: "VIEW:\nMODIFY\nGet Data",
			want: sections(map[schemas.FieldKey][]string{
				schemas.FieldView: {"MODIFY", "Get Data"},
			}),
		},
		{
			name: "blank input",
			text: "\n  \n\t\n",
			want: schemas.NewSections(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := tt.target
			if target == "" {
				target = schemas.FieldModify
			}
			got := ParseText(tt.text, target)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseText mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFormatBlock(t *testing.T) {
	s := sections(map[schemas.FieldKey][]string{
		schemas.FieldGet:    {"Policy Z", "Policy A"},
		schemas.FieldModify: {"Policy B"},
	})
	assert.Equal(t, "MODIFY:\nPolicy B\n\nGET:\nPolicy Z\nPolicy A\n", FormatBlock(s))
	assert.Equal(t, "", FormatBlock(schemas.NewSections()))
}

func TestFormatBlockRoundTrip(t *testing.T) {
	s := sections(map[schemas.FieldKey][]string{
		schemas.FieldModify: {"Worker Data: Compensation", "Security Administration"},
		schemas.FieldView:   {"Person Data: Home Address"},
		schemas.FieldPut:    {"Integration Build"},
		schemas.FieldGet:    {"Integration Build", "Reports"},
	})
	got := ParseText(FormatBlock(s), schemas.FieldModify)
	if diff := cmp.Diff(s, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestFormatBlockReproducesTextBlock(t *testing.T) {
	const block = "MODIFY:\nPolicyA\n\nVIEW:\nPolicyB\n"
	parsed := ParseText(block, schemas.FieldModify)
	assert.Empty(t, parsed[schemas.FieldPut])
	assert.Empty(t, parsed[schemas.FieldGet])
	assert.Equal(t, block, FormatBlock(parsed))
}

func TestIsOperation(t *testing.T) {
	yes := []string{"View Only", "modify only", "View and Modify", "GET ONLY", "put only", "Get and Put",
		"View / Modify", "Put and Get", "  view   only "}
	no := []string{"", "Worker Data: Compensation", "View", "Get", "Only", "Security Administration"}
	for _, v := range yes {
		assert.True(t, IsOperation(v), v)
	}
	for _, v := range no {
		assert.False(t, IsOperation(v), v)
	}
}

func TestOperationSections(t *testing.T) {
	tests := map[string][]schemas.FieldKey{
		"View Only":       {schemas.FieldView},
		"Modify Only":     {schemas.FieldModify},
		"View and Modify": {schemas.FieldView, schemas.FieldModify},
		"Get Only":        {schemas.FieldGet},
		"Put Only":        {schemas.FieldPut},
		"Get and Put":     {schemas.FieldGet, schemas.FieldPut},
		"Modify + View":   {schemas.FieldView, schemas.FieldModify},
		"Unknown":         nil,
	}
	for op, want := range tests {
		assert.Equal(t, want, OperationSections(op), op)
	}
}

func TestBuildFromRows(t *testing.T) {
	t.Run("view and modify lands in both sections once", func(t *testing.T) {
		table := NewTable(
			[]string{"Operation", "Domain Security Policy"},
			[][]string{
				{"View and Modify", "PolicyX"},
				{"View and Modify", "policyx"},
				{"Get Only", "PolicyY"},
			})
		got := BuildFromRows(table)
		want := sections(map[schemas.FieldKey][]string{
			schemas.FieldModify: {"PolicyX"},
			schemas.FieldView:   {"PolicyX"},
			schemas.FieldGet:    {"PolicyY"},
		})
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("BuildFromRows mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("renamed headers fall back to content", func(t *testing.T) {
		table := NewTable(
			[]string{"Col A", "Col B", "Functional Area"},
			[][]string{
				{"Worker Data: Compensation", "Modify Only", "Comp"},
				{"Person Data: Home Address", "View Only", "Personal Data"},
				{"Integration Build", "Get and Put", "Integration"},
			})
		op, pol := table.DetectColumns()
		assert.Equal(t, 1, op)
		assert.Equal(t, 0, pol)

		got := BuildFromRows(table)
		assert.Equal(t, []string{"Worker Data: Compensation"}, got[schemas.FieldModify])
		assert.Equal(t, []string{"Person Data: Home Address"}, got[schemas.FieldView])
		assert.Equal(t, []string{"Integration Build"}, got[schemas.FieldGet])
		assert.Equal(t, []string{"Integration Build"}, got[schemas.FieldPut])
	})

	t.Run("header pick rejected when its content disagrees", func(t *testing.T) {
		// The "Access" header holds policies and the policy header holds operations.
		table := NewTable(
			[]string{"Access Notes", "Domain Security Policy"},
			[][]string{
				{"Security Administration", "View Only"},
				{"Worker Data: Public Worker Reports", "View and Modify"},
			})
		op, pol := table.DetectColumns()
		assert.Equal(t, 1, op)
		assert.Equal(t, 0, pol)

		got := BuildFromRows(table)
		assert.Equal(t, []string{"Security Administration", "Worker Data: Public Worker Reports"}, got[schemas.FieldView])
		assert.Equal(t, []string{"Worker Data: Public Worker Reports"}, got[schemas.FieldModify])
	})

	t.Run("shifted row is recovered", func(t *testing.T) {
		table := NewTable(
			[]string{"Operation", "Domain Security Policy"},
			[][]string{
				{"View Only", "Policy A"},
				{"View Only", "Policy B"},
				{"Policy C", "Modify Only"},
			})
		got := BuildFromRows(table)
		assert.Equal(t, []string{"Policy C"}, got[schemas.FieldModify])
		assert.Equal(t, []string{"Policy A", "Policy B"}, got[schemas.FieldView])
	})

	t.Run("rows without policy or operation are dropped", func(t *testing.T) {
		table := NewTable(
			[]string{"Operation", "Domain Security Policy"},
			[][]string{
				{"View Only", ""},
				{"", ""},
				{"Unknown", "Policy A"},
				{"Put Only", "  Policy   B "},
			})
		got := BuildFromRows(table)
		assert.Equal(t, 1, got.Total())
		assert.Equal(t, []string{"Policy B"}, got[schemas.FieldPut])
	})
}

func TestNewTable(t *testing.T) {
	table := NewTable([]string{"Operation", "", "Operation", " "}, [][]string{
		{"View Only"},
		{"", "  ", ""},
		{"a", "b", "c", "d", "extra"},
	})
	assert.Equal(t, []string{"Operation", "__EMPTY", "Operation_1", "__EMPTY_1"}, table.Columns)
	require.Len(t, table.Rows, 2, "blank record is dropped")
	assert.Equal(t, []string{"View Only", "", "", ""}, table.Rows[0])
	assert.Equal(t, []string{"a", "b", "c", "d"}, table.Rows[1])
}

func TestReadCSV(t *testing.T) {
	data := "\xEF\xBB\xBFOperation,Domain Security Policy,Functional Areas\n" +
		"View and Modify,\"Worker Data: Compensation\",Compensation\n" +
		"Get Only,Integration Build\n"
	table, err := ReadCSV(strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, []string{"Operation", "Domain Security Policy", "Functional Areas"}, table.Columns)
	require.Len(t, table.Rows, 2)

	got := BuildFromRows(table)
	assert.Equal(t, []string{"Worker Data: Compensation"}, got[schemas.FieldView])
	assert.Equal(t, []string{"Integration Build"}, got[schemas.FieldGet])
}

func writeWorkbook(t *testing.T, rows [][]interface{}) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cellRef, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cellRef, &row))
	}
	path := filepath.Join(t.TempDir(), "permissions.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestLoadSections(t *testing.T) {
	t.Run("workbook", func(t *testing.T) {
		path := writeWorkbook(t, [][]interface{}{
			{"Operation", "Domain Security Policy", "Domain Security Policies"},
			{"View and Modify", "Worker Data: Compensation", "Compensation"},
			{"Get and Put", "Integration Build", "Integration"},
		})
		got, err := LoadSections(path, schemas.FieldModify)
		require.NoError(t, err)
		assert.Equal(t,
			"MODIFY:\nWorker Data: Compensation\n\nVIEW:\nWorker Data: Compensation\n\nPUT:\nIntegration Build\n\nGET:\nIntegration Build\n",
			FormatBlock(got))
	})

	t.Run("workbook without policies", func(t *testing.T) {
		path := writeWorkbook(t, [][]interface{}{{"Operation", "Domain Security Policy"}})
		_, err := LoadSections(path, schemas.FieldModify)
		assert.ErrorIs(t, err, ErrNoPolicies)
	})

	t.Run("text file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "list.txt")
		require.NoError(t, os.WriteFile(path, []byte("Policy A\nGET:\nPolicy B\n"), 0o600))
		got, err := LoadSections(path, schemas.FieldPut)
		require.NoError(t, err)
		assert.Equal(t, []string{"Policy A"}, got[schemas.FieldPut])
		assert.Equal(t, []string{"Policy B"}, got[schemas.FieldGet])
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadSections(filepath.Join(t.TempDir(), "nope.csv"), schemas.FieldModify)
		assert.Error(t, err)
	})

	t.Run("unsupported table type", func(t *testing.T) {
		_, err := LoadTable("sheet.ods")
		assert.ErrorContains(t, err, "unsupported")
	})
}

// FuzzBuildFromRows checks the output invariants hold for arbitrary tables.
func FuzzBuildFromRows(f *testing.F) {
	f.Add([]byte("seed"))
	f.Fuzz(func(t *testing.T, data []byte) {
		var in struct {
			Header []string
			Rows   [][]string
		}
		if err := fuzz.NewConsumer(data).GenerateStruct(&in); err != nil {
			return
		}

		got := BuildFromRows(NewTable(in.Header, in.Rows))
		for _, k := range schemas.FieldOrder {
			seen := make(map[string]bool)
			for _, v := range got[k] {
				assert.NotEmpty(t, v)
				assert.False(t, IsOperation(v), "operation phrase leaked as a policy: %q", v)
				key := strings.ToLower(v)
				assert.False(t, seen[key], "duplicate %q in %s", v, k)
				seen[key] = true
			}
		}
		// The rendered block parses back to the same sections.
		if diff := cmp.Diff(got, ParseText(FormatBlock(got), schemas.FieldModify)); diff != "" && !headerLike(got) {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	})
}

// headerLike reports whether some value would read back as a section header.
func headerLike(s schemas.Sections) bool {
	for _, k := range schemas.FieldOrder {
		for _, v := range s[k] {
			if _, ok := sectionHeader(v); ok {
				return true
			}
		}
	}
	return false
}
