package roster

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func xlsxWorkbook(t *testing.T, rows [][]any) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf
}

func TestReadRowsXLSX(t *testing.T) {
	buf := xlsxWorkbook(t, [][]any{
		{"Employee Name", "Photo File"},
		{"Jordan Lee", "jordan.jpg"},
		{"Sam Ortiz", "sam.png"},
	})
	rows, err := ReadRows(buf, "roster.xlsx")
	if err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[2][0] != "Sam Ortiz" || rows[2][1] != "sam.png" {
		t.Fatalf("unexpected row %v", rows[2])
	}
}

func TestReadRowsRejectsGarbage(t *testing.T) {
	if _, err := ReadRows(strings.NewReader("not a workbook"), "roster.xlsx"); err == nil {
		t.Fatalf("expected error for invalid xlsx")
	}
}

func TestParse(t *testing.T) {
	rows := [][]string{
		{"ID", " Name ", "Image"},
		{"1", "Jordan   Lee", " jordan.jpg "},
		{},
		{"3", "", ""},
		{"4", "Sam Ortiz", "sam.png"},
	}
	entries, err := Parse(rows)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d: %+v", len(entries), entries)
	}
	want := Entry{Row: 2, Name: "Jordan Lee", Photo: "jordan.jpg"}
	if entries[0] != want {
		t.Fatalf("expected %+v, got %+v", want, entries[0])
	}
	if entries[1].Row != 5 || entries[1].Name != "Sam Ortiz" {
		t.Fatalf("unexpected second entry %+v", entries[1])
	}
}

func TestParseMissingColumns(t *testing.T) {
	if _, err := Parse([][]string{{"Employee", "Notes"}}); !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("expected missing column error, got %v", err)
	}
	if _, err := Parse([][]string{{"Photo"}}); !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("expected missing column error, got %v", err)
	}
	if _, err := Parse(nil); !errors.Is(err, ErrEmptySheet) {
		t.Fatalf("expected empty sheet error, got %v", err)
	}
}

func TestParseIncompleteRow(t *testing.T) {
	_, err := Parse([][]string{{"name", "photo"}, {"Jordan Lee", ""}})
	if err == nil || !strings.Contains(err.Error(), "row 2") {
		t.Fatalf("expected row 2 error, got %v", err)
	}
}
