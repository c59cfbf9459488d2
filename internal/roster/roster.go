// Package roster reads employee photo rosters from xlsx and xls workbooks.
package roster

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

const maxRows = 100000

var (
	ErrNoWorksheet   = errors.New("no worksheet found")
	ErrEmptySheet    = errors.New("worksheet is empty")
	ErrMissingColumn = errors.New("missing required column")
)

var (
	nameHeaders  = []string{"name", "employee", "employee name"}
	photoHeaders = []string{"photo", "photo file", "image"}
)

// Entry is one employee row: who the badge is for and which file holds their photo.
type Entry struct {
	Row   int
	Name  string
	Photo string
}

// ReadRows returns every row of the workbook's only sheet. Files ending in
// .xls are read as legacy BIFF workbooks; anything else is opened as xlsx.
func ReadRows(reader io.Reader, filename string) ([][]string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xls":
		workbook, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
		if err != nil {
			return nil, fmt.Errorf("open xls: %w", err)
		}
		if workbook.NumSheets() == 0 {
			return nil, ErrNoWorksheet
		}
		if workbook.NumSheets() > 1 {
			return nil, fmt.Errorf("multiple worksheets found; please use a file with a single sheet")
		}
		rows := workbook.ReadAllCells(maxRows)
		if len(rows) == 0 {
			return nil, ErrEmptySheet
		}
		return rows, nil
	default:
		file, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("open xlsx: %w", err)
		}
		defer func() { _ = file.Close() }()

		sheetName := file.GetSheetName(0)
		if sheetName == "" {
			return nil, ErrNoWorksheet
		}
		rows, err := file.GetRows(sheetName)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, ErrEmptySheet
		}
		return rows, nil
	}
}

// Parse maps spreadsheet rows to entries using the header row. Rows with
// neither a name nor a photo are skipped; rows with only one of them are
// an error so a typo in the roster does not silently drop an employee.
func Parse(rows [][]string) ([]Entry, error) {
	if len(rows) == 0 {
		return nil, ErrEmptySheet
	}
	nameIdx, photoIdx := -1, -1
	for i, header := range rows[0] {
		h := normalizeHeader(header)
		if nameIdx < 0 && contains(nameHeaders, h) {
			nameIdx = i
		}
		if photoIdx < 0 && contains(photoHeaders, h) {
			photoIdx = i
		}
	}
	if nameIdx < 0 {
		return nil, fmt.Errorf("%w: name", ErrMissingColumn)
	}
	if photoIdx < 0 {
		return nil, fmt.Errorf("%w: photo", ErrMissingColumn)
	}

	entries := make([]Entry, 0, len(rows)-1)
	for i, row := range rows[1:] {
		rowNum := i + 2
		name := strings.Join(strings.Fields(cellValue(row, nameIdx)), " ")
		photo := cellValue(row, photoIdx)
		if name == "" && photo == "" {
			continue
		}
		if name == "" {
			return nil, fmt.Errorf("row %d: name is required", rowNum)
		}
		if photo == "" {
			return nil, fmt.Errorf("row %d: photo is required for %s", rowNum, name)
		}
		entries = append(entries, Entry{Row: rowNum, Name: name, Photo: photo})
	}
	return entries, nil
}

func normalizeHeader(header string) string {
	return strings.ToLower(strings.TrimSpace(header))
}

func cellValue(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
