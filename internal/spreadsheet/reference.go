package spreadsheet

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"codes-bot/internal/lookup"
)

const (
	referenceKeyColumn   = 0 // A: article
	referenceValueColumn = 5 // F: barcode
)

// ReferenceBook reads the article to barcode mapping from the first sheet of
// an xlsx workbook. The first row is a header.
type ReferenceBook struct {
	path string
}

var _ lookup.Source = (*ReferenceBook)(nil)

func NewReferenceBook(path string) (*ReferenceBook, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("spreadsheet: reference book path must not be empty")
	}
	return &ReferenceBook{path: path}, nil
}

func (r *ReferenceBook) Name() string {
	return "file:" + r.path
}

func (r *ReferenceBook) Fetch(ctx context.Context) ([]lookup.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := readFirstSheet(r.path)
	if err != nil {
		return nil, fmt.Errorf("spreadsheet: read reference book: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	entries := make([]lookup.Entry, 0, len(rows)-1)
	for _, row := range rows[1:] {
		key, value := cell(row, referenceKeyColumn), cell(row, referenceValueColumn)
		if key == "" || value == "" {
			continue
		}
		entries = append(entries, lookup.Entry{Key: key, Value: value})
	}
	return entries, nil
}

func readFirstSheet(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	return f.GetRows(sheets[0])
}

func cell(row []string, idx int) string {
	if idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
