package spreadsheet

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Transform failures. Each one is a per-file problem the user can fix.
var (
	ErrKeyNotFound    = errors.New("article not found in reference book")
	ErrNoDataRows     = errors.New("no codes found in column B")
	ErrMalformedInput = errors.New("malformed input file")
)

const (
	resultHeader = "codes"
	codesColumn  = 1 // B
)

// Resolver looks up the barcode for an article.
type Resolver interface {
	Resolve(key string) (string, bool)
}

// Result describes a written result workbook.
type Result struct {
	OutputPath string
	Key        string
	Codes      int
}

// Transformer turns an uploaded codes workbook into a result workbook
// headed by the barcode resolved for the article in the file name.
type Transformer struct{}

func NewTransformer() *Transformer {
	return &Transformer{}
}

// ExtractArticle returns the article encoded in a file name: the first
// whitespace-separated token of the name without its extension.
func ExtractArticle(filename string) string {
	base := filepath.Base(strings.TrimSpace(filename))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	fields := strings.Fields(base)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Transform reads codes from inputPath and writes the result to outputPath.
func (t *Transformer) Transform(inputPath, filename string, resolver Resolver, outputPath string) (Result, error) {
	article := ExtractArticle(filename)
	if article == "" {
		return Result{}, fmt.Errorf("%w: cannot extract article from file name %q", ErrMalformedInput, filename)
	}

	barcode, ok := resolver.Resolve(article)
	if !ok {
		return Result{}, fmt.Errorf("%w: article %q (file %s)", ErrKeyNotFound, article, filename)
	}

	codes, err := readCodes(inputPath)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrMalformedInput, filename, err)
	}
	if len(codes) == 0 {
		return Result{}, fmt.Errorf("%w: file %s", ErrNoDataRows, filename)
	}

	if err := writeResult(outputPath, barcode, codes); err != nil {
		return Result{}, fmt.Errorf("spreadsheet: write result: %w", err)
	}
	return Result{OutputPath: outputPath, Key: article, Codes: len(codes)}, nil
}

func readCodes(path string) ([]string, error) {
	rows, err := readFirstSheet(path)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	codes := make([]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if code := cell(row, codesColumn); code != "" {
			codes = append(codes, code)
		}
	}
	return codes, nil
}

func writeResult(path, barcode string, codes []string) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	if err := f.SetCellStr(sheet, "A1", resultHeader); err != nil {
		return err
	}
	if err := f.SetCellStr(sheet, "A2", barcode); err != nil {
		return err
	}
	for i, code := range codes {
		axis, err := excelize.CoordinatesToCellName(1, i+3)
		if err != nil {
			return err
		}
		if err := f.SetCellStr(sheet, axis, code); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}
