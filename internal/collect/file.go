package collect

import (
	"benritz/dtd/internal/types"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pbnjay/grate"
	_ "github.com/pbnjay/grate/xls"
	_ "github.com/pbnjay/grate/xlsx"
)

// FileLoader reads a local csv, tsv, xls or xlsx file.
type FileLoader struct {
	path string
	name string
}

// NewFileLoader creates a loader for path. The file type is taken from the
// extension of name, or of path when name is empty.
func NewFileLoader(path, name string) *FileLoader {
	if name == "" {
		name = filepath.Base(path)
	}
	return &FileLoader{path: path, name: name}
}

func (l *FileLoader) Source() string {
	return strings.TrimSuffix(l.name, filepath.Ext(l.name))
}

func (l *FileLoader) Load(ctx context.Context) (*types.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		t   *types.Table
		err error
	)

	switch ext := strings.ToLower(filepath.Ext(l.name)); ext {
	case ".csv", ".txt":
		t, err = readDelimited(l.path, ',')
	case ".tsv":
		t, err = readDelimited(l.path, '\t')
	case ".xls", ".xlsx":
		t, err = readWorkbook(l.path)
	default:
		return nil, fmt.Errorf("%w: %q", types.ErrUnsupportedFormat, ext)
	}

	if err != nil {
		return nil, err
	}

	t.Source = l.Source()

	return t, nil
}

func readDelimited(path string, sep rune) (*types.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ReadDelimited(f, sep)
}

// ReadDelimited reads a delimited table whose first record is the header.
func ReadDelimited(r io.Reader, sep rune) (*types.Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = sep
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	t := &types.Table{}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read record: %w", err)
		}

		if t.Header == nil {
			t.Header = rec
			continue
		}

		t.Rows = append(t.Rows, rec)
	}

	if t.Header == nil {
		return nil, types.ErrDataUnavailable
	}

	return t, nil
}

// readWorkbook reads the first sheet whose header names an input column,
// falling back to the first non-empty sheet.
func readWorkbook(path string) (*types.Table, error) {
	wb, err := grate.Open(path)
	if err != nil {
		return nil, err
	}
	defer wb.Close()

	sheets, err := wb.List()
	if err != nil {
		return nil, err
	}

	var fallback *types.Table

	for _, name := range sheets {
		sheet, err := wb.Get(name)
		if err != nil {
			return nil, err
		}

		t := &types.Table{}

		for sheet.Next() {
			row := cells(sheet)
			if t.Header == nil {
				if !isEmpty(row) {
					t.Header = row
				}
				continue
			}
			t.Rows = append(t.Rows, row)
		}

		if t.Header == nil {
			continue
		}

		// formatted but empty rows past the data are part of the sheet extent only
		for len(t.Rows) > 0 && isEmpty(t.Rows[len(t.Rows)-1]) {
			t.Rows = t.Rows[:len(t.Rows)-1]
		}

		h := types.NewHeader(t.Header)
		for _, col := range types.InputColumns {
			if h.Has(col) {
				return t, nil
			}
		}

		if fallback == nil {
			fallback = t
		}
	}

	if fallback == nil {
		return nil, types.ErrDataUnavailable
	}

	return fallback, nil
}

// cells returns the current sheet row as text. Numeric cells carry their raw
// value rather than the display format, so "1,234,567.50" or "0.01%" read
// back as 1234567.5 and 0.0001.
func cells(sheet grate.Collection) []string {
	row := sheet.Strings()
	kinds := sheet.Types()

	n := len(kinds)
	for n > 0 && kinds[n-1] == "" {
		n--
	}

	floats := make([]float64, n)
	ints := make([]int64, n)
	args := make([]any, n)

	for i, kind := range kinds[:n] {
		switch kind {
		case "float":
			args[i] = &floats[i]
		case "integer":
			args[i] = &ints[i]
		case "boolean":
			args[i] = new(bool)
		case "date":
			args[i] = new(time.Time)
		default:
			args[i] = new(string)
		}
	}

	if err := sheet.Scan(args...); err != nil {
		return row
	}

	for i, kind := range kinds[:n] {
		switch kind {
		case "float":
			row[i] = strconv.FormatFloat(floats[i], 'g', -1, 64)
		case "integer":
			row[i] = strconv.FormatInt(ints[i], 10)
		}
	}

	return row
}

func isEmpty(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
