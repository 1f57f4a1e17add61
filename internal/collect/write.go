package collect

import (
	"benritz/dtd/internal/types"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatCSV     Format = "csv"
	FormatJSON    Format = "json"
	FormatYAML    Format = "yaml"
	FormatHTML    Format = "html"
	FormatXLSX    Format = "xlsx"
	FormatParquet Format = "parquet"
)

var Formats = []Format{FormatCSV, FormatJSON, FormatYAML, FormatHTML, FormatXLSX, FormatParquet}

func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "."))
	switch s {
	case "yml":
		return FormatYAML, nil
	case "htm":
		return FormatHTML, nil
	}
	for _, f := range Formats {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", types.ErrUnsupportedFormat, s)
}

// FormatFromPath returns the format for the file extension of p.
func FormatFromPath(p string) (Format, bool) {
	ext := filepath.Ext(p)
	if ext == "" {
		return "", false
	}
	f, err := ParseFormat(ext)
	return f, err == nil
}

func (f Format) Ext() string {
	return string(f)
}

func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatJSON:
		return "application/json"
	case FormatYAML:
		return "application/yaml"
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}

// Columns is the output header. Error is only present when a row failed.
func Columns(rep *types.Report) []string {
	cols := []string{types.ColRow, types.ColAV, types.ColConverged, types.ColDTD}
	if rep.HasFailures() {
		cols = append(cols, types.ColError)
	}
	return cols
}

func Write(w io.Writer, f Format, rep *types.Report) error {
	switch f {
	case FormatCSV:
		return writeCSV(w, rep)
	case FormatJSON:
		e := json.NewEncoder(w)
		e.SetIndent("", "  ")
		return e.Encode(rep.Records())
	case FormatYAML:
		e := yaml.NewEncoder(w)
		defer e.Close()
		return e.Encode(rep.Records())
	case FormatHTML:
		return WriteHTMLTable(w, rep)
	case FormatXLSX:
		return writeXLSX(w, rep)
	case FormatParquet:
		return writeParquet(w, rep)
	default:
		return fmt.Errorf("%w: %q", types.ErrUnsupportedFormat, f)
	}
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}

// Cells renders a record as text cells matching Columns.
func Cells(rec types.Record, withError bool) []string {
	cells := []string{
		strconv.FormatInt(rec.Row, 10),
		formatFloat(rec.AV),
		strconv.FormatBool(rec.Converged),
		formatFloat(rec.DTD),
	}
	if withError {
		cells = append(cells, rec.Error)
	}
	return cells
}

func writeCSV(w io.Writer, rep *types.Report) error {
	cols := Columns(rep)
	withError := len(cols) == 5

	cw := csv.NewWriter(w)

	if err := cw.Write(cols); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}

	for i, rec := range rep.Records() {
		if err := cw.Write(Cells(rec, withError)); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

var tableTmpl = template.Must(template.New("table").Parse(`<table class="table table-striped table-bordered data">
  <thead>
    <tr>{{range .Columns}}<th>{{.}}</th>{{end}}</tr>
  </thead>
  <tbody>
{{- range .Rows}}
    <tr>{{range .}}<td>{{.}}</td>{{end}}</tr>
{{- end}}
  </tbody>
</table>
`))

// WriteHTMLTable renders the report as a bootstrap styled HTML table.
func WriteHTMLTable(w io.Writer, rep *types.Report) error {
	cols := Columns(rep)
	withError := len(cols) == 5

	recs := rep.Records()
	rows := make([][]string, len(recs))
	for i, rec := range recs {
		rows[i] = Cells(rec, withError)
	}

	return tableTmpl.Execute(w, struct {
		Columns []string
		Rows    [][]string
	}{cols, rows})
}

const sheetName = "DTD"

func writeXLSX(w io.Writer, rep *types.Report) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}

	cols := Columns(rep)
	withError := len(cols) == 5

	header := make([]any, len(cols))
	for i, c := range cols {
		header[i] = c
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}

	for i, rec := range rep.Records() {
		row := []any{rec.Row, nil, rec.Converged, nil}
		if rec.AV != nil {
			row[1] = *rec.AV
		}
		if rec.DTD != nil {
			row[3] = *rec.DTD
		}
		if withError {
			row = append(row, rec.Error)
		}

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}

	return f.Write(w)
}

func writeParquet(w io.Writer, rep *types.Report) error {
	writer := parquet.NewGenericWriter[types.Record](w)

	if _, err := writer.Write(rep.Records()); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write records: %w", err)
	}

	return writer.Close()
}
