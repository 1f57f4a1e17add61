package server

import (
	"benritz/dtd/internal/collect"
	"benritz/dtd/internal/types"
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

const (
	msgNoFilePart = "No file part in request."
	msgNoFile     = "No file selected."
	msgProcessed  = "File processed successfully!"
)

var (
	errNoFilePart = errors.New(msgNoFilePart)
	errNoFile     = errors.New(msgNoFile)
)

var validate = validator.New()

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

// receiveUpload spools the multipart "file" field to a temp file keeping the
// original extension. The returned cleanup removes it.
func (s *Server) receiveUpload(w http.ResponseWriter, r *http.Request) (string, string, func(), error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			return "", "", nil, errNoFilePart
		}
		return "", "", nil, err
	}

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		// a file input submitted without a selection arrives as a plain value
		if _, ok := r.MultipartForm.Value["file"]; ok {
			return "", "", nil, errNoFile
		}
		return "", "", nil, errNoFilePart
	}
	if err != nil {
		return "", "", nil, err
	}
	defer file.Close()

	if header.Filename == "" {
		return "", "", nil, errNoFile
	}

	name := filepath.Base(header.Filename)

	tmp, err := spool(file, name)
	if err != nil {
		return "", "", nil, err
	}

	return tmp, name, func() { os.Remove(tmp) }, nil
}

func spool(file multipart.File, name string) (string, error) {
	tmp, err := os.CreateTemp("", "dtd-upload-*"+filepath.Ext(name))
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer tmp.Close()

	if _, err := io.Copy(tmp, file); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to save upload: %w", err)
	}

	return tmp.Name(), nil
}

func (s *Server) process(ctx context.Context, file, name string) (*types.Report, error) {
	table, err := collect.NewFileLoader(file, name).Load(ctx)
	if err != nil {
		return nil, err
	}

	if len(table.Rows) > s.cfg.MaxRows {
		return nil, fmt.Errorf("too many rows: %d > %d", len(table.Rows), s.cfg.MaxRows)
	}

	return s.calc.Run(ctx, table)
}

type pageData struct {
	Message string
	Success bool
	Table   template.HTML
}

func (s *Server) renderPage(w http.ResponseWriter, status int, data pageData) {
	var buf bytes.Buffer
	if err := pageTmpl.Execute(&buf, data); err != nil {
		s.logger.Error("failed to render page", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) uploadPage(w http.ResponseWriter, _ *http.Request) {
	s.renderPage(w, http.StatusOK, pageData{})
}

func (s *Server) uploadForm(w http.ResponseWriter, r *http.Request) {
	tmp, name, cleanup, err := s.receiveUpload(w, r)
	if errors.Is(err, errNoFilePart) || errors.Is(err, errNoFile) {
		s.renderPage(w, http.StatusBadRequest, pageData{Message: err.Error()})
		return
	}
	if err != nil {
		s.renderPage(w, http.StatusBadRequest, pageData{Message: "Error processing file: " + err.Error()})
		return
	}
	defer cleanup()

	rep, err := s.process(r.Context(), tmp, name)
	if err != nil {
		s.logger.Warn("upload failed", "file", name, "error", err)
		s.renderPage(w, http.StatusUnprocessableEntity, pageData{Message: "Error processing file: " + err.Error()})
		return
	}

	var table bytes.Buffer
	if err := collect.WriteHTMLTable(&table, rep); err != nil {
		s.renderPage(w, http.StatusInternalServerError, pageData{Message: "Error processing file: " + err.Error()})
		return
	}

	s.renderPage(w, http.StatusOK, pageData{
		Message: msgProcessed,
		Success: true,
		Table:   template.HTML(table.String()),
	})
}

// CalculateRequest holds firm observations keyed by input column name.
// Values may be JSON numbers or numeric strings.
type CalculateRequest struct {
	Rows []map[string]any `json:"rows" validate:"required,min=1"`
}

type CalculateResponse struct {
	RunID        string         `json:"run_id"`
	Rows         int            `json:"rows"`
	Converged    int            `json:"converged"`
	NotConverged int            `json:"not_converged"`
	Failed       int            `json:"failed"`
	Results      []types.Record `json:"results"`
}

func newCalculateResponse(rep *types.Report) *CalculateResponse {
	sum := rep.Summary()
	return &CalculateResponse{
		RunID:        rep.RunID,
		Rows:         sum.Rows,
		Converged:    sum.Converged,
		NotConverged: sum.NotConverged,
		Failed:       sum.Failed,
		Results:      rep.Records(),
	}
}

// Table converts the request rows to an input table. Only input columns
// present in at least one row make up the header.
func (req *CalculateRequest) Table() *types.Table {
	t := &types.Table{Source: "api"}

	for _, col := range types.InputColumns {
		for _, row := range req.Rows {
			if _, ok := row[col]; ok {
				t.Header = append(t.Header, col)
				break
			}
		}
	}

	for _, row := range req.Rows {
		cells := make([]string, len(t.Header))
		for i, col := range t.Header {
			cells[i] = cell(row[col])
		}
		t.Rows = append(t.Rows, cells)
	}

	return t
}

func cell(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func (s *Server) calculate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	var req CalculateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		_ = render.Render(w, r, newProblem(http.StatusBadRequest, "invalid-request", "Invalid JSON: "+err.Error()))
		return
	}

	if err := validate.Struct(&req); err != nil {
		_ = render.Render(w, r, newProblem(http.StatusBadRequest, "validation-failed", err.Error()))
		return
	}

	if len(req.Rows) > s.cfg.MaxRows {
		_ = render.Render(w, r, newProblem(http.StatusRequestEntityTooLarge, "too-many-rows",
			fmt.Sprintf("at most %d rows per request", s.cfg.MaxRows)))
		return
	}

	rep, err := s.calc.Run(r.Context(), req.Table())
	if err != nil {
		_ = render.Render(w, r, newProblem(http.StatusServiceUnavailable, "cancelled", err.Error()))
		return
	}

	render.JSON(w, r, newCalculateResponse(rep))
}

func (s *Server) calculateUpload(w http.ResponseWriter, r *http.Request) {
	format := collect.FormatCSV
	if q := r.URL.Query().Get("format"); q != "" {
		f, err := collect.ParseFormat(q)
		if err != nil {
			_ = render.Render(w, r, newProblem(http.StatusBadRequest, "unsupported-format", err.Error()))
			return
		}
		format = f
	}

	tmp, name, cleanup, err := s.receiveUpload(w, r)
	if err != nil {
		_ = render.Render(w, r, newProblem(http.StatusBadRequest, "invalid-upload", err.Error()))
		return
	}
	defer cleanup()

	rep, err := s.process(r.Context(), tmp, name)
	if err != nil {
		_ = render.Render(w, r, newProblem(http.StatusUnprocessableEntity, "processing-failed", "Error processing file: "+err.Error()))
		return
	}

	var buf bytes.Buffer
	if err := collect.Write(&buf, format, rep); err != nil {
		_ = render.Render(w, r, newProblem(http.StatusInternalServerError, "write-failed", err.Error()))
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(collect.OutputKey(rep, format))))
	w.Header().Set("X-Run-Id", rep.RunID)
	_, _ = w.Write(buf.Bytes())
}

var pageTmpl = template.Must(template.New("page").Parse(`<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>DTD Calculator</title>
  <link href="https://cdn.jsdelivr.net/npm/bootstrap@5.3.0/dist/css/bootstrap.min.css" rel="stylesheet">
  <style>
    body { padding: 40px; background-color: #f9f9f9; }
    h1 { margin-bottom: 30px; }
    .upload-box { padding: 20px; border: 1px solid #ddd; background: white; border-radius: 8px; max-width: 600px; margin: auto; }
    table.data { margin-top: 20px; }
  </style>
</head>
<body>
  <div class="upload-box">
    <h1 class="text-center">DTD Calculator</h1>
    <form method="post" enctype="multipart/form-data" class="mb-3">
      <div class="mb-3">
        <label for="formFile" class="form-label">Upload your CSV or Excel file</label>
        <input class="form-control" type="file" name="file" id="formFile">
      </div>
      <button type="submit" class="btn btn-primary">Upload &amp; Calculate</button>
    </form>
{{- if .Message}}
    <div class="alert alert-{{if .Success}}success{{else}}danger{{end}}">{{.Message}}</div>
{{- end}}
{{- if .Table}}
    <h4 class="mt-4">Results</h4>
    <div class="table-responsive">
      {{.Table}}
    </div>
{{- end}}
  </div>
</body>
</html>
`))
