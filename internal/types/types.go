package types

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Input columns, matched exactly against the table header.
const (
	ColMarketCap      = "Market Capitalization"
	ColShortTermDebt  = "Short Term Debt"
	ColLongTermDebt   = "Long Term Debt"
	ColOtherLiability = "Other Liability"
	ColDailyRate      = "Daily Risk-Free Rate"
)

// Output columns.
const (
	ColRow       = "Row"
	ColAV        = "AV"
	ColConverged = "Converged"
	ColDTD       = "DTD"
	ColError     = "Error"
)

var InputColumns = []string{
	ColMarketCap,
	ColShortTermDebt,
	ColLongTermDebt,
	ColOtherLiability,
	ColDailyRate,
}

// Observation is a single firm observation read from one input row.
type Observation struct {
	MarketCap      float64
	ShortTermDebt  float64
	LongTermDebt   float64
	OtherLiability float64
	DailyRate      float64
}

// Result is the outcome for one input row. Err set means the row failed and
// AssetValue/DTD carry no meaning. Otherwise DTD is only meaningful when
// Converged is true.
type Result struct {
	Row         int
	AssetValue  float64
	Liabilities float64
	Rate        float64
	Converged   bool
	Iterations  int
	DTD         float64
	Err         error
}

func NewFailure(row int, err error) *Result {
	return &Result{
		Row: row,
		DTD: math.NaN(),
		Err: err,
	}
}

func (r *Result) Failed() bool {
	return r.Err != nil
}

// Record is the flat output row. Absent values are nil, which parquet
// stores as optional columns.
type Record struct {
	Row       int64    `json:"Row" yaml:"Row" parquet:"Row"`
	AV        *float64 `json:"AV" yaml:"AV" parquet:"AV"`
	Converged bool     `json:"Converged" yaml:"Converged" parquet:"Converged"`
	DTD       *float64 `json:"DTD" yaml:"DTD" parquet:"DTD"`
	Error     string   `json:"Error,omitempty" yaml:"Error,omitempty" parquet:"Error"`
}

func (r *Result) Record() Record {
	rec := Record{
		Row:       int64(r.Row),
		Converged: r.Converged && r.Err == nil,
	}

	if r.Err != nil {
		rec.Error = r.Err.Error()
		return rec
	}

	av := r.AssetValue
	rec.AV = &av

	if r.Converged {
		dtd := r.DTD
		rec.DTD = &dtd
	}

	return rec
}

// Table is a loaded input dataset: a header and its data rows as raw cells.
// Rows keep their input order, empty rows included.
type Table struct {
	Source string
	Header []string
	Rows   [][]string
}

// Report is the fully materialized output of one run, ordered by Row.
type Report struct {
	RunID    string
	Source   string
	Date     time.Time
	Duration time.Duration
	Results  []*Result
}

type Summary struct {
	Rows         int
	Converged    int
	NotConverged int
	Failed       int
}

func (r *Report) Summary() Summary {
	s := Summary{Rows: len(r.Results)}
	for _, res := range r.Results {
		switch {
		case res.Failed():
			s.Failed++
		case res.Converged:
			s.Converged++
		default:
			s.NotConverged++
		}
	}
	return s
}

func (r *Report) HasFailures() bool {
	for _, res := range r.Results {
		if res.Failed() {
			return true
		}
	}
	return false
}

func (r *Report) Records() []Record {
	recs := make([]Record, len(r.Results))
	for i, res := range r.Results {
		recs[i] = res.Record()
	}
	return recs
}

// Header maps column names to their position in a table row.
type Header map[string]int

func NewHeader(cols []string) Header {
	h := make(Header, len(cols))
	for i, c := range cols {
		c = strings.TrimSpace(strings.TrimPrefix(c, "\ufeff"))
		if _, ok := h[c]; !ok {
			h[c] = i
		}
	}
	return h
}

func (h Header) Has(col string) bool {
	_, ok := h[col]
	return ok
}

// Float reads a numeric cell by column name.
func (h Header) Float(row []string, col string) (float64, error) {
	i, ok := h[col]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrMissingColumn, col)
	}

	if i >= len(row) {
		return 0, fmt.Errorf("%w: %q", ErrMissingValue, col)
	}

	s := strings.TrimSpace(row[i])
	if s == "" {
		return 0, fmt.Errorf("%w: %q", ErrMissingValue, col)
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %q", ErrInvalidNumber, col, s)
	}

	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q: %q", ErrNotFinite, col, s)
	}

	return v, nil
}

// ParseObservation extracts the model inputs from a table row.
func ParseObservation(h Header, row []string) (*Observation, error) {
	o := &Observation{}

	fields := []struct {
		col string
		dst *float64
	}{
		{ColMarketCap, &o.MarketCap},
		{ColShortTermDebt, &o.ShortTermDebt},
		{ColLongTermDebt, &o.LongTermDebt},
		{ColOtherLiability, &o.OtherLiability},
		{ColDailyRate, &o.DailyRate},
	}

	for _, f := range fields {
		v, err := h.Float(row, f.col)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}

	return o, nil
}

var (
	ErrMissingColumn          = fmt.Errorf("missing column")
	ErrMissingValue           = fmt.Errorf("missing value")
	ErrInvalidNumber          = fmt.Errorf("invalid number")
	ErrNotFinite              = fmt.Errorf("value is not finite")
	ErrNonPositiveEquity      = fmt.Errorf("market capitalization must be positive")
	ErrNonPositiveLiabilities = fmt.Errorf("liabilities must be positive")
	ErrNonPositiveAssetValue  = fmt.Errorf("asset value must be positive")
	ErrDerivativeTooSmall     = fmt.Errorf("Newton-Raphson failed (derivative is too small)")
	ErrDataUnavailable        = fmt.Errorf("data unavailable")
	ErrUnsupportedSource      = fmt.Errorf("unsupported source")
	ErrUnsupportedFormat      = fmt.Errorf("unsupported format")
)
