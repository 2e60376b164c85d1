package record

import (
	"fmt"
	"time"

	"tsconv/internal/timefmt"
)

// Record is a single delimited data row. Field 0 holds the date and
// field 1 the time; everything after that is opaque and passed through.
type Record []string

// ParseError reports a row whose two leading fields do not match the
// configured input format.
type ParseError struct {
	Row   int64 // 1-based data row index, header excluded
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("row %d: cannot parse timestamp %q: %v", e.Row, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Transformer rewrites the two leading timestamp fields of a record,
// shifting the timestamp back by exactly one minute. It holds no mutable
// state and is safe to share across any number of workers.
type Transformer struct {
	in  timefmt.FormatSpec
	out timefmt.FormatSpec
}

// NewTransformer builds a transformer for the given input and output
// formats.
func NewTransformer(in, out timefmt.FormatSpec) *Transformer {
	return &Transformer{in: in, out: out}
}

// Transform parses fields 0 and 1 of rec jointly as one timestamp,
// subtracts one minute with calendar-correct rollover, and rewrites both
// fields under the output format. The record is modified in place and
// returned; fields past index 1 are never touched. A record that does not
// match the input format yields a *ParseError.
func (t *Transformer) Transform(row int64, rec Record) (Record, error) {
	if len(rec) < 2 {
		return nil, &ParseError{
			Row:   row,
			Value: fmt.Sprint([]string(rec)),
			Err:   fmt.Errorf("record has %d fields, need at least 2", len(rec)),
		}
	}

	raw := rec[0] + " " + rec[1]
	ts, err := time.Parse(t.in.Layout(), raw)
	if err != nil {
		return nil, &ParseError{Row: row, Value: raw, Err: err}
	}

	ts = ts.Add(-time.Minute)
	rec[0] = ts.Format(t.out.Date)
	rec[1] = ts.Format(t.out.Time)
	return rec, nil
}
