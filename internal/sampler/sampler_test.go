package sampler

import (
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsconv/internal/models"
	"tsconv/internal/record"
	"tsconv/internal/timefmt"
)

var usSpec = timefmt.FormatSpec{Date: "01/02/2006", Time: "15:04"}

func newTransformer() *record.Transformer {
	return record.NewTransformer(usSpec, usSpec)
}

// dataRows renders n valid data rows, one minute apart.
func dataRows(n int) string {
	var b strings.Builder
	ts := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%s,%s,%d,%d\n", ts.Format("01/02/2006"), ts.Format("15:04"), i, i*2)
		ts = ts.Add(time.Minute)
	}
	return b.String()
}

func newReader(data string) *csv.Reader {
	r := csv.NewReader(strings.NewReader(data))
	r.FieldsPerRecord = -1
	return r
}

func TestRunStopsAtEndOfInput(t *testing.T) {
	res, err := Run(newReader(dataRows(100)), newTransformer(), 4, models.PolicyAbort)
	require.NoError(t, err)

	assert.True(t, res.EOF)
	assert.Len(t, res.Rows, 100)
	assert.Equal(t, int64(100), res.Consumed())
	assert.Positive(t, res.BytesRead)
}

func TestRunStopsAtThreshold(t *testing.T) {
	r := newReader(dataRows(SampleRows + 50))
	res, err := Run(r, newTransformer(), 4, models.PolicyAbort)
	require.NoError(t, err)

	assert.False(t, res.EOF)
	assert.Len(t, res.Rows, SampleRows)

	// The reader must be positioned exactly past the sample.
	next, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprint(SampleRows), next[2])
}

func TestRunTransformsSampleInline(t *testing.T) {
	res, err := Run(newReader("01/02/2024,09:30,1,2\n"), newTransformer(), 1, models.PolicyAbort)
	require.NoError(t, err)

	require.Len(t, res.Rows, 1)
	assert.Equal(t, record.Record{"01/02/2024", "09:29", "1", "2"}, res.Rows[0])
}

func TestRunEmptyInput(t *testing.T) {
	res, err := Run(newReader(""), newTransformer(), 4, models.PolicyAbort)
	require.NoError(t, err)

	assert.True(t, res.EOF)
	assert.Empty(t, res.Rows)
	assert.Zero(t, res.Consumed())
}

func TestRunAbortsOnMalformedRow(t *testing.T) {
	data := "01/02/2024,09:30,1,2\nnot-a-date,09:31,1,2\n"
	_, err := Run(newReader(data), newTransformer(), 4, models.PolicyAbort)
	require.Error(t, err)

	var perr *record.ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, int64(2), perr.Row)
}

func TestRunSkipsMalformedRow(t *testing.T) {
	data := "01/02/2024,09:30,1,2\nnot-a-date,09:31,1,2\n01/02/2024,09:32,3,4\n"
	res, err := Run(newReader(data), newTransformer(), 4, models.PolicySkip)
	require.NoError(t, err)

	assert.Len(t, res.Rows, 2)
	assert.Equal(t, int64(1), res.Skipped)
	assert.Equal(t, int64(3), res.Consumed())
}

func TestTune(t *testing.T) {
	tests := []struct {
		name          string
		rowsPerSecond float64
		bytesPerRow   float64
		workers       int
		want          models.Tuning
	}{
		{
			// Slow input clamps the chunk to the floor; the batch follows
			// the load-balancing formula.
			name: "slow input", rowsPerSecond: 100, bytesPerRow: 10, workers: 4,
			want: models.Tuning{ChunkRows: 500, BatchRows: 8000},
		},
		{
			// Fast input clamps the chunk to the ceiling and the batch to
			// its upper bound.
			name: "fast input", rowsPerSecond: 1e7, bytesPerRow: 100, workers: 8,
			want: models.Tuning{ChunkRows: 20000, BatchRows: 200000},
		},
		{
			// Huge rows push the memory bound below the chunk size; the
			// batch is raised back to one chunk.
			name: "huge rows", rowsPerSecond: 1e7, bytesPerRow: 1e7, workers: 1,
			want: models.Tuning{ChunkRows: 20000, BatchRows: 20000},
		},
		{
			// Degenerate measurements fall back to the bounds.
			name: "no measurements", rowsPerSecond: 0, bytesPerRow: 0, workers: 4,
			want: models.Tuning{ChunkRows: 500, BatchRows: 8000},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tune(tc.rowsPerSecond, tc.bytesPerRow, tc.workers)
			assert.Equal(t, tc.want, got)
			assert.GreaterOrEqual(t, got.BatchRows, got.ChunkRows)
		})
	}
}
