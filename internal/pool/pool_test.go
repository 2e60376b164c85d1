package pool

import (
	"context"
	"errors"
	"fmt"
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

// makeBatch builds n records one minute apart; field 2 carries the
// original position so order can be checked after the fan-in.
func makeBatch(n int) []record.Record {
	batch := make([]record.Record, n)
	ts := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	for i := range batch {
		batch[i] = record.Record{ts.Format("01/02/2006"), ts.Format("15:04"), fmt.Sprint(i)}
		ts = ts.Add(time.Minute)
	}
	return batch
}

func TestProcessPreservesOrder(t *testing.T) {
	for _, workers := range []int{1, 2, 8} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			p := New(workers, 7, newTransformer(), models.PolicyAbort)
			p.Start(context.Background())
			defer p.Stop()

			out, skipped, err := p.Process(context.Background(), 1, makeBatch(100))
			require.NoError(t, err)
			assert.Zero(t, skipped)
			require.Len(t, out, 100)

			for i, rec := range out {
				assert.Equal(t, fmt.Sprint(i), rec[2], "row %d out of order", i)
			}
			// Spot-check the shift itself.
			assert.Equal(t, "09:29", out[0][1])
		})
	}
}

func TestProcessEmptyBatch(t *testing.T) {
	p := New(2, 10, newTransformer(), models.PolicyAbort)
	p.Start(context.Background())
	defer p.Stop()

	out, skipped, err := p.Process(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Zero(t, skipped)
}

func TestProcessAbortsOnParseError(t *testing.T) {
	batch := makeBatch(20)
	batch[13] = record.Record{"bogus", "time", "13"}

	p := New(2, 3, newTransformer(), models.PolicyAbort)
	p.Start(context.Background())
	defer p.Stop()

	_, _, err := p.Process(context.Background(), 1, batch)
	require.Error(t, err)

	var perr *record.ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, int64(14), perr.Row)
}

func TestProcessSkipsMalformedRows(t *testing.T) {
	batch := makeBatch(20)
	batch[5] = record.Record{"bogus", "time", "5"}

	p := New(4, 4, newTransformer(), models.PolicySkip)
	p.Start(context.Background())
	defer p.Stop()

	out, skipped, err := p.Process(context.Background(), 1, batch)
	require.NoError(t, err)
	assert.Equal(t, int64(1), skipped)
	require.Len(t, out, 19)

	for _, rec := range out {
		assert.NotEqual(t, "5", rec[2])
	}
}

func TestProcessCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(2, 10, newTransformer(), models.PolicyAbort)
	p.Start(ctx)

	_, _, err := p.Process(ctx, 1, makeBatch(50))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	err = p.Stop()
	assert.True(t, err == nil || errors.Is(err, context.Canceled))
}
