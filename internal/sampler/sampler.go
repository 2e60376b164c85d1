package sampler

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"time"

	"tsconv/internal/models"
	"tsconv/internal/record"
)

// Sampling threshold and tuning bounds
const (
	// SampleRows is the maximum number of data rows consumed inline
	// before the batch phase starts.
	SampleRows = 5000

	minChunkRows = 500
	maxChunkRows = 20000

	minBatchRows  = 5000
	maxBatchRows  = 200000
	batchMemLimit = 64 << 20 // memory bound for one in-flight batch

	// One chunk should cost a worker roughly a tenth of a second,
	// amortizing dispatch overhead.
	chunkTargetFraction = 0.10

	// Each worker should see at least this many chunks per batch so the
	// pool balances well.
	chunksPerWorker = 4
)

// Result holds the transformed sample rows plus the throughput
// measurements and tuning parameters derived from them.
type Result struct {
	Rows          []record.Record // already transformed, ready to write
	Skipped       int64           // malformed rows dropped under PolicySkip
	Elapsed       time.Duration
	BytesRead     int64
	RowsPerSecond float64
	BytesPerRow   float64
	Tuning        models.Tuning
	EOF           bool // input ended before the threshold was reached
}

// Consumed returns the number of data rows the sampling pass read,
// including skipped ones.
func (r *Result) Consumed() int64 {
	return int64(len(r.Rows)) + r.Skipped
}

// Run reads up to SampleRows data rows from r, transforming each one
// inline on the calling goroutine. The sample doubles as real output:
// the returned rows are written as-is by the caller. If the input ends
// before the threshold, Run stops at end-of-input and marks the result
// EOF instead of failing.
func Run(r *csv.Reader, tr *record.Transformer, workers int, policy models.ErrorPolicy) (*Result, error) {
	res := &Result{Rows: make([]record.Record, 0, SampleRows)}

	start := time.Now()
	startOffset := r.InputOffset()

	var row int64
	for res.Consumed() < SampleRows {
		rec, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				res.EOF = true
				break
			}
			return nil, fmt.Errorf("sampling read failed: %w", err)
		}

		row++
		out, err := tr.Transform(row, record.Record(rec))
		if err != nil {
			var perr *record.ParseError
			if policy == models.PolicySkip && errors.As(err, &perr) {
				res.Skipped++
				continue
			}
			return nil, err
		}
		res.Rows = append(res.Rows, out)
	}

	res.Elapsed = time.Since(start)
	res.BytesRead = r.InputOffset() - startOffset

	if sampled := res.Consumed(); sampled > 0 {
		sec := res.Elapsed.Seconds()
		if sec <= 0 {
			sec = time.Millisecond.Seconds()
		}
		res.RowsPerSecond = float64(sampled) / sec
		res.BytesPerRow = float64(res.BytesRead) / float64(sampled)
	}
	res.Tuning = tune(res.RowsPerSecond, res.BytesPerRow, workers)

	return res, nil
}

// tune derives the chunk and batch sizes from the measured sample.
// Chunk size targets a tenth of a second of single-worker work; batch
// size is bounded both by load balancing (chunksPerWorker chunks per
// worker) and by the memory footprint of one in-flight batch.
func tune(rowsPerSecond, bytesPerRow float64, workers int) models.Tuning {
	chunk := clamp(int(rowsPerSecond*chunkTargetFraction), minChunkRows, maxChunkRows)

	if workers < 1 {
		workers = 1
	}
	byFormula := chunk * workers * chunksPerWorker

	byMem := maxBatchRows
	if bytesPerRow > 0 {
		byMem = clamp(int(batchMemLimit/bytesPerRow), minBatchRows, maxBatchRows)
	}

	batch := min(byFormula, byMem)
	if batch < chunk {
		batch = chunk
	}
	return models.Tuning{ChunkRows: chunk, BatchRows: batch}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
