package convert

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"tsconv/internal/models"
	"tsconv/internal/pool"
	"tsconv/internal/record"
	"tsconv/internal/sampler"
	"tsconv/internal/timefmt"
)

// DefaultSuffix is inserted before the extension of the result path when
// the request does not name one.
const DefaultSuffix = "_MT"

const tmpExt = ".tmp"

// ErrMissingFile reports a source path that does not exist. It is raised
// before any file handle is opened.
var ErrMissingFile = errors.New("source file does not exist")

// Request describes one conversion. It is immutable once handed to a Job;
// the pipeline never reaches back into front-end state.
type Request struct {
	SourcePath string
	Suffix     string
	Delimiter  rune
	In         timefmt.FormatSpec
	Out        timefmt.FormatSpec
	Workers    int
	Policy     models.ErrorPolicy

	// Events receives pipeline notifications. Progress events are dropped
	// when the consumer is behind; terminal events are always delivered.
	// May be nil.
	Events chan<- models.Event
}

// Job is one conversion run: sole reader of the source file, sole writer
// of the result file. Parallelism exists only inside a batch.
type Job struct {
	req        Request
	resultPath string

	statsLock sync.Mutex
	stats     models.Stats
}

// NewJob creates a job from a request, filling in defaults for suffix,
// delimiter, worker count and parse-error policy.
func NewJob(req Request) *Job {
	if req.Suffix == "" {
		req.Suffix = DefaultSuffix
	}
	if req.Delimiter == 0 {
		req.Delimiter = ','
	}
	if req.Workers < 1 {
		req.Workers = runtime.NumCPU()
	}
	if req.Policy == "" {
		req.Policy = models.PolicyAbort
	}
	return &Job{
		req:        req,
		resultPath: ResultPath(req.SourcePath, req.Suffix),
	}
}

// ResultPath returns the sibling of source with suffix inserted before
// the extension.
func ResultPath(source, suffix string) string {
	ext := filepath.Ext(source)
	return strings.TrimSuffix(source, ext) + suffix + ext
}

// ResultPath returns where the converted file is written.
func (j *Job) ResultPath() string {
	return j.resultPath
}

// Stats returns a snapshot of the job statistics.
func (j *Job) Stats() models.Stats {
	j.statsLock.Lock()
	defer j.statsLock.Unlock()
	return j.stats
}

// Run executes the conversion: header copy, inline sampling pass, then
// batch-serial fan-out until end of input. The result is written to a
// temporary sibling and renamed into place only on success, so a failed
// job leaves no partial result behind.
func (j *Job) Run(ctx context.Context) (err error) {
	defer func() {
		j.statsLock.Lock()
		j.stats.EndTime = time.Now()
		j.statsLock.Unlock()
		if err != nil {
			j.notifyTerminal(models.Event{Kind: models.EventFailed, Error: err})
		}
	}()

	info, statErr := os.Stat(j.req.SourcePath)
	if statErr != nil {
		if errors.Is(statErr, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrMissingFile, j.req.SourcePath)
		}
		return fmt.Errorf("stat source file: %w", statErr)
	}

	j.statsLock.Lock()
	j.stats.StartTime = time.Now()
	j.stats.BytesTotal = info.Size()
	j.stats.Workers = j.req.Workers
	j.statsLock.Unlock()

	in, err := os.Open(j.req.SourcePath)
	if err != nil {
		return fmt.Errorf("open source file: %w", err)
	}
	defer in.Close()

	tmpPath := j.resultPath + tmpExt
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create result file: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			out.Close()
			os.Remove(tmpPath)
		}
	}()

	reader := csv.NewReader(in)
	reader.Comma = j.req.Delimiter
	reader.FieldsPerRecord = -1 // header defines arity, data rows are not enforced
	writer := csv.NewWriter(out)
	writer.Comma = j.req.Delimiter

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("input file is empty: %s", j.req.SourcePath)
		}
		return fmt.Errorf("read header: %w", err)
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	tr := record.NewTransformer(j.req.In, j.req.Out)

	sample, err := sampler.Run(reader, tr, j.req.Workers, j.req.Policy)
	if err != nil {
		return err
	}
	for _, rec := range sample.Rows {
		if err := writer.Write(rec); err != nil {
			return fmt.Errorf("write sampled row: %w", err)
		}
	}

	j.statsLock.Lock()
	j.stats.RowsSampled = int64(len(sample.Rows))
	j.stats.RowsSkipped = sample.Skipped
	j.stats.Tuning = sample.Tuning
	j.statsLock.Unlock()

	j.progress(reader.InputOffset())

	if !sample.EOF {
		wp := pool.New(j.req.Workers, sample.Tuning.ChunkRows, tr, j.req.Policy)
		wp.Start(ctx)
		dispatchErr := j.dispatch(ctx, reader, writer, wp, sample.Consumed(), sample.Tuning.BatchRows)
		stopErr := wp.Stop()
		if dispatchErr != nil {
			return dispatchErr
		}
		if stopErr != nil && !errors.Is(stopErr, context.Canceled) {
			return stopErr
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush result file: %w", err)
	}
	if err := out.Sync(); err != nil {
		return fmt.Errorf("sync result file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close result file: %w", err)
	}
	if err := os.Rename(tmpPath, j.resultPath); err != nil {
		return fmt.Errorf("rename result file: %w", err)
	}
	committed = true

	j.notifyTerminal(models.Event{Kind: models.EventComplete, Percent: 100})
	return nil
}

// dispatch reads the remainder of the input into bounded batches and fans
// each one out to the pool. Dispatch is strictly batch-serial: the next
// batch is not read until the previous one is fully written. Cancellation
// is checked between batch submissions.
func (j *Job) dispatch(ctx context.Context, r *csv.Reader, w *csv.Writer, wp *pool.Pool, consumed int64, batchRows int) error {
	batch := make([]record.Record, 0, batchRows)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		startRow := consumed - int64(len(batch)) + 1
		rows, skipped, err := wp.Process(ctx, startRow, batch)
		if err != nil {
			return err
		}
		for _, rec := range rows {
			if err := w.Write(rec); err != nil {
				return fmt.Errorf("write row: %w", err)
			}
		}

		j.statsLock.Lock()
		j.stats.RowsBatched += int64(len(rows))
		j.stats.RowsSkipped += skipped
		j.stats.Batches++
		j.statsLock.Unlock()

		j.progress(r.InputOffset())
		batch = batch[:0]
		return nil
	}

	for {
		rec, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("read row: %w", err)
		}
		consumed++
		batch = append(batch, record.Record(rec))
		if len(batch) >= batchRows {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// progress records the consumed byte count and emits a progress event.
// The percent is clamped to [0,100] to tolerate a stale total.
func (j *Job) progress(bytesRead int64) {
	j.statsLock.Lock()
	j.stats.BytesRead = bytesRead
	total := j.stats.BytesTotal
	j.statsLock.Unlock()

	pct := 100.0
	if total > 0 {
		pct = float64(bytesRead) / float64(total) * 100
	}
	if pct < 0 {
		pct = 0
	} else if pct > 100 {
		pct = 100
	}

	if j.req.Events == nil {
		return
	}
	select {
	case j.req.Events <- models.Event{Kind: models.EventProgress, Percent: pct}:
	default:
		// Consumer is behind; a newer percent will follow.
	}
}

// notifyTerminal delivers a completion or failure event. Unlike progress
// events these are never dropped.
func (j *Job) notifyTerminal(ev models.Event) {
	if j.req.Events == nil {
		return
	}
	j.req.Events <- ev
}
