package pool

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"tsconv/internal/models"
	"tsconv/internal/record"
)

// task is one contiguous chunk of a batch handed to a single worker
// invocation.
type task struct {
	index    int
	startRow int64
	rows     []record.Record
}

// result carries a transformed chunk back to the dispatcher.
type result struct {
	index   int
	rows    []record.Record
	skipped int64
	err     error
}

// Pool is a fixed set of workers that transforms batches of records.
// A batch is partitioned into chunk-sized contiguous slices; results are
// reassembled in chunk order regardless of which worker finishes first,
// so output order always matches input order. Workers hold no state
// across invocations.
type Pool struct {
	workers   int
	chunkRows int
	tr        *record.Transformer
	policy    models.ErrorPolicy

	tasks   chan task
	results chan result
	stop    chan struct{}
	group   *errgroup.Group
	ctx     context.Context
}

// New creates a pool. Start must be called before Process.
func New(workers, chunkRows int, tr *record.Transformer, policy models.ErrorPolicy) *Pool {
	if workers < 1 {
		workers = 1
	}
	if chunkRows < 1 {
		chunkRows = 1
	}
	return &Pool{
		workers:   workers,
		chunkRows: chunkRows,
		tr:        tr,
		policy:    policy,
		tasks:     make(chan task),
		results:   make(chan result, workers),
		stop:      make(chan struct{}),
	}
}

// Start launches the workers. They run until Stop is called or ctx is
// cancelled.
func (p *Pool) Start(ctx context.Context) {
	p.group, p.ctx = errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		p.group.Go(p.run)
	}
}

// Stop shuts the pool down and waits for every worker to exit. Call it
// exactly once, after the last Process has returned.
func (p *Pool) Stop() error {
	close(p.stop)
	return p.group.Wait()
}

// Process transforms one batch, blocking until every chunk of the batch
// has returned. startRow is the 1-based data row index of batch[0], used
// for error reporting. The returned rows are in input order; the second
// value counts rows dropped under PolicySkip. Any chunk failure aborts
// the batch and surfaces here.
func (p *Pool) Process(ctx context.Context, startRow int64, batch []record.Record) ([]record.Record, int64, error) {
	if len(batch) == 0 {
		return nil, 0, nil
	}

	chunks := (len(batch) + p.chunkRows - 1) / p.chunkRows

	go func() {
		for i := 0; i < chunks; i++ {
			lo := i * p.chunkRows
			hi := min(lo+p.chunkRows, len(batch))
			t := task{index: i, startRow: startRow + int64(lo), rows: batch[lo:hi]}
			select {
			case p.tasks <- t:
			case <-ctx.Done():
				return
			case <-p.ctx.Done():
				return
			case <-p.stop:
				return
			}
		}
	}()

	out := make([][]record.Record, chunks)
	var skipped int64
	var firstErr error
	for n := 0; n < chunks; n++ {
		select {
		case res := <-p.results:
			if res.err != nil && firstErr == nil {
				firstErr = res.err
			}
			out[res.index] = res.rows
			skipped += res.skipped
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-p.ctx.Done():
			return nil, 0, p.ctx.Err()
		}
	}
	if firstErr != nil {
		return nil, 0, firstErr
	}

	flat := make([]record.Record, 0, len(batch))
	for _, rows := range out {
		flat = append(flat, rows...)
	}
	return flat, skipped, nil
}

// run is one worker's processing loop.
func (p *Pool) run() error {
	for {
		select {
		case <-p.ctx.Done():
			return p.ctx.Err()
		case <-p.stop:
			return nil
		case t := <-p.tasks:
			res := p.process(t)
			select {
			case p.results <- res:
			case <-p.ctx.Done():
				return p.ctx.Err()
			case <-p.stop:
				return nil
			}
		}
	}
}

// process transforms one chunk. A panic inside the transform is
// converted into an error so a single bad invocation fails the batch
// instead of the process.
func (p *Pool) process(t task) (res result) {
	res.index = t.index
	defer func() {
		if r := recover(); r != nil {
			res.rows = nil
			res.err = fmt.Errorf("worker panic on chunk %d: %v", t.index, r)
		}
	}()

	out := make([]record.Record, 0, len(t.rows))
	for i, rec := range t.rows {
		nr, err := p.tr.Transform(t.startRow+int64(i), rec)
		if err != nil {
			var perr *record.ParseError
			if p.policy == models.PolicySkip && errors.As(err, &perr) {
				res.skipped++
				continue
			}
			res.err = fmt.Errorf("chunk %d: %w", t.index, err)
			return res
		}
		out = append(out, nr)
	}
	res.rows = out
	return res
}
