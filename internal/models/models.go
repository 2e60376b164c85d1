package models

import "time"

// EventKind identifies the type of a pipeline notification
type EventKind string

const (
	EventProgress EventKind = "progress"
	EventComplete EventKind = "complete"
	EventFailed   EventKind = "failed"
)

// Event is a one-directional notification from the conversion pipeline
// to the front end. The pipeline never touches front-end state directly;
// the consumer applies events on its own goroutine.
type Event struct {
	Kind    EventKind
	Percent float64 // consumed-bytes percent in [0,100]
	Error   error   // set for EventFailed
}

// ErrorPolicy controls what happens when a data row fails to parse
type ErrorPolicy string

const (
	// PolicyAbort stops the whole conversion on the first malformed row
	PolicyAbort ErrorPolicy = "abort"
	// PolicySkip drops malformed rows, counts them, and keeps going
	PolicySkip ErrorPolicy = "skip"
)

// Tuning holds the batching parameters derived from the sampling pass.
// Computed once per job and immutable afterwards.
type Tuning struct {
	ChunkRows int // rows handed to one worker invocation
	BatchRows int // rows accumulated before one fan-out round
}

// Stats tracks overall job statistics
type Stats struct {
	RowsSampled int64
	RowsBatched int64
	RowsSkipped int64
	Batches     int64
	BytesTotal  int64
	BytesRead   int64
	Workers     int
	Tuning      Tuning
	StartTime   time.Time
	EndTime     time.Time
}

// Rows returns the total number of data rows written to the output.
func (s Stats) Rows() int64 {
	return s.RowsSampled + s.RowsBatched
}
