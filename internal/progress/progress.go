// Package progress tracks and reports per-job conversion progress as
// structured log events (there is no interactive terminal in a
// queue-driven worker).
package progress

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Logger accumulates row/byte counters for one job and emits periodic
// zerolog events summarising throughput.
type Logger struct {
	jobID string
	log   zerolog.Logger
	stage string

	rows  atomic.Int64
	bytes atomic.Int64

	start time.Time
}

// New creates a progress Logger scoped to one job.
func New(log zerolog.Logger, jobID string) *Logger {
	return &Logger{
		jobID: jobID,
		log:   log.With().Str("job_id", jobID).Logger(),
		start: time.Now(),
	}
}

// SetStage records which pipeline stage is currently producing updates;
// it appears on every subsequent event until changed again.
func (p *Logger) SetStage(stage string) {
	p.stage = stage
}

// AddRows increments the row counter by delta and emits a debug event.
func (p *Logger) AddRows(delta int64) {
	if delta == 0 {
		return
	}
	total := p.rows.Add(delta)
	p.log.Debug().Str("stage", p.stage).Int64("rows", total).Msg("rows processed")
}

// AddBytes increments the byte counter by delta.
func (p *Logger) AddBytes(delta int64) {
	if delta == 0 {
		return
	}
	p.bytes.Add(delta)
}

// Snapshot returns the current row and byte counts.
func (p *Logger) Snapshot() (rows, bytes int64) {
	return p.rows.Load(), p.bytes.Load()
}

// Done emits a final info-level summary event, including elapsed time
// and throughput, as a single structured line.
func (p *Logger) Done(state string) {
	elapsed := time.Since(p.start)
	rows, bytes := p.Snapshot()

	rowsPerSec := rate(rows, elapsed)
	bytesPerSec := rate(bytes, elapsed)

	p.log.Info().
		Str("state", state).
		Int64("rows", rows).
		Int64("bytes", bytes).
		Dur("elapsed", elapsed).
		Float64("rows_per_sec", rowsPerSec).
		Float64("bytes_per_sec", bytesPerSec).
		Msg("job finished")
}

func rate(count int64, elapsed time.Duration) float64 {
	seconds := elapsed.Seconds()
	if seconds <= 0 {
		return 0
	}
	return float64(count) / seconds
}
