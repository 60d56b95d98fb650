// Package typedbatch implements C3: it coerces raw CSV fields to the
// declared logical type, drops unwanted columns, batches rows into
// per-column typed buffers, and emits completed batches over a bounded
// channel to the columnar writer.
package typedbatch

import (
	"context"

	"parquetconv/internal/config"
	"parquetconv/internal/csvframe"
	"parquetconv/internal/jobmodel"
)

// Stats tallies what happened across every AddRow call, for the caller
// to weigh against MAX_BAD_ROWS.
type Stats struct {
	RowsAccepted int64
	RowsRejected int64
	// NullsByColumn counts coerce-null substitutions per column name,
	// for callers that want to log which columns are noisiest.
	NullsByColumn map[string]int64
}

// internPool is a bounded string-interning pool: once it reaches its
// capacity it stops adding new entries and simply returns the input
// unchanged, matching the transient-parse-buffer's bounded cardinality.
type internPool struct {
	entries map[string]string
	cap     int
}

func newInternPool(cap int) *internPool {
	return &internPool{entries: make(map[string]string), cap: cap}
}

func (p *internPool) intern(s string) string {
	if existing, ok := p.entries[s]; ok {
		return existing
	}
	if len(p.entries) >= p.cap {
		return s
	}
	p.entries[s] = s
	return s
}

func (p *internPool) reset() {
	p.entries = make(map[string]string)
}

// Builder accumulates coerced rows into RecordBatches and ships them
// over Batches once a size threshold is reached.
type Builder struct {
	columns []jobmodel.ColumnSpec
	// colIndex maps a header column position to its index in columns,
	// or -1 if that header column is not included in the schema.
	colIndex []int

	policy            config.BadRowPolicy
	nullOnEmptyString bool

	maxRows       int
	maxBatchBytes int64

	intern *internPool

	values    [][]any
	valid     [][]bool
	numRows   int
	rowBytes  int64

	Batches chan *jobmodel.RecordBatch

	Stats Stats
}

// NewBuilder constructs a Builder. header is the observed CSV column
// order; columns is the caller-declared schema restricted to included
// columns, in schema order. Columns named in header but absent from
// columns are dropped; the declared schema must be a subset of header
// or the caller should have already failed with SchemaMismatch.
func NewBuilder(header []string, columns []jobmodel.ColumnSpec, cfg *config.Config) *Builder {
	byName := make(map[string]int, len(columns))
	for i, c := range columns {
		byName[c.Name] = i
	}

	colIndex := make([]int, len(header))
	for i, h := range header {
		if idx, ok := byName[h]; ok {
			colIndex[i] = idx
		} else {
			colIndex[i] = -1
		}
	}

	b := &Builder{
		columns:       columns,
		colIndex:      colIndex,
		policy:        cfg.BadRowPolicy,
		maxRows:       cfg.MaxRows,
		maxBatchBytes: cfg.MaxBatchBytes,
		intern:        newInternPool(cfg.InternPoolSize),
		Batches:       make(chan *jobmodel.RecordBatch, cfg.ChannelCap),
		Stats:         Stats{NullsByColumn: map[string]int64{}},
	}
	b.resetAccumulators()
	return b
}

func (b *Builder) resetAccumulators() {
	b.values = make([][]any, len(b.columns))
	b.valid = make([][]bool, len(b.columns))
	for i := range b.columns {
		b.values[i] = nil
		b.valid[i] = nil
	}
	b.numRows = 0
	b.rowBytes = 0
}

// AddRow coerces one parsed CSV record's fields and appends it to the
// in-progress batch. It returns accepted=false when the row is dropped
// under strict policy (a coercion failure occurred); the caller is
// responsible for counting that against MAX_BAD_ROWS.
func (b *Builder) AddRow(ctx context.Context, rec *csvframe.Record) (accepted bool, err error) {
	rowValues := make([]any, len(b.columns))
	rowValid := make([]bool, len(b.columns))
	var bytesThisRow int64

	for fieldIdx, field := range rec.Fields {
		if fieldIdx >= len(b.colIndex) {
			break
		}
		colIdx := b.colIndex[fieldIdx]
		if colIdx < 0 {
			continue
		}
		col := b.columns[colIdx]
		bytesThisRow += int64(len(field.Value))

		res := coerce(col.Type, field.Value, b.nullOnEmptyString)
		if res.failed {
			if b.policy == config.PolicyStrict {
				b.Stats.RowsRejected++
				return false, nil
			}
			b.Stats.NullsByColumn[col.Name]++
			rowValid[colIdx] = false
			continue
		}
		if !res.valid {
			rowValid[colIdx] = false
			continue
		}

		if s, ok := res.value.(string); ok {
			res.value = b.intern.intern(s)
		}
		rowValues[colIdx] = res.value
		rowValid[colIdx] = true
	}

	for i := range b.columns {
		b.values[i] = append(b.values[i], rowValues[i])
		b.valid[i] = append(b.valid[i], rowValid[i])
	}
	b.numRows++
	b.rowBytes += bytesThisRow
	b.Stats.RowsAccepted++

	if b.numRows >= b.maxRows || b.rowBytes >= b.maxBatchBytes {
		if err := b.flush(ctx); err != nil {
			return true, err
		}
	}

	return true, nil
}

// Flush emits whatever partial batch is currently accumulated, if any
// rows are present. Call once at EOF to ship the final partial batch.
func (b *Builder) Flush(ctx context.Context) error {
	if b.numRows == 0 {
		return nil
	}
	return b.flush(ctx)
}

func (b *Builder) flush(ctx context.Context) error {
	batch := &jobmodel.RecordBatch{
		Columns: b.columns,
		Values:  b.values,
		Valid:   b.valid,
		NumRows: b.numRows,
	}
	b.intern.reset()
	b.resetAccumulators()

	select {
	case b.Batches <- batch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the Batches channel; call once no more rows will be added.
func (b *Builder) Close() {
	close(b.Batches)
}
