// Package parquetwriter implements C4's encoding half: it consumes
// record batches in arrival order and produces a single Parquet object,
// one row group per batch.
package parquetwriter

import (
	"io"

	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/pingcap/errors"

	"parquetconv/internal/errs"
	"parquetconv/internal/jobmodel"
)

const dictionaryCardinalityCeiling = 1 << 16

// Writer encodes a stream of RecordBatches into one Parquet object.
type Writer struct {
	w       *file.Writer
	columns []jobmodel.ColumnSpec
}

// New constructs a Writer. sample, if non-nil, is used to decide
// per-column dictionary encoding (enabled when the observed distinct
// value count in the sample stays at or below 2^16); dictionary
// encoding is a file-wide Parquet writer property, so this decision is
// made once, from the first batch, rather than per row group.
func New(w io.Writer, columns []jobmodel.ColumnSpec, sample *jobmodel.RecordBatch) (*Writer, error) {
	node, err := buildSchema(columns)
	if err != nil {
		return nil, errs.New(errs.WriterFailure, "building parquet schema", err)
	}

	dictionary := sniffDictionaryCandidates(columns, sample)

	opts := []parquet.WriterProperty{}
	for _, col := range columns {
		opts = append(opts, parquet.WithDictionaryFor(col.Name, dictionary[col.Name]))
		opts = append(opts, parquet.WithCompressionFor(col.Name, compress.Codecs.Snappy))
	}

	pw := file.NewParquetWriter(w, node, file.WithWriterProps(parquet.NewWriterProperties(opts...)))
	return &Writer{w: pw, columns: columns}, nil
}

// sniffDictionaryCandidates estimates per-column cardinality from one
// sample batch and decides dictionary-vs-plain encoding accordingly.
func sniffDictionaryCandidates(columns []jobmodel.ColumnSpec, sample *jobmodel.RecordBatch) map[string]bool {
	result := make(map[string]bool, len(columns))
	for _, col := range columns {
		result[col.Name] = true // default to dictionary when there's no sample to judge by
	}
	if sample == nil {
		return result
	}
	for i, col := range sample.Columns {
		seen := make(map[any]struct{})
		for r := 0; r < sample.NumRows; r++ {
			if !sample.Valid[i][r] {
				continue
			}
			seen[sample.Values[i][r]] = struct{}{}
			if len(seen) > dictionaryCardinalityCeiling {
				break
			}
		}
		result[col.Name] = len(seen) <= dictionaryCardinalityCeiling
	}
	return result
}

// WriteBatch encodes batch as one new Parquet row group.
func (w *Writer) WriteBatch(batch *jobmodel.RecordBatch) error {
	rgw := w.w.AppendRowGroup()
	defer rgw.Close()

	for colIdx := range w.columns {
		cw, err := rgw.NextColumn()
		if err != nil {
			return errs.New(errs.WriterFailure, "opening column chunk writer", err)
		}
		if err := writeColumn(cw, w.columns[colIdx].Type, batch.Values[colIdx], batch.Valid[colIdx]); err != nil {
			cw.Close()
			return errs.New(errs.WriterFailure, "writing column chunk", err)
		}
		if err := cw.Close(); err != nil {
			return errs.New(errs.WriterFailure, "closing column chunk writer", err)
		}
	}
	return nil
}

// Close flushes the Parquet footer. The footer is written only after
// the last batch has been committed, satisfying the encoding contract.
func (w *Writer) Close() error {
	if err := w.w.Close(); err != nil {
		return errs.New(errs.WriterFailure, "closing parquet writer", err)
	}
	return nil
}

func writeColumn(cw file.ColumnChunkWriter, t jobmodel.LogicalType, values []any, valid []bool) error {
	defLevels := make([]int16, len(values))
	for i, ok := range valid {
		if ok {
			defLevels[i] = 1
		}
	}

	switch t {
	case jobmodel.TypeString:
		buf := make([]parquet.ByteArray, len(values))
		for i, ok := range valid {
			if ok {
				buf[i] = parquet.ByteArray(values[i].(string))
			}
		}
		w, ok := cw.(*file.ByteArrayColumnChunkWriter)
		if !ok {
			return errors.Errorf("unexpected column chunk writer type for string")
		}
		_, err := w.WriteBatch(buf, defLevels, nil)
		return err

	case jobmodel.TypeInteger, jobmodel.TypeDatetime, jobmodel.TypeTimestamp:
		buf := make([]int64, len(values))
		for i, ok := range valid {
			if ok {
				buf[i] = values[i].(int64)
			}
		}
		w, ok := cw.(*file.Int64ColumnChunkWriter)
		if !ok {
			return errors.Errorf("unexpected column chunk writer type for int64")
		}
		_, err := w.WriteBatch(buf, defLevels, nil)
		return err

	case jobmodel.TypeFloat:
		buf := make([]float64, len(values))
		for i, ok := range valid {
			if ok {
				buf[i] = values[i].(float64)
			}
		}
		w, ok := cw.(*file.Float64ColumnChunkWriter)
		if !ok {
			return errors.Errorf("unexpected column chunk writer type for float64")
		}
		_, err := w.WriteBatch(buf, defLevels, nil)
		return err

	case jobmodel.TypeBoolean:
		buf := make([]bool, len(values))
		for i, ok := range valid {
			if ok {
				buf[i] = values[i].(bool)
			}
		}
		w, ok := cw.(*file.BooleanColumnChunkWriter)
		if !ok {
			return errors.Errorf("unexpected column chunk writer type for bool")
		}
		_, err := w.WriteBatch(buf, defLevels, nil)
		return err

	case jobmodel.TypeDate:
		buf := make([]int32, len(values))
		for i, ok := range valid {
			if ok {
				buf[i] = int32(values[i].(int64))
			}
		}
		w, ok := cw.(*file.Int32ColumnChunkWriter)
		if !ok {
			return errors.Errorf("unexpected column chunk writer type for date")
		}
		_, err := w.WriteBatch(buf, defLevels, nil)
		return err

	default:
		return errors.Errorf("unsupported logical type: %s", t)
	}
}
