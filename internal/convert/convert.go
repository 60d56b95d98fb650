// Package convert orchestrates C1→C2→C3→C4 into one conversion
// pipeline per job: a download/parse/coerce/encode/upload pipeline with
// one producer task and one consumer task joined by a single bounded
// channel.
package convert

import (
	"context"
	"io"

	"golang.org/x/sync/errgroup"

	"parquetconv/internal/config"
	"parquetconv/internal/csvframe"
	"parquetconv/internal/errs"
	"parquetconv/internal/jobmodel"
	"parquetconv/internal/parquetwriter"
	"parquetconv/internal/progress"
	"parquetconv/internal/typedbatch"
)

// ChunkSource is C1, narrowed to what the pipeline needs.
type ChunkSource interface {
	Next(ctx context.Context) ([]byte, error)
}

// ObjectWriter is the upload half of C4, narrowed to what the pipeline needs.
type ObjectWriter interface {
	io.Writer
	Close() error
	Abort() error
}

// Result summarises one completed conversion.
type Result struct {
	Schema       []jobmodel.ColumnSpec
	RowsWritten  int64
	RowsRejected int64
}

// Run executes the whole pipeline for one job: C1 feeds C2, C2's
// records feed C3, C3's batches cross one bounded channel to C4, which
// encodes and uploads. Once C2 has observed the header, Run fails with
// SchemaMismatch if the CSV produced no header or if a declared column
// is missing from it.
func Run(ctx context.Context, cfg *config.Config, source ChunkSource, dest ObjectWriter, declared []jobmodel.ColumnSpec, prog *progress.Logger) (result *Result, err error) {
	succeeded := false
	defer func() {
		if !succeeded {
			_ = dest.Abort()
		}
	}()

	framer := csvframe.New(cfg.MaxRecordBytes)

	// Prime the framer with chunks until the header is observed, so the
	// typed-batch builder can be constructed against the real column
	// order before any data rows arrive.
	var pending []csvframe.Result
	for {
		chunk, err := source.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		results, err := framer.Feed(chunk)
		if err != nil {
			return nil, err
		}
		if _, ok := framer.Header(); ok {
			pending = results
			break
		}
	}

	header, ok := framer.Header()
	if !ok {
		return nil, errs.New(errs.SchemaMismatch, "CSV produced no header row", nil)
	}
	if err := checkSchema(header, declared); err != nil {
		return nil, err
	}

	builder := typedbatch.NewBuilder(header, declared, cfg)
	badRows := int64(0)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer builder.Close()

		consume := func(results []csvframe.Result) error {
			for _, res := range results {
				if res.Malformed != nil {
					badRows++
					if cfg.MaxBadRows >= 0 && badRows > int64(cfg.MaxBadRows) {
						return errs.New(errs.TooManyBadRows, "too many malformed rows", nil)
					}
					continue
				}
				accepted, err := builder.AddRow(gctx, res.Record)
				if err != nil {
					return err
				}
				if !accepted {
					badRows++
					if cfg.MaxBadRows >= 0 && badRows > int64(cfg.MaxBadRows) {
						return errs.New(errs.TooManyBadRows, "too many bad rows", nil)
					}
					continue
				}
				prog.AddRows(1)
			}
			return nil
		}

		if err := consume(pending); err != nil {
			return err
		}

		for {
			chunk, err := source.Next(gctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			prog.AddBytes(int64(len(chunk)))

			results, err := framer.Feed(chunk)
			if err != nil {
				return err
			}
			if err := consume(results); err != nil {
				return err
			}
		}

		final, err := framer.Finish()
		if err != nil {
			return err
		}
		if err := consume(final); err != nil {
			return err
		}

		return builder.Flush(gctx)
	})

	var written int64
	g.Go(func() error {
		var writer *parquetwriter.Writer
		for batch := range builder.Batches {
			if writer == nil {
				var err error
				writer, err = parquetwriter.New(dest, declared, batch)
				if err != nil {
					return err
				}
			}
			if err := writer.WriteBatch(batch); err != nil {
				return err
			}
			written += int64(batch.NumRows)
		}

		if writer == nil {
			// No data rows at all (empty-CSV-header-only scenario):
			// still produce a valid, empty Parquet object.
			var err error
			writer, err = parquetwriter.New(dest, declared, nil)
			if err != nil {
				return err
			}
		}

		return writer.Close()
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := dest.Close(); err != nil {
		return nil, err
	}

	succeeded = true
	prog.Done("succeeded")
	return &Result{Schema: declared, RowsWritten: written, RowsRejected: badRows}, nil
}

func checkSchema(header []string, declared []jobmodel.ColumnSpec) error {
	declaredNames := make(map[string]bool, len(declared))
	for _, c := range declared {
		declaredNames[c.Name] = true
	}
	headerNames := make(map[string]bool, len(header))
	for _, h := range header {
		headerNames[h] = true
	}
	for name := range declaredNames {
		if !headerNames[name] {
			return errs.New(errs.SchemaMismatch, "declared column "+name+" not present in CSV header", nil)
		}
	}
	return nil
}
