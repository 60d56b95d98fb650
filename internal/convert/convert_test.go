package convert

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parquetconv/internal/config"
	"parquetconv/internal/errs"
	"parquetconv/internal/jobmodel"
	"parquetconv/internal/progress"
)

// chunkedSource replays a fixed list of byte chunks, one per Next call,
// simulating C1 delivering the object in windows that may split a field
// or a quoted record across a boundary.
type chunkedSource struct {
	chunks [][]byte
	idx    int
}

func (s *chunkedSource) Next(ctx context.Context) ([]byte, error) {
	if s.idx >= len(s.chunks) {
		return nil, io.EOF
	}
	c := s.chunks[s.idx]
	s.idx++
	return c, nil
}

// memDest is a fake C4 upload destination backed by an in-memory buffer.
type memDest struct {
	buf     bytes.Buffer
	aborted bool
}

func (d *memDest) Write(p []byte) (int, error) { return d.buf.Write(p) }
func (d *memDest) Close() error                 { return nil }
func (d *memDest) Abort() error                 { d.aborted = true; return nil }

func testCfg() *config.Config {
	c := config.FromEnv()
	c.MaxRows = 1000
	c.MaxBatchBytes = 1 << 30
	c.ChannelCap = 4
	c.InternPoolSize = 100
	c.MaxRecordBytes = 1 << 20
	c.MaxBadRows = 0
	return c
}

func testProgress() *progress.Logger {
	return progress.New(zerolog.Nop(), "job-1")
}

func TestRunSplitsAcrossChunkBoundaries(t *testing.T) {
	// split mid-field and mid-record deliberately
	source := &chunkedSource{chunks: [][]byte{
		[]byte("id,na"),
		[]byte("me\n1,ali"),
		[]byte("ce\n2,bob\n3,car"),
		[]byte("ol\n"),
	}}
	dest := &memDest{}
	declared := []jobmodel.ColumnSpec{
		{Name: "id", Type: jobmodel.TypeInteger, Include: true},
		{Name: "name", Type: jobmodel.TypeString, Include: true},
	}

	result, err := Run(context.Background(), testCfg(), source, dest, declared, testProgress())
	require.NoError(t, err)
	assert.EqualValues(t, 3, result.RowsWritten)
	assert.EqualValues(t, 0, result.RowsRejected)
	assert.NotZero(t, dest.buf.Len())
	assert.Equal(t, "PAR1", string(dest.buf.Bytes()[:4]))
}

func TestRunSchemaMismatchOnMissingDeclaredColumn(t *testing.T) {
	source := &chunkedSource{chunks: [][]byte{[]byte("id,name\n1,alice\n")}}
	dest := &memDest{}
	declared := []jobmodel.ColumnSpec{
		{Name: "missing_col", Type: jobmodel.TypeString, Include: true},
	}

	_, err := Run(context.Background(), testCfg(), source, dest, declared, testProgress())
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.SchemaMismatch, kind)
	assert.True(t, dest.aborted)
}

func TestRunTooManyBadRowsUnderStrictPolicy(t *testing.T) {
	source := &chunkedSource{chunks: [][]byte{
		[]byte("id,count\n1,not-an-int\n2,also-bad\n"),
	}}
	dest := &memDest{}
	declared := []jobmodel.ColumnSpec{
		{Name: "id", Type: jobmodel.TypeInteger, Include: true},
		{Name: "count", Type: jobmodel.TypeInteger, Include: true},
	}
	cfg := testCfg()
	cfg.MaxBadRows = 0
	cfg.BadRowPolicy = config.PolicyStrict

	_, err := Run(context.Background(), cfg, source, dest, declared, testProgress())
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.TooManyBadRows, kind)
	assert.True(t, dest.aborted)
}

func TestRunEmptyHeaderOnlyProducesValidEmptyParquet(t *testing.T) {
	source := &chunkedSource{chunks: [][]byte{[]byte("id,name\n")}}
	dest := &memDest{}
	declared := []jobmodel.ColumnSpec{
		{Name: "id", Type: jobmodel.TypeInteger, Include: true},
		{Name: "name", Type: jobmodel.TypeString, Include: true},
	}

	result, err := Run(context.Background(), testCfg(), source, dest, declared, testProgress())
	require.NoError(t, err)
	assert.EqualValues(t, 0, result.RowsWritten)
	assert.Equal(t, "PAR1", string(dest.buf.Bytes()[:4]))
}
