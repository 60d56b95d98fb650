package typedbatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parquetconv/internal/config"
	"parquetconv/internal/csvframe"
	"parquetconv/internal/jobmodel"
)

func rowOf(values ...string) *csvframe.Record {
	fields := make([]csvframe.Field, len(values))
	for i, v := range values {
		fields[i] = csvframe.Field{Value: []byte(v)}
	}
	return &csvframe.Record{Fields: fields}
}

func testConfig() *config.Config {
	c := config.FromEnv()
	c.MaxRows = 1000
	c.MaxBatchBytes = 1 << 30
	c.ChannelCap = 4
	c.InternPoolSize = 100
	return c
}

func TestTypeCoercionScenario(t *testing.T) {
	header := []string{"v"}
	cols := []jobmodel.ColumnSpec{{Name: "v", Type: jobmodel.TypeFloat, Include: true}}
	b := NewBuilder(header, cols, testConfig())

	ctx := context.Background()
	for _, v := range []string{"3.14", "2", ""} {
		accepted, err := b.AddRow(ctx, rowOf(v))
		require.NoError(t, err)
		assert.True(t, accepted)
	}
	require.NoError(t, b.Flush(ctx))
	b.Close()

	batch := <-b.Batches
	require.Equal(t, 3, batch.NumRows)
	assert.Equal(t, 3.14, batch.Values[0][0])
	assert.Equal(t, 2.0, batch.Values[0][1])
	assert.False(t, batch.Valid[0][2])
}

func TestStrictPolicyRejectsBadRow(t *testing.T) {
	header := []string{"a", "b"}
	cols := []jobmodel.ColumnSpec{
		{Name: "a", Type: jobmodel.TypeInteger, Include: true},
		{Name: "b", Type: jobmodel.TypeInteger, Include: true},
	}
	cfg := testConfig()
	cfg.BadRowPolicy = config.PolicyStrict
	b := NewBuilder(header, cols, cfg)

	ctx := context.Background()
	accepted, err := b.AddRow(ctx, rowOf("1", "not-an-int"))
	require.NoError(t, err)
	assert.False(t, accepted)
	assert.EqualValues(t, 1, b.Stats.RowsRejected)
}

func TestCoerceNullPolicySubstitutesNull(t *testing.T) {
	header := []string{"a"}
	cols := []jobmodel.ColumnSpec{{Name: "a", Type: jobmodel.TypeInteger, Include: true}}
	cfg := testConfig()
	cfg.BadRowPolicy = config.PolicyCoerceNull
	b := NewBuilder(header, cols, cfg)

	ctx := context.Background()
	accepted, err := b.AddRow(ctx, rowOf("not-an-int"))
	require.NoError(t, err)
	assert.True(t, accepted)
	require.NoError(t, b.Flush(ctx))
	b.Close()

	batch := <-b.Batches
	assert.False(t, batch.Valid[0][0])
	assert.EqualValues(t, 1, b.Stats.NullsByColumn["a"])
}

func TestDroppedColumnsExcludedFromBatch(t *testing.T) {
	header := []string{"keep", "drop"}
	cols := []jobmodel.ColumnSpec{{Name: "keep", Type: jobmodel.TypeString, Include: true}}
	b := NewBuilder(header, cols, testConfig())

	ctx := context.Background()
	_, err := b.AddRow(ctx, rowOf("x", "y"))
	require.NoError(t, err)
	require.NoError(t, b.Flush(ctx))
	b.Close()

	batch := <-b.Batches
	assert.Len(t, batch.Columns, 1)
	assert.Equal(t, "keep", batch.Columns[0].Name)
	assert.Equal(t, "x", batch.Values[0][0])
}

func TestBatchEmittedAtRowCeiling(t *testing.T) {
	header := []string{"a"}
	cols := []jobmodel.ColumnSpec{{Name: "a", Type: jobmodel.TypeInteger, Include: true}}
	cfg := testConfig()
	cfg.MaxRows = 2
	b := NewBuilder(header, cols, cfg)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := b.AddRow(ctx, rowOf("1"))
		require.NoError(t, err)
	}

	select {
	case batch := <-b.Batches:
		assert.Equal(t, 2, batch.NumRows)
	default:
		t.Fatal("expected a batch to have been emitted at the row ceiling")
	}
}
