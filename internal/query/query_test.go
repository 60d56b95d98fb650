package query

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parquetconv/internal/config"
	"parquetconv/internal/jobmodel"
	"parquetconv/internal/llm"
	"parquetconv/internal/parquetwriter"
)

func buildTestParquet(t *testing.T) []byte {
	t.Helper()
	columns := []jobmodel.ColumnSpec{
		{Name: "name", Type: jobmodel.TypeString, Include: true},
		{Name: "qty", Type: jobmodel.TypeInteger, Include: true},
	}
	batch := &jobmodel.RecordBatch{
		Columns: columns,
		Values:  [][]any{{"a", "b"}, {int64(1), int64(2)}},
		Valid:   [][]bool{{true, true}, {true, true}},
		NumRows: 2,
	}

	var buf bytes.Buffer
	w, err := parquetwriter.New(&buf, columns, batch)
	require.NoError(t, err)
	require.NoError(t, w.WriteBatch(batch))
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func testCfg() *config.Config {
	c := config.FromEnv()
	c.QueryTimeoutSeconds = 5
	c.MaxRowsOut = 1000
	c.RenderRowCap = 200
	c.SQLRetry = 2
	return c
}

func TestAnswerHappyPath(t *testing.T) {
	parquetBytes := buildTestParquet(t)
	engine, err := Open(context.Background(), parquetBytes, zerolog.Nop())
	require.NoError(t, err)
	defer engine.Close()

	schema := []jobmodel.ColumnSpec{
		{Name: "name", Type: jobmodel.TypeString, Include: true},
		{Name: "qty", Type: jobmodel.TypeInteger, Include: true},
	}

	stub := &llm.Stub{Responses: map[string]string{
		"single DuckDB SQL SELECT statement": "SELECT SUM(qty) AS total FROM t",
		"plain language":                     "The total quantity is 3.",
	}}

	answer, err := Answer(context.Background(), engine, testCfg(), stub, schema, "", "total quantity")
	require.NoError(t, err)
	assert.Equal(t, "SELECT SUM(qty) AS total FROM t", answer.SQL)
	assert.Contains(t, answer.Message, "3")
	assert.False(t, answer.Truncated)
}

func TestSynthesizeSQLRejectsMultiStatement(t *testing.T) {
	stub := &llm.Stub{Default: "SELECT 1; DROP TABLE t"}
	_, err := synthesizeSQL(context.Background(), stub, testCfg(), nil, "", "anything")
	require.Error(t, err)
}

func TestSynthesizeSQLRetriesOnRejection(t *testing.T) {
	calls := 0
	completer := completerFunc(func(ctx context.Context, prompt string) (string, error) {
		calls++
		if calls == 1 {
			return "DROP TABLE t", nil
		}
		return "SELECT 1", nil
	})

	stmt, err := synthesizeSQL(context.Background(), completer, testCfg(), nil, "", "anything")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", stmt)
	assert.Equal(t, 2, calls)
}

type completerFunc func(ctx context.Context, prompt string) (string, error)

func (f completerFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
