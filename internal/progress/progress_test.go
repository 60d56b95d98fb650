package progress

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestSnapshotAccumulates(t *testing.T) {
	p := New(zerolog.Nop(), "job-1")
	p.AddRows(10)
	p.AddRows(5)
	p.AddBytes(1024)

	rows, bytes := p.Snapshot()
	assert.EqualValues(t, 15, rows)
	assert.EqualValues(t, 1024, bytes)
}

func TestAddRowsZeroIsNoop(t *testing.T) {
	p := New(zerolog.Nop(), "job-1")
	p.AddRows(0)
	rows, _ := p.Snapshot()
	assert.Zero(t, rows)
}
