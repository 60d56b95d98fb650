// Package jobmodel holds the data model shared by every stage of the
// conversion and query pipelines: the job record, the logical type set,
// column descriptors, and the record-batch shape that crosses the
// producer/consumer channel boundary.
package jobmodel

import "time"

// LogicalType is one of the seven types the coercion layer recognises.
type LogicalType string

const (
	TypeString   LogicalType = "string"
	TypeInteger  LogicalType = "integer"
	TypeFloat    LogicalType = "float"
	TypeBoolean  LogicalType = "boolean"
	TypeDate     LogicalType = "date"
	TypeDatetime LogicalType = "datetime"
	TypeTimestamp LogicalType = "timestamp"
)

// Valid reports whether t is one of the seven recognised logical types.
func (t LogicalType) Valid() bool {
	switch t {
	case TypeString, TypeInteger, TypeFloat, TypeBoolean, TypeDate, TypeDatetime, TypeTimestamp:
		return true
	default:
		return false
	}
}

// ColumnSpec describes one caller-declared column.
type ColumnSpec struct {
	Name    string
	Type    LogicalType
	Include bool
}

// JobState is the job record's lifecycle state: pending exactly once,
// then succeeded or failed. succeeded is terminal; a failed job may
// still move to succeeded when a re-delivered attempt completes.
type JobState string

const (
	StatePending   JobState = "pending"
	StateSucceeded JobState = "succeeded"
	StateFailed    JobState = "failed"
)

// JobRecord is the key/value entry describing a conversion's lifecycle,
// keyed by (service="parquet", serviceId=JobID) in the job-record store.
type JobRecord struct {
	JobID      string
	State      JobState
	S3Key      string
	ParquetKey string
	// Schema is the ordered column_name -> logical_type mapping of
	// included columns; order equals Parquet column order. Ordering is
	// carried by SchemaOrder since the store's native map type does not
	// preserve it.
	Schema      map[string]LogicalType
	SchemaOrder []string
	Context     string
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OrderedColumns returns the schema as an ordered slice of ColumnSpec,
// all marked included (only included columns ever reach Schema).
func (j *JobRecord) OrderedColumns() []ColumnSpec {
	cols := make([]ColumnSpec, 0, len(j.SchemaOrder))
	for _, name := range j.SchemaOrder {
		cols = append(cols, ColumnSpec{Name: name, Type: j.Schema[name], Include: true})
	}
	return cols
}

// ParquetKeyFor derives the deterministic Parquet object key for a job.
func ParquetKeyFor(jobID string) string {
	return "parquet/" + jobID + ".parquet"
}

// CSVKeyFor derives the source CSV object key for a job.
func CSVKeyFor(jobID string) string {
	return "csvUpload/" + jobID + ".csv"
}

// RecordBatch is an ordered tuple of per-column typed buffers of
// identical length, produced by the typed-batch builder (C3) and
// consumed by the columnar writer (C4). Columns appear in schema order.
type RecordBatch struct {
	Columns []ColumnSpec
	// Values holds one slice per column, indexed the same as Columns.
	// The concrete element type depends on the column's LogicalType:
	// TypeString -> string, TypeInteger -> int64, TypeFloat -> float64,
	// TypeBoolean -> bool, TypeDate/TypeDatetime/TypeTimestamp -> int64
	// (days since epoch / millis since epoch). Null entries are nil.
	Values [][]any
	// Valid[c][r] is false when row r of column c is a typed null.
	Valid [][]bool
	// NumRows is the number of rows in this batch (same for every
	// column's Values/Valid slice).
	NumRows int
}

// JobMessage is the queue payload handed from the HTTP front door to the
// conversion worker.
type JobMessage struct {
	JobID  string       `json:"job_id"`
	S3Key  string       `json:"s3_key"`
	Schema []SchemaItem `json:"schema"`
}

// SchemaItem is one entry of a job message's declared schema.
type SchemaItem struct {
	Column string      `json:"column"`
	Type   LogicalType `json:"type"`
}
