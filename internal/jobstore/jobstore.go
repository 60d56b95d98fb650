// Package jobstore persists job records in DynamoDB, keyed by the
// composite (service, serviceId) the rest of the system expects.
package jobstore

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/pingcap/errors"

	"parquetconv/internal/errs"
	"parquetconv/internal/jobmodel"
)

const serviceName = "parquet"

// DynamoDBClient is the subset of *dynamodb.Client the store needs.
type DynamoDBClient interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Store implements job record CRUD against a single DynamoDB table.
type Store struct {
	client DynamoDBClient
	table  string
}

// New constructs a Store bound to the named table.
func New(client DynamoDBClient, table string) *Store {
	return &Store{client: client, table: table}
}

// item is the DynamoDB-shaped projection of a jobmodel.JobRecord. Schema
// is carried as two parallel attributes (a map plus an ordered list of
// keys) because a native DynamoDB map has no defined iteration order,
// and the invariant "schema column order equals Parquet column order"
// must survive a round trip through the store.
type item struct {
	Service     string            `dynamodbav:"service"`
	ServiceID   string            `dynamodbav:"serviceId"`
	State       string            `dynamodbav:"state"`
	S3Key       string            `dynamodbav:"s3_key"`
	ParquetKey  string            `dynamodbav:"parquet_key"`
	Schema      map[string]string `dynamodbav:"schema"`
	SchemaOrder []string          `dynamodbav:"schema_order"`
	Context     string            `dynamodbav:"context"`
	Error       string            `dynamodbav:"error,omitempty"`
	CreatedAt   string            `dynamodbav:"created_at"`
	UpdatedAt   string            `dynamodbav:"updated_at"`
}

func toItem(j *jobmodel.JobRecord) item {
	schema := make(map[string]string, len(j.Schema))
	for k, v := range j.Schema {
		schema[k] = string(v)
	}
	return item{
		Service:     serviceName,
		ServiceID:   j.JobID,
		State:       string(j.State),
		S3Key:       j.S3Key,
		ParquetKey:  j.ParquetKey,
		Schema:      schema,
		SchemaOrder: j.SchemaOrder,
		Context:     j.Context,
		Error:       j.Error,
		CreatedAt:   j.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   j.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func fromItem(it item) *jobmodel.JobRecord {
	schema := make(map[string]jobmodel.LogicalType, len(it.Schema))
	for k, v := range it.Schema {
		schema[k] = jobmodel.LogicalType(v)
	}
	created, _ := time.Parse(time.RFC3339, it.CreatedAt)
	updated, _ := time.Parse(time.RFC3339, it.UpdatedAt)
	return &jobmodel.JobRecord{
		JobID:       it.ServiceID,
		State:       jobmodel.JobState(it.State),
		S3Key:       it.S3Key,
		ParquetKey:  it.ParquetKey,
		Schema:      schema,
		SchemaOrder: it.SchemaOrder,
		Context:     it.Context,
		Error:       it.Error,
		CreatedAt:   created,
		UpdatedAt:   updated,
	}
}

// Get fetches the job record for jobID, or (nil, nil) if it does not exist.
func (s *Store) Get(ctx context.Context, jobID string) (*jobmodel.JobRecord, error) {
	key, err := attributevalue.MarshalMap(map[string]string{
		"service":   serviceName,
		"serviceId": jobID,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.table,
		Key:       key,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	if out.Item == nil {
		return nil, nil
	}

	var it item
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, errors.Trace(err)
	}
	return fromItem(it), nil
}

// CreatePending creates a new job record in state pending. If a record
// for jobID already exists, it is left untouched (idempotent create),
// matching the HTTP front door's "idempotent on job_id" contract.
func (s *Store) CreatePending(ctx context.Context, jobID, s3Key string) (*jobmodel.JobRecord, error) {
	existing, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := time.Now()
	rec := &jobmodel.JobRecord{
		JobID:      jobID,
		State:      jobmodel.StatePending,
		S3Key:      s3Key,
		ParquetKey: jobmodel.ParquetKeyFor(jobID),
		Schema:     map[string]jobmodel.LogicalType{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	av, err := attributevalue.MarshalMap(toItem(rec))
	if err != nil {
		return nil, errors.Trace(err)
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.table,
		Item:      av,
		ConditionExpression: ptr("attribute_not_exists(serviceId)"),
	}); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if stderrors.As(err, &ccf) {
			return s.Get(ctx, jobID)
		}
		return nil, errors.Trace(err)
	}

	return rec, nil
}

// MarkSucceeded transitions the job to succeeded with its final schema.
// It is a no-op if the job has already reached the terminal succeeded
// state; a prior failed attempt is allowed to transition to succeeded,
// since a re-delivered job starts fresh and overwrites the Parquet
// object on a successful re-run.
func (s *Store) MarkSucceeded(ctx context.Context, jobID string, schema []jobmodel.ColumnSpec) error {
	rec, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if rec == nil {
		return errs.New(errs.NotReady, "job record missing at completion time", nil)
	}
	if rec.State == jobmodel.StateSucceeded {
		return nil
	}

	order := make([]string, 0, len(schema))
	m := make(map[string]jobmodel.LogicalType, len(schema))
	for _, c := range schema {
		if !c.Include {
			continue
		}
		order = append(order, c.Name)
		m[c.Name] = c.Type
	}

	rec.State = jobmodel.StateSucceeded
	rec.Schema = m
	rec.SchemaOrder = order
	rec.UpdatedAt = time.Now()

	return s.put(ctx, rec)
}

// MarkFailed transitions the job to failed with the given error message.
// It is a no-op if the job has already reached the terminal succeeded
// state; a job already in failed may be re-marked failed (the error
// message is refreshed) after a re-delivered attempt fails again.
func (s *Store) MarkFailed(ctx context.Context, jobID string, cause error) error {
	rec, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if rec == nil {
		return errs.New(errs.NotReady, "job record missing at failure time", nil)
	}
	if rec.State == jobmodel.StateSucceeded {
		return nil
	}

	rec.State = jobmodel.StateFailed
	if cause != nil {
		rec.Error = cause.Error()
	}
	rec.UpdatedAt = time.Now()

	return s.put(ctx, rec)
}

// UpdateContext mutates only the free-text context field.
func (s *Store) UpdateContext(ctx context.Context, jobID, text string) error {
	rec, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if rec == nil {
		return errs.New(errs.NotReady, "job record not found", nil)
	}
	rec.Context = text
	rec.UpdatedAt = time.Now()
	return s.put(ctx, rec)
}

func (s *Store) put(ctx context.Context, rec *jobmodel.JobRecord) error {
	av, err := attributevalue.MarshalMap(toItem(rec))
	if err != nil {
		return errors.Trace(err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.table,
		Item:      av,
	})
	return errors.Trace(err)
}

func ptr(s string) *string { return &s }
