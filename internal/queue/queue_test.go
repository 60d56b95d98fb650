package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parquetconv/internal/jobmodel"
)

type fakeSQS struct {
	sent     []string
	inflight []types.Message
	deleted  []string
}

func (f *fakeSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, *params.MessageBody)
	handle := "handle-" + string(rune('a'+len(f.inflight)))
	f.inflight = append(f.inflight, types.Message{Body: params.MessageBody, ReceiptHandle: &handle})
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	msgs := f.inflight
	f.inflight = nil
	return &sqs.ReceiveMessageOutput{Messages: msgs}, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, *params.ReceiptHandle)
	return &sqs.DeleteMessageOutput{}, nil
}

func TestEnqueueReceiveDelete(t *testing.T) {
	fake := &fakeSQS{}
	q := New(fake, "https://sqs.example/q", 500)
	ctx := context.Background()

	msg := jobmodel.JobMessage{
		JobID: "job-1",
		S3Key: "csvUpload/job-1.csv",
		Schema: []jobmodel.SchemaItem{
			{Column: "a", Type: jobmodel.TypeInteger},
		},
	}
	require.NoError(t, q.Enqueue(ctx, msg))
	require.Len(t, fake.sent, 1)

	var roundTrip jobmodel.JobMessage
	require.NoError(t, json.Unmarshal([]byte(fake.sent[0]), &roundTrip))
	assert.Equal(t, msg, roundTrip)

	received, err := q.Receive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, "job-1", received[0].Message.JobID)

	require.NoError(t, q.Delete(ctx, received[0].ReceiptHandle))
	assert.Equal(t, []string{received[0].ReceiptHandle}, fake.deleted)
}
