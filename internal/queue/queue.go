// Package queue wraps the SQS job queue: conversion-worker-bound job
// messages, enqueued by the HTTP front door and received/deleted by the
// conversion worker.
package queue

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/pingcap/errors"

	"parquetconv/internal/jobmodel"
)

// SQSClient is the subset of *sqs.Client the queue needs.
type SQSClient interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Queue sends and receives jobmodel.JobMessage payloads over one SQS queue.
type Queue struct {
	client                   SQSClient
	url                      string
	visibilityTimeoutSeconds int32
}

// New constructs a Queue bound to the given queue URL.
func New(client SQSClient, url string, visibilityTimeoutSeconds int32) *Queue {
	return &Queue{client: client, url: url, visibilityTimeoutSeconds: visibilityTimeoutSeconds}
}

// Enqueue sends a job message for the conversion worker to pick up.
func (q *Queue) Enqueue(ctx context.Context, msg jobmodel.JobMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return errors.Trace(err)
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    &q.url,
		MessageBody: aws.String(string(body)),
	})
	return errors.Trace(err)
}

// ReceivedMessage pairs a decoded job message with the SQS receipt
// handle needed to delete it once processing completes.
type ReceivedMessage struct {
	Message       jobmodel.JobMessage
	ReceiptHandle string
}

// Receive long-polls for up to maxMessages job messages.
func (q *Queue) Receive(ctx context.Context, maxMessages int32) ([]ReceivedMessage, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            &q.url,
		MaxNumberOfMessages: maxMessages,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   q.visibilityTimeoutSeconds,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	received := make([]ReceivedMessage, 0, len(out.Messages))
	for _, m := range out.Messages {
		var jm jobmodel.JobMessage
		if m.Body == nil {
			continue
		}
		if err := json.Unmarshal([]byte(*m.Body), &jm); err != nil {
			continue
		}
		received = append(received, ReceivedMessage{Message: jm, ReceiptHandle: *m.ReceiptHandle})
	}
	return received, nil
}

// Delete removes a processed message from the queue so it is not
// redelivered.
func (q *Queue) Delete(ctx context.Context, receiptHandle string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &q.url,
		ReceiptHandle: &receiptHandle,
	})
	return errors.Trace(err)
}
