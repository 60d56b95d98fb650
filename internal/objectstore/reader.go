// Package objectstore implements C1 (chunked object reader) and the
// upload half of C4 (multipart streaming writer) against S3, supporting
// bounded ranged reads as well as writes.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pingcap/errors"

	"parquetconv/internal/errs"
)

// GetObjecter is the subset of *s3.Client that ChunkedReader needs;
// narrowed for testability.
type GetObjecter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// ChunkedReader yields the bytes of one S3 object as a finite, one-shot
// sequence of fixed-size windows, in order, without gaps or overlap, at
// most one outstanding range request at a time. It never materialises
// the full object.
type ChunkedReader struct {
	client GetObjecter
	bucket string
	key    string

	chunkBytes int64
	maxRetries int
	backoff    time.Duration

	size   int64
	offset int64
	done   bool
}

// NewChunkedReader constructs a reader for (bucket, key). Size() must be
// resolved via a HEAD request before the first Next() call; NewChunkedReader
// performs that HEAD eagerly so callers can size downstream buffers.
func NewChunkedReader(ctx context.Context, client GetObjecter, bucket, key string, chunkBytes int64) (*ChunkedReader, error) {
	head, err := client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, errs.New(errs.SourceUnreadable, fmt.Sprintf("head %s/%s", bucket, key), err)
	}

	size := int64(0)
	if head.ContentLength != nil {
		size = *head.ContentLength
	}

	return &ChunkedReader{
		client:     client,
		bucket:     bucket,
		key:        key,
		chunkBytes: chunkBytes,
		maxRetries: 5,
		backoff:    200 * time.Millisecond,
		size:       size,
	}, nil
}

// Size returns the total object size in bytes, as resolved at construction.
func (r *ChunkedReader) Size() int64 { return r.size }

// Done reports whether every byte of the object has been yielded.
func (r *ChunkedReader) Done() bool { return r.done }

// Next fetches and returns the next window of bytes, or io.EOF once the
// object has been fully consumed. On transient transport error it
// retries the current range with exponential backoff up to maxRetries
// attempts; on exhaustion it returns a SourceUnreadable error and the
// whole job fails.
func (r *ChunkedReader) Next(ctx context.Context) ([]byte, error) {
	if r.done || (r.size > 0 && r.offset >= r.size) {
		r.done = true
		return nil, io.EOF
	}

	end := r.offset + r.chunkBytes - 1
	if r.size > 0 && end > r.size-1 {
		end = r.size - 1
	}

	rangeHeader := fmt.Sprintf("bytes=%d-%d", r.offset, end)

	var lastErr error
	wait := r.backoff
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, errs.New(errs.SourceUnreadable, "context cancelled during retry", ctx.Err())
			}
			wait *= 2
		}

		out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(r.bucket),
			Key:    aws.String(r.key),
			Range:  aws.String(rangeHeader),
		})
		if err != nil {
			lastErr = err
			continue
		}

		data, err := io.ReadAll(out.Body)
		out.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		r.offset += int64(len(data))
		if r.size > 0 && r.offset >= r.size {
			r.done = true
		}
		if len(data) == 0 {
			r.done = true
			return nil, io.EOF
		}
		return data, nil
	}

	return nil, errs.New(errs.SourceUnreadable, fmt.Sprintf("exhausted %d retries fetching %s", r.maxRetries, rangeHeader), lastErr)
}

// ReadAllChunks drains the reader, invoking fn for each window in order.
// It stops and returns fn's error immediately if fn fails.
func (r *ChunkedReader) ReadAllChunks(ctx context.Context, fn func([]byte) error) error {
	for {
		chunk, err := r.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Trace(err)
		}
		if err := fn(chunk); err != nil {
			return errors.Trace(err)
		}
	}
}
