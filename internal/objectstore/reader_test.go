package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parquetconv/internal/errs"
)

type fakeGetObjecter struct {
	data       []byte
	failFirstN int
	calls      int
}

func (f *fakeGetObjecter) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	n := int64(len(f.data))
	return &s3.HeadObjectOutput{ContentLength: &n}, nil
}

func (f *fakeGetObjecter) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.calls++
	if f.calls <= f.failFirstN {
		return nil, fmt.Errorf("transient")
	}

	var start, end int64
	if _, err := fmt.Sscanf(*params.Range, "bytes=%d-%d", &start, &end); err != nil {
		return nil, err
	}
	if end >= int64(len(f.data)) {
		end = int64(len(f.data)) - 1
	}
	body := f.data[start : end+1]
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func TestChunkedReaderCoversObjectExactlyOnce(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 100)
	fake := &fakeGetObjecter{data: data}

	cr, err := NewChunkedReader(context.Background(), fake, "bucket", "key", 30)
	require.NoError(t, err)
	assert.EqualValues(t, 100, cr.Size())

	var got []byte
	err = cr.ReadAllChunks(context.Background(), func(b []byte) error {
		got = append(got, b...)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.True(t, cr.Done())
}

func TestChunkedReaderRetriesTransientError(t *testing.T) {
	data := []byte("hello world")
	fake := &fakeGetObjecter{data: data, failFirstN: 2}

	cr, err := NewChunkedReader(context.Background(), fake, "bucket", "key", 1024)
	require.NoError(t, err)
	cr.backoff = 0

	chunk, err := cr.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, data, chunk)
}

func TestChunkedReaderExhaustsRetries(t *testing.T) {
	fake := &fakeGetObjecter{data: []byte("hello"), failFirstN: 1000}

	cr, err := NewChunkedReader(context.Background(), fake, "bucket", "key", 1024)
	require.NoError(t, err)
	cr.backoff = 0
	cr.maxRetries = 2

	_, err = cr.Next(context.Background())
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.SourceUnreadable, kind)
}

func TestChunkedReaderEmptyObject(t *testing.T) {
	fake := &fakeGetObjecter{data: []byte{}}

	cr, err := NewChunkedReader(context.Background(), fake, "bucket", "key", 1024)
	require.NoError(t, err)
	assert.EqualValues(t, 0, cr.Size())

	_, err = cr.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}
