package objectstore

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pingcap/errors"

	"parquetconv/internal/errs"
)

// Uploader is the subset of the s3manager client a Writer needs.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Writer adapts an S3 multipart upload to io.Writer so the encoder can
// stream bytes to it without buffering the whole object. Call Close to
// wait for the upload to finish, or Abort to cancel it on an upstream
// error.
type Writer struct {
	pw       *io.PipeWriter
	pr       *io.PipeReader
	uploader Uploader
	bucket   string
	key      string

	done   chan error
	cancel context.CancelFunc
}

// NewWriter starts the background upload goroutine immediately; bytes
// written via Write are streamed to it through an in-process pipe so
// encoding and network upload overlap without materialising the whole
// object.
func NewWriter(ctx context.Context, uploader Uploader, bucket, key string) *Writer {
	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(ctx)

	w := &Writer{
		pw:       pw,
		pr:       pr,
		uploader: uploader,
		bucket:   bucket,
		key:      key,
		done:     make(chan error, 1),
		cancel:   cancel,
	}

	go func() {
		_, err := uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: &bucket,
			Key:    &key,
			Body:   pr,
		})
		w.done <- err
	}()

	return w
}

// Write implements io.Writer, forwarding bytes into the multipart upload.
func (w *Writer) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

// Close signals a clean EOF to the uploader and waits for the upload to
// complete, returning a WriterFailure error on any failure.
func (w *Writer) Close() error {
	if err := w.pw.Close(); err != nil {
		return errors.Trace(err)
	}
	if err := <-w.done; err != nil {
		return errs.New(errs.WriterFailure, "multipart upload failed", err)
	}
	return nil
}

// Abort aborts the in-flight upload, for use when an upstream stage
// fails before producing a clean EOF.
func (w *Writer) Abort() error {
	w.cancel()
	_ = w.pw.CloseWithError(context.Canceled)
	<-w.done
	return nil
}
