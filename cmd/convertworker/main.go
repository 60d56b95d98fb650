// Command convertworker drains the conversion job queue and runs the
// CSV→Parquet pipeline for each message, one job at a time per
// invocation.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"parquetconv/internal/config"
	"parquetconv/internal/convert"
	"parquetconv/internal/errs"
	"parquetconv/internal/jobmodel"
	"parquetconv/internal/jobstore"
	"parquetconv/internal/objectstore"
	"parquetconv/internal/progress"
	"parquetconv/internal/queue"
)

var cfgPath = flag.String("cfg", "", "optional TOML config override path")

func main() {
	flag.Parse()
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		log.Fatal().Err(err).Msg("loading aws config")
	}

	s3Client := s3.NewFromConfig(awsCfg)
	uploader := manager.NewUploader(s3Client)
	jobs := jobstore.New(dynamodb.NewFromConfig(awsCfg), cfg.DynamoDBName)
	q := queue.New(sqs.NewFromConfig(awsCfg), cfg.ParquetQueueURL, cfg.VisibilityTimeoutSeconds)

	log.Info().Msg("convertworker starting")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("convertworker shutting down")
			return
		default:
		}

		messages, err := q.Receive(ctx, 1)
		if err != nil {
			log.Error().Err(err).Msg("receiving from queue")
			continue
		}
		for _, m := range messages {
			processMessage(ctx, cfg, jobs, q, s3Client, uploader, m)
		}
	}
}

func processMessage(ctx context.Context, cfg *config.Config, jobs *jobstore.Store, q *queue.Queue, s3Client *s3.Client, uploader *manager.Uploader, m queue.ReceivedMessage) {
	jobID := m.Message.JobID
	plog := progress.New(log.Logger, jobID)

	rec, err := jobs.Get(ctx, jobID)
	if err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("loading job record")
		return
	}
	if rec != nil && rec.State == jobmodel.StateSucceeded {
		// Already-completed job re-delivered: no-op, per the idempotent
		// at-least-once delivery contract.
		_ = q.Delete(ctx, m.ReceiptHandle)
		return
	}

	declared := make([]jobmodel.ColumnSpec, 0, len(m.Message.Schema))
	for _, s := range m.Message.Schema {
		declared = append(declared, jobmodel.ColumnSpec{Name: s.Column, Type: s.Type, Include: true})
	}

	source, err := objectstore.NewChunkedReader(ctx, s3Client, cfg.S3UploadBucketName, m.Message.S3Key, cfg.ChunkBytes)
	if err != nil {
		failJob(ctx, jobs, jobID, err)
		_ = q.Delete(ctx, m.ReceiptHandle)
		return
	}

	dest := objectstore.NewWriter(ctx, uploader, cfg.S3UploadBucketName, jobmodel.ParquetKeyFor(jobID))

	result, err := convert.Run(ctx, cfg, source, dest, declared, plog)
	if err != nil {
		failJob(ctx, jobs, jobID, err)
		_ = q.Delete(ctx, m.ReceiptHandle)
		return
	}

	if err := jobs.MarkSucceeded(ctx, jobID, result.Schema); err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("marking job succeeded")
		return
	}

	_ = q.Delete(ctx, m.ReceiptHandle)
}

func failJob(ctx context.Context, jobs *jobstore.Store, jobID string, cause error) {
	kind, _ := errs.KindOf(cause)
	log.Error().Err(cause).Str("job_id", jobID).Str("kind", string(kind)).
		Bool("recoverable", kind.Recoverable()).Msg("conversion failed")
	if err := jobs.MarkFailed(ctx, jobID, cause); err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("marking job failed")
	}
}
