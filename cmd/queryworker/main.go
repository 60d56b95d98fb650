// Command queryworker serves the HTTP API: job creation, polling,
// context updates, and the natural-language query endpoint.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"parquetconv/internal/config"
	"parquetconv/internal/httpapi"
	"parquetconv/internal/jobstore"
	"parquetconv/internal/llm"
	"parquetconv/internal/queue"
)

var (
	cfgPath = flag.String("cfg", "", "optional TOML config override path")
	addr    = flag.String("addr", ":8080", "HTTP listen address")
)

const maxQueryBytes = 1 << 30 // 1 GiB, per the bounded in-memory buffer C5 requires

func main() {
	flag.Parse()
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		log.Fatal().Err(err).Msg("loading aws config")
	}

	s3Client := s3.NewFromConfig(awsCfg)
	jobs := jobstore.New(dynamodb.NewFromConfig(awsCfg), cfg.DynamoDBName)
	q := queue.New(sqs.NewFromConfig(awsCfg), cfg.ParquetQueueURL, cfg.VisibilityTimeoutSeconds)

	var completer llm.Completer
	if cfg.OpenAIKey == "" {
		log.Warn().Msg("OPENAI_API_KEY unset; query endpoint will fail LLM calls")
		completer = &llm.Stub{}
	} else {
		completer = llm.New(cfg.OpenAIKey, cfg.LLMModel)
	}

	handler := &httpapi.Handler{
		Jobs:          jobs,
		Queue:         q,
		Objects:       s3Client,
		Bucket:        cfg.S3UploadBucketName,
		Completer:     completer,
		Config:        cfg,
		Log:           log.Logger,
		MaxQueryBytes: maxQueryBytes,
	}

	log.Info().Str("addr", *addr).Msg("queryworker listening")
	if err := http.ListenAndServe(*addr, handler.Routes()); err != nil {
		log.Fatal().Err(err).Msg("http server exited")
		os.Exit(1)
	}
}
