package main

import (
	"benritz/dtd/internal/calc"
	"benritz/dtd/internal/collect"
	"benritz/dtd/internal/config"
	"benritz/dtd/internal/logging"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type handler struct {
	client collect.S3API
	calc   *calc.Calculator
	dst    *collect.S3Path
	format collect.Format
	logger *slog.Logger
}

func newHandler(cfg *config.Config, client collect.S3API, logger *slog.Logger) (*handler, error) {
	if cfg.Storage.OutputBucket == "" {
		return nil, fmt.Errorf("%s_STORAGE_OUTPUT_BUCKET is not set", config.EnvPrefix)
	}

	format, err := collect.ParseFormat(cfg.Storage.OutputFormat)
	if err != nil {
		return nil, err
	}

	c, err := calc.New(cfg.Params(),
		calc.WithWorkers(cfg.Workers),
		calc.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	return &handler{
		client: client,
		calc:   c,
		dst: &collect.S3Path{
			Bucket: cfg.Storage.OutputBucket,
			Key:    strings.Trim(cfg.Storage.OutputPrefix, "/"),
		},
		format: format,
		logger: logger,
	}, nil
}

// inputs extracts the input locations from a message body: either a plain
// s3:// URI or an S3 event notification.
func inputs(body string) ([]string, error) {
	body = strings.TrimSpace(body)

	if strings.HasPrefix(body, "s3://") {
		return []string{body}, nil
	}

	var event events.S3Event
	if err := json.Unmarshal([]byte(body), &event); err != nil {
		return nil, fmt.Errorf("message is neither an s3:// URI nor an S3 event: %w", err)
	}

	var locations []string
	for _, rec := range event.Records {
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("invalid object key %q: %w", rec.S3.Object.Key, err)
		}
		locations = append(locations, fmt.Sprintf("s3://%s/%s", rec.S3.Bucket.Name, key))
	}

	if len(locations) == 0 {
		return nil, fmt.Errorf("S3 event has no records")
	}

	return locations, nil
}

func (h *handler) process(ctx context.Context, location string) (string, error) {
	loader, err := collect.NewLoader(location, h.client)
	if err != nil {
		return "", err
	}

	table, err := loader.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load %s: %w", location, err)
	}

	rep, err := h.calc.Run(ctx, table)
	if err != nil {
		return "", err
	}

	return collect.StoreToS3(ctx, rep, h.client, h.dst, h.format)
}

// Handle processes every message. Failed messages are reported back as batch
// item failures so only they are retried.
func (h *handler) Handle(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse

	for _, msg := range event.Records {
		logger := h.logger.With("message_id", msg.MessageId)

		locations, err := inputs(msg.Body)
		if err != nil {
			logger.Error("invalid message", "error", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: msg.MessageId})
			continue
		}

		for _, location := range locations {
			outPath, err := h.process(ctx, location)
			if err != nil {
				logger.Error("failed to process input", "input", location, "error", err)
				resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: msg.MessageId})
				break
			}
			logger.Info("stored results", "input", location, "output", outPath)
		}
	}

	return resp, nil
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load(os.Getenv("DTD_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.SetDefault(logging.FormatJSON, cfg.Logging.Level, os.Stdout)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	h, err := newHandler(cfg, s3.NewFromConfig(awsCfg), logger)
	if err != nil {
		logger.Error("failed to create handler", "error", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
