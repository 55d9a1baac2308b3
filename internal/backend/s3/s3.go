// Package s3 is a backend.Adaptor that streams each delivered batch as
// newline-delimited JSON to an object in an S3 bucket, via
// aws-sdk-go-v2.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"tapline/internal/backend"
	"tapline/internal/event"
	"tapline/internal/logging"
)

func init() {
	backend.Register("s3", NewFactory())
}

// Config is the typed, validated S3 configuration.
type Config struct {
	Bucket          string
	Region          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
}

// S3 is a backend.Adaptor that flushes batches to S3 objects.
type S3 struct {
	id       string
	sourceID string
	cfg      Config
	client   *s3.Client
	logger   *slog.Logger

	mu      sync.Mutex
	started bool
	queue   chan []event.LogEvent
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewFactory returns a backend.Factory for S3 adaptors.
func NewFactory() backend.Factory {
	return func(id, sourceID string, raw map[string]string) (backend.Adaptor, error) {
		a := &S3{id: id, sourceID: sourceID, logger: logging.Discard()}
		changeset, errs := a.CastAndValidateConfig(raw)
		if len(errs) > 0 {
			out := make([]error, len(errs))
			for i, e := range errs {
				out[i] = e
			}
			return nil, fmt.Errorf("s3: invalid config: %v", out)
		}
		a.cfg = changesetToConfig(changeset)
		return a, nil
	}
}

func (a *S3) Type() string { return "s3" }

func (a *S3) CastConfig(raw map[string]string) (map[string]any, error) {
	cfg := Config{
		Bucket:          raw["bucket"],
		Region:          raw["region"],
		Prefix:          raw["prefix"],
		AccessKeyID:     raw["access_key_id"],
		SecretAccessKey: raw["secret_access_key"],
	}
	return configToChangeset(cfg), nil
}

func (a *S3) CastAndValidateConfig(raw map[string]string) (map[string]any, []backend.FieldError) {
	changeset, _ := a.CastConfig(raw)
	cfg := changesetToConfig(changeset)

	var errs []backend.FieldError
	if cfg.Bucket == "" {
		errs = append(errs, backend.FieldError{Field: "bucket", Message: "is required"})
	}
	if cfg.Region == "" {
		errs = append(errs, backend.FieldError{Field: "region", Message: "is required"})
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return changeset, nil
}

func (a *S3) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}

	var optFns []func(*awsconfig.LoadOptions) error
	optFns = append(optFns, awsconfig.WithRegion(a.cfg.Region))
	if a.cfg.AccessKeyID != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(a.cfg.AccessKeyID, a.cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return fmt.Errorf("s3: load aws config: %w", err)
	}

	a.client = s3.NewFromConfig(awsCfg)
	a.queue = make(chan []event.LogEvent, 256)
	a.stopCh = make(chan struct{})
	a.started = true

	a.wg.Add(1)
	go a.run(ctx)
	return nil
}

func (a *S3) Ingest(_ context.Context, events []event.LogEvent) error {
	a.mu.Lock()
	started := a.started
	a.mu.Unlock()
	if !started {
		return fmt.Errorf("s3 %s: not started", a.id)
	}
	select {
	case a.queue <- events:
		return nil
	default:
		return fmt.Errorf("s3 %s: queue full", a.id)
	}
}

func (a *S3) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = false
	close(a.stopCh)
	a.mu.Unlock()

	done := make(chan struct{})
	go func() { a.wg.Wait(); close(done) }()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *S3) run(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case batch := <-a.queue:
			a.flush(ctx, batch)
		case <-a.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (a *S3) flush(ctx context.Context, batch []event.LogEvent) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range batch {
		if err := enc.Encode(e.Body); err != nil {
			a.logger.Error("s3: encode event", "error", err)
			return
		}
	}

	key := fmt.Sprintf("%s%s/%d.ndjson", a.cfg.Prefix, a.sourceID, time.Now().UnixNano())
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.cfg.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(buf.Bytes()),
	})
	if err != nil {
		a.logger.Error("s3: put object", "bucket", a.cfg.Bucket, "key", key, "error", err)
	}
}

func configToChangeset(cfg Config) map[string]any {
	return map[string]any{
		"bucket":            cfg.Bucket,
		"region":            cfg.Region,
		"prefix":            cfg.Prefix,
		"access_key_id":     cfg.AccessKeyID,
		"secret_access_key": cfg.SecretAccessKey,
	}
}

func changesetToConfig(changeset map[string]any) Config {
	return Config{
		Bucket:          changeset["bucket"].(string),
		Region:          changeset["region"].(string),
		Prefix:          changeset["prefix"].(string),
		AccessKeyID:     changeset["access_key_id"].(string),
		SecretAccessKey: changeset["secret_access_key"].(string),
	}
}
