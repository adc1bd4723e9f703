package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	hunterconfig "estate_hunter/config"
	"estate_hunter/models"
)

// objectPutter is the slice of the S3 client the archiver needs.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// SnapshotArchiver writes the raw records of a source pass to S3-compatible storage as JSON
// lines, so a pass can be replayed through the normalizer later.
type SnapshotArchiver struct {
	client objectPutter
	bucket string
	prefix string
}

func NewSnapshotArchiver(ctx context.Context, cfg hunterconfig.SnapshotConfig) (*SnapshotArchiver, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	return newSnapshotArchiver(client, cfg.Bucket, cfg.Prefix), nil
}

func newSnapshotArchiver(client objectPutter, bucket, prefix string) *SnapshotArchiver {
	return &SnapshotArchiver{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Key lays objects out as prefix/source/YYYY/MM/DD/<timestamp>-<uuid>.jsonl.
func (a *SnapshotArchiver) Key(source models.Source, at time.Time) string {
	at = at.UTC()
	name := fmt.Sprintf("%s-%s.jsonl", at.Format("20060102T150405Z"), uuid.NewString())
	parts := []string{string(source), at.Format("2006/01/02"), name}
	if a.prefix != "" {
		parts = append([]string{a.prefix}, parts...)
	}
	return strings.Join(parts, "/")
}

// Put uploads records and returns the object key.
func (a *SnapshotArchiver) Put(ctx context.Context, source models.Source, at time.Time, records []models.RawRecord) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return "", fmt.Errorf("encode record: %w", err)
		}
	}

	key := a.Key(source, at)
	if err := a.upload(ctx, key, &buf, "application/x-ndjson"); err != nil {
		return "", err
	}
	return key, nil
}

func (a *SnapshotArchiver) upload(ctx context.Context, key string, data io.Reader, contentType string) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}
