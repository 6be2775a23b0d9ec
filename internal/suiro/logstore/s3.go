package logstore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/mizuhara/suiro/pkg/errors"
	"github.com/mizuhara/suiro/pkg/logger"
)

// S3API is the subset of the S3 client the store uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store writes each append as its own JSONL object under
// <prefix>/<session-id>/. Object keys embed a nanosecond timestamp so a
// lexicographic listing replays the stream in append order.
type S3Store struct {
	client S3API
	bucket string
	prefix string
	log    *logger.Logger
	now    func() time.Time
}

// NewS3Store creates an S3 run-log store, loading AWS configuration from the
// environment.
func NewS3Store(ctx context.Context, cfg S3Config, log *logger.Logger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.WrapStoreError("s3", "init", fmt.Errorf("bucket is required"))
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.WrapStoreError("s3", "init", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3StoreWithClient(client, cfg.Bucket, cfg.Prefix, log), nil
}

// NewS3StoreWithClient creates an S3 run-log store with an injected client
// (for testing).
func NewS3StoreWithClient(client S3API, bucket, prefix string, log *logger.Logger) *S3Store {
	if prefix == "" {
		prefix = "sessions"
	}
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
		log:    log.WithField("backend", "s3-logs"),
		now:    time.Now,
	}
}

func (s *S3Store) sessionPrefix(sessionID string) string {
	return path.Join(s.prefix, sessionID) + "/"
}

// Append groups records by session and writes one object per session batch.
func (s *S3Store) Append(ctx context.Context, records []Record) error {
	batches := make(map[string][]Record)
	for _, rec := range records {
		if rec.SessionID == "" {
			return errors.WrapStoreError("s3", "append", fmt.Errorf("record without session id"))
		}
		batches[rec.SessionID] = append(batches[rec.SessionID], rec)
	}

	for sessionID, batch := range batches {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		for _, rec := range batch {
			if err := enc.Encode(rec); err != nil {
				return errors.WrapStoreError("s3", "append", err)
			}
		}

		key := fmt.Sprintf("%s%020d-%s.jsonl",
			s.sessionPrefix(sessionID), s.now().UnixNano(), uuid.NewString()[:8])
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(buf.Bytes()),
		})
		if err != nil {
			return errors.WrapStoreError("s3", "append", err)
		}
		s.log.Debug("wrote log object", "session_id", sessionID, "key", key, "records", len(batch))
	}
	return nil
}

// Read lists the session's objects in key order and replays their records.
func (s *S3Store) Read(ctx context.Context, sessionID string, query Query) ([]Record, error) {
	var out []Record
	var token *string
	for {
		page, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.sessionPrefix(sessionID)),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, errors.WrapStoreError("s3", "read", err)
		}

		for _, obj := range page.Contents {
			records, err := s.readObject(ctx, aws.ToString(obj.Key))
			if err != nil {
				return nil, err
			}
			for _, rec := range records {
				if query.JobID != "" && rec.JobID != query.JobID {
					continue
				}
				out = append(out, rec)
				if query.Limit > 0 && len(out) >= query.Limit {
					return out, nil
				}
			}
		}

		if page.NextContinuationToken == nil {
			return out, nil
		}
		token = page.NextContinuationToken
	}
}

func (s *S3Store) readObject(ctx context.Context, key string) ([]Record, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errors.WrapStoreError("s3", "read", err)
	}
	defer resp.Body.Close()

	var out []Record
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, errors.WrapStoreError("s3", "read", err)
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.WrapStoreError("s3", "read", err)
	}
	return out, nil
}

// DeleteSession removes every object under the session's prefix.
func (s *S3Store) DeleteSession(ctx context.Context, sessionID string) error {
	var token *string
	for {
		page, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.sessionPrefix(sessionID)),
			ContinuationToken: token,
		})
		if err != nil {
			return errors.WrapStoreError("s3", "delete", err)
		}

		for _, obj := range page.Contents {
			_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    obj.Key,
			})
			if err != nil {
				return errors.WrapStoreError("s3", "delete", err)
			}
		}

		if page.NextContinuationToken == nil {
			return nil
		}
		token = page.NextContinuationToken
	}
}

// Close is a no-op for the S3 backend.
func (s *S3Store) Close() error { return nil }
