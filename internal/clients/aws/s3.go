package aws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/yungbote/aitranscriber-backend/internal/domain"
	"github.com/yungbote/aitranscriber-backend/internal/platform/logger"
)

// ObjectAPI is the object subset of *s3.Client.
type ObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store is the audio blob store on an S3 bucket.
type S3Store struct {
	log    *logger.Logger
	api    ObjectAPI
	bucket string
}

func NewS3Store(log *logger.Logger, api ObjectAPI, bucket string) (*S3Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if api == nil {
		return nil, fmt.Errorf("s3 client required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("missing env var AUDIO_BUCKET")
	}
	return &S3Store{log: log.With("service", "S3Store"), api: api, bucket: bucket}, nil
}

func (s *S3Store) Name() string { return "s3" }

func (s *S3Store) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(strings.TrimLeft(key, "/")),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s/%s", domain.ErrBlobNotFound, s.bucket, key)
		}
		return nil, fmt.Errorf("s3 get %q: %w", key, err)
	}
	return out.Body, nil
}

func (s *S3Store) Put(ctx context.Context, key, contentType string, body io.Reader) error {
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(strings.TrimLeft(key, "/")),
		Body:   body,
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.api.PutObject(ctx, in); err != nil {
		return fmt.Errorf("s3 put %q: %w", key, err)
	}
	return nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(strings.TrimLeft(key, "/")),
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s/%s", domain.ErrBlobNotFound, s.bucket, key)
		}
		return fmt.Errorf("s3 delete %q: %w", key, err)
	}
	return nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *s3types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NotFoundException", "404":
			return true
		}
	}
	return false
}
