package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3API is the multipart subset of *s3.Client.
type S3API interface {
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	ListParts(ctx context.Context, in *s3.ListPartsInput, optFns ...func(*s3.Options)) (*s3.ListPartsOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// S3Endpoint maps chunks onto multipart parts: part n covers bytes
// [(n-1)*PartSize, n*PartSize). Parts are atomic, so the acknowledged offset
// is always a part boundary.
type S3Endpoint struct {
	api      S3API
	bucket   string
	partSize int64
}

func NewS3Endpoint(api S3API, bucket string, partSize int64) (*S3Endpoint, error) {
	if api == nil {
		return nil, fmt.Errorf("s3 client required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	if partSize <= 0 {
		partSize = DefaultChunkSize
	}
	return &S3Endpoint{api: api, bucket: bucket, partSize: partSize}, nil
}

func (e *S3Endpoint) Name() string { return "s3:" + e.bucket }

func (e *S3Endpoint) Create(ctx context.Context, t Target) (string, error) {
	in := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(t.ObjectName),
	}
	if t.ContentType != "" {
		in.ContentType = aws.String(t.ContentType)
	}
	out, err := e.api.CreateMultipartUpload(ctx, in)
	if err != nil {
		return "", err
	}
	id := aws.ToString(out.UploadId)
	if id == "" {
		return "", fmt.Errorf("s3 create: empty upload id")
	}
	return id, nil
}

func (e *S3Endpoint) Offset(ctx context.Context, token string, t Target) (int64, error) {
	parts, err := e.listParts(ctx, token, t)
	if err != nil {
		return 0, err
	}
	var off int64
	for i, p := range parts {
		if aws.ToInt32(p.PartNumber) != int32(i+1) {
			break
		}
		off += aws.ToInt64(p.Size)
	}
	if off > t.Size {
		off = t.Size
	}
	return off, nil
}

func (e *S3Endpoint) PutChunk(ctx context.Context, token string, t Target, offset int64, chunk []byte) (int64, error) {
	if offset%e.partSize != 0 {
		return offset, fmt.Errorf("s3: offset %d is not a part boundary (part size %d)", offset, e.partSize)
	}
	partNumber := int32(offset/e.partSize) + 1
	_, err := e.api.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(e.bucket),
		Key:           aws.String(t.ObjectName),
		UploadId:      aws.String(token),
		PartNumber:    aws.Int32(partNumber),
		Body:          bytes.NewReader(chunk),
		ContentLength: aws.Int64(int64(len(chunk))),
	})
	if err != nil {
		return offset, mapS3Error(err)
	}
	return offset + int64(len(chunk)), nil
}

func (e *S3Endpoint) Finish(ctx context.Context, token string, t Target) error {
	parts, err := e.listParts(ctx, token, t)
	if err != nil {
		return err
	}
	completed := make([]s3types.CompletedPart, 0, len(parts))
	for _, p := range parts {
		completed = append(completed, s3types.CompletedPart{ETag: p.ETag, PartNumber: p.PartNumber})
	}
	_, err = e.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(e.bucket),
		Key:             aws.String(t.ObjectName),
		UploadId:        aws.String(token),
		MultipartUpload: &s3types.CompletedMultipartUpload{Parts: completed},
	})
	return mapS3Error(err)
}

func (e *S3Endpoint) Abort(ctx context.Context, token string, t Target) error {
	_, err := e.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(e.bucket),
		Key:      aws.String(t.ObjectName),
		UploadId: aws.String(token),
	})
	if err = mapS3Error(err); errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	return err
}

func (e *S3Endpoint) listParts(ctx context.Context, token string, t Target) ([]s3types.Part, error) {
	var parts []s3types.Part
	var marker *string
	for {
		out, err := e.api.ListParts(ctx, &s3.ListPartsInput{
			Bucket:           aws.String(e.bucket),
			Key:              aws.String(t.ObjectName),
			UploadId:         aws.String(token),
			PartNumberMarker: marker,
		})
		if err != nil {
			return nil, mapS3Error(err)
		}
		parts = append(parts, out.Parts...)
		if !aws.ToBool(out.IsTruncated) || out.NextPartNumberMarker == nil {
			break
		}
		marker = out.NextPartNumberMarker
	}
	sort.Slice(parts, func(i, j int) bool {
		return aws.ToInt32(parts[i].PartNumber) < aws.ToInt32(parts[j].PartNumber)
	})
	return parts, nil
}

func mapS3Error(err error) error {
	if err == nil {
		return nil
	}
	var nsu *s3types.NoSuchUpload
	if errors.As(err, &nsu) {
		return fmt.Errorf("%w: %v", ErrSessionNotFound, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchUpload" {
		return fmt.Errorf("%w: %v", ErrSessionNotFound, err)
	}
	return err
}
