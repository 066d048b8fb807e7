package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"
)

type Config struct {
	Region string
	// S3Endpoint points the S3 client at an S3-compatible server (path-style).
	S3Endpoint string
}

// Clients holds the SDK clients built from one shared aws.Config.
type Clients struct {
	S3         *s3.Client
	Transcribe *transcribe.Client
}

func NewClients(ctx context.Context, cfg Config) (*Clients, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if r := strings.TrimSpace(cfg.Region); r != "" {
		opts = append(opts, awsconfig.WithRegion(r))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	endpoint := strings.TrimSpace(cfg.S3Endpoint)
	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &Clients{
		S3:         s3Client,
		Transcribe: transcribe.NewFromConfig(awsCfg),
	}, nil
}
