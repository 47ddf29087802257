package docstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/endrilickollari/ldp/internal/config"
	"github.com/endrilickollari/ldp/internal/models"
)

// S3 stores documents in an S3 bucket, one object per job.
type S3 struct {
	client *s3.Client
	bucket string
}

func NewS3(ctx context.Context, cfg config.Config) (*S3, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.DocumentS3Region),
	}
	if cfg.DocumentS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.DocumentS3Endpoint,
					HostnameImmutable: cfg.DocumentS3PathStyle,
					SigningRegion:     cfg.DocumentS3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.DocumentS3PathStyle
	})
	return &S3{client: client, bucket: cfg.DocumentS3Bucket}, nil
}

func (s *S3) key(jobID string) string {
	return "documents/" + jobID
}

func (s *S3) Put(ctx context.Context, jobID string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(jobID)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return models.Faultf(models.FaultStorageFailure, "store document %s: %v", jobID, err)
	}
	return nil
}

func (s *S3) Get(ctx context.Context, jobID string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(jobID)),
	})
	if err != nil {
		return nil, models.Faultf(models.FaultStorageFailure, "load document %s: %v", jobID, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, models.Faultf(models.FaultStorageFailure, "read document %s: %v", jobID, err)
	}
	return data, nil
}

func (s *S3) Delete(ctx context.Context, jobID string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(jobID)),
	})
	if err != nil {
		return models.Faultf(models.FaultStorageFailure, "delete document %s: %v", jobID, err)
	}
	return nil
}
