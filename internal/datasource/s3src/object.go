// Package s3src reads a dataset file from an S3-compatible bucket (AWS, MinIO,
// Ceph). Credentials come from the profile or the default AWS chain.
package s3src

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"ecoetl/internal/etlerr"
)

// Config locates the object and the endpoint serving it.
type Config struct {
	Bucket       string
	Key          string
	Region       string
	Endpoint     string
	UsePathStyle bool

	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// getObjectAPI is the slice of *s3.Client the source needs.
type getObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Object is a source backed by one S3 object.
type Object struct {
	cfg    Config
	client getObjectAPI
}

// New builds the S3 client eagerly so credential problems surface before the
// run starts extracting.
func New(ctx context.Context, cfg Config) (*Object, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, etlerr.New(etlerr.SourceUnavailable, "s3 config", cfg.Bucket, err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(cfg.Endpoint) })
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}
	return &Object{cfg: cfg, client: s3.NewFromConfig(awsCfg, s3Opts...)}, nil
}

// Name returns the s3:// URI of the object.
func (o *Object) Name() string { return fmt.Sprintf("s3://%s/%s", o.cfg.Bucket, o.cfg.Key) }

// Open streams the object body. Every failure, including a missing key, is a
// SourceUnavailable error.
func (o *Object) Open(ctx context.Context) (io.ReadCloser, error) {
	out, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.cfg.Bucket),
		Key:    aws.String(o.cfg.Key),
	})
	if err != nil {
		return nil, etlerr.New(etlerr.SourceUnavailable, "get object", o.Name(), err)
	}
	return out.Body, nil
}
