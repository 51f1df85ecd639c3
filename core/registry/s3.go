package registry

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/relabs-tech/schemabase/core/logger"
	"github.com/relabs-tech/schemabase/core/schema"
)

// S3Configuration holds the configuration for S3Source
type S3Configuration struct {
	AccessID      string `env:"AWS_ACCESS_KEY_ID,optional"`
	AccessKey     string `env:"AWS_SECRET_ACCESS_KEY,optional"`
	AWSRegion     string `env:"AWS_REGION,default=eu-central-1"`
	AWSBucketName string `env:"CONFIG_BUCKET,optional"`
	KeyPrefix     string `env:"CONFIG_BUCKET_PREFIX,optional"`
	// Endpoint selects an S3 compatible service instead of AWS
	Endpoint string `env:"CONFIG_BUCKET_ENDPOINT,optional"`
}

// objectStore is the part of the S3 client the source uses
type objectStore interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source loads entity configurations from a bucket. It uses the same
// layout as DirSource below the key prefix.
type S3Source struct {
	client objectStore
	bucket string
	prefix string
}

// NewS3Source returns a new S3Source. Without explicit credentials the
// default AWS credential chain is used.
func NewS3Source(ctx context.Context, s3Config S3Configuration) (*S3Source, error) {
	if s3Config.AWSBucketName == "" {
		return nil, fmt.Errorf("AWSBucketName must not be empty")
	}
	options := []func(*config.LoadOptions) error{config.WithRegion(s3Config.AWSRegion)}
	if len(s3Config.AccessID) > 0 {
		options = append(options, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s3Config.AccessID, s3Config.AccessKey, "")))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if len(s3Config.Endpoint) > 0 {
			o.EndpointResolver = s3.EndpointResolverFromURL(s3Config.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Default().Debugln("S3 config source enabled")
	return &S3Source{client: client, bucket: s3Config.AWSBucketName, prefix: s3Config.KeyPrefix}, nil
}

// keys lists all keys below the prefix
func (s *S3Source) keys(ctx context.Context) ([]string, error) {
	var keys []string
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	}
	for {
		output, err := s.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("cannot list %s/%s: %w", s.bucket, s.prefix, err)
		}
		for _, object := range output.Contents {
			keys = append(keys, aws.ToString(object.Key))
		}
		if !output.IsTruncated {
			break
		}
		input.ContinuationToken = output.NextContinuationToken
	}
	sort.Strings(keys)
	return keys, nil
}

// Load implements Source
func (s *S3Source) Load(ctx context.Context) ([]*schema.Entity, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return nil, err
	}
	var entities []*schema.Entity
	for _, key := range keys {
		relative := strings.TrimPrefix(strings.TrimPrefix(key, s.prefix), "/")
		if !isConfigFile(relative) {
			continue
		}
		parts := strings.Split(relative, "/")
		switch {
		case len(parts) == 1:
		case len(parts) == 2 && strings.TrimSuffix(parts[1], path.Ext(parts[1])) == "config":
		default:
			continue
		}

		output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, fmt.Errorf("cannot get %s: %w", key, err)
		}
		data, err := io.ReadAll(output.Body)
		output.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", key, err)
		}
		e, err := ParseConfig(relative, data)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, nil
}
