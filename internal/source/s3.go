package source

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	pipeerrors "github.com/tempofuse/tempofuse/internal/errors"
	"github.com/tempofuse/tempofuse/pkg/types"
)

// S3Source reads collection exports from an S3 bucket. Each collection is
// a JSON-lines object at <prefix>/<collection>.jsonl, as produced by the
// store's periodic export job.
type S3Source struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3Options holds configuration for an S3-backed document source.
type S3Options struct {
	// Region is the AWS region for the bucket.
	Region string
	// Endpoint is an optional custom endpoint (for MinIO, LocalStack, etc.).
	Endpoint string
	// UsePathStyle enables path-style addressing (required for MinIO).
	UsePathStyle bool
}

// NewS3Source creates an S3-backed document source.
func NewS3Source(ctx context.Context, bucket, prefix string, opts S3Options) (*S3Source, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, pipeerrors.NewSourceError(pipeerrors.CodeSourceUnavailable,
			"failed to load AWS config", err)
	}

	var s3Opts []func(*s3.Options)
	if opts.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		})
	}
	if opts.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &S3Source{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: bucket,
		prefix: strings.TrimSuffix(prefix, "/"),
	}, nil
}

// NewS3SourceWithClient creates an S3 source with a pre-configured client.
func NewS3SourceWithClient(client *s3.Client, bucket, prefix string) *S3Source {
	return &S3Source{client: client, bucket: bucket, prefix: strings.TrimSuffix(prefix, "/")}
}

// FetchStream downloads and decodes the stream's collection export.
func (s *S3Source) FetchStream(ctx context.Context, kind types.StreamKind) ([]RawRecord, error) {
	collection, ok := CollectionFor(kind)
	if !ok {
		return nil, pipeerrors.NewSourceError(pipeerrors.CodeUnknownCollection,
			fmt.Sprintf("no collection for stream %q", kind), types.ErrUnknownStream)
	}

	key := s.objectKey(collection)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			// A missing export is an empty stream, not a failure
			return nil, nil
		}
		return nil, pipeerrors.NewSourceError(pipeerrors.CodeSourceUnavailable,
			fmt.Sprintf("failed to fetch s3://%s/%s", s.bucket, key), err)
	}
	defer out.Body.Close()

	return readJSONLines(ctx, collection, out.Body)
}

// Collections lists collection exports under the configured prefix.
func (s *S3Source) Collections(ctx context.Context) ([]string, error) {
	var names []string
	var continuation *string

	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.prefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, pipeerrors.NewSourceError(pipeerrors.CodeSourceUnavailable,
				fmt.Sprintf("failed to list s3://%s/%s", s.bucket, s.prefix), err)
		}

		for _, obj := range out.Contents {
			name := path.Base(aws.ToString(obj.Key))
			if !strings.HasSuffix(name, ".jsonl") {
				continue
			}
			names = append(names, strings.TrimSuffix(name, ".jsonl"))
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		continuation = out.NextContinuationToken
	}

	sort.Strings(names)
	return names, nil
}

// Close is a no-op for S3 sources.
func (s *S3Source) Close() error { return nil }

func (s *S3Source) objectKey(collection string) string {
	if s.prefix == "" {
		return collection + ".jsonl"
	}
	return s.prefix + "/" + collection + ".jsonl"
}
