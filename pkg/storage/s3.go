package storage

import (
	"context"
	"errors"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/Vadoid/iceberg-explorer/pkg/explorererrors"
)

// S3Options configures the S3 backend.
type S3Options struct {
	Region string
	// Endpoint switches to path-style addressing against an S3 compatible server
	Endpoint string
}

// S3Store reads objects from Amazon S3 or an S3 compatible server.
type S3Store struct {
	client     *s3.Client
	downloader *manager.Downloader
}

// NewS3Store loads the default AWS credential chain and creates a client.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, explorererrors.Wrap(err, explorererrors.ErrorTypeConfig, "failed to load AWS configuration")
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{client: client, downloader: manager.NewDownloader(client)}, nil
}

// Scheme implements Store.
func (s *S3Store) Scheme() string { return "s3" }

// List implements Store.
func (s *S3Store) List(ctx context.Context, bucket, prefix string, limit int) ([]ObjectInfo, error) {
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})

	var out []ObjectInfo
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, s3Error(err, "failed to list objects")
		}
		for _, obj := range page.Contents {
			out = append(out, s3ObjectInfo(obj))
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// ListDir implements Store.
func (s *S3Store) ListDir(ctx context.Context, bucket, prefix string) (*Listing, error) {
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	listing := &Listing{}
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, s3Error(err, "failed to list objects")
		}
		for _, cp := range page.CommonPrefixes {
			listing.Prefixes = append(listing.Prefixes, aws.ToString(cp.Prefix))
		}
		for _, obj := range page.Contents {
			listing.Objects = append(listing.Objects, s3ObjectInfo(obj))
		}
	}
	return listing, nil
}

// ReadBytes implements Store.
func (s *S3Store) ReadBytes(ctx context.Context, bucket, key string) ([]byte, error) {
	buf := manager.NewWriteAtBuffer(nil)
	_, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s3Error(err, "failed to read object").WithDetail("object", "s3://"+bucket+"/"+key)
	}
	return buf.Bytes(), nil
}

// ReadText implements Store.
func (s *S3Store) ReadText(ctx context.Context, bucket, key string) (string, error) {
	data, err := s.ReadBytes(ctx, bucket, key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ListBuckets implements Store. S3 has no project scope, so projectID is ignored.
func (s *S3Store) ListBuckets(ctx context.Context, _ string) ([]string, error) {
	resp, err := s.client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, s3Error(err, "failed to list buckets")
	}
	names := make([]string, 0, len(resp.Buckets))
	for _, b := range resp.Buckets {
		names = append(names, aws.ToString(b.Name))
	}
	return names, nil
}

// Close implements Store.
func (s *S3Store) Close() error { return nil }

func s3ObjectInfo(obj types.Object) ObjectInfo {
	return ObjectInfo{
		Name:    trimSlash(aws.ToString(obj.Key)),
		Size:    aws.ToInt64(obj.Size),
		Updated: aws.ToTime(obj.LastModified),
		Created: aws.ToTime(obj.LastModified),
	}
}

func s3Error(err error, message string) *explorererrors.Error {
	var (
		noKey    *types.NoSuchKey
		noBucket *types.NoSuchBucket
	)
	if errors.As(err, &noKey) || errors.As(err, &noBucket) {
		return explorererrors.Wrap(err, explorererrors.ErrorTypeNotFound, message)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "AllAccessDisabled":
			return explorererrors.Wrap(err, explorererrors.ErrorTypePermission, message)
		case "InvalidAccessKeyId", "ExpiredToken", "SignatureDoesNotMatch", "InvalidToken":
			return explorererrors.Wrap(err, explorererrors.ErrorTypeAuthentication, message)
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return explorererrors.Wrap(err, explorererrors.ErrorTypeNotFound, message)
		case "SlowDown", "Throttling", "RequestLimitExceeded":
			return explorererrors.Wrap(err, explorererrors.ErrorTypeRateLimit, message)
		}
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() != http.StatusOK {
		return explorererrors.Wrap(err, statusType(respErr.HTTPStatusCode()), message)
	}

	return asError(err, message)
}
