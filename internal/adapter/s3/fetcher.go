// Package s3 downloads raw source files referenced by s3:// URIs.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/couchcryptid/geodata-etl/internal/domain"
)

const (
	scheme        = "s3://"
	defaultRegion = "us-east-1"
)

type downloader interface {
	Download(ctx context.Context, w io.WriterAt, input *awss3.GetObjectInput, options ...func(*manager.Downloader)) (int64, error)
}

// Fetcher copies S3 objects to local files. Without credentials it issues
// anonymous requests, which is enough for public buckets such as the
// Copernicus DEM.
type Fetcher struct {
	cfg           aws.Config
	endpoint      string
	newDownloader func(aws.Config) downloader
	logger        *slog.Logger
}

// NewFetcher builds a fetcher. endpoint overrides the S3 endpoint for
// S3-compatible stores and switches to path-style addressing.
func NewFetcher(region, endpoint, accessKeyID, secretAccessKey string, logger *slog.Logger) *Fetcher {
	if region == "" {
		region = defaultRegion
	}
	cfg := aws.Config{Region: region, Credentials: aws.AnonymousCredentials{}}
	if accessKeyID != "" {
		cfg.Credentials = aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""))
	}

	f := &Fetcher{cfg: cfg, endpoint: endpoint, logger: logger}
	f.newDownloader = f.defaultDownloader
	return f
}

func (f *Fetcher) defaultDownloader(cfg aws.Config) downloader {
	client := awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		if f.endpoint != "" {
			o.BaseEndpoint = aws.String(f.endpoint)
			o.UsePathStyle = true
		}
	})
	return manager.NewDownloader(client)
}

// IsURI reports whether s names an S3 object.
func IsURI(s string) bool {
	return strings.HasPrefix(s, scheme)
}

// ParseURI splits s3://bucket/key into its parts.
func ParseURI(uri string) (bucket, key string, err error) {
	if !IsURI(uri) {
		return "", "", fmt.Errorf("%q is not an s3 URI: %w", uri, domain.ErrRemoteFetch)
	}
	rest := strings.TrimPrefix(uri, scheme)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("s3 URI %q needs a bucket and an object key: %w", uri, domain.ErrRemoteFetch)
	}
	return bucket, key, nil
}

// Fetch downloads uri to dest. The object lands in a temporary file next
// to dest and is renamed into place only once complete.
func (f *Fetcher) Fetch(ctx context.Context, uri, dest string) (int64, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("create %s: %v: %w", filepath.Dir(dest), err, domain.ErrIO)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %v: %w", err, domain.ErrIO)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after a successful rename

	n, err := f.newDownloader(f.cfg).Download(ctx, tmp, &awss3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if cerr := tmp.Close(); err == nil && cerr != nil {
		return 0, fmt.Errorf("close %s: %v: %w", tmp.Name(), cerr, domain.ErrIO)
	}
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", uri, errors.Join(domain.ErrRemoteFetch, err))
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return 0, fmt.Errorf("move %s into place: %v: %w", dest, err, domain.ErrIO)
	}

	f.logger.Info("s3 object fetched", "uri", uri, "dest", dest, "bytes", n)
	return n, nil
}
