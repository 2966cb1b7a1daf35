package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/minionlabs/minion-api/internal/types"
	"github.com/minionlabs/minion-api/internal/verify"
)

// Sentinel errors for object operations.
var (
	ErrNotFound       = errors.New("object not found")
	ErrBucketNotFound = errors.New("bucket not found")
	ErrAccessDenied   = errors.New("access denied")
	ErrUnavailable    = errors.New("object store unavailable")
	ErrBadURL         = errors.New("url does not address an object")
)

// Error wraps an object store failure with its operation and address.
type Error struct {
	Op     string
	Bucket string
	Key    string
	Err    error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("s3 %s: %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
	}
	return fmt.Sprintf("s3 %s: %s: %v", e.Op, e.Bucket, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// objectAPI is the subset of the S3 client the store uses.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Store is an S3-backed object store.
type Store struct {
	client objectAPI
	cfg    Config
	region string
}

var _ verify.ObjectStore = (*Store)(nil)

// New creates a Store with the given configuration.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &Error{Op: "New", Err: err}
	}

	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}
		},
	}
	// Custom endpoint for S3-compatible stores
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return newStore(s3.NewFromConfig(awsCfg, s3Opts...), cfg, awsCfg.Region), nil
}

func newStore(client objectAPI, cfg Config, region string) *Store {
	return &Store{client: client, cfg: cfg, region: region}
}

// loadAWSConfig builds the AWS configuration with appropriate credentials.
func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		staticCreds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		opts = append(opts, config.WithCredentialsProvider(staticCreds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	awsCfg.Region = resolveRegion(cfg.Region, cfg.Endpoint, awsCfg.Region)
	return awsCfg, nil
}

// Put uploads body and returns the object's URL.
func (s *Store) Put(ctx context.Context, bucket, key string, body []byte, visibility types.Visibility, contentType string) (string, error) {
	size := int64(len(body))
	in := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: &size,
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if visibility != "" {
		in.ACL = s3types.ObjectCannedACL(visibility)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return "", wrapError("Put", bucket, key, err)
	}
	return s.URLFor(bucket, key), nil
}

// Get downloads the object addressed by a URL previously returned by Put.
func (s *Store) Get(ctx context.Context, rawURL string) ([]byte, error) {
	bucket, key, err := s.locate(rawURL)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, wrapError("Get", bucket, key, err)
	}
	defer func() { _ = out.Body.Close() }()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &Error{Op: "Get", Bucket: bucket, Key: key, Err: err}
	}
	return body, nil
}

// URLFor returns the public URL of an object. Plain-http URLs are upgraded to
// https unless a public base URL is configured.
func (s *Store) URLFor(bucket, key string) string {
	escaped := escapeKey(key)
	if s.cfg.PublicBaseURL != "" {
		return strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/" + bucket + "/" + escaped
	}

	var u string
	switch {
	case s.cfg.Endpoint != "" && s.cfg.ForcePathStyle:
		u = strings.TrimRight(s.cfg.Endpoint, "/") + "/" + bucket + "/" + escaped
	case s.cfg.Endpoint != "":
		ep, err := url.Parse(s.cfg.Endpoint)
		if err != nil || ep.Host == "" {
			u = strings.TrimRight(s.cfg.Endpoint, "/") + "/" + bucket + "/" + escaped
		} else {
			u = ep.Scheme + "://" + bucket + "." + ep.Host + "/" + escaped
		}
	default:
		u = fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, s.region, escaped)
	}
	if strings.HasPrefix(u, "http://") {
		u = "https://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

// locate recovers the bucket and key from an object URL.
func (s *Store) locate(rawURL string) (bucket, key string, err error) {
	if base := strings.TrimRight(s.cfg.PublicBaseURL, "/"); base != "" && strings.HasPrefix(rawURL, base+"/") {
		return splitPath(strings.TrimPrefix(rawURL, base+"/"), rawURL)
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", "", fmt.Errorf("%q: %w", rawURL, ErrBadURL)
	}
	path := strings.TrimPrefix(u.Path, "/")

	if s.cfg.ForcePathStyle || s.endpointHost() == u.Host {
		return splitPath(path, rawURL)
	}
	// Virtual-hosted style: <bucket>.s3.<region>.amazonaws.com or
	// <bucket>.<endpoint host>.
	if i := strings.Index(u.Host, ".s3"); i > 0 {
		return nonEmpty(u.Host[:i], path, rawURL)
	}
	if h := s.endpointHost(); h != "" && strings.HasSuffix(u.Host, "."+h) {
		return nonEmpty(strings.TrimSuffix(u.Host, "."+h), path, rawURL)
	}
	return splitPath(path, rawURL)
}

func (s *Store) endpointHost() string {
	if s.cfg.Endpoint == "" {
		return ""
	}
	ep, err := url.Parse(s.cfg.Endpoint)
	if err != nil {
		return ""
	}
	return ep.Host
}

func splitPath(path, rawURL string) (string, string, error) {
	if unescaped, err := url.PathUnescape(path); err == nil {
		path = unescaped
	}
	bucket, key, ok := strings.Cut(path, "/")
	if !ok {
		return "", "", fmt.Errorf("%q: %w", rawURL, ErrBadURL)
	}
	return nonEmpty(bucket, key, rawURL)
}

func nonEmpty(bucket, key, rawURL string) (string, string, error) {
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("%q: %w", rawURL, ErrBadURL)
	}
	return bucket, key, nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// wrapError converts S3 errors to store errors with sentinel causes.
func wrapError(op, bucket, key string, err error) error {
	wrapped := &Error{Op: op, Bucket: bucket, Key: key, Err: err}

	var notFound *s3types.NotFound
	var noSuchKey *s3types.NoSuchKey
	var noSuchBucket *s3types.NoSuchBucket
	switch {
	case errors.As(err, &notFound), errors.As(err, &noSuchKey):
		wrapped.Err = ErrNotFound
		return wrapped
	case errors.As(err, &noSuchBucket):
		wrapped.Err = ErrBucketNotFound
		return wrapped
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			wrapped.Err = ErrNotFound
		case "NoSuchBucket":
			wrapped.Err = ErrBucketNotFound
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			wrapped.Err = ErrAccessDenied
		case "SlowDown", "Throttling", "ServiceUnavailable", "InternalError":
			wrapped.Err = ErrUnavailable
		}
	}
	return wrapped
}
