// Package screenshots keeps large screenshots out of bug rows by moving
// them to an S3-compatible bucket and storing an s3://bucket/key reference
// instead.
package screenshots

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dmitrijs2005/bugtracker/internal/logging"
)

const (
	RefScheme = "s3://"

	DefaultThreshold = 64 * 1024
	DefaultPrefix    = "screenshots"
	// MaxSize bounds what Resolve reads back.
	MaxSize = 16 << 20
)

var ErrBadRef = errors.New("malformed screenshot reference")

type Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Prefix    string
	// Threshold is the size in bytes above which screenshots are offloaded.
	Threshold int
}

func (c Config) Enabled() bool { return c.Bucket != "" }

// API is the subset of *s3.Client the store needs.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type Presigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

var (
	loadDefaultAWSConfig  = config.LoadDefaultConfig
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// NewS3Client builds a client for cfg. Static credentials are used when an
// access key is set, otherwise the default AWS chain applies. A custom
// endpoint switches to path-style addressing for MinIO and friends.
func NewS3Client(ctx context.Context, cfg Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// S3Store offloads screenshots larger than its threshold.
type S3Store struct {
	api       API
	presign   Presigner
	bucket    string
	prefix    string
	threshold int
	logger    logging.Logger
}

func NewS3Store(api API, cfg Config, logger logging.Logger) *S3Store {
	s := &S3Store{
		api:       api,
		bucket:    cfg.Bucket,
		prefix:    cfg.Prefix,
		threshold: cfg.Threshold,
		logger:    logger.With("module", "screenshots"),
	}
	if s.prefix == "" {
		s.prefix = DefaultPrefix
	}
	if s.threshold <= 0 {
		s.threshold = DefaultThreshold
	}
	if c, ok := api.(*s3.Client); ok {
		s.presign = s3.NewPresignClient(c)
	}
	return s
}

// WithPresigner replaces the presigner used by URL.
func (s *S3Store) WithPresigner(p Presigner) *S3Store {
	s.presign = p
	return s
}

// Offload returns data unchanged when it is small enough, otherwise uploads
// it and returns the reference.
func (s *S3Store) Offload(ctx context.Context, id string, data string) (string, error) {
	if len(data) <= s.threshold || IsRef(data) {
		return data, nil
	}

	key := path.Join(s.prefix, id)
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          strings.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("text/plain"),
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}

	s.logger.Debug(ctx, "screenshot offloaded", "id", id, "bytes", len(data))
	return Ref(s.bucket, key), nil
}

// Resolve downloads a referenced screenshot. Anything that is not a
// reference is returned as is.
func (s *S3Store) Resolve(ctx context.Context, ref string) (string, error) {
	if !IsRef(ref) {
		return ref, nil
	}
	bucket, key, err := ParseRef(ref)
	if err != nil {
		return "", err
	}

	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close()

	b, err := io.ReadAll(io.LimitReader(out.Body, MaxSize))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return string(b), nil
}

// URL returns a time-limited download link for a reference.
func (s *S3Store) URL(ctx context.Context, ref string, ttl time.Duration) (string, error) {
	if s.presign == nil {
		return "", errors.New("presigning not available")
	}
	bucket, key, err := ParseRef(ref)
	if err != nil {
		return "", err
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

func Ref(bucket, key string) string {
	return RefScheme + bucket + "/" + key
}

func IsRef(s string) bool {
	return strings.HasPrefix(s, RefScheme)
}

// ParseRef splits s3://bucket/key.
func ParseRef(ref string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(ref, RefScheme)
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrBadRef, ref)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: %q", ErrBadRef, ref)
	}
	return bucket, key, nil
}
