package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/tendant/simple-content-derivatives/pkg/pipeline"
)

// MinIOConfig holds connection settings for an S3-compatible endpoint
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

func (c MinIOConfig) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	return nil
}

// MinIOStore reads and writes objects in an S3-compatible service
type MinIOStore struct {
	client *minio.Client
}

// NewMinIOStore connects to the endpoint described by cfg
func NewMinIOStore(cfg MinIOConfig) (*MinIOStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &MinIOStore{client: client}, nil
}

// Fetch downloads the object and reports the content type it was uploaded with
func (s *MinIOStore) Fetch(ctx context.Context, ref pipeline.ObjectRef) (*Object, error) {
	obj, err := s.client.GetObject(ctx, ref.Location, ref.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref.URL())
		}
		return nil, fmt.Errorf("failed to stat object: %w", err)
	}

	body, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}

	return &Object{Body: body, ContentType: info.ContentType}, nil
}

// Store uploads body in a single PutObject call
func (s *MinIOStore) Store(ctx context.Context, ref pipeline.ObjectRef, body []byte, contentType string) error {
	return s.put(ctx, ref, body, minio.PutObjectOptions{ContentType: contentType})
}

// PutDerivative uploads the derivative with its dimensions as user metadata.
// Returns the destination key.
func (s *MinIOStore) PutDerivative(ctx context.Context, d *pipeline.ImageDerivative) (string, error) {
	err := s.put(ctx, d.Destination, d.Bytes, minio.PutObjectOptions{
		ContentType:  d.MediaType,
		UserMetadata: derivativeMeta(d),
	})
	if err != nil {
		return "", err
	}
	return d.Destination.Key, nil
}

func (s *MinIOStore) put(ctx context.Context, ref pipeline.ObjectRef, body []byte, opts minio.PutObjectOptions) error {
	_, err := s.client.PutObject(ctx, ref.Location, ref.Key, bytes.NewReader(body), int64(len(body)), opts)
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", ref.URL(), err)
	}
	return nil
}

// EnsureBucket creates bucket when it does not exist yet
func (s *MinIOStore) EnsureBucket(ctx context.Context, bucket, region string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("bucket exists %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	return s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
