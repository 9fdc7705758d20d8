package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	aws_config "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/AbhinavJain2107/unihive/internal/apperror"
	"github.com/AbhinavJain2107/unihive/internal/config"
)

// allowedExtensions are the image types accepted for upload, keyed by
// lowercase extension without the dot.
var allowedExtensions = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
}

// IS3Storage defines the interface for object storage operations.
type IS3Storage interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error)
	UploadImage(ctx context.Context, filename string, size int64, body io.Reader) (string, string, error)
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	PublicURL(key string) string
}

// s3Storage implements IS3Storage.
type s3Storage struct {
	cfg      *config.Config
	s3Client *s3.Client
}

// NewS3Storage creates a new S3 storage service. A custom endpoint (MinIO,
// R2) is honored when configured.
func NewS3Storage(cfg *config.Config) (IS3Storage, error) {
	awsCfg, err := aws_config.LoadDefaultConfig(context.TODO(),
		aws_config.WithRegion(cfg.AwsRegion),
		// Use static credentials from config for simplicity
		// For production, prefer IAM roles or other secure credential methods
		aws_config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AwsAccessKeyID,
			cfg.AwsSecretAccessKey,
			"", // session token
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.AwsS3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.AwsS3Endpoint)
			o.UsePathStyle = true
		}
	})

	return &s3Storage{cfg: cfg, s3Client: s3Client}, nil
}

// extensionOf returns the lowercase extension of a filename without the dot.
func extensionOf(filename string) string {
	dot := strings.LastIndex(filename, ".")
	if dot < 0 || dot == len(filename)-1 {
		return ""
	}
	return strings.ToLower(filename[dot+1:])
}

// UploadImage validates an image upload and stores it under a fresh
// images/<uuid>.<ext> key. Returns the key and the public URL.
func (s *s3Storage) UploadImage(ctx context.Context, filename string, size int64, body io.Reader) (string, string, error) {
	ext := extensionOf(filename)
	contentType, ok := allowedExtensions[ext]
	if !ok {
		return "", "", apperror.Validation("only jpg, jpeg, png and gif uploads are accepted")
	}
	if size > s.cfg.MaxUploadBytes {
		return "", "", apperror.Validation(fmt.Sprintf("upload exceeds %d bytes", s.cfg.MaxUploadBytes))
	}

	key := fmt.Sprintf("images/%s.%s", uuid.NewString(), ext)
	url, err := s.Upload(ctx, key, contentType, io.LimitReader(body, s.cfg.MaxUploadBytes))
	if err != nil {
		return "", "", err
	}
	return key, url, nil
}

// Upload stores an object and returns its public URL.
func (s *s3Storage) Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.AwsS3Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
		Body:        body,
	})
	if err != nil {
		return "", apperror.Upstream(fmt.Sprintf("storing object %s", key), err)
	}
	return s.PublicURL(key), nil
}

// Download fetches an object's bytes. Used by the thumbnail worker.
func (s *s3Storage) Download(ctx context.Context, key string) ([]byte, error) {
	out, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.AwsS3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, apperror.Upstream(fmt.Sprintf("fetching object %s", key), err)
	}
	defer out.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, out.Body); err != nil {
		return nil, apperror.Upstream(fmt.Sprintf("reading object %s", key), err)
	}
	return buf.Bytes(), nil
}

// Delete removes an object. Deleting an absent key is not an error.
func (s *s3Storage) Delete(ctx context.Context, key string) error {
	_, err := s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.AwsS3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return apperror.Upstream(fmt.Sprintf("deleting object %s", key), err)
	}
	return nil
}

// PublicURL maps a key to its public form under the configured base URL.
func (s *s3Storage) PublicURL(key string) string {
	return strings.TrimSuffix(s.cfg.ImageBaseS3URL, "/") + "/" + key
}
