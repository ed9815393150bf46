package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config describes an S3 compatible bucket, e.g. Cloudflare R2.
type S3Config struct {
	Endpoint        string `json:"endpoint"`
	Region          string `json:"region"`
	Bucket          string `json:"bucket"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	// PublicURL is where the bucket's objects can be fetched from.
	PublicURL    string `json:"public_url"`
	UsePathStyle bool   `json:"use_path_style"`
}

// S3Store keeps images in an S3 compatible bucket.
type S3Store struct {
	client    *s3.Client
	bucket    string
	publicURL string
}

// NewS3Store returns an S3Store for the bucket described by cfg.
func NewS3Store(cfg S3Config) *S3Store {
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	client := s3.New(s3.Options{
		BaseEndpoint: aws.String(cfg.Endpoint),
		Credentials: credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		),
		Region:       region,
		UsePathStyle: cfg.UsePathStyle,
	})
	return &S3Store{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimSuffix(cfg.PublicURL, "/"),
	}
}

// Put uploads body under key.
func (ss *S3Store) Put(ctx context.Context, key, contentType string, body io.ReadSeeker) (string, error) {
	_, err := ss.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(ss.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
		Body:        body,
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s to bucket %s: %w", key, ss.bucket, err)
	}
	return ss.publicURL + "/" + key, nil
}

// Key returns the object key of a URL below the bucket's public URL.
func (ss *S3Store) Key(url string) (string, bool) {
	key, ok := strings.CutPrefix(url, ss.publicURL+"/")
	if !ok || key == "" {
		return "", false
	}
	return key, true
}

// Remove deletes the object behind url. URLs outside the bucket's public URL are ignored.
func (ss *S3Store) Remove(ctx context.Context, url string) error {
	key, ok := ss.Key(url)
	if !ok {
		return nil
	}
	_, err := ss.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(ss.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("deleting %s from bucket %s: %w", key, ss.bucket, err)
	}
	return nil
}
