// Package storage reads ingestion sources from S3 compatible object storage.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"

	"github.com/OFFIS-RIT/kiwi/rag/internal/util"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Object is a fetched source object.
type Object struct {
	Key         string
	ContentType string
	Body        []byte
}

// Bucket is one bucket of an S3 compatible endpoint.
type Bucket struct {
	Client *s3.Client
	Name   string
}

// NewBucketFromEnv builds a path style client from the AWS_* variables.
// It returns nil without an error when AWS_BUCKET is unset.
func NewBucketFromEnv(ctx context.Context) (*Bucket, error) {
	bucket := util.GetEnv("AWS_BUCKET")
	if bucket == "" {
		return nil, nil
	}
	region := util.GetEnvString("AWS_REGION", "us-east-1")
	endpoint := util.GetEnv("AWS_ENDPOINT")
	accessKey := util.GetEnv("AWS_ACCESS_KEY")
	secretKey := util.GetEnv("AWS_SECRET_KEY")

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(endpoint))
	}
	if accessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey,
			secretKey,
			"",
		)))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return &Bucket{Client: client, Name: bucket}, nil
}

// GetFile downloads key. A missing object is reported as common.ErrNotFound.
func (b *Bucket) GetFile(ctx context.Context, key string) (Object, error) {
	result, err := b.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.Name),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return Object{}, common.NotFound("get_object", "object %s not found", key)
		}
		return Object{}, common.Transient("get_object", fmt.Errorf("failed to get file from S3: %w", err))
	}
	defer result.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, result.Body); err != nil {
		return Object{}, common.Transient("get_object", fmt.Errorf("failed to read file contents: %w", err))
	}

	obj := Object{Key: key, Body: buf.Bytes()}
	if result.ContentType != nil {
		obj.ContentType = *result.ContentType
	}
	return obj, nil
}

// PutFile uploads body under key. The content type is derived from the
// extension of key.
func (b *Bucket) PutFile(ctx context.Context, key string, body io.ReadSeeker) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(b.Name),
		Key:    aws.String(key),
		Body:   body,
	}
	if mimeType := mime.TypeByExtension(path.Ext(key)); mimeType != "" {
		input.ContentType = aws.String(mimeType)
	}
	if _, err := b.Client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload file to S3: %w", err)
	}
	return nil
}

// ListFilesWithPrefix pages through every key below prefix.
func (b *Bucket) ListFilesWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	listInput := &s3.ListObjectsV2Input{
		Bucket: aws.String(b.Name),
		Prefix: aws.String(prefix),
	}

	for {
		listOutput, err := b.Client.ListObjectsV2(ctx, listInput)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects with prefix %s: %w", prefix, err)
		}

		for _, obj := range listOutput.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}

		if listOutput.IsTruncated != nil && *listOutput.IsTruncated {
			listInput.ContinuationToken = listOutput.NextContinuationToken
		} else {
			break
		}
	}

	return keys, nil
}
