package repository

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/debemdeboas/postdeck/internal/model"
)

type S3MediaRepository struct { // implements MediaRepository
	client *s3.Client
	bucket string

	// publicURL prefixes object keys to form a file URL; empty leaves URL unset.
	publicURL string
}

func NewS3MediaRepository(ctx context.Context, accessKeyId, accessKeySecret, baseEndpoint, region, bucket, publicURL string) (*S3MediaRepository, error) {
	if region == "" {
		region = "auto"
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyId, accessKeySecret, "")),
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("error initializing S3 client: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if baseEndpoint != "" {
			o.BaseEndpoint = aws.String(baseEndpoint)
			o.UsePathStyle = true
		}
	})

	return &S3MediaRepository{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
	}, nil
}

func (r *S3MediaRepository) PutMedia(ctx context.Context, name, mimeType string, body io.Reader, size int64) (model.MediaFile, error) {
	id, key := mediaObjectKey(name)

	input := &s3.PutObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if mimeType != "" {
		input.ContentType = aws.String(mimeType)
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}

	if _, err := r.client.PutObject(ctx, input); err != nil {
		return model.MediaFile{}, fmt.Errorf("%w: error uploading %s: %w", model.ErrStore, name, err)
	}

	file := model.MediaFile{
		ID:       id,
		Name:     path.Base(name),
		MimeType: mimeType,
		Size:     size,
	}
	if r.publicURL != "" {
		file.URL = r.publicURL + "/" + key
	}

	repoLogger.Info().Str("bucket", r.bucket).Str("key", key).Int64("size", size).Msg("Media uploaded")
	return file, nil
}

func (r *S3MediaRepository) objectKey(ctx context.Context, file model.MediaFile) (string, error) {
	out, err := r.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(r.bucket),
		Prefix:  aws.String("media/" + file.ID),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", model.ErrStore, err)
	}
	if len(out.Contents) == 0 {
		return "", fmt.Errorf("media %s: %w", file.ID, model.ErrNotFound)
	}
	return aws.ToString(out.Contents[0].Key), nil
}

func (r *S3MediaRepository) OpenMedia(ctx context.Context, file model.MediaFile) (io.ReadCloser, error) {
	key, err := r.objectKey(ctx, file)
	if err != nil {
		return nil, err
	}

	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: error reading %s: %w", model.ErrStore, key, err)
	}
	return out.Body, nil
}

func (r *S3MediaRepository) DeleteMedia(ctx context.Context, file model.MediaFile) error {
	key, err := r.objectKey(ctx, file)
	if err != nil {
		return err
	}

	_, err = r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("%w: error deleting %s: %w", model.ErrStore, key, err)
	}
	return nil
}
