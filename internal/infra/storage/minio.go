package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bryanwahyu/analyst-agent/internal/domain/analysis"
)

// Store implements analysis.ArchiveStore on MinIO / S3.
//
//	blobs/sha256/<hex>      attachments, content addressed
//	runs/<run id>/<name>    plan, program revisions, answer
type Store struct {
	client     *minio.Client
	bucketName string
	region     string
}

var _ analysis.ArchiveStore = (*Store)(nil)

// New buat koneksi MinIO
func New(ctx context.Context, endpoint, region, bucket, accessKey, secretKey string, useSSL bool) (*Store, error) {
	cli, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, err
	}

	// pastikan bucket ada
	exists, err := cli.BucketExists(ctx, bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := cli.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			return nil, err
		}
	}

	return &Store{client: cli, bucketName: bucket, region: region}, nil
}

// PutBlob uploads an attachment once; an existing object with the same
// digest is left untouched.
func (s *Store) PutBlob(ctx context.Context, d analysis.Digest, mediaType string, b []byte) (string, error) {
	key := BlobKey(d)
	if _, err := s.client.StatObject(ctx, s.bucketName, key, minio.StatObjectOptions{}); err == nil {
		return s.objectURL(key), nil
	} else if minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return "", fmt.Errorf("stat %s: %w", key, err)
	}
	return s.put(ctx, key, mediaType, b)
}

// PutRunObject uploads one artifact of a run.
func (s *Store) PutRunObject(ctx context.Context, runID, name, contentType string, b []byte) (string, error) {
	return s.put(ctx, RunKey(runID, name), contentType, b)
}

func (s *Store) put(ctx context.Context, key, contentType string, b []byte) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucketName, key, bytes.NewReader(b), int64(len(b)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return s.objectURL(key), nil
}

// URL publik (jika bucket public), kalau private harus generate presigned URL
func (s *Store) objectURL(key string) string {
	return fmt.Sprintf("%s/%s/%s", s.client.EndpointURL().String(), s.bucketName, key)
}

// Ping checks that the bucket is reachable.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucketName)
	return err
}

func BlobKey(d analysis.Digest) string {
	return "blobs/sha256/" + d.Hex()
}

func RunKey(runID, name string) string {
	return path.Join("runs", path.Base("/"+runID), path.Base("/"+name))
}
