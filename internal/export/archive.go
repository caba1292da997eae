package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// DefaultLinkExpiry is how long a presigned export link stays valid.
const DefaultLinkExpiry = 15 * time.Minute

// objectClient is the subset of *minio.Client the archive uses.
type objectClient interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

// Archive stores exports in an S3-compatible bucket.
type Archive struct {
	client objectClient
	bucket string
	expiry time.Duration
}

// NewArchive connects to MinIO and creates the bucket when missing.
func NewArchive(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Archive, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	return newArchive(client, bucket), nil
}

func newArchive(client objectClient, bucket string) *Archive {
	return &Archive{client: client, bucket: bucket, expiry: DefaultLinkExpiry}
}

// ObjectKey is where an export file is stored.
func ObjectKey(reviewID, filename string) string {
	return path.Join("exports", reviewID, filename)
}

// Store uploads the export and returns its key and a presigned GET URL.
func (a *Archive) Store(ctx context.Context, reviewID string, result *Result) (string, string, error) {
	key := ObjectKey(reviewID, result.Filename)
	_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(result.Data), int64(len(result.Data)), minio.PutObjectOptions{
		ContentType: result.MimeType,
	})
	if err != nil {
		return "", "", fmt.Errorf("upload %s: %w", key, err)
	}

	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	link, err := a.client.PresignedGetObject(ctx, a.bucket, key, a.expiry, params)
	if err != nil {
		return key, "", fmt.Errorf("presign %s: %w", key, err)
	}
	return key, link.String(), nil
}
