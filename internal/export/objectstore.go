package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
	"github.com/user/viral-detector-go/internal/config"
	"github.com/user/viral-detector-go/internal/model"
)

// objectPutter is the part of the MinIO client the exporter needs
type objectPutter interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// ObjectStoreExporter uploads CSV exports to an S3-compatible bucket
type ObjectStoreExporter struct {
	client objectPutter
	bucket string
	prefix string
}

// NewObjectStoreExporter creates an exporter for the configured bucket
func NewObjectStoreExporter(cfg *config.ObjectStoreConfig) (*ObjectStoreExporter, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}
	return newObjectStoreExporter(client, cfg.Bucket, cfg.Prefix), nil
}

func newObjectStoreExporter(client objectPutter, bucket, prefix string) *ObjectStoreExporter {
	return &ObjectStoreExporter{client: client, bucket: bucket, prefix: prefix}
}

// Name returns the exporter name
func (e *ObjectStoreExporter) Name() string {
	return "objectstore"
}

// Export uploads rows as one CSV object named prefix+destination
func (e *ObjectStoreExporter) Export(ctx context.Context, rows []*model.StoredVideo, destination string) error {
	key := path.Join(e.prefix, destination)

	exists, err := e.client.BucketExists(ctx, e.bucket)
	if err != nil {
		return &ExportError{Exporter: e.Name(), Destination: key, Err: classifyObjectError(err)}
	}
	if !exists {
		return &ExportError{Exporter: e.Name(), Destination: key, Err: fmt.Errorf("%w: bucket %s", ErrDestinationNotFound, e.bucket)}
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, rows, true); err != nil {
		return &ExportError{Exporter: e.Name(), Destination: key, Err: err}
	}

	info, err := e.client.PutObject(ctx, e.bucket, key, &buf, int64(buf.Len()), minio.PutObjectOptions{
		ContentType: "text/csv; charset=utf-8",
	})
	if err != nil {
		return &ExportError{Exporter: e.Name(), Destination: key, Err: classifyObjectError(err)}
	}

	log.Info().
		Str("exporter", e.Name()).
		Str("bucket", e.bucket).
		Str("key", key).
		Int64("size", info.Size).
		Int("rows", len(rows)).
		Msg("Uploaded export")
	return nil
}

func classifyObjectError(err error) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchBucket" || resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrDestinationNotFound, err)
	case resp.Code == "AccessDenied" || resp.Code == "InvalidAccessKeyId" || resp.Code == "SignatureDoesNotMatch" ||
		resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%w: %w", ErrDestinationUnreachable, err)
	}
}
