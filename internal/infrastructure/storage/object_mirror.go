package storage

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"BillScanner/internal/domain"
	"BillScanner/internal/ports"
)

var contentTypes = map[string]string{
	".csv":   "text/csv",
	".json":  "application/json",
	".jsonl": "application/x-ndjson",
	".html":  "text/html; charset=utf-8",
	".pdf":   "application/pdf",
	".docx":  "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

type objectPutter interface {
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// ObjectMirror uploads finished run directories to an S3-compatible bucket.
type ObjectMirror struct {
	client objectPutter
	bucket string
}

var _ ports.ArtifactMirror = (*ObjectMirror)(nil)

// ObjectStoreOptions locates the bucket.
type ObjectStoreOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// NewObjectMirror connects to the object store and creates the bucket if needed.
func NewObjectMirror(ctx context.Context, opts ObjectStoreOptions) (*ObjectMirror, error) {
	cli, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("object store client: %w", err)
	}

	exists, err := cli.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{Region: opts.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", opts.Bucket, err)
		}
	}

	return &ObjectMirror{client: cli, bucket: opts.Bucket}, nil
}

// MirrorRun uploads every regular file under dir to <run>/<relative path>.
// Hidden files, including in-flight temporaries, are skipped.
func (m *ObjectMirror) MirrorRun(ctx context.Context, run domain.Run, dir string) (int, error) {
	uploaded := 0
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && p != dir {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		key := path.Join(run.String(), filepath.ToSlash(rel))

		if _, err := m.client.FPutObject(ctx, m.bucket, key, p, minio.PutObjectOptions{
			ContentType: contentType(p),
		}); err != nil {
			return fmt.Errorf("upload %s: %w", key, err)
		}
		uploaded++
		return nil
	})
	if err != nil {
		return uploaded, fmt.Errorf("mirror run %s: %w", run, err)
	}
	return uploaded, nil
}

func contentType(p string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(p))]; ok {
		return ct
	}
	return "application/octet-stream"
}
