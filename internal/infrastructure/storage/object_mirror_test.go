package storage

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BillScanner/internal/domain"
)

type recordingPutter struct {
	keys  []string
	types map[string]string
}

func (r *recordingPutter) FPutObject(_ context.Context, bucket, object, _ string, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	r.keys = append(r.keys, object)
	r.types[object] = opts.ContentType
	return minio.UploadInfo{Bucket: bucket, Key: object}, nil
}

func TestMirrorRunUploadsVisibleFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for name, body := range map[string]string{
		"idaho_bills_01_15_2025.csv": "bill_number\n",
		"H0001.pdf":                  "%PDF",
		"H0001.json":                 "{}",
		".H0002.pdf.123.part":        "partial",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}

	putter := &recordingPutter{types: map[string]string{}}
	mirror := &ObjectMirror{client: putter, bucket: "bills"}

	n, err := mirror.MirrorRun(context.Background(), domain.Run("01_15_2025"), dir)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	sort.Strings(putter.keys)
	assert.Equal(t, []string{
		"01_15_2025/H0001.json",
		"01_15_2025/H0001.pdf",
		"01_15_2025/idaho_bills_01_15_2025.csv",
	}, putter.keys)
	assert.Equal(t, "application/pdf", putter.types["01_15_2025/H0001.pdf"])
	assert.Equal(t, "text/csv", putter.types["01_15_2025/idaho_bills_01_15_2025.csv"])
}
