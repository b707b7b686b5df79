package state

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/tianqiongenze/StreamingBench/pkg/bench"
	"github.com/tianqiongenze/StreamingBench/pkg/config"
)

// memBucket stands in for both the uploader and the S3 client.
type memBucket struct {
	objects map[string][]byte
}

func (m *memBucket) Upload(_ context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := *in.Bucket + "/" + *in.Key
	m.objects[key] = data
	return &manager.UploadOutput{Location: "mem://" + key}, nil
}

func (m *memBucket) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := m.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func TestArchiverStoreAndRestore(t *testing.T) {
	src := filepath.Join(t.TempDir(), "result")
	writeFile(t, filepath.Join(src, "result.log"), "Finished time: 2024-01-01 00:00:00; q1.sql  Runtime: 5 TPS:200\r\n")
	writeFile(t, filepath.Join(src, "nested", "notes.txt"), "hello")
	writeFile(t, filepath.Join(src, dsStoreFile), "junk")

	bucket := &memBucket{objects: map[string][]byte{}}
	cfg := config.S3Config{Bucket: "bench", Prefix: "runs/"}

	a := newArchiver(cfg, src, bucket, bucket)
	if err := a.Store(context.Background(), bench.Result{}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if _, ok := bucket.objects["bench/runs/results.tar.gz"]; !ok {
		t.Fatalf("Archive not uploaded, have %v", bucket.objects)
	}

	dst := filepath.Join(t.TempDir(), "restored")
	r := newArchiver(cfg, dst, bucket, bucket)
	if err := r.RestoreIfEmpty(context.Background()); err != nil {
		t.Fatalf("RestoreIfEmpty failed: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dst, "result.log"))
	if err != nil {
		t.Fatalf("result.log not restored: %v", err)
	}
	if string(got) != "Finished time: 2024-01-01 00:00:00; q1.sql  Runtime: 5 TPS:200\r\n" {
		t.Errorf("Restored content mismatch: %q", got)
	}
	if _, err := os.Stat(filepath.Join(dst, "nested", "notes.txt")); err != nil {
		t.Errorf("Nested file not restored: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dst, dsStoreFile)); !os.IsNotExist(err) {
		t.Errorf("Finder metadata must be skipped")
	}
}

func TestArchiverRestoreSkipsNonEmptyDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "result.log"), "local\r\n")

	bucket := &memBucket{objects: map[string][]byte{}}
	var archive bytes.Buffer
	other := t.TempDir()
	writeFile(t, filepath.Join(other, "result.log"), "remote\r\n")
	if err := tarGz(other, &archive); err != nil {
		t.Fatalf("tarGz failed: %v", err)
	}
	bucket.objects["b/results.tar.gz"] = archive.Bytes()

	a := newArchiver(config.S3Config{Bucket: "b"}, dir, bucket, bucket)
	if err := a.RestoreIfEmpty(context.Background()); err != nil {
		t.Fatalf("RestoreIfEmpty failed: %v", err)
	}

	got, _ := os.ReadFile(filepath.Join(dir, "result.log"))
	if string(got) != "local\r\n" {
		t.Errorf("Local results must not be overwritten, got %q", got)
	}
}

func TestArchiverRestoreWithoutArchive(t *testing.T) {
	bucket := &memBucket{objects: map[string][]byte{}}
	a := newArchiver(config.S3Config{Bucket: "b"}, filepath.Join(t.TempDir(), "missing"), bucket, bucket)
	if err := a.RestoreIfEmpty(context.Background()); err != nil {
		t.Errorf("Missing archive must not be an error: %v", err)
	}
}

func TestUntarRejectsTraversal(t *testing.T) {
	var raw bytes.Buffer
	gzw := gzip.NewWriter(&raw)
	tw := tar.NewWriter(gzw)
	body := []byte("x")
	if err := tw.WriteHeader(&tar.Header{Name: "../escape.txt", Mode: 0o600, Size: int64(len(body)), Typeflag: tar.TypeReg}); err != nil {
		t.Fatalf("WriteHeader failed: %v", err)
	}
	if _, err := tw.Write(body); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	_ = tw.Close()
	_ = gzw.Close()

	if err := untarGz(&raw, t.TempDir()); err == nil {
		t.Errorf("Expected traversal error")
	}
}
