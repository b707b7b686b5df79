package state

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/tianqiongenze/StreamingBench/pkg/bench"
	"github.com/tianqiongenze/StreamingBench/pkg/config"
)

const (
	maxFileSize       = 100 << 20   // 100MB limit per file to prevent zip bombs
	dsStoreFile       = ".DS_Store" // macOS metadata file name
	appleDoublePrefix = "._"        // AppleDouble resource fork prefix
	archiveName       = "results.tar.gz"
)

type uploader interface {
	Upload(ctx context.Context, in *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type objectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Archiver uploads the result directory as one tar.gz object after every run.
type Archiver struct {
	bucket string
	key    string
	dir    string
	up     uploader
	get    objectGetter
}

var _ bench.ResultSink = (*Archiver)(nil)

// NewArchiver builds an S3 client from cfg. resultDir is the directory
// holding result.log.
func NewArchiver(ctx context.Context, cfg config.S3Config, resultDir string) (*Archiver, error) {
	awsCfg, err := awsConfig.LoadDefaultConfig(ctx,
		awsConfig.WithRegion(cfg.Region),
		awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	return newArchiver(cfg, resultDir, manager.NewUploader(client), client), nil
}

func newArchiver(cfg config.S3Config, resultDir string, up uploader, get objectGetter) *Archiver {
	return &Archiver{
		bucket: cfg.Bucket,
		key:    cfg.Prefix + archiveName,
		dir:    resultDir,
		up:     up,
		get:    get,
	}
}

func (a *Archiver) Name() string { return "s3" }

// Store ignores r; the archive always carries the whole result directory.
func (a *Archiver) Store(ctx context.Context, _ bench.Result) error {
	tmp, err := os.CreateTemp("", "streambench-*.tar.gz")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := tarGz(a.dir, tmp); err != nil {
		return fmt.Errorf("archive %s: %w", a.dir, err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return err
	}

	res, err := a.up.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key),
		Body:   tmp,
	})
	if err != nil {
		return err
	}
	log.Printf("[Archive] Uploaded to %s", res.Location)
	return nil
}

// RestoreIfEmpty downloads the archive into the result directory when the
// directory is missing or empty, so result.log keeps growing across hosts.
func (a *Archiver) RestoreIfEmpty(ctx context.Context) error {
	entries, err := os.ReadDir(a.dir)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read result dir: %w", err)
	}
	if len(entries) > 0 {
		log.Printf("[Archive] Skipping restore: %s is not empty", a.dir)
		return nil
	}

	resp, err := a.get.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key),
	})
	if err != nil {
		log.Printf("[Archive] No archive found in S3: %v", err)
		return nil
	}
	defer resp.Body.Close()

	log.Printf("[Archive] Restoring %s from s3://%s/%s", a.dir, a.bucket, a.key)
	return untarGz(resp.Body, a.dir)
}

func shouldSkipEntry(name string) bool {
	base := filepath.Base(name)
	return strings.HasPrefix(base, appleDoublePrefix) || base == dsStoreFile
}

// tarGz writes every regular file under source into w.
func tarGz(source string, w io.Writer) error {
	gzw := gzip.NewWriter(w)
	tw := tar.NewWriter(gzw)

	err := filepath.Walk(source, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if shouldSkipEntry(info.Name()) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.IsDir() && !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(source, path)
		if err != nil || rel == "." {
			return err
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		_, err = io.Copy(tw, in)
		return err
	})
	if err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gzw.Close()
}

// untarGz extracts a gzip-compressed tar archive from reader into target.
func untarGz(reader io.Reader, target string) error {
	gzr, err := gzip.NewReader(reader)
	if err != nil {
		return err
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if shouldSkipEntry(hdr.Name) {
			continue
		}
		if err := extractEntry(hdr, tr, target); err != nil {
			return err
		}
	}
}

func extractEntry(hdr *tar.Header, tr *tar.Reader, target string) error {
	if hdr.Size > maxFileSize {
		return fmt.Errorf("file %s too large: %d bytes (max %d)", hdr.Name, hdr.Size, maxFileSize)
	}

	cleaned := filepath.Clean(hdr.Name)
	if strings.Contains(cleaned, "..") || filepath.IsAbs(cleaned) {
		return fmt.Errorf("invalid file path: %s (path traversal detected)", hdr.Name)
	}
	path := filepath.Join(target, cleaned)

	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(path, dirMode)
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
			return err
		}
		out, err := os.Create(path)
		if err != nil {
			return err
		}
		defer out.Close()
		_, err = io.Copy(out, io.LimitReader(tr, maxFileSize))
		return err
	default:
		return nil
	}
}
