// Package artifactstore publishes a finished result directory to S3.
package artifactstore

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/alitto/pond"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/schollz/progressbar/v3"
)

// Uploader is the part of the s3 manager the store needs.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type ArtifactStore struct {
	uploader    Uploader
	bucket      string
	prefix      string
	concurrency int

	// Where to draw the progress bar, stderr by default.
	Progress io.Writer
}

func New(awsCfg aws.Config, bucket string, prefix string, concurrency int) *ArtifactStore {
	uploader := manager.NewUploader(s3.NewFromConfig(awsCfg), func(u *manager.Uploader) {
		u.PartSize = 1024 * 1024 * 10
	})
	return NewWithUploader(uploader, bucket, prefix, concurrency)
}

func NewWithUploader(uploader Uploader, bucket string, prefix string, concurrency int) *ArtifactStore {
	return &ArtifactStore{
		uploader:    uploader,
		bucket:      bucket,
		prefix:      prefix,
		concurrency: max(concurrency, 1),
		Progress:    os.Stderr,
	}
}

// Key is the object key a file at rel (relative to the uploaded directory) is stored under.
func (a *ArtifactStore) Key(rel string) string {
	return path.Join(a.prefix, filepath.ToSlash(rel))
}

// Upload copies every regular file under dir to the bucket and returns how many were uploaded. All files are
// attempted; the returned error reports the first failure.
func (a *ArtifactStore) Upload(ctx context.Context, dir string) (int, error) {
	files := []string{}
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	slog.Info("uploading results", slog.String("bucket", a.bucket), slog.String("prefix", a.prefix), slog.Int("files", len(files)))
	errChan := make(chan error, len(files))
	pool := pond.New(a.concurrency, 0, pond.MinWorkers(a.concurrency))
	p := progressbar.NewOptions(len(files), progressbar.OptionSetWriter(a.Progress), progressbar.OptionSetDescription("Uploading results:"), progressbar.OptionShowCount())
	for _, file := range files {
		pool.Submit(func() {
			defer p.Add(1)
			err := a.uploadOne(ctx, dir, file)
			if err != nil {
				slog.Error("failed to upload result file", slog.String("file", file), slog.String("error", err.Error()))
				errChan <- err
			}
		})
	}
	pool.StopAndWait()
	p.Finish()

	failed := len(errChan)
	select {
	case err := <-errChan:
		return len(files) - failed, fmt.Errorf("%d result file(s) failed to upload: %w", failed, err)
	default:
		slog.Info("done uploading", slog.String("bucket", a.bucket))
		return len(files), nil
	}
}

func (a *ArtifactStore) uploadOne(ctx context.Context, dir string, file string) error {
	rel, err := filepath.Rel(dir, file)
	if err != nil {
		return err
	}
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.Key(rel)),
		Body:   f,
	})
	return err
}
