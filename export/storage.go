package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"bitbucket.org/mmdatafocus/orderexport_backend/utils"
	"cloud.google.com/go/storage"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// Artifact is the retrievable result of one successful export.
type Artifact struct {
	FilePath  string `json:"file_path"`
	PublicURL string `json:"file_url"`
	Format    Format `json:"format"`
}

// ArtifactSink decides where renderers write and how the finished file
// becomes publicly retrievable.
type ArtifactSink interface {
	// DestPath returns the path the renderer should write filename to.
	DestPath(filename string) string
	// Publish finalizes the rendered file and returns its artifact location.
	Publish(ctx context.Context, destPath string, filename string) (*Artifact, error)
}

const (
	defaultExportDir     = "./exports"
	defaultPublicBaseURL = "/exports"
)

// NewSinkFromEnv picks the artifact sink: local disk by default, GCS when
// STORAGE_PROVIDER=gcs.
func NewSinkFromEnv(logger *logrus.Logger) ArtifactSink {
	provider := strings.TrimSpace(strings.ToLower(os.Getenv("STORAGE_PROVIDER")))
	if provider == "gcs" {
		return &GCSSink{
			Bucket: strings.TrimSpace(os.Getenv("GCS_BUCKET")),
			Prefix: "order-exports",
			Logger: logger,
		}
	}
	return &LocalSink{Dir: LocalExportDir(), BaseURL: publicBaseURL()}
}

func LocalExportDir() string {
	dir := strings.TrimSpace(os.Getenv("EXPORT_DIR"))
	if dir == "" {
		dir = defaultExportDir
	}
	return dir
}

func publicBaseURL() string {
	base := strings.TrimSpace(os.Getenv("EXPORT_PUBLIC_BASE_URL"))
	if base == "" {
		base = defaultPublicBaseURL
	}
	return strings.TrimRight(base, "/")
}

// LocalSink writes artifacts into a shared export directory served under a
// public URL prefix. Artifact lifetime is managed by external cleanup.
type LocalSink struct {
	Dir     string
	BaseURL string
}

func (s *LocalSink) DestPath(filename string) string {
	os.MkdirAll(s.Dir, 0o755)
	return filepath.Join(s.Dir, filename)
}

func (s *LocalSink) Publish(ctx context.Context, destPath string, filename string) (*Artifact, error) {
	return &Artifact{
		FilePath:  destPath,
		PublicURL: s.BaseURL + "/" + filename,
	}, nil
}

// GCSSink uploads the rendered file from a scratch directory to a bucket and
// maps it to its object access URL.
type GCSSink struct {
	Bucket string
	Prefix string
	Logger *logrus.Logger
}

func (s *GCSSink) DestPath(filename string) string {
	return filepath.Join(os.TempDir(), filename)
}

func (s *GCSSink) Publish(ctx context.Context, destPath string, filename string) (*Artifact, error) {
	defer os.Remove(destPath)

	if s.Bucket == "" {
		return nil, fmt.Errorf("GCS_BUCKET is required for the gcs storage provider")
	}

	client, err := gcsClient(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	objectKey := s.Prefix + "/" + filename

	file, err := os.Open(destPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	wc := client.Bucket(s.Bucket).Object(objectKey).NewWriter(ctx)
	if _, err := io.Copy(wc, file); err != nil {
		wc.Close()
		return nil, err
	}
	if err := wc.Close(); err != nil {
		return nil, err
	}

	return &Artifact{
		FilePath:  "gs://" + s.Bucket + "/" + objectKey,
		PublicURL: utils.BuildObjectAccessURL(objectKey),
	}, nil
}

// gcsClient prefers ADC (service account / GOOGLE_APPLICATION_CREDENTIALS);
// GCS_CREDENTIALS_JSON provides explicit JSON for local runs.
func gcsClient(ctx context.Context) (*storage.Client, error) {
	if credJSON := strings.TrimSpace(os.Getenv("GCS_CREDENTIALS_JSON")); credJSON != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return storage.NewClient(ctx)
}
