// Package archive writes point-in-time period snapshots to S3-compatible
// object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"workboard/api/internal/board"
	"workboard/api/internal/config"
	"workboard/api/internal/logging"
)

// ErrDisabled is returned when no archive endpoint is configured.
var ErrDisabled = errors.New("archive storage is not configured")

// Snapshot is the document stored for one archived period.
type Snapshot struct {
	WorkspaceID string         `json:"workspaceId"`
	Period      board.Period   `json:"period"`
	Tasks       []board.Task   `json:"tasks"`
	Members     []board.Member `json:"members"`
	Stats       board.Stats    `json:"stats"`
	ArchivedAt  int64          `json:"archivedAt"`
}

// uploader is the slice of the minio client the archiver needs.
type uploader interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type Archiver struct {
	client uploader
	bucket string
	log    *logging.Logger
	now    func() time.Time
}

// New connects to the configured endpoint. It returns ErrDisabled when the
// endpoint is empty so callers can run without archiving.
func New(cfg config.ArchiveConfig, logger *logging.Logger) (*Archiver, error) {
	if cfg.Endpoint == "" {
		return nil, ErrDisabled
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create archive client: %w", err)
	}
	return newArchiver(client, cfg.Bucket, logger), nil
}

func newArchiver(client uploader, bucket string, logger *logging.Logger) *Archiver {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Archiver{client: client, bucket: bucket, log: logger.WithComponent("archive"), now: time.Now}
}

// EnsureBucket creates the bucket when it does not exist yet.
func (a *Archiver) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", a.bucket, err)
	}
	a.log.Infow("created archive bucket", "bucket", a.bucket)
	return nil
}

// ObjectKey is workspace/{ws}/period/{pid}/{unix millis}.json.
func ObjectKey(workspaceID, periodID string, at time.Time) string {
	return fmt.Sprintf("workspace/%s/period/%s/%d.json", workspaceID, periodID, at.UnixMilli())
}

// Archive stores the sorted board with its per-member stats and returns the
// object key.
func (a *Archiver) Archive(ctx context.Context, workspaceID string, period board.Period, snapshot board.Board) (string, error) {
	now := a.now()
	sorted := snapshot.Sorted()
	doc := Snapshot{
		WorkspaceID: workspaceID,
		Period:      period,
		Tasks:       sorted.Tasks,
		Members:     sorted.Members,
		Stats:       board.ComputeStats(sorted.Members, sorted.Tasks),
		ArchivedAt:  now.UnixMilli(),
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode archive: %w", err)
	}

	key := ObjectKey(workspaceID, period.ID, now)
	if _, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(raw), int64(len(raw)), minio.PutObjectOptions{
		ContentType: "application/json",
	}); err != nil {
		return "", fmt.Errorf("upload archive %s: %w", key, err)
	}
	a.log.Infow("archived period", "workspace_id", workspaceID, "period_id", period.ID, "key", key, "bytes", len(raw))
	return key, nil
}
