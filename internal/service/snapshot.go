package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/alanyoungcy/polyclaw/internal/domain"
)

// SnapshotArchiver copies the whole positions document to object storage
// after each saga run that wrote to it. Uploads are best effort.
type SnapshotArchiver struct {
	positions domain.PositionStore
	writer    domain.BlobWriter
	prefix    string
	logger    *slog.Logger

	now func() time.Time
}

// NewSnapshotArchiver creates an archiver writing under prefix.
func NewSnapshotArchiver(positions domain.PositionStore, writer domain.BlobWriter, prefix string, logger *slog.Logger) *SnapshotArchiver {
	return &SnapshotArchiver{
		positions: positions,
		writer:    writer,
		prefix:    prefix,
		logger:    logger.With(slog.String("component", "snapshot")),
		now:       time.Now,
	}
}

// SnapshotKey returns the object key for a snapshot taken at t:
// <prefix>/positions/YYYY/MM/DD/positions-<unix>.json
func SnapshotKey(prefix string, t time.Time) string {
	t = t.UTC()
	return path.Join(prefix, "positions", t.Format("2006/01/02"), fmt.Sprintf("positions-%d.json", t.Unix()))
}

// Archive uploads the current document and returns its key.
func (a *SnapshotArchiver) Archive(ctx context.Context) (string, error) {
	recs, err := a.positions.LoadAll(ctx)
	if err != nil {
		return "", fmt.Errorf("snapshot: load positions: %w", err)
	}
	if recs == nil {
		recs = []domain.PositionRecord{}
	}
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("snapshot: encode positions: %w", err)
	}

	key := SnapshotKey(a.prefix, a.now())
	if err := a.writer.Put(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		return "", fmt.Errorf("snapshot: upload: %w", err)
	}
	a.logger.InfoContext(ctx, "positions snapshot uploaded",
		slog.String("key", key),
		slog.Int("positions", len(recs)),
	)
	return key, nil
}
