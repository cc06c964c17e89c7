package collab

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"collabboard-server/core"
)

const (
	// DefaultSaveInterval matches the auto-save cadence clients were built
	// around: one durable snapshot per active board every two minutes.
	DefaultSaveInterval = 2 * time.Minute

	defaultSaveTimeout = 30 * time.Second
)

// Saver is the persistence bridge. On a fixed cadence, and on explicit
// request, it snapshots live boards to the board store, first uploading
// inline image payloads to the blob store and rewriting the shape records
// to reference the returned handle. Persistence failures are never fatal:
// the in-memory store stays authoritative for connected clients and the
// board is retried on the next cycle.
type Saver struct {
	registry *Registry
	boards   core.BoardStore
	blobs    core.BlobStore
	interval time.Duration
	timeout  time.Duration
}

func NewSaver(registry *Registry, boards core.BoardStore, blobs core.BlobStore, interval time.Duration) *Saver {
	if interval <= 0 {
		interval = DefaultSaveInterval
	}
	return &Saver{
		registry: registry,
		boards:   boards,
		blobs:    blobs,
		interval: interval,
		timeout:  defaultSaveTimeout,
	}
}

// Run drives the periodic save loop until ctx is cancelled.
func (s *Saver) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.saveActive(ctx)
		}
	}
}

func (s *Saver) saveActive(ctx context.Context) {
	for _, boardID := range s.registry.ActiveBoards() {
		if err := s.SaveSnapshot(ctx, boardID); err != nil {
			logrus.WithField("board_id", boardID).WithError(err).Warn("Snapshot save failed, will retry next cycle")
		}
	}
}

// SaveAll snapshots every active board once, used on shutdown.
func (s *Saver) SaveAll(ctx context.Context) {
	s.saveActive(ctx)
}

// SaveSnapshot persists one board's live state. Boards with no changes
// since the last save are skipped, so a clean re-run produces no duplicate
// blob uploads and no extra writes.
func (s *Saver) SaveSnapshot(ctx context.Context, boardID string) error {
	shapes, canvas, dirty, ok := s.registry.BeginSave(boardID)
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrBoardNotFound, boardID)
	}
	if !dirty {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	externalized, err := s.Externalize(ctx, boardID, shapes, true)
	if err != nil {
		s.registry.MarkDirty(boardID)
		return err
	}

	snapshot := &core.BoardSnapshot{
		Shapes:  externalized,
		Canvas:  canvas,
		SavedAt: time.Now(),
	}
	if err := s.boards.SaveSnapshot(ctx, boardID, snapshot); err != nil {
		s.registry.MarkDirty(boardID)
		return fmt.Errorf("save snapshot for board %s: %w", boardID, err)
	}

	logrus.WithFields(logrus.Fields{
		"board_id": boardID,
		"shapes":   len(externalized),
	}).Debug("Board snapshot saved")
	return nil
}

// Externalize replaces inline image payloads with blob store references.
// Shapes that already carry a blob reference are left alone, so repeated
// saves do not re-upload. With writeback set, the live shape record is
// also rewritten so future cycles see the externalized form.
func (s *Saver) Externalize(ctx context.Context, boardID string, shapes []core.Shape, writeback bool) ([]core.Shape, error) {
	out := core.CloneShapes(shapes)
	for _, shape := range out {
		src, _ := shape["src"].(string)
		if shape.Type() != "image" || !strings.HasPrefix(src, "data:") {
			continue
		}

		data, contentType, err := decodeDataURL(src)
		if err != nil {
			return nil, fmt.Errorf("shape %s: %w", shape.ID(), err)
		}

		key := BlobKey(boardID, shape.ID())
		url, err := s.blobs.PutBlob(ctx, key, data, contentType)
		if err != nil {
			return nil, fmt.Errorf("upload blob %s: %w", key, err)
		}

		shape["src"] = url
		shape["blobKey"] = key
		if writeback {
			s.registry.RewriteShape(boardID, shape.ID(), map[string]any{
				"src":     url,
				"blobKey": key,
			})
		}
	}
	return out, nil
}

// LoadSnapshot reads a board's durable snapshot and resolves blob
// references back to retrievable URLs.
func (s *Saver) LoadSnapshot(ctx context.Context, boardID string) (*core.BoardSnapshot, error) {
	snapshot, err := s.boards.LoadSnapshot(ctx, boardID)
	if err != nil {
		return nil, err
	}
	for _, shape := range snapshot.Shapes {
		key, _ := shape["blobKey"].(string)
		if key == "" {
			continue
		}
		url, err := s.blobs.ResolveBlob(ctx, key)
		if err != nil {
			logrus.WithField("blob_key", key).WithError(err).Warn("Failed to resolve blob reference")
			continue
		}
		shape["src"] = url
	}
	return snapshot, nil
}

// BlobKey is the blob store key for one shape's payload.
func BlobKey(boardID, shapeID string) string {
	return boardID + "/" + shapeID
}

func decodeDataURL(src string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(src, "data:")
	if !ok {
		return nil, "", fmt.Errorf("not a data url")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", fmt.Errorf("malformed data url")
	}

	contentType := "application/octet-stream"
	base64Encoded := false
	for i, part := range strings.Split(meta, ";") {
		switch {
		case part == "base64":
			base64Encoded = true
		case i == 0 && part != "":
			contentType = part
		}
	}

	if !base64Encoded {
		return []byte(payload), contentType, nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode data url payload: %w", err)
	}
	return data, contentType, nil
}
