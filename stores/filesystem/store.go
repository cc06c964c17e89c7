package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"collabboard-server/core"
)

// fsStore persists boards, snapshots and blobs under a base directory:
//
//	<base>/boards/<boardID>.json
//	<base>/snapshots/<boardID>.json
//	<base>/blobs/<key> (+ .ctype sidecar for the content type)
type fsStore struct {
	basePath string
}

// NewStore creates a new filesystem-based store.
func NewStore(basePath string) *fsStore {
	for _, dir := range []string{"boards", "snapshots", "blobs"} {
		if err := os.MkdirAll(filepath.Join(basePath, dir), 0755); err != nil {
			log.Fatalf("failed to create storage directory: %v", err)
		}
	}
	return &fsStore{basePath: basePath}
}

func (s *fsStore) boardPath(boardID string) string {
	return filepath.Join(s.basePath, "boards", boardID+".json")
}

func (s *fsStore) snapshotPath(boardID string) string {
	return filepath.Join(s.basePath, "snapshots", boardID+".json")
}

func (s *fsStore) blobPath(key string) (string, error) {
	cleaned := filepath.Clean(key)
	if strings.Contains(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid blob key: %s", key)
	}
	return filepath.Join(s.basePath, "blobs", cleaned), nil
}

func (s *fsStore) CreateBoard(ctx context.Context, board *core.Board) error {
	path := s.boardPath(board.ID)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("board %s already exists", board.ID)
	}
	data, err := json.Marshal(board)
	if err != nil {
		return fmt.Errorf("marshal board: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		logrus.WithField("board_id", board.ID).WithError(err).Error("Failed to write board record")
		return err
	}
	logrus.WithField("board_id", board.ID).Info("Board created")
	return nil
}

func (s *fsStore) GetBoard(ctx context.Context, boardID string) (*core.Board, error) {
	data, err := os.ReadFile(s.boardPath(boardID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", core.ErrBoardNotFound, boardID)
		}
		return nil, err
	}
	var board core.Board
	if err := json.Unmarshal(data, &board); err != nil {
		return nil, fmt.Errorf("unmarshal board %s: %w", boardID, err)
	}
	return &board, nil
}

func (s *fsStore) ListBoards(ctx context.Context, userID string) ([]*core.Board, error) {
	entries, err := os.ReadDir(filepath.Join(s.basePath, "boards"))
	if err != nil {
		return nil, err
	}

	boards := make([]*core.Board, 0)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.basePath, "boards", entry.Name()))
		if err != nil {
			logrus.WithError(err).Warnf("Failed to read board file %s, skipping", entry.Name())
			continue
		}
		var board core.Board
		if err := json.Unmarshal(data, &board); err != nil {
			logrus.WithError(err).Warnf("Failed to unmarshal board file %s, skipping", entry.Name())
			continue
		}
		if board.IsShared(userID) {
			boards = append(boards, &board)
		}
	}
	return boards, nil
}

func (s *fsStore) SaveSnapshot(ctx context.Context, boardID string, snapshot *core.BoardSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(s.snapshotPath(boardID), data, 0644); err != nil {
		logrus.WithField("board_id", boardID).WithError(err).Error("Failed to write snapshot")
		return err
	}
	logrus.WithFields(logrus.Fields{
		"board_id": boardID,
		"shapes":   len(snapshot.Shapes),
	}).Debug("Snapshot saved")
	return nil
}

func (s *fsStore) LoadSnapshot(ctx context.Context, boardID string) (*core.BoardSnapshot, error) {
	data, err := os.ReadFile(s.snapshotPath(boardID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", core.ErrBoardNotFound, boardID)
		}
		return nil, err
	}
	var snapshot core.BoardSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot %s: %w", boardID, err)
	}
	return &snapshot, nil
}

func (s *fsStore) UpdateCanvasSize(ctx context.Context, boardID string, size core.CanvasSize) error {
	if _, err := s.GetBoard(ctx, boardID); err != nil {
		return err
	}
	snapshot, err := s.LoadSnapshot(ctx, boardID)
	if err != nil {
		snapshot = &core.BoardSnapshot{Shapes: []core.Shape{}}
	}
	snapshot.Canvas = size
	return s.SaveSnapshot(ctx, boardID, snapshot)
}

func (s *fsStore) AddSharedUser(ctx context.Context, boardID, userID string) error {
	board, err := s.GetBoard(ctx, boardID)
	if err != nil {
		return err
	}
	if board.IsShared(userID) {
		return nil
	}
	board.SharedWith = append(board.SharedWith, userID)
	data, err := json.Marshal(board)
	if err != nil {
		return fmt.Errorf("marshal board: %w", err)
	}
	return os.WriteFile(s.boardPath(boardID), data, 0644)
}

func (s *fsStore) PutBlob(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	path, err := s.blobPath(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		logrus.WithField("blob_key", key).WithError(err).Error("Failed to write blob")
		return "", err
	}
	if err := os.WriteFile(path+".ctype", []byte(contentType), 0644); err != nil {
		return "", err
	}
	return "/api/blobs/" + key, nil
}

func (s *fsStore) ResolveBlob(ctx context.Context, key string) (string, error) {
	path, err := s.blobPath(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", core.ErrBlobNotFound, key)
		}
		return "", err
	}
	return "/api/blobs/" + key, nil
}

func (s *fsStore) GetBlob(ctx context.Context, key string) ([]byte, string, error) {
	path, err := s.blobPath(key)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("%w: %s", core.ErrBlobNotFound, key)
		}
		return nil, "", err
	}
	contentType, err := os.ReadFile(path + ".ctype")
	if err != nil {
		contentType = []byte("application/octet-stream")
	}
	return data, string(contentType), nil
}
