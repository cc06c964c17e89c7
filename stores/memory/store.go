package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"collabboard-server/core"
)

type blobEntry struct {
	data        []byte
	contentType string
}

// memStore keeps board records, snapshots and blobs in process memory.
// Useful for tests and single-node development; everything is lost on
// restart.
type memStore struct {
	mu        sync.RWMutex
	boards    map[string]*core.Board
	snapshots map[string]*core.BoardSnapshot
	blobs     map[string]blobEntry
}

// NewStore creates a new in-memory store.
func NewStore() *memStore {
	return &memStore{
		boards:    make(map[string]*core.Board),
		snapshots: make(map[string]*core.BoardSnapshot),
		blobs:     make(map[string]blobEntry),
	}
}

func (s *memStore) CreateBoard(ctx context.Context, board *core.Board) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.boards[board.ID]; exists {
		return fmt.Errorf("board %s already exists", board.ID)
	}
	copied := *board
	s.boards[board.ID] = &copied
	logrus.WithField("board_id", board.ID).Info("Board created")
	return nil
}

func (s *memStore) GetBoard(ctx context.Context, boardID string) (*core.Board, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	board, ok := s.boards[boardID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrBoardNotFound, boardID)
	}
	copied := *board
	copied.SharedWith = append([]string(nil), board.SharedWith...)
	return &copied, nil
}

func (s *memStore) ListBoards(ctx context.Context, userID string) ([]*core.Board, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	boards := make([]*core.Board, 0)
	for _, board := range s.boards {
		if board.IsShared(userID) {
			copied := *board
			boards = append(boards, &copied)
		}
	}
	return boards, nil
}

func (s *memStore) SaveSnapshot(ctx context.Context, boardID string, snapshot *core.BoardSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[boardID] = &core.BoardSnapshot{
		Shapes:  core.CloneShapes(snapshot.Shapes),
		Canvas:  snapshot.Canvas,
		SavedAt: snapshot.SavedAt,
	}
	logrus.WithFields(logrus.Fields{
		"board_id": boardID,
		"shapes":   len(snapshot.Shapes),
	}).Debug("Snapshot saved")
	return nil
}

func (s *memStore) LoadSnapshot(ctx context.Context, boardID string) (*core.BoardSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.snapshots[boardID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrBoardNotFound, boardID)
	}
	return &core.BoardSnapshot{
		Shapes:  core.CloneShapes(snapshot.Shapes),
		Canvas:  snapshot.Canvas,
		SavedAt: snapshot.SavedAt,
	}, nil
}

func (s *memStore) UpdateCanvasSize(ctx context.Context, boardID string, size core.CanvasSize) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.boards[boardID]; !ok {
		return fmt.Errorf("%w: %s", core.ErrBoardNotFound, boardID)
	}
	snapshot, ok := s.snapshots[boardID]
	if !ok {
		snapshot = &core.BoardSnapshot{Shapes: []core.Shape{}}
		s.snapshots[boardID] = snapshot
	}
	snapshot.Canvas = size
	return nil
}

func (s *memStore) AddSharedUser(ctx context.Context, boardID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	board, ok := s.boards[boardID]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrBoardNotFound, boardID)
	}
	if board.IsShared(userID) {
		return nil
	}
	board.SharedWith = append(board.SharedWith, userID)
	logrus.WithFields(logrus.Fields{"board_id": boardID, "user_id": userID}).Info("Board shared")
	return nil
}

func (s *memStore) PutBlob(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := append([]byte(nil), data...)
	s.blobs[key] = blobEntry{data: copied, contentType: contentType}
	return "/api/blobs/" + key, nil
}

func (s *memStore) ResolveBlob(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.blobs[key]; !ok {
		return "", fmt.Errorf("%w: %s", core.ErrBlobNotFound, key)
	}
	return "/api/blobs/" + key, nil
}

func (s *memStore) GetBlob(ctx context.Context, key string) ([]byte, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.blobs[key]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", core.ErrBlobNotFound, key)
	}
	return append([]byte(nil), entry.data...), entry.contentType, nil
}

// BlobCount reports how many blobs are stored, used by tests asserting
// save idempotence.
func (s *memStore) BlobCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
