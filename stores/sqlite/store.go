package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"collabboard-server/core"
)

type sqliteStore struct {
	db *sql.DB
}

// NewStore creates a new SQLite-based store.
func NewStore(dataSourceName string) *sqliteStore {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		log.Fatalf("failed to open sqlite database: %v", err)
	}

	boardTableStmt := `
	CREATE TABLE IF NOT EXISTS boards (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		shared_with TEXT,
		created_at DATETIME
	);`
	if _, err = db.Exec(boardTableStmt); err != nil {
		log.Fatalf("failed to create boards table: %v", err)
	}

	snapshotTableStmt := `
	CREATE TABLE IF NOT EXISTS snapshots (
		board_id TEXT PRIMARY KEY,
		shapes BLOB,
		canvas_width INTEGER,
		canvas_height INTEGER,
		saved_at DATETIME
	);`
	if _, err = db.Exec(snapshotTableStmt); err != nil {
		log.Fatalf("failed to create snapshots table: %v", err)
	}

	blobTableStmt := `
	CREATE TABLE IF NOT EXISTS blobs (
		key TEXT PRIMARY KEY,
		content_type TEXT,
		data BLOB
	);`
	if _, err = db.Exec(blobTableStmt); err != nil {
		log.Fatalf("failed to create blobs table: %v", err)
	}

	return &sqliteStore{db}
}

func (s *sqliteStore) CreateBoard(ctx context.Context, board *core.Board) error {
	shared, err := json.Marshal(board.SharedWith)
	if err != nil {
		return fmt.Errorf("marshal shared users: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO boards (id, title, owner_id, shared_with, created_at) VALUES (?, ?, ?, ?, ?)",
		board.ID, board.Title, board.OwnerID, string(shared), board.CreatedAt)
	if err != nil {
		logrus.WithField("board_id", board.ID).WithError(err).Error("Failed to create board")
		return err
	}
	logrus.WithField("board_id", board.ID).Info("Board created")
	return nil
}

func (s *sqliteStore) GetBoard(ctx context.Context, boardID string) (*core.Board, error) {
	var board core.Board
	var shared sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT id, title, owner_id, shared_with, created_at FROM boards WHERE id = ?", boardID).
		Scan(&board.ID, &board.Title, &board.OwnerID, &shared, &board.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", core.ErrBoardNotFound, boardID)
		}
		return nil, err
	}
	if shared.Valid && shared.String != "" {
		if err := json.Unmarshal([]byte(shared.String), &board.SharedWith); err != nil {
			return nil, fmt.Errorf("unmarshal shared users for board %s: %w", boardID, err)
		}
	}
	return &board, nil
}

func (s *sqliteStore) ListBoards(ctx context.Context, userID string) ([]*core.Board, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, title, owner_id, shared_with, created_at FROM boards")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	boards := make([]*core.Board, 0)
	for rows.Next() {
		var board core.Board
		var shared sql.NullString
		if err := rows.Scan(&board.ID, &board.Title, &board.OwnerID, &shared, &board.CreatedAt); err != nil {
			return nil, err
		}
		if shared.Valid && shared.String != "" {
			if err := json.Unmarshal([]byte(shared.String), &board.SharedWith); err != nil {
				continue
			}
		}
		if board.IsShared(userID) {
			copied := board
			boards = append(boards, &copied)
		}
	}
	return boards, rows.Err()
}

func (s *sqliteStore) SaveSnapshot(ctx context.Context, boardID string, snapshot *core.BoardSnapshot) error {
	shapes, err := json.Marshal(snapshot.Shapes)
	if err != nil {
		return fmt.Errorf("marshal shapes: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (board_id, shapes, canvas_width, canvas_height, saved_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(board_id) DO UPDATE SET
			shapes = excluded.shapes,
			canvas_width = excluded.canvas_width,
			canvas_height = excluded.canvas_height,
			saved_at = excluded.saved_at`,
		boardID, shapes, snapshot.Canvas.Width, snapshot.Canvas.Height, snapshot.SavedAt)
	if err != nil {
		logrus.WithField("board_id", boardID).WithError(err).Error("Failed to save snapshot")
		return err
	}
	logrus.WithFields(logrus.Fields{
		"board_id": boardID,
		"shapes":   len(snapshot.Shapes),
	}).Debug("Snapshot saved")
	return nil
}

func (s *sqliteStore) LoadSnapshot(ctx context.Context, boardID string) (*core.BoardSnapshot, error) {
	var shapes []byte
	var snapshot core.BoardSnapshot
	err := s.db.QueryRowContext(ctx,
		"SELECT shapes, canvas_width, canvas_height, saved_at FROM snapshots WHERE board_id = ?", boardID).
		Scan(&shapes, &snapshot.Canvas.Width, &snapshot.Canvas.Height, &snapshot.SavedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", core.ErrBoardNotFound, boardID)
		}
		return nil, err
	}
	if len(shapes) > 0 {
		if err := json.Unmarshal(shapes, &snapshot.Shapes); err != nil {
			return nil, fmt.Errorf("unmarshal shapes for board %s: %w", boardID, err)
		}
	}
	if snapshot.Shapes == nil {
		snapshot.Shapes = []core.Shape{}
	}
	return &snapshot, nil
}

func (s *sqliteStore) UpdateCanvasSize(ctx context.Context, boardID string, size core.CanvasSize) error {
	if _, err := s.GetBoard(ctx, boardID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (board_id, shapes, canvas_width, canvas_height, saved_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(board_id) DO UPDATE SET
			canvas_width = excluded.canvas_width,
			canvas_height = excluded.canvas_height`,
		boardID, []byte("[]"), size.Width, size.Height, time.Now())
	return err
}

func (s *sqliteStore) AddSharedUser(ctx context.Context, boardID, userID string) error {
	board, err := s.GetBoard(ctx, boardID)
	if err != nil {
		return err
	}
	if board.IsShared(userID) {
		return nil
	}
	board.SharedWith = append(board.SharedWith, userID)
	shared, err := json.Marshal(board.SharedWith)
	if err != nil {
		return fmt.Errorf("marshal shared users: %w", err)
	}
	_, err = s.db.ExecContext(ctx, "UPDATE boards SET shared_with = ? WHERE id = ?", string(shared), boardID)
	return err
}

func (s *sqliteStore) PutBlob(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (key, content_type, data) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET content_type = excluded.content_type, data = excluded.data`,
		key, contentType, data)
	if err != nil {
		logrus.WithField("blob_key", key).WithError(err).Error("Failed to store blob")
		return "", err
	}
	return "/api/blobs/" + key, nil
}

func (s *sqliteStore) ResolveBlob(ctx context.Context, key string) (string, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM blobs WHERE key = ?", key).Scan(&exists)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("%w: %s", core.ErrBlobNotFound, key)
		}
		return "", err
	}
	return "/api/blobs/" + key, nil
}

func (s *sqliteStore) GetBlob(ctx context.Context, key string) ([]byte, string, error) {
	var data []byte
	var contentType sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT data, content_type FROM blobs WHERE key = ?", key).Scan(&data, &contentType)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, "", fmt.Errorf("%w: %s", core.ErrBlobNotFound, key)
		}
		return nil, "", err
	}
	return data, contentType.String, nil
}
