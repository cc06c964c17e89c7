package core

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared between the sync gateway, the persistence bridge
// and the REST handlers. Mutation errors stay local to one operation and
// never tear down a session.
var (
	ErrBoardNotFound  = errors.New("board not found")
	ErrShapeNotFound  = errors.New("shape not found")
	ErrDuplicateShape = errors.New("shape id already exists")
	ErrAccessDenied   = errors.New("access denied")
	ErrInvalidShape   = errors.New("invalid shape")
	ErrBlobNotFound   = errors.New("blob not found")
)

type (
	// CanvasSize is the drawable area of a board.
	CanvasSize struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	}

	// Board is the durable metadata record for one shared drawing surface.
	// Shape content lives in a BoardSnapshot, not here.
	Board struct {
		ID         string    `json:"id"`
		Title      string    `json:"title"`
		OwnerID    string    `json:"ownerId"`
		SharedWith []string  `json:"sharedWith,omitempty"`
		CreatedAt  time.Time `json:"createdAt"`
	}

	// BoardSnapshot is the durable projection of a board's shapes and
	// canvas size at save time. Image shapes carry a blob key instead of
	// inline payload bytes once externalized.
	BoardSnapshot struct {
		Shapes  []Shape    `json:"shapes"`
		Canvas  CanvasSize `json:"canvasSize"`
		SavedAt time.Time  `json:"savedAt"`
	}

	// BoardStore persists board records and per-board snapshots.
	BoardStore interface {
		CreateBoard(ctx context.Context, board *Board) error
		GetBoard(ctx context.Context, boardID string) (*Board, error)
		ListBoards(ctx context.Context, userID string) ([]*Board, error)
		SaveSnapshot(ctx context.Context, boardID string, snapshot *BoardSnapshot) error
		LoadSnapshot(ctx context.Context, boardID string) (*BoardSnapshot, error)
		UpdateCanvasSize(ctx context.Context, boardID string, size CanvasSize) error
		AddSharedUser(ctx context.Context, boardID, userID string) error
	}

	// BlobStore holds large binary payloads referenced by key from shape
	// records. PutBlob returns a URL a client can fetch the payload from.
	BlobStore interface {
		PutBlob(ctx context.Context, key string, data []byte, contentType string) (string, error)
		ResolveBlob(ctx context.Context, key string) (string, error)
		GetBlob(ctx context.Context, key string) ([]byte, string, error)
	}
)

// IsShared reports whether userID is the owner or a shared member.
func (b *Board) IsShared(userID string) bool {
	if userID == b.OwnerID {
		return true
	}
	for _, id := range b.SharedWith {
		if id == userID {
			return true
		}
	}
	return false
}

// DefaultCanvasSize matches the size a board is created with before anyone
// resizes it.
func DefaultCanvasSize() CanvasSize {
	return CanvasSize{Width: 800, Height: 600}
}
