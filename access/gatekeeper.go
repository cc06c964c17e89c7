package access

import (
	"context"
	"errors"
	"fmt"

	"collabboard-server/core"
)

// Gatekeeper resolves board ownership and sharing. It sits outside the
// sync gateway's broadcast path; only the REST surface consults it.
type Gatekeeper struct {
	boards core.BoardStore
}

func NewGatekeeper(boards core.BoardStore) *Gatekeeper {
	return &Gatekeeper{boards: boards}
}

// IsAuthorized reports whether the user is the board's owner or a shared
// member. Unknown boards are not an error here; they are simply not
// authorized.
func (g *Gatekeeper) IsAuthorized(ctx context.Context, userID, boardID string) (bool, error) {
	board, err := g.boards.GetBoard(ctx, boardID)
	if err != nil {
		if errors.Is(err, core.ErrBoardNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("resolve board %s: %w", boardID, err)
	}
	return board.IsShared(userID), nil
}

// ShareBoard grants a user access to a board. Sharing with a user who
// already has access, including the owner, is a no-op.
func (g *Gatekeeper) ShareBoard(ctx context.Context, boardID, userID string) error {
	board, err := g.boards.GetBoard(ctx, boardID)
	if err != nil {
		return err
	}
	if board.IsShared(userID) {
		return nil
	}
	return g.boards.AddSharedUser(ctx, boardID, userID)
}
