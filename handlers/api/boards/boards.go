package boards

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"collabboard-server/access"
	"collabboard-server/collab"
	"collabboard-server/core"
)

type (
	CreateBoardRequest struct {
		UserID string `json:"userId"`
		Title  string `json:"title"`
	}

	CreateBoardResponse struct {
		BoardID string `json:"boardId"`
	}

	SaveBoardRequest struct {
		BoardID    string           `json:"boardId"`
		UserID     string           `json:"userId"`
		Shapes     []core.Shape     `json:"shapes"`
		CanvasSize *core.CanvasSize `json:"canvasSize"`
	}

	SaveBoardResponse struct {
		Shapes  []core.Shape `json:"shapes"`
		SavedAt time.Time    `json:"savedAt"`
	}

	GetBoardRequest struct {
		BoardID string `json:"boardId"`
		UserID  string `json:"userId"`
	}

	GetBoardResponse struct {
		Shapes     []core.Shape    `json:"shapes"`
		CanvasSize core.CanvasSize `json:"canvasSize"`
	}

	ShareBoardRequest struct {
		UserID string `json:"userId"`
	}

	UpdateCanvasRequest struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	}

	BoardDetailsResponse struct {
		Title   string `json:"title"`
		OwnerID string `json:"ownerId"`
	}
)

// HandleCreateBoard creates a new board record owned by the requesting
// user. Boards exist before any session can join them.
func HandleCreateBoard(store core.BoardStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateBoardRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.Title == "" {
			req.Title = "Untitled Canvas"
		}

		board := &core.Board{
			ID:        ulid.Make().String(),
			Title:     req.Title,
			OwnerID:   req.UserID,
			CreatedAt: time.Now(),
		}
		if err := store.CreateBoard(r.Context(), board); err != nil {
			logrus.WithField("error", err).Error("Failed to create board")
			http.Error(w, "Failed to create board", http.StatusInternalServerError)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, CreateBoardResponse{BoardID: board.ID})
	}
}

// HandleGetDetails returns a board's title and owner.
func HandleGetDetails(store core.BoardStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		boardID := chi.URLParam(r, "boardId")
		board, err := store.GetBoard(r.Context(), boardID)
		if err != nil {
			http.Error(w, "Board not found", http.StatusNotFound)
			return
		}
		render.JSON(w, r, BoardDetailsResponse{Title: board.Title, OwnerID: board.OwnerID})
	}
}

// HandleListBoards returns every board a user owns or was shared into.
func HandleListBoards(store core.BoardStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userId")
		boards, err := store.ListBoards(r.Context(), userID)
		if err != nil {
			logrus.WithField("error", err).Error("Failed to list boards")
			http.Error(w, "Failed to list boards", http.StatusInternalServerError)
			return
		}
		if boards == nil {
			boards = []*core.Board{}
		}
		render.JSON(w, r, boards)
	}
}

// HandleShareBoard grants another user access to a board. Sharing is
// idempotent; repeating a grant never corrupts the access set.
func HandleShareBoard(gate *access.Gatekeeper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		boardID := chi.URLParam(r, "boardId")

		var req ShareBoardRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		if err := gate.ShareBoard(r.Context(), boardID, req.UserID); err != nil {
			if errors.Is(err, core.ErrBoardNotFound) {
				http.Error(w, "Board not found", http.StatusNotFound)
				return
			}
			logrus.WithField("error", err).Error("Failed to share board")
			http.Error(w, "Failed to share board", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleSaveBoard persists a board snapshot. With a shape list in the
// body the client's state is externalized and written; without one the
// live in-memory board is snapshotted instead (explicit save of the
// authoritative store). Unknown boards and unauthorized users both get
// 404 so callers cannot probe for board existence.
func HandleSaveBoard(store core.BoardStore, gate *access.Gatekeeper, saver *collab.Saver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SaveBoardRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BoardID == "" || req.UserID == "" {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		log := logrus.WithFields(logrus.Fields{"board_id": req.BoardID, "user_id": req.UserID})

		authorized, err := gate.IsAuthorized(r.Context(), req.UserID, req.BoardID)
		if err != nil {
			log.WithError(err).Error("Authorization check failed")
			http.Error(w, "Failed to save board", http.StatusInternalServerError)
			return
		}
		if !authorized {
			http.Error(w, "Board not found", http.StatusNotFound)
			return
		}

		if req.Shapes == nil {
			// Explicit save of the live board.
			if err := saver.SaveSnapshot(r.Context(), req.BoardID); err != nil && !errors.Is(err, core.ErrBoardNotFound) {
				log.WithError(err).Warn("Board not yet durably saved")
				http.Error(w, "Board not yet durably saved", http.StatusInternalServerError)
				return
			}
			resp := SaveBoardResponse{Shapes: []core.Shape{}, SavedAt: time.Now()}
			if snapshot, err := store.LoadSnapshot(r.Context(), req.BoardID); err == nil {
				resp.Shapes = snapshot.Shapes
				resp.SavedAt = snapshot.SavedAt
			}
			render.JSON(w, r, resp)
			return
		}

		externalized, err := saver.Externalize(r.Context(), req.BoardID, req.Shapes, false)
		if err != nil {
			log.WithError(err).Warn("Board not yet durably saved")
			http.Error(w, "Board not yet durably saved", http.StatusInternalServerError)
			return
		}

		canvas := core.DefaultCanvasSize()
		if req.CanvasSize != nil {
			canvas = *req.CanvasSize
		} else if existing, loadErr := store.LoadSnapshot(r.Context(), req.BoardID); loadErr == nil {
			canvas = existing.Canvas
		}

		snapshot := &core.BoardSnapshot{Shapes: externalized, Canvas: canvas, SavedAt: time.Now()}
		if err := store.SaveSnapshot(r.Context(), req.BoardID, snapshot); err != nil {
			log.WithError(err).Warn("Board not yet durably saved")
			http.Error(w, "Board not yet durably saved", http.StatusInternalServerError)
			return
		}

		render.JSON(w, r, SaveBoardResponse{Shapes: externalized, SavedAt: snapshot.SavedAt})
	}
}

// HandleGetBoard returns a board's saved shapes with blob references
// resolved to retrievable URLs. Denied and unknown both map to 404.
func HandleGetBoard(gate *access.Gatekeeper, saver *collab.Saver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req GetBoardRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BoardID == "" || req.UserID == "" {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		authorized, err := gate.IsAuthorized(r.Context(), req.UserID, req.BoardID)
		if err != nil {
			logrus.WithField("error", err).Error("Authorization check failed")
			http.Error(w, "Failed to load board", http.StatusInternalServerError)
			return
		}
		if !authorized {
			http.Error(w, "Board not found", http.StatusNotFound)
			return
		}

		snapshot, err := saver.LoadSnapshot(r.Context(), req.BoardID)
		if err != nil {
			if errors.Is(err, core.ErrBoardNotFound) {
				// Board exists but was never saved; an empty canvas is valid.
				render.JSON(w, r, GetBoardResponse{Shapes: []core.Shape{}, CanvasSize: core.DefaultCanvasSize()})
				return
			}
			logrus.WithField("error", err).Error("Failed to load snapshot")
			http.Error(w, "Failed to load board", http.StatusInternalServerError)
			return
		}

		render.JSON(w, r, GetBoardResponse{Shapes: snapshot.Shapes, CanvasSize: snapshot.Canvas})
	}
}

// HandleUpdateCanvas resizes a board's canvas, durably and on the live
// entry if the board is active.
func HandleUpdateCanvas(store core.BoardStore, registry *collab.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		boardID := chi.URLParam(r, "boardId")

		var req UpdateCanvasRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Width <= 0 || req.Height <= 0 {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		size := core.CanvasSize{Width: req.Width, Height: req.Height}
		if err := store.UpdateCanvasSize(r.Context(), boardID, size); err != nil {
			if errors.Is(err, core.ErrBoardNotFound) {
				http.Error(w, "Board not found", http.StatusNotFound)
				return
			}
			logrus.WithField("error", err).Error("Failed to update canvas size")
			http.Error(w, "Failed to update canvas size", http.StatusInternalServerError)
			return
		}
		registry.SetCanvasSize(boardID, size)

		render.JSON(w, r, size)
	}
}
