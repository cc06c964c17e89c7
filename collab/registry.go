package collab

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"collabboard-server/core"
)

type (
	// Session is one connected client's binding to a board. The websocket
	// layer adapts its transport socket to this interface so the registry
	// can fan events out without knowing the transport.
	Session interface {
		ID() string
		Emit(event string, args ...any) error
	}

	// SnapshotLoader hydrates a board entry from its last durable snapshot
	// on first join, so late joiners after a server restart still see the
	// saved state.
	SnapshotLoader interface {
		LoadSnapshot(ctx context.Context, boardID string) (*core.BoardSnapshot, error)
	}

	sessionBinding struct {
		session  Session
		joinedAt time.Time
	}

	// boardEntry owns everything mutable about one active board. All shape
	// mutations and broadcasts for the board run under mu, which gives the
	// server-arbitrated total order per board. Different boards never
	// contend with each other.
	boardEntry struct {
		boardID  string
		mu       sync.Mutex
		shapes   *ShapeStore
		canvas   core.CanvasSize
		sessions map[string]sessionBinding
		dirty    bool
		hydrated bool
		evicted  bool
	}
)

// Registry maps board ids to their live state and connected sessions.
// It is constructed at server start and injected into the gateway and the
// saver; there is no package-level state.
type Registry struct {
	mu     sync.RWMutex
	boards map[string]*boardEntry
	loader SnapshotLoader
}

// NewRegistry creates an empty registry. loader may be nil, in which case
// boards start empty on first join.
func NewRegistry(loader SnapshotLoader) *Registry {
	return &Registry{
		boards: make(map[string]*boardEntry),
		loader: loader,
	}
}

func (r *Registry) getOrCreate(boardID string) *boardEntry {
	r.mu.RLock()
	e, ok := r.boards[boardID]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok = r.boards[boardID]; ok {
		return e
	}
	e = &boardEntry{
		boardID:  boardID,
		shapes:   NewShapeStore(),
		canvas:   core.DefaultCanvasSize(),
		sessions: make(map[string]sessionBinding),
	}
	r.boards[boardID] = e
	return e
}

func (r *Registry) get(boardID string) (*boardEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.boards[boardID]
	return e, ok
}

// acquire returns the board entry with its mutex held. An entry evicted
// between the map lookup and the lock is dead; retry against the map so
// the caller never operates on an orphan. The caller unlocks.
func (r *Registry) acquire(boardID string) *boardEntry {
	for {
		e := r.getOrCreate(boardID)
		e.mu.Lock()
		if !e.evicted {
			return e
		}
		e.mu.Unlock()
	}
}

// Join binds a session to a board and returns the current shape snapshot
// for reconciliation. Re-joining an already-joined session is a no-op.
// The first join of a board hydrates it from the last durable snapshot.
func (r *Registry) Join(ctx context.Context, boardID string, session Session) []core.Shape {
	e := r.acquire(boardID)
	defer e.mu.Unlock()

	if !e.hydrated {
		e.hydrated = true
		if r.loader != nil {
			if snapshot, err := r.loader.LoadSnapshot(ctx, boardID); err == nil {
				e.shapes.Replace(snapshot.Shapes)
				if snapshot.Canvas.Width > 0 && snapshot.Canvas.Height > 0 {
					e.canvas = snapshot.Canvas
				}
			} else {
				logrus.WithField("board_id", boardID).WithError(err).Debug("No durable snapshot to hydrate from")
			}
		}
	}

	if _, joined := e.sessions[session.ID()]; !joined {
		e.sessions[session.ID()] = sessionBinding{session: session, joinedAt: time.Now()}
	}
	return e.shapes.Snapshot()
}

// Leave removes a session from a board and returns the number of sessions
// still joined. Leaving a board the session never joined is a no-op.
func (r *Registry) Leave(boardID, sessionID string) int {
	e, ok := r.get(boardID)
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, sessionID)
	return len(e.sessions)
}

// Evict drops a board entry if it has no sessions left. Callers persist
// the board before evicting; anything unsaved at this point is discarded.
func (r *Registry) Evict(boardID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.boards[boardID]
	if !ok {
		return false
	}
	e.mu.Lock()
	empty := len(e.sessions) == 0
	if empty {
		// Joins that raced the eviction re-fetch from the map instead of
		// landing on this orphaned entry.
		e.evicted = true
	}
	e.mu.Unlock()
	if empty {
		delete(r.boards, boardID)
	}
	return empty
}

// Sessions returns the ids of the sessions currently joined to a board.
func (r *Registry) Sessions(boardID string) []string {
	e, ok := r.get(boardID)
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	return ids
}

// ActiveBoards returns the ids of all boards with live state.
func (r *Registry) ActiveBoards() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.boards))
	for id := range r.boards {
		ids = append(ids, id)
	}
	return ids
}

// ApplyAndBroadcast runs a mutation against the board's shape store and,
// on success, fans the given event out to every other joined session.
// Apply and fan-out happen under the board mutex, so every peer observes
// mutations in exactly the order the store applied them. A failed mutation
// is not broadcast.
func (r *Registry) ApplyAndBroadcast(boardID, senderID string, mutate func(*ShapeStore) error, event string, args ...any) error {
	e := r.acquire(boardID)
	defer e.mu.Unlock()

	if err := mutate(e.shapes); err != nil {
		return err
	}
	e.dirty = true
	e.broadcastLocked(senderID, event, args...)
	return nil
}

// Broadcast publishes an event to every session joined to a board except
// the one identified by excludeID. Pass "" to reach all sessions.
func (r *Registry) Broadcast(boardID, excludeID, event string, args ...any) {
	e, ok := r.get(boardID)
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.broadcastLocked(excludeID, event, args...)
}

func (e *boardEntry) broadcastLocked(excludeID, event string, args ...any) {
	for id, binding := range e.sessions {
		if id == excludeID {
			continue
		}
		if err := binding.session.Emit(event, args...); err != nil {
			logrus.WithFields(logrus.Fields{
				"board_id":   e.boardID,
				"session_id": id,
				"event":      event,
			}).WithError(err).Warn("Failed to emit to session")
		}
	}
}

// SetCanvasSize updates the live canvas size of an active board. Returns
// false if the board has no live entry.
func (r *Registry) SetCanvasSize(boardID string, size core.CanvasSize) bool {
	e, ok := r.get(boardID)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.canvas = size
	e.dirty = true
	return true
}

// BeginSave copies the board's current shapes and canvas size for a
// persistence cycle and clears the dirty flag. Mutations arriving while
// the save is in flight re-mark the board dirty and are picked up on the
// next cycle. dirty reports whether anything changed since the last save.
func (r *Registry) BeginSave(boardID string) (shapes []core.Shape, canvas core.CanvasSize, dirty bool, ok bool) {
	e, found := r.get(boardID)
	if !found {
		return nil, core.CanvasSize{}, false, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	shapes = e.shapes.Snapshot()
	canvas = e.canvas
	dirty = e.dirty
	e.dirty = false
	return shapes, canvas, dirty, true
}

// MarkDirty flags a board for the next save cycle, used when a save
// attempt fails after BeginSave already cleared the flag.
func (r *Registry) MarkDirty(boardID string) {
	e, ok := r.get(boardID)
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dirty = true
}

// RewriteShape merges fields into a live shape without marking the board
// dirty. The saver uses it to write blob references back after an upload;
// if the shape was deleted while the upload ran, the rewrite is dropped.
func (r *Registry) RewriteShape(boardID, shapeID string, fields map[string]any) {
	e, ok := r.get(boardID)
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.shapes.Get(shapeID); exists {
		_ = e.shapes.Update(shapeID, fields)
	}
}
