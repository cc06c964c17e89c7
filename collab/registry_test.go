package collab

import (
	"context"
	"errors"
	"sync"
	"testing"

	"collabboard-server/core"
)

type recordedEvent struct {
	name string
	args []any
}

// fakeSession records emitted events and optionally replays them into a
// local shape store, the way a real peer client reconstructs state from
// broadcasts.
type fakeSession struct {
	id     string
	mu     sync.Mutex
	events []recordedEvent
	local  *ShapeStore
}

func newFakeSession(id string) *fakeSession {
	return &fakeSession{id: id, local: NewShapeStore()}
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) Emit(event string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, recordedEvent{name: event, args: args})

	switch event {
	case "addShape":
		if m, ok := args[0].(map[string]any); ok {
			_ = s.local.Add(core.Shape(m))
		}
	case "shapeUpdated":
		if m, ok := args[0].(map[string]any); ok {
			id, _ := m["shapeId"].(string)
			updates, _ := m["updates"].(map[string]any)
			_ = s.local.Update(id, updates)
		}
	case "shapeDeleted":
		if id, ok := args[0].(string); ok {
			_ = s.local.Remove(id)
		}
	case "boardCleared":
		s.local.Clear()
	}
	return nil
}

func (s *fakeSession) eventNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.events))
	for i, e := range s.events {
		names[i] = e.name
	}
	return names
}

func addShape(t *testing.T, r *Registry, boardID, senderID string, shape core.Shape) {
	t.Helper()
	err := r.ApplyAndBroadcast(boardID, senderID, func(s *ShapeStore) error {
		return s.Add(shape)
	}, "addShape", map[string]any(shape))
	if err != nil {
		t.Fatalf("add shape %s: %v", shape.ID(), err)
	}
}

func TestRegistry_JoinEmptyBoard(t *testing.T) {
	r := NewRegistry(nil)
	snapshot := r.Join(context.Background(), "b1", newFakeSession("a"))
	if len(snapshot) != 0 {
		t.Errorf("join snapshot = %v, want empty", snapshot)
	}
}

func TestRegistry_JoinIsIdempotent(t *testing.T) {
	r := NewRegistry(nil)
	a := newFakeSession("a")
	r.Join(context.Background(), "b1", a)
	r.Join(context.Background(), "b1", a)

	if sessions := r.Sessions("b1"); len(sessions) != 1 {
		t.Errorf("Sessions() = %v, want exactly one entry", sessions)
	}
}

func TestRegistry_LateJoinerGetsSnapshot(t *testing.T) {
	r := NewRegistry(nil)
	a := newFakeSession("a")
	r.Join(context.Background(), "b1", a)

	addShape(t, r, "b1", "a", core.Shape{"id": "s1", "type": "rectangle", "x": 10.0, "y": 10.0, "w": 50.0, "h": 50.0})

	b := newFakeSession("b")
	snapshot := r.Join(context.Background(), "b1", b)
	if len(snapshot) != 1 || snapshot[0].ID() != "s1" {
		t.Fatalf("late joiner snapshot = %v, want [s1]", snapshot)
	}
}

func TestRegistry_BroadcastExcludesSender(t *testing.T) {
	r := NewRegistry(nil)
	a := newFakeSession("a")
	b := newFakeSession("b")
	r.Join(context.Background(), "b1", a)
	r.Join(context.Background(), "b1", b)

	addShape(t, r, "b1", "a", core.Shape{"id": "s1", "type": "circle"})

	if len(a.eventNames()) != 0 {
		t.Errorf("sender received its own broadcast: %v", a.eventNames())
	}
	if names := b.eventNames(); len(names) != 1 || names[0] != "addShape" {
		t.Errorf("peer events = %v, want [addShape]", names)
	}
}

func TestRegistry_FailedMutationNotBroadcast(t *testing.T) {
	r := NewRegistry(nil)
	a := newFakeSession("a")
	b := newFakeSession("b")
	r.Join(context.Background(), "b1", a)
	r.Join(context.Background(), "b1", b)

	err := r.ApplyAndBroadcast("b1", "a", func(s *ShapeStore) error {
		return s.Update("ghost", map[string]any{"x": 1.0})
	}, "shapeUpdated", map[string]any{"shapeId": "ghost", "updates": map[string]any{"x": 1.0}})
	if !errors.Is(err, core.ErrShapeNotFound) {
		t.Fatalf("got %v, want ErrShapeNotFound", err)
	}

	if len(b.eventNames()) != 0 {
		t.Errorf("peer received a broadcast for a failed mutation: %v", b.eventNames())
	}
}

func TestRegistry_DeleteRacingUpdate(t *testing.T) {
	r := NewRegistry(nil)
	a := newFakeSession("a")
	b := newFakeSession("b")
	r.Join(context.Background(), "b1", a)
	r.Join(context.Background(), "b1", b)

	addShape(t, r, "b1", "a", core.Shape{"id": "s1", "type": "rectangle"})

	// A's delete arrives first, then B's concurrently-queued update.
	err := r.ApplyAndBroadcast("b1", "a", func(s *ShapeStore) error {
		return s.Remove("s1")
	}, "shapeDeleted", "s1")
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	err = r.ApplyAndBroadcast("b1", "b", func(s *ShapeStore) error {
		return s.Update("s1", map[string]any{"x": 99.0})
	}, "shapeUpdated", map[string]any{"shapeId": "s1", "updates": map[string]any{"x": 99.0}})
	if !errors.Is(err, core.ErrShapeNotFound) {
		t.Fatalf("racing update: got %v, want ErrShapeNotFound", err)
	}

	// No peer may observe the shape reappearing.
	for _, e := range a.events {
		if e.name == "shapeUpdated" {
			t.Error("peer observed a ghost update for a deleted shape")
		}
	}
	if _, ok := b.local.Get("s1"); ok {
		t.Error("deleted shape resurrected on a peer")
	}
}

func TestRegistry_PeersConvergeAfterMutationSequence(t *testing.T) {
	r := NewRegistry(nil)
	origin := newFakeSession("origin")
	peer := newFakeSession("peer")
	r.Join(context.Background(), "b1", origin)
	r.Join(context.Background(), "b1", peer)

	// Origin applies locally first (optimistic), then the server path runs.
	ops := []struct {
		apply func(*ShapeStore) error
		event string
		args  []any
	}{
		{
			apply: func(s *ShapeStore) error {
				return s.Add(core.Shape{"id": "s1", "type": "rectangle", "w": 50.0, "h": 50.0})
			},
			event: "addShape",
			args:  []any{map[string]any{"id": "s1", "type": "rectangle", "w": 50.0, "h": 50.0}},
		},
		{
			apply: func(s *ShapeStore) error {
				return s.Add(core.Shape{"id": "s2", "type": "text", "text": "hi"})
			},
			event: "addShape",
			args:  []any{map[string]any{"id": "s2", "type": "text", "text": "hi"}},
		},
		{
			apply: func(s *ShapeStore) error { return s.Update("s1", map[string]any{"w": 100.0}) },
			event: "shapeUpdated",
			args:  []any{map[string]any{"shapeId": "s1", "updates": map[string]any{"w": 100.0}}},
		},
		{
			apply: func(s *ShapeStore) error { return s.Remove("s2") },
			event: "shapeDeleted",
			args:  []any{"s2"},
		},
	}
	for _, op := range ops {
		if err := op.apply(origin.local); err != nil {
			t.Fatalf("local apply failed: %v", err)
		}
		if err := r.ApplyAndBroadcast("b1", "origin", op.apply, op.event, op.args...); err != nil {
			t.Fatalf("server apply failed: %v", err)
		}
	}

	originShapes := origin.local.Snapshot()
	peerShapes := peer.local.Snapshot()
	if len(originShapes) != len(peerShapes) {
		t.Fatalf("origin has %d shapes, peer has %d", len(originShapes), len(peerShapes))
	}
	for _, s := range originShapes {
		p, ok := peer.local.Get(s.ID())
		if !ok {
			t.Fatalf("peer is missing shape %s", s.ID())
		}
		if p["w"] != s["w"] || p["h"] != s["h"] {
			t.Errorf("shape %s diverged: origin %v, peer %v", s.ID(), s, p)
		}
	}

	// Spec scenario detail: partial update left h untouched.
	p, _ := peer.local.Get("s1")
	if p["w"] != 100.0 || p["h"] != 50.0 {
		t.Errorf("s1 = w:%v h:%v, want w:100 h:50", p["w"], p["h"])
	}
}

func TestRegistry_LeaveAndEvict(t *testing.T) {
	r := NewRegistry(nil)
	a := newFakeSession("a")
	b := newFakeSession("b")
	r.Join(context.Background(), "b1", a)
	r.Join(context.Background(), "b1", b)

	if remaining := r.Leave("b1", "a"); remaining != 1 {
		t.Errorf("Leave() remaining = %d, want 1", remaining)
	}
	if r.Evict("b1") {
		t.Error("Evict() must refuse while sessions remain")
	}

	if remaining := r.Leave("b1", "b"); remaining != 0 {
		t.Errorf("Leave() remaining = %d, want 0", remaining)
	}
	if !r.Evict("b1") {
		t.Error("Evict() on an empty board must succeed")
	}
	if boards := r.ActiveBoards(); len(boards) != 0 {
		t.Errorf("ActiveBoards() = %v after evict, want empty", boards)
	}
}

func TestRegistry_JoinRacingEvict(t *testing.T) {
	r := NewRegistry(nil)
	ctx := context.Background()

	for i := 0; i < 2000; i++ {
		a := newFakeSession("a")
		r.Join(ctx, "b1", a)
		r.Leave("b1", "a")

		// Last session gone: evict concurrently with a fresh join. The
		// join must never land on the evicted entry.
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Evict("b1")
		}()
		b := newFakeSession("b")
		r.Join(ctx, "b1", b)
		wg.Wait()

		registered := false
		for _, id := range r.Sessions("b1") {
			if id == "b" {
				registered = true
			}
		}
		if !registered {
			t.Fatalf("iteration %d: session joined but is not registered", i)
		}

		r.Leave("b1", "b")
		r.Evict("b1")
	}
}

func TestRegistry_BeginSaveClearsDirty(t *testing.T) {
	r := NewRegistry(nil)
	r.Join(context.Background(), "b1", newFakeSession("a"))
	addShape(t, r, "b1", "a", core.Shape{"id": "s1", "type": "line"})

	shapes, _, dirty, ok := r.BeginSave("b1")
	if !ok || !dirty {
		t.Fatalf("BeginSave() = dirty:%v ok:%v, want dirty and ok", dirty, ok)
	}
	if len(shapes) != 1 {
		t.Fatalf("BeginSave() returned %d shapes, want 1", len(shapes))
	}

	// No mutations since: the next cycle sees a clean board.
	if _, _, dirty, _ := r.BeginSave("b1"); dirty {
		t.Error("BeginSave() reports dirty with no intervening mutations")
	}

	r.MarkDirty("b1")
	if _, _, dirty, _ := r.BeginSave("b1"); !dirty {
		t.Error("MarkDirty() must re-flag the board")
	}
}

func TestRegistry_RewriteShapeDoesNotDirty(t *testing.T) {
	r := NewRegistry(nil)
	r.Join(context.Background(), "b1", newFakeSession("a"))
	addShape(t, r, "b1", "a", core.Shape{"id": "img1", "type": "image", "src": "data:image/png;base64,AAAA"})
	r.BeginSave("b1")

	r.RewriteShape("b1", "img1", map[string]any{"src": "/api/blobs/b1/img1", "blobKey": "b1/img1"})

	if _, _, dirty, _ := r.BeginSave("b1"); dirty {
		t.Error("RewriteShape() must not mark the board dirty")
	}

	// Rewrites to deleted shapes are dropped silently.
	r.RewriteShape("b1", "gone", map[string]any{"src": "x"})
}

func TestRegistry_HydratesFromLoaderOnFirstJoin(t *testing.T) {
	loader := &stubLoader{snapshot: &core.BoardSnapshot{
		Shapes: []core.Shape{{"id": "s1", "type": "polygon"}},
		Canvas: core.CanvasSize{Width: 1024, Height: 768},
	}}
	r := NewRegistry(loader)

	snapshot := r.Join(context.Background(), "b1", newFakeSession("a"))
	if len(snapshot) != 1 || snapshot[0].ID() != "s1" {
		t.Fatalf("hydrated snapshot = %v, want [s1]", snapshot)
	}

	// Second join must not re-hydrate.
	r.Join(context.Background(), "b1", newFakeSession("b"))
	if loader.calls != 1 {
		t.Errorf("loader called %d times, want 1", loader.calls)
	}
}

type stubLoader struct {
	snapshot *core.BoardSnapshot
	calls    int
}

func (l *stubLoader) LoadSnapshot(ctx context.Context, boardID string) (*core.BoardSnapshot, error) {
	l.calls++
	if l.snapshot == nil {
		return nil, core.ErrBoardNotFound
	}
	return l.snapshot, nil
}

func TestRegistry_SetCanvasSize(t *testing.T) {
	r := NewRegistry(nil)
	if r.SetCanvasSize("b1", core.CanvasSize{Width: 10, Height: 10}) {
		t.Error("SetCanvasSize() on an inactive board must report false")
	}

	r.Join(context.Background(), "b1", newFakeSession("a"))
	if !r.SetCanvasSize("b1", core.CanvasSize{Width: 1200, Height: 900}) {
		t.Fatal("SetCanvasSize() on an active board must succeed")
	}

	_, canvas, dirty, _ := r.BeginSave("b1")
	if canvas.Width != 1200 || canvas.Height != 900 {
		t.Errorf("canvas = %v, want 1200x900", canvas)
	}
	if !dirty {
		t.Error("a canvas resize must mark the board dirty")
	}
}
