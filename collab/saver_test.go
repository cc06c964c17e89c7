package collab

import (
	"context"
	"errors"
	"testing"
	"time"

	"collabboard-server/core"
	"collabboard-server/stores/memory"
)

// pngDataURL decodes to the bytes "hello" with media type image/png.
const pngDataURL = "data:image/png;base64,aGVsbG8="

func TestSaver_ExternalizesInlineImages(t *testing.T) {
	store := memory.NewStore()
	registry := NewRegistry(store)
	saver := NewSaver(registry, store, store, time.Minute)
	registry.Join(context.Background(), "b1", newFakeSession("a"))
	addShape(t, registry, "b1", "a", core.Shape{"id": "img1", "type": "image", "src": pngDataURL})
	addShape(t, registry, "b1", "a", core.Shape{"id": "s2", "type": "rectangle"})

	if err := saver.SaveSnapshot(context.Background(), "b1"); err != nil {
		t.Fatalf("SaveSnapshot() failed: %v", err)
	}

	data, contentType, err := store.GetBlob(context.Background(), "b1/img1")
	if err != nil {
		t.Fatalf("blob not uploaded: %v", err)
	}
	if string(data) != "hello" || contentType != "image/png" {
		t.Errorf("blob = %q (%s), want hello (image/png)", data, contentType)
	}

	// The durable snapshot must reference the blob, not the inline payload.
	snapshot, err := store.LoadSnapshot(context.Background(), "b1")
	if err != nil {
		t.Fatalf("LoadSnapshot() failed: %v", err)
	}
	for _, shape := range snapshot.Shapes {
		if shape.ID() != "img1" {
			continue
		}
		if src, _ := shape["src"].(string); src != "/api/blobs/b1/img1" {
			t.Errorf("src = %q, want blob URL", src)
		}
		if shape["blobKey"] != "b1/img1" {
			t.Errorf("blobKey = %v, want b1/img1", shape["blobKey"])
		}
	}

	// The live shape was rewritten too, so the next cycle sees no data URL.
	shapes, _, _, _ := registry.BeginSave("b1")
	for _, shape := range shapes {
		if src, _ := shape["src"].(string); shape.ID() == "img1" && src != "/api/blobs/b1/img1" {
			t.Errorf("live shape src = %q, want rewritten blob URL", src)
		}
	}
}

func TestSaver_CleanBoardSkipsWork(t *testing.T) {
	store := memory.NewStore()
	registry := NewRegistry(store)
	saver := NewSaver(registry, store, store, time.Minute)
	registry.Join(context.Background(), "b1", newFakeSession("a"))
	addShape(t, registry, "b1", "a", core.Shape{"id": "img1", "type": "image", "src": pngDataURL})

	if err := saver.SaveSnapshot(context.Background(), "b1"); err != nil {
		t.Fatalf("first SaveSnapshot() failed: %v", err)
	}
	uploads := store.BlobCount()

	// No mutations since. A second run must neither upload nor rewrite.
	if err := saver.SaveSnapshot(context.Background(), "b1"); err != nil {
		t.Fatalf("second SaveSnapshot() failed: %v", err)
	}
	if store.BlobCount() != uploads {
		t.Errorf("clean re-save uploaded blobs: %d -> %d", uploads, store.BlobCount())
	}
}

func TestSaver_UnknownBoard(t *testing.T) {
	store := memory.NewStore()
	saver := NewSaver(NewRegistry(store), store, store, time.Minute)
	if err := saver.SaveSnapshot(context.Background(), "nope"); !errors.Is(err, core.ErrBoardNotFound) {
		t.Fatalf("got %v, want ErrBoardNotFound", err)
	}
}

func TestSaver_FailedSaveRetriesNextCycle(t *testing.T) {
	registry := NewRegistry(nil)
	failing := &failingBoardStore{err: errors.New("disk full")}
	saver := NewSaver(registry, failing, memory.NewStore(), time.Minute)

	registry.Join(context.Background(), "b1", newFakeSession("a"))
	addShape(t, registry, "b1", "a", core.Shape{"id": "s1", "type": "line"})

	if err := saver.SaveSnapshot(context.Background(), "b1"); err == nil {
		t.Fatal("SaveSnapshot() must surface the store failure")
	}

	// The board stays dirty so the next cycle retries.
	if _, _, dirty, _ := registry.BeginSave("b1"); !dirty {
		t.Error("failed save must leave the board dirty")
	}
}

func TestSaver_LoadSnapshotResolvesBlobReferences(t *testing.T) {
	store := memory.NewStore()
	registry := NewRegistry(store)
	saver := NewSaver(registry, store, store, time.Minute)

	if _, err := store.PutBlob(context.Background(), "b1/img1", []byte("hello"), "image/png"); err != nil {
		t.Fatalf("PutBlob() failed: %v", err)
	}
	err := store.SaveSnapshot(context.Background(), "b1", &core.BoardSnapshot{
		Shapes: []core.Shape{
			{"id": "img1", "type": "image", "blobKey": "b1/img1"},
			{"id": "s2", "type": "rectangle"},
		},
		Canvas: core.DefaultCanvasSize(),
	})
	if err != nil {
		t.Fatalf("SaveSnapshot() failed: %v", err)
	}

	snapshot, err := saver.LoadSnapshot(context.Background(), "b1")
	if err != nil {
		t.Fatalf("LoadSnapshot() failed: %v", err)
	}
	if src, _ := snapshot.Shapes[0]["src"].(string); src != "/api/blobs/b1/img1" {
		t.Errorf("src = %q, want resolved blob URL", src)
	}
}

func TestDecodeDataURL(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		wantData string
		wantType string
		wantErr  bool
	}{
		{"base64 png", "data:image/png;base64,aGVsbG8=", "hello", "image/png", false},
		{"plain text payload", "data:text/plain,hi", "hi", "text/plain", false},
		{"no media type", "data:;base64,aGVsbG8=", "hello", "application/octet-stream", false},
		{"not a data url", "https://example.com/x.png", "", "", true},
		{"missing comma", "data:image/png;base64", "", "", true},
		{"bad base64", "data:image/png;base64,!!!", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, contentType, err := decodeDataURL(tt.src)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeDataURL() failed: %v", err)
			}
			if string(data) != tt.wantData || contentType != tt.wantType {
				t.Errorf("got %q (%s), want %q (%s)", data, contentType, tt.wantData, tt.wantType)
			}
		})
	}
}

type failingBoardStore struct {
	err error
}

func (f *failingBoardStore) CreateBoard(ctx context.Context, board *core.Board) error { return f.err }
func (f *failingBoardStore) GetBoard(ctx context.Context, boardID string) (*core.Board, error) {
	return nil, f.err
}
func (f *failingBoardStore) ListBoards(ctx context.Context, userID string) ([]*core.Board, error) {
	return nil, f.err
}
func (f *failingBoardStore) SaveSnapshot(ctx context.Context, boardID string, snapshot *core.BoardSnapshot) error {
	return f.err
}
func (f *failingBoardStore) LoadSnapshot(ctx context.Context, boardID string) (*core.BoardSnapshot, error) {
	return nil, f.err
}
func (f *failingBoardStore) UpdateCanvasSize(ctx context.Context, boardID string, size core.CanvasSize) error {
	return f.err
}
func (f *failingBoardStore) AddSharedUser(ctx context.Context, boardID, userID string) error {
	return f.err
}
