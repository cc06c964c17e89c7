package blobs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"collabboard-server/stores/memory"
)

func TestGetBlob(t *testing.T) {
	store := memory.NewStore()
	if _, err := store.PutBlob(context.Background(), "b1/img1", []byte("hello"), "image/png"); err != nil {
		t.Fatalf("PutBlob() failed: %v", err)
	}

	r := chi.NewRouter()
	r.Get("/api/blobs/*", HandleGetBlob(store))

	req := httptest.NewRequest("GET", "/api/blobs/b1/img1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Body.String() != "hello" {
		t.Errorf("body = %q, want hello", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", ct)
	}
}

func TestGetBlob_Unknown(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/blobs/*", HandleGetBlob(memory.NewStore()))

	req := httptest.NewRequest("GET", "/api/blobs/b1/missing", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
