package drive

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("folder"); got != "incoming/form01" {
			t.Errorf("unexpected folder %q", got)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("missing auth header, got %q", auth)
		}
		json.NewEncoder(w).Encode(listResponse{Files: []FileMeta{
			{ID: "f1", Name: "decl.pdf", Size: 2048},
		}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", testLogger())
	files, err := c.List(context.Background(), "incoming/form01")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(files) != 1 || files[0].ID != "f1" {
		t.Errorf("unexpected listing: %+v", files)
	}
}

func TestClientDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/files/f1/content":
			w.Write([]byte("%PDF-1.7 data"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", testLogger())

	data, err := c.Download(context.Background(), "f1")
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if string(data) != "%PDF-1.7 data" {
		t.Errorf("unexpected content: %q", data)
	}

	_, err = c.Download(context.Background(), "missing")
	if !errors.Is(err, ErrFileNotFound) {
		t.Errorf("expected ErrFileNotFound, got %v", err)
	}
}

func TestClientMove(t *testing.T) {
	var gotBody moveRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files/f1/move" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", testLogger())
	if err := c.Move(context.Background(), "f1", "processed"); err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	if gotBody.Folder != "processed" {
		t.Errorf("unexpected destination %q", gotBody.Folder)
	}
}

func TestClientCreateFolder(t *testing.T) {
	var gotBody createFolderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/folders" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", testLogger())
	if err := c.CreateFolder(context.Background(), "form01", "incoming"); err != nil {
		t.Fatalf("CreateFolder failed: %v", err)
	}
	if gotBody.Name != "form01" || gotBody.Parent != "incoming" {
		t.Errorf("unexpected body: %+v", gotBody)
	}
}
