package store

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestValidateID(t *testing.T) {
	valid := []string{"bae-abc123", "doc_1", "ABC-def_9"}
	for _, id := range valid {
		if err := ValidateID(id); err != nil {
			t.Errorf("ValidateID(%q) unexpected error: %v", id, err)
		}
	}

	invalid := []string{"", "has space", `has"quote`, "semi;colon", "paren)inject", strings.Repeat("a", 501)}
	for _, id := range invalid {
		if err := ValidateID(id); err == nil {
			t.Errorf("ValidateID(%q) expected error", id)
		}
	}
}

func TestValueToGraphQL(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"string", "hello", `"hello"`},
		{"string with newline", "a\nb", `"a\nb"`},
		{"string with quote", `say "hi"`, `"say \"hi\""`},
		{"int", 42, "42"},
		{"float", 3.5, "3.5"},
		{"bool", true, "true"},
		{"string slice", []string{"a", "b"}, `["a", "b"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := valueToGraphQL(tt.value)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClientCreate(t *testing.T) {
	var capturedQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req GQLRequest
		json.NewDecoder(r.Body).Decode(&req)
		capturedQuery = req.Query
		json.NewEncoder(w).Encode(GQLResponse{
			Data: map[string]any{
				"create_ExtractionJob": []any{
					map[string]any{"_docID": "bae-job-1"},
				},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	docID, err := c.Create(context.Background(), CollectionExtractionJob, map[string]any{
		"file_name": "decl.pdf",
		"status":    "pending",
		"progress":  0,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if docID != "bae-job-1" {
		t.Errorf("expected bae-job-1, got %s", docID)
	}
	if !strings.Contains(capturedQuery, "create_ExtractionJob") {
		t.Errorf("query missing mutation name: %s", capturedQuery)
	}
	if !strings.Contains(capturedQuery, `file_name: "decl.pdf"`) {
		t.Errorf("query missing input field: %s", capturedQuery)
	}
}

func TestClientGetNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(GQLResponse{
			Data: map[string]any{"ExtractionJob": []any{}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Get(context.Background(), CollectionExtractionJob, "bae-missing", []string{"status"})
	if err == nil {
		t.Fatal("expected error for missing document")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected not found error, got: %v", err)
	}
}

func TestClientGraphQLError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(GQLResponse{
			Errors: []GQLError{{Message: "unknown field"}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	err := c.Update(context.Background(), CollectionExtractionJob, "bae-job-1", map[string]any{"bad": 1})
	if err == nil || !strings.Contains(err.Error(), "unknown field") {
		t.Errorf("expected graphql error surfaced, got: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	docID, err := m.Create(ctx, CollectionSubstance, map[string]any{
		"code":    "HFC-134a",
		"hs_code": "29034500",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	t.Run("get returns stored fields", func(t *testing.T) {
		doc, err := m.Get(ctx, CollectionSubstance, docID, nil)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if doc["code"] != "HFC-134a" {
			t.Errorf("unexpected code: %v", doc["code"])
		}
		if doc["_docID"] != docID {
			t.Errorf("expected _docID to be set")
		}
	})

	t.Run("update merges fields", func(t *testing.T) {
		if err := m.Update(ctx, CollectionSubstance, docID, map[string]any{"gwp": 1430.0}); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		doc, _ := m.Get(ctx, CollectionSubstance, docID, nil)
		if doc["gwp"] != 1430.0 {
			t.Errorf("update not applied: %v", doc["gwp"])
		}
		if doc["code"] != "HFC-134a" {
			t.Errorf("existing field lost on update")
		}
	})

	t.Run("list filters by equality", func(t *testing.T) {
		m.Create(ctx, CollectionSubstance, map[string]any{"code": "R-22", "hs_code": "29034971"})

		docs, err := m.List(ctx, CollectionSubstance, map[string]any{"code": "R-22"}, nil, 0)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(docs) != 1 {
			t.Fatalf("expected 1 doc, got %d", len(docs))
		}
		if docs[0]["hs_code"] != "29034971" {
			t.Errorf("wrong doc returned: %v", docs[0])
		}
	})

	t.Run("mutating returned doc does not change store", func(t *testing.T) {
		doc, _ := m.Get(ctx, CollectionSubstance, docID, nil)
		doc["code"] = "tampered"
		again, _ := m.Get(ctx, CollectionSubstance, docID, nil)
		if again["code"] != "HFC-134a" {
			t.Errorf("store state mutated through returned map")
		}
	})

	t.Run("delete removes document", func(t *testing.T) {
		if err := m.Delete(ctx, CollectionSubstance, docID); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := m.Get(ctx, CollectionSubstance, docID, nil); err == nil {
			t.Error("expected error after delete")
		}
	})
}
