package pipeline

import (
	"encoding/json"
	"testing"
)

func TestDecodeBatchResponse(t *testing.T) {
	t.Run("row list", func(t *testing.T) {
		resp := DecodeBatchResponse(json.RawMessage(`[{"substance_name":"HFC-134a"}]`), false)
		if resp.Kind != KindRowList || len(resp.Rows) != 1 {
			t.Fatalf("expected row list with 1 row, got %+v", resp)
		}
	})

	t.Run("category dict", func(t *testing.T) {
		resp := DecodeBatchResponse(json.RawMessage(`{"substance_usage":[{"a":1},{"a":2}]}`), false)
		if resp.Kind != KindCategoryDict {
			t.Fatalf("expected category dict, got %+v", resp)
		}
		if len(resp.ByCategory["substance_usage"]) != 2 {
			t.Errorf("rows not flattened: %+v", resp.ByCategory)
		}
	})

	t.Run("metadata object", func(t *testing.T) {
		resp := DecodeBatchResponse(json.RawMessage(`{"organization_name":"ACME","year":2024}`), true)
		if resp.Kind != KindMetadataObject {
			t.Fatalf("expected metadata object, got %+v", resp)
		}
		if resp.Metadata["organization_name"] != "ACME" {
			t.Errorf("metadata lost: %+v", resp.Metadata)
		}
	})

	t.Run("scalar values without metadata context are unrecognized", func(t *testing.T) {
		resp := DecodeBatchResponse(json.RawMessage(`{"organization_name":"ACME"}`), false)
		if resp.Kind != KindUnrecognized {
			t.Fatalf("expected unrecognized, got %+v", resp)
		}
	})

	t.Run("garbage is unrecognized", func(t *testing.T) {
		resp := DecodeBatchResponse(json.RawMessage(`"just a string"`), false)
		if resp.Kind != KindUnrecognized {
			t.Fatalf("expected unrecognized, got %+v", resp)
		}
	})
}
