package pipeline

import "encoding/json"

// ResponseKind tags the shape of a structuring batch reply.
type ResponseKind int

const (
	// KindUnrecognized marks replies no decoder understood; they are
	// logged and dropped instead of crashing the batch loop.
	KindUnrecognized ResponseKind = iota
	// KindRowList is a bare JSON array of row objects.
	KindRowList
	// KindCategoryDict is an object keyed by category name holding row
	// arrays.
	KindCategoryDict
	// KindMetadataObject is a single flat object, only valid for the
	// metadata category.
	KindMetadataObject
)

// BatchResponse is the decoded form of one structuring reply.
type BatchResponse struct {
	Kind       ResponseKind
	Rows       []map[string]any
	ByCategory map[string][]map[string]any
	Metadata   map[string]any
}

// DecodeBatchResponse classifies a normalized JSON reply into one of the
// accepted shapes. forMetadata selects whether a bare object is treated
// as a metadata record or as a category dict.
func DecodeBatchResponse(raw json.RawMessage, forMetadata bool) BatchResponse {
	var asList []map[string]any
	if err := json.Unmarshal(raw, &asList); err == nil {
		return BatchResponse{Kind: KindRowList, Rows: asList}
	}

	var asObject map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asObject); err != nil {
		return BatchResponse{Kind: KindUnrecognized}
	}

	if forMetadata {
		var meta map[string]any
		if err := json.Unmarshal(raw, &meta); err == nil {
			return BatchResponse{Kind: KindMetadataObject, Metadata: meta}
		}
		return BatchResponse{Kind: KindUnrecognized}
	}

	// Non-metadata object replies must be category dicts: every value a
	// row array. A single non-array value makes the shape unrecognized.
	byCat := make(map[string][]map[string]any, len(asObject))
	for name, val := range asObject {
		var rows []map[string]any
		if err := json.Unmarshal(val, &rows); err != nil {
			return BatchResponse{Kind: KindUnrecognized}
		}
		byCat[name] = rows
	}
	if len(byCat) == 0 {
		return BatchResponse{Kind: KindUnrecognized}
	}
	return BatchResponse{Kind: KindCategoryDict, ByCategory: byCat}
}
