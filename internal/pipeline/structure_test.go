package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/ozonereg/declpipe/internal/config"
	"github.com/ozonereg/declpipe/internal/doctype"
	"github.com/ozonereg/declpipe/internal/providers"
)

func longMarkdown(s string) string {
	return s + strings.Repeat(" nội dung bảng dữ liệu", 5)
}

func testPipelineCfg() config.Pipeline {
	return config.Pipeline{
		BatchPageSize:    7,
		MinBatchPageSize: 1,
		PollInterval:     0,
		PollMaxAttempts:  3,
		MaxRetries:       1,
		MaxFileSizeMB:    25,
	}
}

func TestChunkPages(t *testing.T) {
	pages := make([]providers.OCRPage, 10)
	for i := range pages {
		pages[i] = providers.OCRPage{Index: i + 1}
	}

	batches := chunkPages(pages, 7, 1)
	if len(batches) != 2 {
		t.Fatalf("expected 2 batches for 10 pages at size 7, got %d", len(batches))
	}
	if len(batches[0]) != 7 || len(batches[1]) != 3 {
		t.Errorf("unexpected batch sizes: %d, %d", len(batches[0]), len(batches[1]))
	}
}

func TestChunkPagesFoldsShortTail(t *testing.T) {
	pages := make([]providers.OCRPage, 8)
	for i := range pages {
		pages[i] = providers.OCRPage{Index: i + 1}
	}

	// A one-page remainder below the minimum joins the previous batch.
	batches := chunkPages(pages, 7, 2)
	if len(batches) != 1 {
		t.Fatalf("expected the short tail to fold into 1 batch, got %d", len(batches))
	}
	if len(batches[0]) != 8 {
		t.Errorf("folded batch should hold all 8 pages, got %d", len(batches[0]))
	}

	// A remainder at or above the minimum keeps its own batch.
	batches = chunkPages(append(pages, providers.OCRPage{Index: 9}), 7, 2)
	if len(batches) != 2 || len(batches[1]) != 2 {
		t.Fatalf("2-page tail at min 2 must stay separate, got %d batches", len(batches))
	}
}

func TestStructureOrdersMetadataLast(t *testing.T) {
	chat := providers.NewMockChat()
	chat.Replies = []string{
		`{"ack": true}`,
		`[{"substance_name":"HFC-134a","quantity":"10"}]`,
		`{"organization_name":"ACME","year":2024}`,
	}

	ocr := OCRResults{
		// Deliberately listed metadata first; ordering must not depend
		// on map insertion.
		doctype.MetadataCategory: {
			Category: doctype.MetadataCategory,
			Pages:    []providers.OCRPage{{Index: 1, Markdown: longMarkdown("Tên tổ chức: ACME")}},
		},
		"substance_usage": {
			Category: "substance_usage",
			Pages:    []providers.OCRPage{{Index: 2, Markdown: longMarkdown("<table>HFC-134a</table>")}},
		},
	}

	data, err := Structure(context.Background(), chat, ocr, doctype.Form01, testCatalog(), testPipelineCfg(), testLogger())
	if err != nil {
		t.Fatalf("Structure failed: %v", err)
	}

	if len(chat.Prompts) != 3 {
		t.Fatalf("expected 3 prompts (primer, table, metadata), got %d", len(chat.Prompts))
	}
	if !strings.Contains(chat.Prompts[0], "Reference data") {
		t.Error("first turn must prime reference context")
	}
	if !strings.Contains(chat.Prompts[0], "Activity fields") {
		t.Error("primer must include the activity taxonomy")
	}
	if !strings.Contains(chat.Prompts[1], "substance_usage") {
		t.Errorf("table category must come before metadata, got: %.80s", chat.Prompts[1])
	}
	if !strings.Contains(chat.Prompts[2], "organization metadata") {
		t.Errorf("metadata must be the final prompt, got: %.80s", chat.Prompts[2])
	}

	if len(data.Tables["substance_usage"]) != 1 {
		t.Errorf("rows not accumulated: %+v", data.Tables)
	}
	if data.Metadata["organization_name"] != "ACME" {
		t.Errorf("metadata not captured: %+v", data.Metadata)
	}
}

func TestStructureSkipsThinBatches(t *testing.T) {
	chat := providers.NewMockChat()
	chat.Replies = []string{`{"ack": true}`}

	ocr := OCRResults{
		"substance_usage": {
			Category: "substance_usage",
			Pages:    []providers.OCRPage{{Index: 1, Markdown: "---"}},
		},
	}

	data, err := Structure(context.Background(), chat, ocr, doctype.Form01, testCatalog(), testPipelineCfg(), testLogger())
	if err != nil {
		t.Fatalf("Structure failed: %v", err)
	}

	// Only the primer was sent; the thin batch was skipped without
	// exhausting the scripted replies, proving the cursor advanced.
	if len(chat.Prompts) != 1 {
		t.Errorf("expected only the primer prompt, got %d prompts", len(chat.Prompts))
	}
	if rows := data.Tables["substance_usage"]; len(rows) != 0 {
		t.Errorf("thin batch should yield no rows, got %+v", rows)
	}
}

func TestStructureSkipsFailedBatchAndContinues(t *testing.T) {
	chat := providers.NewMockChat()
	chat.Replies = []string{
		`{"ack": true}`,
		`this is not JSON at all, no braces here`,
		`[{"substance_name":"HCFC-22"}]`,
	}

	big := make([]providers.OCRPage, 8)
	for i := range big {
		big[i] = providers.OCRPage{Index: i + 1, Markdown: longMarkdown("bảng")}
	}

	ocr := OCRResults{
		"substance_usage": {Category: "substance_usage", Pages: big},
	}

	data, err := Structure(context.Background(), chat, ocr, doctype.Form01, testCatalog(), testPipelineCfg(), testLogger())
	if err != nil {
		t.Fatalf("Structure failed: %v", err)
	}

	// First batch reply was unparseable and skipped; the second batch
	// still contributed its rows.
	if len(data.Tables["substance_usage"]) != 1 {
		t.Errorf("expected 1 row from surviving batch, got %+v", data.Tables["substance_usage"])
	}
}

func TestStructureRejectsTableShapedMetadata(t *testing.T) {
	chat := providers.NewMockChat()
	chat.Replies = []string{
		`{"ack": true}`,
		`{"rows":[{"substance_name":"HFC-134a"}]}`,
	}

	ocr := OCRResults{
		doctype.MetadataCategory: {
			Category: doctype.MetadataCategory,
			Pages:    []providers.OCRPage{{Index: 1, Markdown: longMarkdown("Tên tổ chức: ACME")}},
		},
	}

	data, err := Structure(context.Background(), chat, ocr, doctype.Form01, testCatalog(), testPipelineCfg(), testLogger())
	if err != nil {
		t.Fatalf("Structure failed: %v", err)
	}

	// A reply whose values are row arrays is not a metadata object;
	// hoisting it would plant table rows at the record's top level.
	if data.Metadata != nil {
		t.Errorf("table-shaped reply must not become metadata: %+v", data.Metadata)
	}
}

func TestStructureSkipsErroredCategories(t *testing.T) {
	chat := providers.NewMockChat()
	chat.Replies = []string{`{"ack": true}`}

	ocr := OCRResults{
		"substance_usage": {Category: "substance_usage", Error: "ocr upload failed"},
	}

	data, err := Structure(context.Background(), chat, ocr, doctype.Form01, testCatalog(), testPipelineCfg(), testLogger())
	if err != nil {
		t.Fatalf("Structure failed: %v", err)
	}
	if len(data.Tables["substance_usage"]) != 0 {
		t.Errorf("errored category must contribute nothing")
	}
}
