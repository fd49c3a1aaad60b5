package store

import (
	"context"
	"fmt"
	"strings"
)

// Collection names used throughout the pipeline.
const (
	CollectionExtractionJob = "ExtractionJob"
	CollectionExtractionLog = "ExtractionLog"
	CollectionSubstance     = "Substance"
	CollectionCountry       = "Country"
	CollectionProvince      = "Province"
	CollectionOrganization  = "Organization"
)

// collectionSchemas are registered once at store initialization.
// Checkpoint blobs (classification, OCR markdown, per-category results,
// merged payload) are stored as JSON strings so a resumed run can pick up
// exactly where the previous attempt stopped.
var collectionSchemas = []string{
	`type ExtractionJob {
		token: String
		file_name: String
		file_hash: String
		doc_type: String
		status: String
		current_step: String
		last_completed_step: String
		progress: Int
		progress_message: String
		retry_count: Int
		retry_from_step: String
		error_message: String

		source_path: String
		page_count: Int
		session_file_id: String

		category_mapping_json: String
		ocr_results_json: String
		batch_results_json: String
		merged_result_json: String
		actions_json: String

		created_at: String
		updated_at: String
		completed_at: String
	}`,
	`type ExtractionLog {
		drive_file_id: String
		file_name: String
		doc_type: String
		status: String
		job_id: String
		record_ref: String
		ocr_response: String
		ai_response: String
		detail: String
		created_at: String
		updated_at: String
	}`,
	`type Substance {
		code: String
		hs_code: String
		alt_hs_codes: [String]
		name: String
		name_en: String
		group_name: String
		gwp: Float
		active: Boolean
	}`,
	`type Country {
		code: String
		name: String
		name_en: String
	}`,
	`type Province {
		code: String
		name: String
		country_code: String
		region: String
	}`,
	`type Organization {
		tax_code: String
		name: String
		province_code: String
		address: String
	}`,
}

// InitSchema registers all collection schemas with the store.
// Registration is idempotent from the caller's perspective: a schema that
// already exists is reported by the store as an error containing "already
// exists", which is ignored.
func (c *Client) InitSchema(ctx context.Context) error {
	for _, schema := range collectionSchemas {
		if err := c.AddSchema(ctx, schema); err != nil {
			if isAlreadyExists(err) {
				continue
			}
			return fmt.Errorf("failed to add schema: %w", err)
		}
	}
	return nil
}

func isAlreadyExists(err error) bool {
	return err != nil && strings.Contains(err.Error(), "already exists")
}
