package store

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/banking-pipeline/internal/model"
)

var (
	rawAccountCols  = []string{"account_id", "customer_id", "balance", "account_type", "_source_file", "_file_hash", "_row_number", "_ingested_at"}
	rawCustomerCols = []string{"customer_id", "name", "has_loan", "_source_file", "_file_hash", "_row_number", "_ingested_at"}
	accountCols     = []string{"account_id", "customer_id", "balance", "account_type", "data_quality_flag", "created_date", "modified_date", "metadata_json", "_last_processed_at"}
	customerCols    = []string{"customer_id", "name", "has_loan", "created_date", "modified_date", "metadata_json", "_last_processed_at"}
	dimCustomerCols = []string{"customer_id", "name", "has_loan", "created_date", "modified_date"}
	dimAccountCols  = []string{"account_id", "customer_id", "account_type", "balance", "data_quality_flag", "created_date", "modified_date"}
	factCols        = []string{"account_id", "customer_id", "customer_name", "has_loan", "account_type", "original_balance", "data_quality_flag", "interest_rate", "annual_interest", "new_balance", "created_date", "modified_date", "metadata_json", "_last_processed_at"}
	summaryCols     = []string{"customer_id", "account_id", "original_balance", "interest_rate", "annual_interest", "new_balance"}
	runCols         = []string{"run_id", "layer", "mode", "status", "started_at", "completed_at", "records_processed", "records_inserted", "records_updated", "duration_seconds", "metadata", "error"}
)

func marshalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal json")
	}
	return data, nil
}

func unmarshalMetadata(data []byte) (model.Metadata, error) {
	var m model.Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return m, eris.Wrap(err, "store: unmarshal metadata_json")
	}
	return m, nil
}

func unmarshalLineage(data []byte) (model.Lineage, error) {
	var l model.Lineage
	if err := json.Unmarshal(data, &l); err != nil {
		return l, eris.Wrap(err, "store: unmarshal fact metadata_json")
	}
	return l, nil
}

// runMetadata encodes the metadata map of a finished run; nil stays NULL.
func runMetadata(r *model.ProcessRun) []byte {
	if len(r.Metadata) == 0 {
		return nil
	}
	return r.Metadata
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func unmarshalColumns(data []byte) ([]string, error) {
	var cols []string
	if err := json.Unmarshal(data, &cols); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal schema columns")
	}
	return cols, nil
}

func joinCols(cols []string) string {
	return strings.Join(cols, ", ")
}

// normalizeRowTimes converts scanned timestamps to UTC.
func normalizeRowTimes(ts ...*time.Time) {
	for _, t := range ts {
		*t = t.UTC()
	}
}
