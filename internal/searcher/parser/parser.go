// Package parser decodes batch query payloads.
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"

	apperrors "github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/errors"
)

// Query is one method's usage profile: its signature and the callee
// signatures and field names it touches. Duplicates are kept; they count
// toward the query size when scoring.
type Query struct {
	Sig      string   `json:"sig"`
	Function []string `json:"function"`
	Field    []string `json:"field"`
}

var requiredKeys = []string{"sig", "function", "field"}

// ParseBatch decodes a JSON array of queries. Any element missing one of
// the keys sig, function or field fails the whole batch.
func ParseBatch(data []byte) ([]Query, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, apperrors.Invalidf("query batch must be a JSON array")
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, apperrors.Invalidf("decoding query batch: %v", err)
	}
	queries := make([]Query, 0, len(raw))
	for i, elem := range raw {
		q, err := ParseQuery(elem)
		if err != nil {
			return nil, fmt.Errorf("query %d: %w", i, err)
		}
		queries = append(queries, q)
	}
	return queries, nil
}

// ParseQuery decodes a single query object.
func ParseQuery(data []byte) (Query, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return Query{}, apperrors.Invalidf("query must be a JSON object")
	}
	for _, key := range requiredKeys {
		if _, ok := fields[key]; !ok {
			return Query{}, apperrors.Invalidf("missing required key %q", key)
		}
	}
	var q Query
	if err := json.Unmarshal(fields["sig"], &q.Sig); err != nil {
		return Query{}, apperrors.Invalidf("sig must be a string")
	}
	if err := json.Unmarshal(fields["function"], &q.Function); err != nil {
		return Query{}, apperrors.Invalidf("function must be an array of strings")
	}
	if err := json.Unmarshal(fields["field"], &q.Field); err != nil {
		return Query{}, apperrors.Invalidf("field must be an array of strings")
	}
	return q, nil
}
