// Package docstore is a small document database: JSON records addressed by
// (collection, id), with shallow-merge writes and equality queries on a
// top-level field.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
)

var (
	// ErrNotFound is returned by Get when no record exists.
	ErrNotFound = errors.New("document not found")
	// ErrInvalidField is returned when a query names an unsupported field.
	ErrInvalidField = errors.New("invalid field name")
)

// Document is a decoded JSON object.
type Document map[string]any

// Record is a document together with its id.
type Record struct {
	ID   string
	Data Document
}

// Store is the document store consumed by the credit ledger, usage analytics
// and billing.
type Store interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	// Set writes data. With merge, top-level keys are merged into the
	// existing record; otherwise the record is replaced.
	Set(ctx context.Context, collection, id string, data Document, merge bool) error
	Delete(ctx context.Context, collection, id string) error
	QueryByField(ctx context.Context, collection, field string, value any) ([]Record, error)
}

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validateKey(collection, id string) error {
	if collection == "" {
		return fmt.Errorf("collection is required")
	}
	if id == "" {
		return fmt.Errorf("document id is required")
	}
	return nil
}

func validateField(field string) error {
	if !fieldPattern.MatchString(field) {
		return fmt.Errorf("%w: %q", ErrInvalidField, field)
	}
	return nil
}

func mergeDocuments(base, patch Document) Document {
	out := make(Document, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

func sortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
}
