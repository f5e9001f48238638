// Package docstore is the document persistence layer used by the token model
// and the user link table. It offers no transactions or secondary indexes;
// invariants such as rotation history bounds live in the callers.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

// ErrNotFound is returned by Update when the document does not exist.
var ErrNotFound = errors.New("document not found")

// Document is a JSON-shaped document. Values read back from a Store are in
// their JSON-decoded form (numbers are float64, times are strings).
type Document map[string]any

// Condition is an equality match on a top-level field.
type Condition struct {
	Field string
	Value any
}

type Store interface {
	Create(ctx context.Context, collection string, doc Document) (string, error)
	// GetByID returns (nil, nil) when the document does not exist.
	GetByID(ctx context.Context, collection, id string) (Document, error)
	QueryByField(ctx context.Context, collection, field string, value any) ([]Document, error)
	QueryByFields(ctx context.Context, collection string, conditions []Condition) ([]Document, error)
	// Update shallow-merges partial into the stored document. A nil value
	// stores JSON null.
	Update(ctx context.Context, collection, id string, partial Document) error
	Delete(ctx context.Context, collection, id string) error
}

// Encode converts a tagged struct into a Document.
func Encode(v any) (Document, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return doc, nil
}

// Decode fills v from doc.
func Decode(doc Document, v any) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func cloneDocument(doc Document) (Document, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out Document
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func matches(doc Document, conditions []Condition) (bool, error) {
	for _, c := range conditions {
		want, err := normalize(c.Value)
		if err != nil {
			return false, fmt.Errorf("normalize condition %q: %w", c.Field, err)
		}
		if !reflect.DeepEqual(doc[c.Field], want) {
			return false, nil
		}
	}
	return true, nil
}
