// Package schema validates the JSON records kept on disk and in archive
// bundles against JSON Schema documents.
package schema

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalid is matched by every validation failure.
var ErrInvalid = errors.New("schema validation failed")

// ValidationError lists every problem found in a document.
type ValidationError struct {
	Record   string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s record: %s", ErrInvalid, e.Record, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }

// Record schemas for the json backend layout and archive bundles.
const (
	NamespaceSchema = `{
  "type": "object",
  "required": ["name", "created_at"],
  "properties": {
    "name": {"type": "string", "pattern": "^[A-Za-z0-9]+$"},
    "created_at": {"type": "string", "format": "date-time"}
  }
}`

	DocumentSetSchema = `{
  "type": "object",
  "required": ["documents"],
  "properties": {
    "documents": {
      "type": "array",
      "items": {"type": "string", "minLength": 1},
      "uniqueItems": true
    }
  }
}`

	SnapshotSchema = `{
  "type": "object",
  "required": ["id", "created_at", "description", "documents"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "created_at": {"type": "string", "format": "date-time"},
    "description": {"type": "string", "minLength": 1},
    "documents": {
      "type": "array",
      "items": {"type": "string", "minLength": 1},
      "uniqueItems": true
    }
  }
}`

	BundleSchema = `{
  "type": "object",
  "required": ["format", "namespace", "snapshot_id", "created_at", "description", "documents"],
  "properties": {
    "format": {"type": "string", "minLength": 1},
    "namespace": {"type": "string", "pattern": "^[A-Za-z0-9]+$"},
    "snapshot_id": {"type": "string", "minLength": 1},
    "created_at": {"type": "string", "format": "date-time"},
    "description": {"type": "string"},
    "documents": {
      "type": "array",
      "items": {"type": "string", "minLength": 1}
    }
  }
}`
)

// compiled caches compiled schemas keyed by their source text.
var compiled sync.Map // map[string]*gojsonschema.Schema

func compile(schemaJSON string) (*gojsonschema.Schema, error) {
	if s, ok := compiled.Load(schemaJSON); ok {
		return s.(*gojsonschema.Schema), nil
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("invalid schema definition: %w", err)
	}
	compiled.Store(schemaJSON, s)
	return s, nil
}

// Validate checks a raw JSON document against a JSON Schema. record names
// the kind of document in error messages. Malformed JSON is reported as a
// validation failure.
func Validate(schemaJSON, record string, data []byte) error {
	s, err := compile(schemaJSON)
	if err != nil {
		return err
	}
	result, err := s.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return &ValidationError{Record: record, Problems: []string{err.Error()}}
	}
	if result.Valid() {
		return nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return &ValidationError{Record: record, Problems: problems}
}

// ValidateNamespace checks a namespace marker record.
func ValidateNamespace(data []byte) error {
	return Validate(NamespaceSchema, "namespace", data)
}

// ValidateDocumentSet checks a live document set record.
func ValidateDocumentSet(data []byte) error {
	return Validate(DocumentSetSchema, "document set", data)
}

// ValidateSnapshot checks a snapshot record.
func ValidateSnapshot(data []byte) error {
	return Validate(SnapshotSchema, "snapshot", data)
}

// ValidateBundle checks a decompressed archive bundle.
func ValidateBundle(data []byte) error {
	return Validate(BundleSchema, "bundle", data)
}
