package extract

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema is a named JSON schema used both to request structured output
// and to validate what comes back.
type Schema struct {
	Name     string
	Def      map[string]any
	compiled *jsonschema.Schema
}

// NewSchema compiles def.
func NewSchema(name string, def map[string]any) (*Schema, error) {
	raw, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("encode schema %s: %w", name, err)
	}
	compiler := jsonschema.NewCompiler()
	url := name + ".json"
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("load schema %s: %w", name, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &Schema{Name: name, Def: def, compiled: compiled}, nil
}

func mustSchema(name string, def map[string]any) *Schema {
	s, err := NewSchema(name, def)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks payload against the schema.
func (s *Schema) Validate(payload json.RawMessage) error {
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("decode %s payload: %w", s.Name, err)
	}
	if err := s.compiled.Validate(doc); err != nil {
		return fmt.Errorf("%s payload does not match schema: %w", s.Name, err)
	}
	return nil
}

// JSON returns the schema definition as indented JSON, for prompts.
func (s *Schema) JSON() string {
	b, _ := json.MarshalIndent(s.Def, "", "  ")
	return string(b)
}

func object(required []string, props map[string]any) map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

var (
	str     = map[string]any{"type": "string"}
	boolean = map[string]any{"type": "boolean"}
)

// MetadataSchema describes title/authors/year/summary extraction.
var MetadataSchema = mustSchema("document_metadata", object(
	[]string{"title", "authors", "year", "summary"},
	map[string]any{
		"title":   str,
		"authors": map[string]any{"type": "array", "items": str},
		"year":    str,
		"summary": str,
	},
))

// SectionAnalysisSchema describes one section's relevance flags.
var SectionAnalysisSchema = mustSchema("section_analysis", object(
	[]string{"has_context", "context", "has_theme", "theme", "has_keyword", "keyword",
		"has_similar_keyword", "similar_keyword"},
	map[string]any{
		"has_context":         boolean,
		"context":             str,
		"has_theme":           boolean,
		"theme":               str,
		"has_keyword":         boolean,
		"keyword":             str,
		"has_similar_keyword": boolean,
		"similar_keyword":     str,
	},
))

// SummaryRelevanceSchema describes the whole-summary relevance check.
var SummaryRelevanceSchema = mustSchema("summary_relevance", object(
	[]string{"is_relevant", "reason"},
	map[string]any{
		"is_relevant": boolean,
		"reason":      str,
	},
))
