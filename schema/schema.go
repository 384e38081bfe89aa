// Package schema provides the JSON Schema registry used to validate database items.
//
// Schemas are YAML documents named after the type they describe (Language.yml,
// DatabaseLexeme.yml, ...). Each is registered under the identifier returned by
// [ID] and compiled once; a compiled [Registry] is read-only and safe for
// concurrent use.
package schema

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// BaseURL prefixes every schema identifier.
const BaseURL = "https://schemas.digitallinguistics.io/"

// ErrUnknownSchema is returned when validating against an unregistered schema ID.
var ErrUnknownSchema = errors.New("schema: unknown schema")

//go:embed schemas/*.yml
var embedded embed.FS

// ID returns the schema identifier for a schema name (e.g. "DatabaseLexeme").
func ID(name string) string {
	return BaseURL + name + ".json"
}

// Violation describes one way a document fails its schema.
type Violation struct {
	// InstancePath is a JSON pointer into the document ("" for the root).
	InstancePath string

	// Keyword is the failing schema keyword (e.g. "required", "invalid_type").
	Keyword string

	// Message is a human-readable description.
	Message string

	// Property is the missing property for "required" violations.
	Property string

	// Params carries keyword-specific details.
	Params map[string]any
}

// Registry holds compiled schemas keyed by schema ID.
type Registry struct {
	schemas map[string]*gojsonschema.Schema
}

// NewRegistry compiles schema documents keyed by schema name.
func NewRegistry(docs map[string]map[string]any) (*Registry, error) {
	r := &Registry{schemas: make(map[string]*gojsonschema.Schema, len(docs))}
	for name, doc := range docs {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(doc))
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		r.schemas[ID(name)] = compiled
	}
	return r, nil
}

// Load reads every *.yml file in dir of fsys and compiles it into a Registry.
// The file's base name (without extension) is the schema name.
func Load(fsys fs.FS, dir string) (*Registry, error) {
	matches, err := fs.Glob(fsys, path.Join(dir, "*.yml"))
	if err != nil {
		return nil, err
	}

	docs := make(map[string]map[string]any, len(matches))
	for _, file := range matches {
		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		var doc map[string]any
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
		docs[strings.TrimSuffix(path.Base(file), ".yml")] = doc
	}

	return NewRegistry(docs)
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the registry built from the embedded schemas.
// It panics if an embedded schema fails to compile.
func Default() *Registry {
	defaultOnce.Do(func() {
		r, err := Load(embedded, "schemas")
		if err != nil {
			panic(fmt.Sprintf("schema: embedded schemas: %v", err))
		}
		defaultRegistry = r
	})
	return defaultRegistry
}

// Has reports whether a schema is registered under id.
func (r *Registry) Has(id string) bool {
	_, ok := r.schemas[id]
	return ok
}

// IDs returns the registered schema IDs in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.schemas))
	for id := range r.schemas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Validate checks doc against the schema registered under schemaID.
// It returns no violations when doc is valid.
func (r *Registry) Validate(schemaID string, doc any) ([]Violation, error) {
	compiled, ok := r.schemas[schemaID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSchema, schemaID)
	}

	result, err := compiled.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("validate against %s: %w", schemaID, err)
	}
	if result.Valid() {
		return nil, nil
	}

	violations := make([]Violation, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		violations = append(violations, toViolation(e))
	}
	return violations, nil
}

func toViolation(e gojsonschema.ResultError) Violation {
	v := Violation{
		InstancePath: instancePath(e.Context()),
		Keyword:      e.Type(),
		Message:      e.Description(),
		Params:       map[string]any(e.Details()),
	}
	if e.Type() == "required" {
		if p, ok := e.Details()["property"].(string); ok {
			v.Property = p
		}
	}
	return v
}

// instancePath converts a gojsonschema context ("(root).language.id") to a
// JSON pointer ("/language/id").
func instancePath(ctx *gojsonschema.JsonContext) string {
	if ctx == nil {
		return ""
	}
	p := strings.TrimPrefix(ctx.String("/"), gojsonschema.STRING_CONTEXT_ROOT)
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
