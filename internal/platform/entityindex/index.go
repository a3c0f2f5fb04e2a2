// Package entityindex loads the low-code platform's OpenAPI document and
// indexes the entity schemas it exposes, providing entity and attribute
// lookups for referential validation and submission payload checks.
package entityindex

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// Entity describes one platform entity: its name and the attributes its
// schema declares.
type Entity struct {
	Name       string
	Attributes map[string]Attribute
	Required   []string
}

// Attribute describes a single entity attribute.
type Attribute struct {
	Name     string
	Type     string
	Format   string
	Nullable bool
}

// Index is an in-memory index of platform entities keyed by entity name.
type Index struct {
	entities map[string]Entity
}

// NewIndex creates an empty entity index.
func NewIndex() *Index {
	return &Index{entities: make(map[string]Entity)}
}

// LoadFile parses the platform's OpenAPI document from disk and indexes
// every component schema as an entity.
func (idx *Index) LoadFile(specPath string) error {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromFile(specPath)
	if err != nil {
		return fmt.Errorf("entityindex: loading %s: %w", specPath, err)
	}
	return idx.loadDoc(doc)
}

// LoadData parses an in-memory OpenAPI document, used by tests and by
// deployments that fetch the platform spec over HTTP.
func (idx *Index) LoadData(data []byte) error {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromData(data)
	if err != nil {
		return fmt.Errorf("entityindex: parsing spec: %w", err)
	}
	return idx.loadDoc(doc)
}

func (idx *Index) loadDoc(doc *openapi3.T) error {
	if err := doc.Validate(context.Background()); err != nil {
		return fmt.Errorf("entityindex: validating spec: %w", err)
	}

	if doc.Components == nil {
		return nil
	}

	for name, ref := range doc.Components.Schemas {
		schema := ref.Value
		if schema == nil || !schema.Type.Is("object") {
			continue
		}

		entity := Entity{
			Name:       name,
			Attributes: make(map[string]Attribute, len(schema.Properties)),
			Required:   append([]string(nil), schema.Required...),
		}
		for attrName, attrRef := range schema.Properties {
			attr := Attribute{Name: attrName}
			if attrRef.Value != nil {
				if attrRef.Value.Type != nil && len(attrRef.Value.Type.Slice()) > 0 {
					attr.Type = attrRef.Value.Type.Slice()[0]
				}
				attr.Format = attrRef.Value.Format
				attr.Nullable = attrRef.Value.Nullable
			}
			entity.Attributes[attrName] = attr
		}
		sort.Strings(entity.Required)

		idx.entities[canonical(name)] = entity
	}

	return nil
}

// Entity names on the wire arrive in a few spellings (PastPerformance,
// past_performance, past-performance). Lookups fold case and separators.
func canonical(name string) string {
	s := strings.ToLower(name)
	s = strings.ReplaceAll(s, "_", "")
	s = strings.ReplaceAll(s, "-", "")
	return s
}

// HasEntity reports whether the platform exposes an entity with the given name.
func (idx *Index) HasEntity(name string) bool {
	_, ok := idx.entities[canonical(name)]
	return ok
}

// GetEntity returns the entity with the given name.
func (idx *Index) GetEntity(name string) (Entity, bool) {
	e, ok := idx.entities[canonical(name)]
	return e, ok
}

// HasAttribute reports whether the named entity declares the named attribute.
// Unknown entities report false.
func (idx *Index) HasAttribute(entity, attribute string) bool {
	e, ok := idx.entities[canonical(entity)]
	if !ok {
		return false
	}
	_, ok = e.Attributes[attribute]
	return ok
}

// EntityNames returns the names of all indexed entities, sorted.
func (idx *Index) EntityNames() []string {
	names := make([]string, 0, len(idx.entities))
	for _, e := range idx.entities {
		names = append(names, e.Name)
	}
	sort.Strings(names)
	return names
}

// AttributeNames returns the attribute names of the given entity, sorted.
func (idx *Index) AttributeNames(entity string) []string {
	e, ok := idx.entities[canonical(entity)]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(e.Attributes))
	for n := range e.Attributes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// MissingRequired returns the required attributes of the entity absent from
// the given payload. Unknown entities return nil.
func (idx *Index) MissingRequired(entity string, payload map[string]any) []string {
	e, ok := idx.entities[canonical(entity)]
	if !ok {
		return nil
	}
	var missing []string
	for _, req := range e.Required {
		if _, exists := payload[req]; !exists {
			missing = append(missing, req)
		}
	}
	return missing
}
