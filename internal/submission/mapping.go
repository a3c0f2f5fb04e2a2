// Package submission executes a submitted form against its modal
// configuration: input validation, operation condition evaluation, mapping
// resolution, entity writes, and the peripheral effects (webhooks, emails,
// status updates).
package submission

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/proposehq/formbff/model"
)

// MappingResolver resolves field-mapping source expressions against the
// submitted values and the request context.
type MappingResolver struct {
	Values  map[string]any
	Context *model.RequestContext
}

// Resolve evaluates one mapping source and returns the resolved value.
// Supported sources:
//   - field.field_id           — a submitted field value
//   - field.address.city       — nested access into an object value
//   - context.user.id          — request context attribute or claim path
//   - 'literal'                — single-quoted literal string
//   - 123 / 99.99              — numeric literal
//   - anything else            — taken as a bare field id, then as a
//     literal string if no such field was submitted
func (r *MappingResolver) Resolve(source string) (any, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("empty mapping source")
	}

	if len(source) >= 2 && source[0] == '\'' && source[len(source)-1] == '\'' {
		return source[1 : len(source)-1], nil
	}

	if isNumericLiteral(source) {
		return parseNumeric(source)
	}

	if path, ok := strings.CutPrefix(source, "field."); ok {
		if path == "" {
			return nil, fmt.Errorf("invalid mapping source %q: empty field path", source)
		}
		val := navigatePath(r.Values, path)
		if val == nil {
			return nil, fmt.Errorf("field %q was not submitted", path)
		}
		return val, nil
	}

	if path, ok := strings.CutPrefix(source, "context."); ok {
		if r.Context == nil {
			return nil, fmt.Errorf("no request context to resolve %q", source)
		}
		val, ok := r.Context.Lookup(path)
		if !ok {
			return nil, fmt.Errorf("context attribute %q not found", path)
		}
		return val, nil
	}

	// Bare field reference, the spelling builder documents mostly use.
	if val := navigatePath(r.Values, source); val != nil {
		return val, nil
	}
	return source, nil
}

// ResolveMappings resolves a full fieldMappings block into an entity
// payload. Sources that fail to resolve are reported together.
func (r *MappingResolver) ResolveMappings(mappings map[string]string) (map[string]any, error) {
	payload := make(map[string]any, len(mappings))
	var failed []string
	for attribute, source := range mappings {
		val, err := r.Resolve(source)
		if err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", attribute, err))
			continue
		}
		payload[attribute] = val
	}
	if len(failed) > 0 {
		return nil, fmt.Errorf("unresolvable mappings: %s", strings.Join(failed, "; "))
	}
	return payload, nil
}

// ResolveRecordID resolves an update operation's target record ID.
func (r *MappingResolver) ResolveRecordID(res *model.IDResolution) (string, error) {
	if !res.Complete() {
		return "", fmt.Errorf("id resolution is not fully specified")
	}
	switch res.Method {
	case model.ResolveByField:
		val := navigatePath(r.Values, res.FieldID)
		if val == nil {
			return "", fmt.Errorf("id field %q was not submitted", res.FieldID)
		}
		id := stringifyID(val)
		if id == "" {
			return "", fmt.Errorf("id field %q resolved to an empty id", res.FieldID)
		}
		return id, nil
	case model.ResolveByContext:
		if r.Context == nil {
			return "", fmt.Errorf("no request context to resolve %q", res.ContextPath)
		}
		val, ok := r.Context.Lookup(res.ContextPath)
		if !ok {
			return "", fmt.Errorf("context attribute %q not found", res.ContextPath)
		}
		id := stringifyID(val)
		if id == "" {
			return "", fmt.Errorf("context attribute %q resolved to an empty id", res.ContextPath)
		}
		return id, nil
	}
	return "", fmt.Errorf("unknown id resolution method %q", res.Method)
}

func stringifyID(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}

// navigatePath navigates a dot-separated path through nested maps.
func navigatePath(data map[string]any, path string) any {
	parts := strings.Split(path, ".")
	var current any = data
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}

// isNumericLiteral returns true if the string looks like a number.
func isNumericLiteral(s string) bool {
	if len(s) == 0 {
		return false
	}
	start := 0
	if s[0] == '-' || s[0] == '+' {
		start = 1
		if start >= len(s) {
			return false
		}
	}
	hasDot := false
	for i := start; i < len(s); i++ {
		if s[i] == '.' {
			if hasDot {
				return false
			}
			hasDot = true
		} else if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// parseNumeric parses a numeric string literal.
func parseNumeric(s string) (any, error) {
	if strings.ContainsRune(s, '.') {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid numeric literal %q: %w", s, err)
		}
		return v, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid numeric literal %q: %w", s, err)
	}
	return v, nil
}
