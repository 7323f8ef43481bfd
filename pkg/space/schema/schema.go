// Package schema implements C2: parsing and strict validation of project
// manifests, space manifests, lock files and dist-tags files, and
// deterministic serialization.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	"github.com/pelletier/go-toml/v2"
	"github.com/xeipuuv/gojsonschema"

	"asp/pkg/space"
	"asp/pkg/space/ref"
)

var spaceIdPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// ParseSpaceManifest parses and validates a space.toml document.
func ParseSpaceManifest(source string, data []byte) (*space.Manifest, error) {
	var m space.Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, &space.ParseError{Source: source, Message: err.Error()}
	}

	// go-toml/v2 does not decode unmapped tables into arbitrary fields, so
	// per-harness extension tables ([claude], [codex], ...) are recovered
	// from a generic decode and sliced out of the known top-level keys.
	var generic map[string]interface{}
	if err := toml.Unmarshal(data, &generic); err == nil {
		m.Harness = extractHarnessTables(generic)
	}

	if err := ValidateSpaceManifest(source, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

var knownManifestTables = map[string]bool{
	"schema": true, "id": true, "version": true, "description": true,
	"plugin": true, "deps": true, "settings": true, "permissions": true,
}

func extractHarnessTables(generic map[string]interface{}) map[string]map[string]interface{} {
	var harness map[string]map[string]interface{}
	for key, val := range generic {
		if knownManifestTables[key] {
			continue
		}
		table, ok := val.(map[string]interface{})
		if !ok {
			continue
		}
		if harness == nil {
			harness = make(map[string]map[string]interface{})
		}
		harness[key] = table
	}
	return harness
}

// ValidateSpaceManifest checks structural invariants spec.md §8 property 12
// requires: schema version, id pattern, and that every deps.spaces entry
// parses as a ref (ref.Parse).
func ValidateSpaceManifest(source string, m *space.Manifest) error {
	var issues []space.ValidationIssue

	if m.Schema != 1 {
		issues = append(issues, space.ValidationIssue{Path: "schema", Message: "unsupported schema version", Keyword: "const"})
	}
	if m.Id == "" || !spaceIdPattern.MatchString(string(m.Id)) {
		issues = append(issues, space.ValidationIssue{Path: "id", Message: "must be lowercase kebab-case", Keyword: "pattern"})
	}
	for i, dep := range m.Deps.Spaces {
		if _, err := ref.Parse(dep); err != nil {
			issues = append(issues, space.ValidationIssue{Path: fmt.Sprintf("deps.spaces[%d]", i), Message: err.Error(), Keyword: "format"})
		}
	}

	if len(issues) > 0 {
		return &space.ValidationError{Source: source, Errors: issues}
	}
	return nil
}

// ParseProjectManifest parses and validates an asp-targets.toml document.
func ParseProjectManifest(source string, data []byte) (*space.ProjectManifest, error) {
	var pm space.ProjectManifest
	if err := toml.Unmarshal(data, &pm); err != nil {
		return nil, &space.ParseError{Source: source, Message: err.Error()}
	}

	var issues []space.ValidationIssue
	if pm.Schema != 1 {
		issues = append(issues, space.ValidationIssue{Path: "schema", Message: "unsupported schema version", Keyword: "const"})
	}
	for name, t := range pm.Targets {
		if len(t.Compose) == 0 {
			issues = append(issues, space.ValidationIssue{
				Path:    fmt.Sprintf("targets.%s.compose", name),
				Message: "target must compose at least one space",
				Keyword: "minItems",
			})
		}
	}
	if len(issues) > 0 {
		return nil, &space.ValidationError{Source: source, Errors: issues}
	}
	return &pm, nil
}

// ParseDistTags parses registry/dist-tags.json.
func ParseDistTags(source string, data []byte) (space.DistTagsFile, error) {
	var dt space.DistTagsFile
	if err := json.Unmarshal(data, &dt); err != nil {
		return nil, &space.ParseError{Source: source, Message: err.Error()}
	}
	return dt, nil
}

// lockFileSchema is the JSON Schema asp-lock.json is validated against,
// beyond the struct decode: it catches shape errors (wrong types, missing
// required keys) a Go decode silently zero-values.
const lockFileSchema = `{
  "type": "object",
  "required": ["lockfileVersion", "resolverVersion", "generatedAt", "registry", "spaces", "targets"],
  "properties": {
    "lockfileVersion": {"type": "integer"},
    "resolverVersion": {"type": "integer"},
    "generatedAt": {"type": "string"},
    "registry": {
      "type": "object",
      "required": ["type", "url"],
      "properties": {
        "type": {"type": "string"},
        "url": {"type": "string"}
      }
    },
    "spaces": {"type": "object"},
    "targets": {"type": "object"}
  }
}`

var compiledLockSchema *gojsonschema.Schema

func lockSchema() (*gojsonschema.Schema, error) {
	if compiledLockSchema != nil {
		return compiledLockSchema, nil
	}
	loader := gojsonschema.NewStringLoader(lockFileSchema)
	schema, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, fmt.Errorf("compile lock file schema: %w", err)
	}
	compiledLockSchema = schema
	return schema, nil
}

// ParseLockFile parses and strictly validates asp-lock.json against its
// JSON Schema, then decodes it into the typed LockFile struct.
func ParseLockFile(source string, data []byte) (*space.LockFile, error) {
	sch, err := lockSchema()
	if err != nil {
		return nil, err
	}

	result, err := sch.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, &space.ParseError{Source: source, Message: err.Error()}
	}
	if !result.Valid() {
		var issues []space.ValidationIssue
		for _, re := range result.Errors() {
			issues = append(issues, space.ValidationIssue{
				Path:    re.Field(),
				Message: re.Description(),
				Keyword: re.Type(),
			})
		}
		return nil, &space.ValidationError{Source: source, Errors: issues}
	}

	var lf space.LockFile
	if err := json.Unmarshal(data, &lf); err != nil {
		return nil, &space.ParseError{Source: source, Message: err.Error()}
	}

	if err := ValidateLockFile(source, &lf); err != nil {
		return nil, err
	}
	return &lf, nil
}

// ValidateLockFile checks the cross-reference invariant spec.md §8 property
// 12 names: every loadOrder entry in every target must exist in spaces
// (error E031).
func ValidateLockFile(source string, lf *space.LockFile) error {
	var issues []space.ValidationIssue
	for targetName, te := range lf.Targets {
		for _, key := range te.LoadOrder {
			if _, ok := lf.Spaces[key]; !ok {
				issues = append(issues, space.ValidationIssue{
					Path:    fmt.Sprintf("targets.%s.loadOrder", targetName),
					Message: fmt.Sprintf("E031: loadOrder references unknown space key %q", key),
					Keyword: "E031",
				})
			}
		}
	}
	if len(issues) > 0 {
		return &space.ValidationError{Source: source, Errors: issues}
	}
	return nil
}

// MarshalJSONStable serializes v to JSON with stable (sorted) object key
// order, two-space indent, and a trailing newline, matching spec.md §4.2's
// diff-friendly output rule.
func MarshalJSONStable(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := encodeStable(&buf, generic, ""); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func encodeStable(buf *bytes.Buffer, v interface{}, indent string) error {
	switch val := v.(type) {
	case map[string]interface{}:
		if len(val) == 0 {
			buf.WriteString("{}")
			return nil
		}
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		childIndent := indent + "  "
		buf.WriteString("{\n")
		for i, k := range keys {
			buf.WriteString(childIndent)
			keyJSON, _ := json.Marshal(k)
			buf.Write(keyJSON)
			buf.WriteString(": ")
			if err := encodeStable(buf, val[k], childIndent); err != nil {
				return err
			}
			if i < len(keys)-1 {
				buf.WriteByte(',')
			}
			buf.WriteByte('\n')
		}
		buf.WriteString(indent + "}")
		return nil

	case []interface{}:
		if len(val) == 0 {
			buf.WriteString("[]")
			return nil
		}
		childIndent := indent + "  "
		buf.WriteString("[\n")
		for i, item := range val {
			buf.WriteString(childIndent)
			if err := encodeStable(buf, item, childIndent); err != nil {
				return err
			}
			if i < len(val)-1 {
				buf.WriteByte(',')
			}
			buf.WriteByte('\n')
		}
		buf.WriteString(indent + "]")
		return nil

	default:
		leaf, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(leaf)
		return nil
	}
}

// MarshalTOMLStable serializes v to TOML. go-toml/v2 already emits maps in
// sorted-key order, so this is a thin wrapper kept for symmetry with
// MarshalJSONStable; no code in this module calls it.
func MarshalTOMLStable(v interface{}) ([]byte, error) {
	return toml.Marshal(v)
}
