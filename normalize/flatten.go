// Package normalize flattens nested flight records into a single-level key
// space and derives a column schema from a batch of them.
package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// DefaultSeparator joins parent and child keys.
const DefaultSeparator = "__"

// NaturalKey is the composite key of a stored flight, as nested paths.
var NaturalKey = [][]string{
	{"flight", "iata"},
	{"departure", "iata"},
	{"departure", "scheduled"},
	{"arrival", "iata"},
}

// KeyFields returns the flattened names of the natural key fields.
func KeyFields(sep string) []string {
	fields := make([]string, len(NaturalKey))
	for i, path := range NaturalKey {
		fields[i] = strings.Join(path, sep)
	}
	return fields
}

// Flatten joins nested object keys with sep until no nested object remains.
// Leaves, lists included, are kept as they are. An empty nested object has
// no leaves and so contributes no keys.
func Flatten(record map[string]any, sep string) map[string]any {
	out := make(map[string]any, len(record))
	flattenInto(out, "", record, sep)
	return out
}

func flattenInto(out map[string]any, prefix string, record map[string]any, sep string) {
	for key, val := range record {
		name := key
		if prefix != "" {
			name = prefix + sep + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenInto(out, name, nested, sep)
			continue
		}
		out[name] = val
	}
}

// Record is one decoded flight: the raw JSON and its flattened form.
type Record struct {
	Raw  json.RawMessage
	Flat map[string]any
}

// Decode parses one flight object. Numbers are kept as json.Number so that
// integers such as delays survive unchanged.
func Decode(raw json.RawMessage, sep string) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var nested map[string]any
	if err := dec.Decode(&nested); err != nil {
		return Record{}, fmt.Errorf("normalize: decode record: %w", err)
	}
	if nested == nil {
		return Record{}, fmt.Errorf("normalize: record is not an object")
	}
	return Record{Raw: raw, Flat: Flatten(nested, sep)}, nil
}

// MissingKeyFields lists the natural key fields that are absent, null or empty.
func (r Record) MissingKeyFields(sep string) []string {
	var missing []string
	for _, field := range KeyFields(sep) {
		v, ok := r.Flat[field]
		if !ok || v == nil {
			missing = append(missing, field)
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			missing = append(missing, field)
		}
	}
	return missing
}

// HasNaturalKey reports whether every natural key field has a value.
func (r Record) HasNaturalKey(sep string) bool {
	return len(r.MissingKeyFields(sep)) == 0
}

// DeriveSchema returns the sorted set of keys seen in any record, minus keys
// that are a sep-joined prefix of another key. That happens when a field is
// null in one record and an object in another, e.g. "aircraft" next to
// "aircraft__iata"; only the nested form is kept.
func DeriveSchema(records []map[string]any, sep string) []string {
	seen := make(map[string]struct{})
	for _, r := range records {
		for k := range r {
			seen[k] = struct{}{}
		}
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	schema := make([]string, 0, len(keys))
	for i, k := range keys {
		if isParentKey(k, keys[i+1:], sep) {
			continue
		}
		schema = append(schema, k)
	}
	return schema
}

// isParentKey relies on sorted order: any key with k+sep as prefix sorts after k.
func isParentKey(k string, after []string, sep string) bool {
	prefix := k + sep
	for _, other := range after {
		if strings.HasPrefix(other, prefix) {
			return true
		}
	}
	return false
}

// Schema derives the schema of a batch of decoded records.
func Schema(records []Record, sep string) []string {
	flat := make([]map[string]any, len(records))
	for i, r := range records {
		flat[i] = r.Flat
	}
	return DeriveSchema(flat, sep)
}
