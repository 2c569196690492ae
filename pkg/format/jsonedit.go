package format

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/tailscale/hujson"
)

// Standardize strips comments and trailing commas so encoding/json accepts
// the input. data is not modified.
func Standardize(data []byte) ([]byte, error) {
	return hujson.Standardize(append([]byte(nil), data...))
}

// Text renders a JSON value the way it appears inside a packed
// description: strings unquoted, everything else as compact JSON.
func Text(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	v, err := hujson.Parse(raw)
	if err != nil {
		return string(raw)
	}
	return valueText(v)
}

func valueText(v hujson.Value) string {
	if lit, ok := v.Value.(hujson.Literal); ok {
		if lit.Kind() == '"' {
			return lit.String()
		}
		return string(lit)
	}
	c := v.Clone()
	c.Minimize()
	return string(c.Pack())
}

// FirstMember returns the first key of a JSON object in document order
// together with the text of its value.
func FirstMember(raw json.RawMessage) (key, value string, ok bool) {
	if len(raw) == 0 {
		return "", "", false
	}
	v, err := hujson.Parse(raw)
	if err != nil {
		return "", "", false
	}
	obj, isObj := v.Value.(*hujson.Object)
	if !isObj || len(obj.Members) == 0 {
		return "", "", false
	}
	m := obj.Members[0]
	return valueText(m.Name), valueText(m.Value), true
}

// RenumberID sets the "id" member of a JSON object to id, leaving every
// other member and their order untouched.
func RenumberID(raw json.RawMessage, id int) (json.RawMessage, error) {
	v, err := hujson.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	if _, isObj := v.Value.(*hujson.Object); !isObj {
		return nil, fmt.Errorf("%w: entry is not an object", ErrSchemaMismatch)
	}
	op := "add"
	if v.Find("/id") != nil {
		op = "replace"
	}
	patch := `[{"op":"` + op + `","path":"/id","value":` + strconv.Itoa(id) + `}]`
	if err := v.Patch([]byte(patch)); err != nil {
		return nil, fmt.Errorf("failed to renumber entry: %w", err)
	}
	return json.RawMessage(v.Pack()), nil
}

// MergeMembers appends the members of extra that obj does not already
// define. Added keys follow in sorted order.
func MergeMembers(obj json.RawMessage, extra map[string]json.RawMessage) (json.RawMessage, error) {
	if len(extra) == 0 {
		return obj, nil
	}
	v, err := hujson.Parse(obj)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	o, isObj := v.Value.(*hujson.Object)
	if !isObj {
		return nil, fmt.Errorf("%w: entry is not an object", ErrSchemaMismatch)
	}

	present := make(map[string]bool, len(o.Members))
	for _, m := range o.Members {
		present[valueText(m.Name)] = true
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		if !present[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		ev, err := hujson.Parse(extra[k])
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrMalformedJSON, k, err)
		}
		o.Members = append(o.Members, hujson.ObjectMember{
			Name:  hujson.Value{Value: hujson.String(k)},
			Value: ev,
		})
	}
	return json.RawMessage(v.Pack()), nil
}

// Members decodes a JSON object into its raw members
func Members(raw json.RawMessage) (map[string]json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := Decode(raw, &m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%w: entry is not an object", ErrSchemaMismatch)
	}
	return m, nil
}

// Unknown collects the members of entry whose keys are not listed in known
func Unknown(entry map[string]json.RawMessage, known ...string) map[string]any {
	skip := make(map[string]bool, len(known))
	for _, k := range known {
		skip[k] = true
	}
	out := map[string]any{}
	for k, v := range entry {
		if !skip[k] {
			out[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

// OtherData converts a shape's passthrough map back into raw members. Values
// that are not already raw JSON are marshaled.
func OtherData(data map[string]any) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(data))
	for k, v := range data {
		if raw, ok := v.(json.RawMessage); ok {
			out[k] = raw
			continue
		}
		b, err := marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode field %q: %w", k, err)
		}
		out[k] = b
	}
	return out, nil
}

// marshal is json.Marshal without HTML escaping
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
