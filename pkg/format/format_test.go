package format

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDescriptionRoundTrip(t *testing.T) {
	desc := PackDescription("color", "#46780C", "solid")
	if desc != "color+#46780C+solid" {
		t.Fatalf("PackDescription() = %q", desc)
	}
	fields, exact := UnpackDescription(desc, 3)
	if !exact {
		t.Error("expected exact field count")
	}
	if diff := cmp.Diff([]string{"color", "#46780C", "solid"}, fields); diff != "" {
		t.Errorf("UnpackDescription() mismatch (-want +got):\n%s", diff)
	}
}

func TestDescriptionDelimiterInValue(t *testing.T) {
	// a value holding the delimiter shifts the following fields
	desc := PackDescription("note", "a+b", "dashed")
	fields, exact := UnpackDescription(desc, 3)
	if exact {
		t.Error("four parts must not count as an exact three-field description")
	}
	if diff := cmp.Diff([]string{"note", "a", "b"}, fields); diff != "" {
		t.Errorf("UnpackDescription() mismatch (-want +got):\n%s", diff)
	}
}

func TestUnpackDescriptionPads(t *testing.T) {
	fields, exact := UnpackDescription("", 5)
	if exact {
		t.Error("empty description is not a five-field description")
	}
	if len(fields) != 5 || fields[0] != "" || fields[4] != "" {
		t.Errorf("unexpected fields %q", fields)
	}
}

func TestFirstMemberDocumentOrder(t *testing.T) {
	key, value, ok := FirstMember(json.RawMessage(`{"zeta": "#FFFFFF", "alpha": 3}`))
	if !ok || key != "zeta" || value != "#FFFFFF" {
		t.Errorf("FirstMember() = %q,%q,%v", key, value, ok)
	}

	key, value, ok = FirstMember(json.RawMessage(`{"n": 12.5}`))
	if !ok || key != "n" || value != "12.5" {
		t.Errorf("FirstMember() = %q,%q,%v", key, value, ok)
	}

	if _, _, ok := FirstMember(json.RawMessage(`{}`)); ok {
		t.Error("empty object has no first member")
	}
}

func TestText(t *testing.T) {
	tests := map[string]string{
		`"abc"`:       "abc",
		`17`:          "17",
		`true`:        "true",
		`{"a": [1 ]}`: `{"a":[1]}`,
		``:            "",
	}
	for in, want := range tests {
		if got := Text(json.RawMessage(in)); got != want {
			t.Errorf("Text(%s) = %q, want %q", in, got, want)
		}
	}
}

func TestRenumberIDKeepsOrder(t *testing.T) {
	raw := json.RawMessage(`{"category":{"type":"Unknown_type"},"id":9,"extra":[1,2]}`)
	out, err := RenumberID(raw, 2)
	if err != nil {
		t.Fatalf("RenumberID() error = %v", err)
	}
	var got, want any
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatal(err)
	}
	_ = json.Unmarshal([]byte(`{"category":{"type":"Unknown_type"},"id":2,"extra":[1,2]}`), &want)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("RenumberID() mismatch (-want +got):\n%s", diff)
	}

	key, _, _ := FirstMember(out)
	if key != "category" {
		t.Errorf("member order changed, first key is %q", key)
	}
}

func TestRenumberIDAddsMissingID(t *testing.T) {
	out, err := RenumberID(json.RawMessage(`{"a":1}`), 5)
	if err != nil {
		t.Fatal(err)
	}
	m, err := Members(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(m["id"]) != "5" {
		t.Errorf("id = %s, want 5", m["id"])
	}
}

func TestRenumberIDRejectsNonObject(t *testing.T) {
	if _, err := RenumberID(json.RawMessage(`[1]`), 1); !errors.Is(err, ErrSchemaMismatch) {
		t.Errorf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestMergeMembers(t *testing.T) {
	out, err := MergeMembers(json.RawMessage(`{"id":1}`), map[string]json.RawMessage{
		"trackId": json.RawMessage(`"t-7"`),
		"id":      json.RawMessage(`99`),
		"score":   json.RawMessage(`0.5`),
	})
	if err != nil {
		t.Fatal(err)
	}
	m, err := Members(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(m["id"]) != "1" {
		t.Errorf("existing member overwritten: %s", m["id"])
	}
	if string(m["trackId"]) != `"t-7"` || string(m["score"]) != "0.5" {
		t.Errorf("unexpected merge result %s", out)
	}
}

func TestDecodeEnvelope(t *testing.T) {
	entries, err := DecodeEnvelope([]byte(`{"anno":[{"id":1},{"id":2},], // trailing comma
	}`))
	if err != nil {
		t.Fatalf("DecodeEnvelope() error = %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("got %d entries, want 2", len(entries))
	}

	if _, err := DecodeEnvelope([]byte(`{"shapes":[]}`)); !errors.Is(err, ErrSchemaMismatch) {
		t.Errorf("expected ErrSchemaMismatch, got %v", err)
	}
	if _, err := DecodeEnvelope([]byte(`{"anno":`)); !errors.Is(err, ErrMalformedJSON) {
		t.Errorf("expected ErrMalformedJSON, got %v", err)
	}
}

func TestReadFileNotFound(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "missing.json"))
	if !errors.Is(err, ErrFileNotFound) {
		t.Errorf("expected ErrFileNotFound, got %v", err)
	}
}

func TestEnvelopeMarshal(t *testing.T) {
	env := NewEnvelope(896, 896)
	out, err := env.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	want := "{\n  \"anno\": [],\n  \"index\": \"\",\n  \"publicAttrs\": {\n    \"fileHeight\": 896,\n    \"fileWidth\": 896\n  },\n  \"version\": \"7.0\"\n}\n"
	if diff := cmp.Diff(want, string(out)); diff != "" {
		t.Errorf("Marshal() mismatch (-want +got):\n%s", diff)
	}
}
