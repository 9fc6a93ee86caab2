package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"empty string", "", `""`},
		{"int", 42, "42"},
		{"int64", int64(-100), "-100"},
		{"number", json.Number("9223372036854775807"), "9223372036854775807"},
		{"bool true", true, "true"},
		{"bool false", false, "false"},
		{"null", nil, "null"},
		{"empty array", []any{}, "[]"},
		{"empty object", map[string]any{}, "{}"},
		{"array of ints", []any{1, 2, 3}, "[1,2,3]"},
		{"simple object", map[string]any{"a": 1}, `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	obj := map[string]any{
		"zebra": 1,
		"alpha": 2,
		"beta":  map[string]any{"b": 1, "a": 2},
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"beta":{"a":2,"b":1},"zebra":1}`, string(result))
}

func TestMarshalCanonicalUTF16Ordering(t *testing.T) {
	// U+10000 encodes as a surrogate pair starting 0xD800, which sorts
	// before U+E000 in UTF-16 even though UTF-8 orders them the other way.
	obj := map[string]any{
		"\uE000":     1,
		"\U00010000": 2,
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U00010000\":2,\"\uE000\":1}", string(result))
}

func TestMarshalCanonicalNoHTMLEscape(t *testing.T) {
	result, err := MarshalCanonical("<a&b>")
	require.NoError(t, err)
	assert.Equal(t, `"<a&b>"`, string(result))
}

func TestMarshalCanonicalEscapes(t *testing.T) {
	result, err := MarshalCanonical("line\nquote\"back\\slash\x01")
	require.NoError(t, err)
	assert.Equal(t, `"line\nquote\"back\\slash\u0001"`, string(result))
}

func TestMarshalCanonicalLineSeparatorsLiteral(t *testing.T) {
	result, err := MarshalCanonical("a\u2028b\u2029c")
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\u2029c\"", string(result))
}

func TestMarshalCanonicalNFC(t *testing.T) {
	// "e" + combining acute accent normalizes to the precomposed U+00E9.
	result, err := MarshalCanonical("e\u0301")
	require.NoError(t, err)
	assert.Equal(t, "\"\u00e9\"", string(result))
}

func TestMarshalCanonicalRejectsFloats(t *testing.T) {
	_, err := MarshalCanonical(1.5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are forbidden")

	_, err = MarshalCanonical(json.Number("1.5"))
	require.Error(t, err)

	_, err = MarshalCanonical(map[string]any{"x": []any{json.Number("2e3")}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `value for key "x"`)
}

func TestMarshalCanonicalUnsupportedType(t *testing.T) {
	_, err := MarshalCanonical(struct{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported type")
}

func TestCanonicalJSONOrganizationDoc(t *testing.T) {
	id, err := primitive.ObjectIDFromHex("000000000000000000000001")
	require.NoError(t, err)

	doc := OrganizationDoc{
		ID:           id,
		OriginalID:   1,
		Name:         "Acme",
		CreatedAt:    time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
		MemberCount:  2,
		ProjectCount: 1,
	}

	result, err := CanonicalJSON(doc)
	require.NoError(t, err)
	assert.Equal(t,
		`{"_id":"000000000000000000000001","created_at":"2024-01-15T10:00:00Z","member_count":2,"name":"Acme","original_id":1,"project_count":1}`,
		string(result))
}

func TestCanonicalJSONNullDueDate(t *testing.T) {
	task := TaskDoc{
		Assignees: []AssigneeSummary{},
		Labels:    []LabelSummary{},
		Comments:  []CommentSummary{},
	}

	result, err := CanonicalJSON(task)
	require.NoError(t, err)
	assert.Contains(t, string(result), `"due_date":null`)
	assert.Contains(t, string(result), `"assignees":[]`)
	assert.NotContains(t, string(result), `"description"`)
}

func TestCanonicalMap(t *testing.T) {
	m, err := CanonicalMap(LabelSummary{Name: "bug", Color: "#ff0000"})
	require.NoError(t, err)
	assert.Equal(t, "bug", m["name"])
	assert.Equal(t, "#ff0000", m["color"])

	_, err = CanonicalMap([]int{1})
	require.Error(t, err)
}
