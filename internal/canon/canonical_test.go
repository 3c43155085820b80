package canon

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_Scalars(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, "null"},
		{"true", true, "true"},
		{"false", false, "false"},
		{"int", 42, "42"},
		{"int64", int64(-7), "-7"},
		{"float", 1.5, "1.5"},
		{"string", "hello", `"hello"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := MarshalCanonical(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(got))
		})
	}
}

func TestMarshalCanonical_SortedKeys(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{
		"zebra": 1,
		"apple": 2,
		"mango": 3,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"apple":2,"mango":3,"zebra":1}`, string(got))
}

func TestMarshalCanonical_NoHTMLEscaping(t *testing.T) {
	got, err := MarshalCanonical("<a href=\"x\">&</a>")
	require.NoError(t, err)
	assert.Equal(t, `"<a href=\"x\">&</a>"`, string(got))
}

func TestMarshalCanonical_NFCNormalization(t *testing.T) {
	// "e" + combining acute accent normalizes to the precomposed form.
	decomposed := "e\u0301"
	composed := "\u00e9"

	a, err := MarshalCanonical(decomposed)
	require.NoError(t, err)
	b, err := MarshalCanonical(composed)
	require.NoError(t, err)
	assert.Equal(t, string(b), string(a))
}

func TestMarshalCanonical_NonFiniteRejected(t *testing.T) {
	_, err := MarshalCanonical(map[string]any{"bad": math.Inf(1)})
	assert.Error(t, err)

	_, err = MarshalCanonical(math.NaN())
	assert.Error(t, err)
}

func TestMarshalCanonical_UnsupportedType(t *testing.T) {
	_, err := MarshalCanonical(struct{ X int }{1})
	assert.Error(t, err)
}

func TestCanonicalizeJSON_NormalizesFormatting(t *testing.T) {
	messy := []byte("{\n  \"b\": 2,\n  \"a\": 1\n}")
	got, err := CanonicalizeJSON(messy)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2}`, string(got))
}

func TestCanonicalizeJSON_IntegersSurviveVerbatim(t *testing.T) {
	got, err := CanonicalizeJSON([]byte(`{"big":9007199254740993}`))
	require.NoError(t, err)
	assert.Equal(t, `{"big":9007199254740993}`, string(got))
}

func TestCanonicalizeJSON_NestedStructures(t *testing.T) {
	got, err := CanonicalizeJSON([]byte(`{"z":[3,{"y":2,"x":1}],"a":null}`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":null,"z":[3,{"x":1,"y":2}]}`, string(got))
}

func TestCanonicalizeJSON_Invalid(t *testing.T) {
	_, err := CanonicalizeJSON([]byte("{broken"))
	assert.Error(t, err)
}

func TestHashWithDomain_Properties(t *testing.T) {
	data := []byte(`{"a":1}`)

	h1 := HashWithDomain(DomainSnapshot, data)
	h2 := HashWithDomain(DomainSnapshot, data)
	assert.Equal(t, h1, h2, "hashing is deterministic")
	assert.Len(t, h1, 64)

	h3 := HashWithDomain(DomainTrace, data)
	assert.NotEqual(t, h1, h3, "different domains yield different hashes")
}

func TestHashJSON_EquivalentDocumentsHashEqual(t *testing.T) {
	h1, err := HashJSON(DomainSnapshot, []byte(`{"a":1,"b":2}`))
	require.NoError(t, err)
	h2, err := HashJSON(DomainSnapshot, []byte("{ \"b\": 2, \"a\": 1 }"))
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}
