package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestText_Deterministic(t *testing.T) {
	a := Text("high protein breakfast")
	b := Text("high protein breakfast")
	assert.Equal(t, a, b)
	assert.Len(t, a, Size*2)
	assert.NotEqual(t, a, Text("high protein breakfast "))
}

func TestText_EmptyString(t *testing.T) {
	// SHA-256 of the empty input.
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Text(""))
}

func TestQuery_FilterOrderIndependent(t *testing.T) {
	f1 := map[string]interface{}{}
	f1["item_type"] = "nutrition_document"
	f1["category"] = "nutrition_article"
	f1["year"] = 2024

	f2 := map[string]interface{}{}
	f2["year"] = 2024
	f2["category"] = "nutrition_article"
	f2["item_type"] = "nutrition_document"

	for i := 0; i < 20; i++ {
		require.Equal(t, Query("oats", 5, f1), Query("oats", 5, f2))
	}
}

func TestQuery_DistinguishesParameters(t *testing.T) {
	base := Query("oats", 5, map[string]interface{}{"item_type": "a"})
	tests := []struct {
		name string
		key  string
	}{
		{"different query", Query("oat", 5, map[string]interface{}{"item_type": "a"})},
		{"different top_k", Query("oats", 6, map[string]interface{}{"item_type": "a"})},
		{"different filter value", Query("oats", 5, map[string]interface{}{"item_type": "b"})},
		{"string vs number", Query("oats", 5, map[string]interface{}{"item_type": 1})},
		{"no filter", Query("oats", 5, nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, base, tt.key)
		})
	}
}

func TestQuery_NilAndEmptyFilterEqual(t *testing.T) {
	assert.Equal(t, Query("q", 5, nil), Query("q", 5, map[string]interface{}{}))
}

func TestQuery_QueryBoundaryIsUnambiguous(t *testing.T) {
	// The query text cannot bleed into the top_k field.
	assert.NotEqual(t, Query("a|k:1", 2, nil), Query("a", 12, nil))
}

func TestScoped(t *testing.T) {
	key := Query("q", 5, nil)
	assert.Equal(t, Scoped("idx/local", key), Scoped("idx/local", key))
	assert.NotEqual(t, Scoped("idx/local", key), Scoped("idx/remote", key))
	assert.NotEqual(t, Scoped("idx/local", key), key)
	assert.Len(t, Scoped("", key), 2*Size)
}

func TestCanonicalFilter(t *testing.T) {
	got := CanonicalFilter(map[string]interface{}{"b": "x", "a": 1.0, "c": true})
	assert.Equal(t, `[{"k":"a","v":1},{"k":"b","v":"x"},{"k":"c","v":true}]`, got)
	assert.Equal(t, "[]", CanonicalFilter(nil))
	assert.Equal(t, CanonicalFilter(map[string]interface{}{"n": 5}), CanonicalFilter(map[string]interface{}{"n": 5.0}))
}
