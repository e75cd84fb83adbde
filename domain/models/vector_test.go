package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVector512ValueRejectsWrongLength(t *testing.T) {
	v := Vector512{0.1, 0.2, 0.3}
	_, err := v.Value()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "512")
}

func TestVector512RoundTrip(t *testing.T) {
	v := make(Vector512, EmbeddingDim)
	v[0] = 0.25
	v[1] = -1
	v[511] = 0.5

	raw, err := v.Value()
	require.NoError(t, err)

	var out Vector512
	require.NoError(t, out.Scan(raw))
	require.Len(t, out, EmbeddingDim)
	assert.InDelta(t, 0.25, out[0], 1e-6)
	assert.InDelta(t, -1, out[1], 1e-6)
	assert.InDelta(t, 0.5, out[511], 1e-6)
}

func TestVector512ScanPgvectorText(t *testing.T) {
	// pgvector returns bracketed text over the wire
	var out Vector512
	require.NoError(t, out.Scan([]byte("[0.5,0.25,-0.125]")))
	assert.Equal(t, Vector512{0.5, 0.25, -0.125}, out)
}

func TestVector512ScanNil(t *testing.T) {
	out := Vector512{1}
	require.NoError(t, out.Scan(nil))
	assert.Nil(t, out)
}
