package id

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsUnique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		v := New()
		assert.False(t, seen[v], "duplicate id %s", v)
		seen[v] = true
	}
}

func TestNewAtCarriesTimestamp(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	v := NewAt(at)

	parsed, err := ulid.Parse(v)
	require.NoError(t, err)
	assert.Equal(t, at.UnixMilli(), int64(parsed.Time()))
}

func TestNewAtIsMonotonic(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	a := NewAt(at)
	b := NewAt(at)
	assert.Less(t, a, b)
}
