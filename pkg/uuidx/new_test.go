package uuidx

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewString(t *testing.T) {
	a, b := NewString(), NewString()
	assert.NotEqual(t, a, b)

	for _, s := range []string{a, b} {
		id, err := uuid.Parse(s)
		require.NoError(t, err)
		assert.Equal(t, uuid.Version(7), id.Version())
		assert.Equal(t, uuid.RFC4122, id.Variant())
	}
}

func TestNew_Ordered(t *testing.T) {
	first := New()
	second := New()
	assert.LessOrEqual(t, first.String()[:8], second.String()[:8], "ids are time ordered")
}

func TestShort(t *testing.T) {
	seen := make(map[string]struct{})
	for range 64 {
		s := Short()
		assert.Len(t, s, ShortLen)
		assert.Regexp(t, "^[0-9a-f]+$", s)
		seen[s] = struct{}{}
	}
	assert.Greater(t, len(seen), 60)
}
