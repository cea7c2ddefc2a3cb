package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSurrogateKey(t *testing.T) {
	tests := []struct {
		id   string
		want int64
	}{
		{"", 0},
		{"a", 97},
		{"ab", 3105},
		{"bug-1", 94091032},
		{"550e8400-e29b-41d4-a716-446655440000", 1716781005},
		{"héllo", 103094734},
		{"😀", 1772899},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.want, SurrogateKey(tt.id))
		})
	}
}

func TestSurrogateKey_StableAndNonNegative(t *testing.T) {
	ids := []string{
		"3f2b1c9e-0d4a-4e6f-9a8b-7c6d5e4f3a2b",
		"zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz",
		"~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~",
	}
	for _, id := range ids {
		first := SurrogateKey(id)
		assert.Equal(t, first, SurrogateKey(id))
		assert.GreaterOrEqual(t, first, int64(0))
		assert.LessOrEqual(t, first, int64(1)<<31)
	}
}
