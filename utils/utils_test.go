package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContainsString(t *testing.T) {
	require.True(t, ContainsString([]string{"a", "b"}, "a"))
	require.False(t, ContainsString([]string{"a", "b"}, "c"))
	require.False(t, ContainsString(nil, "a"))
}

func TestTruncateString(t *testing.T) {
	require.Equal(t, "hello", TruncateString("hello", 10))
	require.Equal(t, "hel", TruncateString("hello", 3))
	// multi-byte runes must not be split
	require.Equal(t, "日本", TruncateString("日本語", 2))
	require.Equal(t, "", TruncateString("", 5))
}

func TestMin(t *testing.T) {
	require.Equal(t, 1, Min(1, 2))
	require.Equal(t, -3, Min(-3, 0))
}
