package httpapi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsInternalPath(t *testing.T) {
	for _, p := range []string{"/", "/people", "/people?tab=all#top"} {
		require.True(t, IsInternalPath(p), p)
	}
	for _, p := range []string{"", "people", "//evil.example", "/\\evil.example", "https://evil.example", "/a\nb"} {
		require.False(t, IsInternalPath(p), p)
	}
}
