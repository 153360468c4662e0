package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	err := Newf(KindCandidatePermanent, "got %d", 404)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindCandidatePermanent, kind)
	require.True(t, Is(err, KindCandidatePermanent))
	require.False(t, Is(err, KindAssemblyFailed))
}

func TestKindOfWrapped(t *testing.T) {
	inner := New(KindCandidateRetryable, fmt.Errorf("timeout"))
	wrapped := fmt.Errorf("fetch failed: %w", inner)
	kind, ok := KindOf(wrapped)
	require.True(t, ok)
	require.Equal(t, KindCandidateRetryable, kind)
}

func TestKindOfPlainError(t *testing.T) {
	_, ok := KindOf(fmt.Errorf("plain"))
	require.False(t, ok)
}

func TestIsObjectNotFound(t *testing.T) {
	err := NewObjectNotFoundError("foo", fmt.Errorf("bar"))
	require.True(t, IsObjectNotFound(err))
	require.True(t, IsUnretriable(err))
}

func TestUnretriable(t *testing.T) {
	err := Unretriable(fmt.Errorf("bar"))
	require.True(t, IsUnretriable(err))
	require.False(t, IsObjectNotFound(err))
}
