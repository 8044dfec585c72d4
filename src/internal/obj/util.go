package obj

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pachyderm/seekidx/src/internal/pctx"
)

// NewTestClient creates a local Client rooted in a directory cleaned up after the test.
func NewTestClient(t testing.TB) Client {
	objC, err := NewLocalClient(pctx.TestContext(t), t.TempDir())
	require.NoError(t, err)
	return objC
}
