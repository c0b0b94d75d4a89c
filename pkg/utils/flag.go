package utils

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/require"
)

// SetTestFlag sets flag `name` to `value` until the test and its subtests are done, then restores the previous
// value. Flags are process-wide, so tests using it must not run in parallel.
func SetTestFlag(t *testing.T, name, value string) {
	t.Helper()
	holder := flag.Lookup(name)
	require.NotNil(t, holder, "Flag %s not found", name)
	prev := holder.Value.String()
	t.Cleanup(func() { require.NoError(t, flag.Set(name, prev)) })
	require.NoError(t, flag.Set(name, value))
}
