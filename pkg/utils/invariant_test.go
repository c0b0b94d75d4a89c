package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRaiseInvariant(t *testing.T) {
	invariantsMetric.Reset() // Reset the metric to ensure a clean state for the test
	RaiseInvariant("invariant", "test", "This is a test invariant violation")
	gotInvariants := GetMetricValue("invariant" /*module*/, "test" /*invariantType*/)
	assert.Equal(t, 1, gotInvariants)
}

func TestRaiseInvariant_PanicsInTestMode(t *testing.T) {
	prev := IsTestMode
	IsTestMode = true
	t.Cleanup(func() { IsTestMode = prev })

	assert.PanicsWithValue(t, "invariant violated: test_mode", func() {
		RaiseInvariant("invariant", "test_mode", "Raised while test mode is on.")
	})
	assert.Equal(t, 1, GetMetricValue("invariant" /*module*/, "test_mode" /*invariantType*/))
}
