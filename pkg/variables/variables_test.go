package variables

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnv(t *testing.T) {
	t.Setenv("MIC_TEST_VARIABLE", "")
	require.Equal(t, "fallback", Env("MIC_TEST_VARIABLE", "fallback"))

	t.Setenv("MIC_TEST_VARIABLE", "6")
	require.Equal(t, "6", Env("MIC_TEST_VARIABLE", "fallback"))

	slots, err := ParseInt(Env("MIC_TEST_VARIABLE", "fallback"))
	require.NoError(t, err)
	require.Equal(t, 6, slots)
}
