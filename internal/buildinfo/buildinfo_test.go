package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInfo(t *testing.T) {
	info := Info()
	require.Equal(t, Version, info["version"])
	require.NotEmpty(t, info["go"])
}
