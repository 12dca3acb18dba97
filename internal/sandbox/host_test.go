package sandbox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidRelativeKey(t *testing.T) {
	require.True(t, validRelativeKey("preferences/locale"))
	require.False(t, validRelativeKey(""))
	require.False(t, validRelativeKey("/absolute"))
	require.False(t, validRelativeKey("../escape"))
	require.False(t, validRelativeKey("nested/../escape"))
}
