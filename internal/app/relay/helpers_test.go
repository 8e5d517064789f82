package relay

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"

	"tether/internal/app/process"
)

func startScript(t *testing.T, script string) *process.Handle {
	t.Helper()

	h, err := process.Start("server", exec.Command("sh", "-c", script))
	require.NoError(t, err)

	return h
}
