package subprocess

import (
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStreamWithStderrTailCapturesLines(t *testing.T) {
	cmd := exec.Command("sh", "-c", "for i in 1 2 3; do echo line$i 1>&2; done")
	tail, err := StreamWithStderrTail("test-request", cmd)
	require.NoError(t, err)
	require.NoError(t, cmd.Start())
	require.NoError(t, cmd.Wait())

	// goroutines may still be draining the pipe at Wait() return; give them a
	// moment before asserting.
	require.Eventually(t, func() bool {
		return len(tail.Lines()) == 3
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"line1", "line2", "line3"}, tail.Lines())
}
