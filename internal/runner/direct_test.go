package runner

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newDirect(t *testing.T) *Direct {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests shell out to sh")
	}
	return NewDirect(zap.NewNop())
}

func TestDirectRunCapturesOutput(t *testing.T) {
	d := newDirect(t)
	result, err := d.Run(context.Background(), Command{
		Binary: "sh",
		Args:   []string{"-c", "echo out; echo err >&2"},
	})
	require.NoError(t, err)
	assert.True(t, result.Ok())
	assert.Equal(t, "out\n", result.Stdout)
	assert.Equal(t, "err\n", result.Stderr)
	assert.Equal(t, "out\n\nerr\n", result.Combined())
}

func TestDirectRunStdin(t *testing.T) {
	d := newDirect(t)
	result, err := d.Run(context.Background(), Command{
		Binary: "cat",
		Stdin:  "piped prompt",
	})
	require.NoError(t, err)
	assert.Equal(t, "piped prompt", result.Stdout)
}

func TestDirectRunNonZeroExit(t *testing.T) {
	d := newDirect(t)
	result, err := d.Run(context.Background(), Command{
		Binary: "sh",
		Args:   []string{"-c", "exit 3"},
	})
	require.NoError(t, err)
	assert.False(t, result.Ok())
	assert.Equal(t, 3, result.ExitCode)
	assert.False(t, result.TimedOut)
	assert.NoError(t, result.StartErr)
}

func TestDirectRunTimeout(t *testing.T) {
	d := newDirect(t)
	start := time.Now()
	result, err := d.Run(context.Background(), Command{
		Binary:  "sleep",
		Args:    []string{"10"},
		Timeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.True(t, result.TimedOut)
	assert.False(t, result.Ok())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDirectRunStartError(t *testing.T) {
	d := newDirect(t)
	result, err := d.Run(context.Background(), Command{
		Binary: "definitely-not-a-real-binary-xyz",
	})
	require.NoError(t, err)
	assert.Error(t, result.StartErr)
	assert.False(t, result.Ok())
	assert.Equal(t, -1, result.ExitCode)
}

func TestDirectRunRequiresBinary(t *testing.T) {
	d := newDirect(t)
	_, err := d.Run(context.Background(), Command{})
	assert.Error(t, err)
}

func TestDirectRunOutputCap(t *testing.T) {
	d := newDirect(t)
	d.maxOutputBytes = 64
	result, err := d.Run(context.Background(), Command{
		Binary: "sh",
		Args:   []string{"-c", "yes x | head -c 1024"},
	})
	require.NoError(t, err)
	assert.True(t, result.Ok())
	assert.LessOrEqual(t, len(result.Stdout), 64)
}
