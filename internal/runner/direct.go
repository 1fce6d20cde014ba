package runner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// defaultMaxOutputBytes caps captured stdout/stderr per stream. The
// assistant can be chatty; anything past the cap is discarded, not an
// error.
const defaultMaxOutputBytes = 10 << 20 // 10 MiB

// Direct runs commands on the host with os/exec. No sandboxing.
type Direct struct {
	maxOutputBytes int64
	logger         *zap.Logger
}

// NewDirect creates a host runner.
func NewDirect(logger *zap.Logger) *Direct {
	return &Direct{maxOutputBytes: defaultMaxOutputBytes, logger: logger}
}

// Run executes the command, enforcing cmd.Timeout as a wall-clock bound.
// A non-zero exit is not an error; a timeout sets Result.TimedOut; a
// process that never started sets Result.StartErr.
func (d *Direct) Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Binary == "" {
		return nil, errors.New("runner: binary is required")
	}

	execCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	execCmd := exec.CommandContext(execCtx, cmd.Binary, cmd.Args...)
	execCmd.Dir = cmd.Dir
	execCmd.Env = os.Environ()
	if cmd.Stdin != "" {
		execCmd.Stdin = strings.NewReader(cmd.Stdin)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	stdout := &limitedWriter{w: &stdoutBuf, max: d.maxOutputBytes}
	stderr := &limitedWriter{w: &stderrBuf, max: d.maxOutputBytes}
	execCmd.Stdout = stdout
	execCmd.Stderr = stderr

	d.logger.Debug("starting process",
		zap.String("binary", cmd.Binary),
		zap.Strings("args", cmd.Args),
		zap.String("dir", cmd.Dir),
		zap.Duration("timeout", cmd.Timeout))

	start := time.Now()
	err := execCmd.Run()
	result := &Result{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: time.Since(start),
	}

	switch {
	case err == nil:
		result.ExitCode = 0
	case errors.Is(execCtx.Err(), context.DeadlineExceeded):
		result.TimedOut = true
		result.ExitCode = -1
		d.logger.Warn("process killed on timeout",
			zap.String("binary", cmd.Binary),
			zap.Duration("timeout", cmd.Timeout))
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			// The process never started: bad binary, missing
			// directory, fork failure.
			result.StartErr = err
			result.ExitCode = -1
			d.logger.Error("process failed to start",
				zap.String("binary", cmd.Binary),
				zap.Error(err))
		}
	}

	if stdout.truncated || stderr.truncated {
		d.logger.Warn("process output truncated",
			zap.String("binary", cmd.Binary),
			zap.Int64("discarded_bytes", stdout.discarded+stderr.discarded))
	}

	d.logger.Debug("process finished",
		zap.String("binary", cmd.Binary),
		zap.Int("exit_code", result.ExitCode),
		zap.Bool("timed_out", result.TimedOut),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// limitedWriter caps total bytes written, silently discarding the rest.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
	discarded int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if lw.written >= lw.max {
		lw.truncated = true
		lw.discarded += int64(n)
		return n, nil
	}
	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		lw.discarded += int64(n) - remaining
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		return n, err
	}
	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}
