// Package transformer runs the external deobfuscation tool as a child
// process. Arguments are passed as a vector, never through a shell, so a
// hostile filename cannot change what gets executed.
package transformer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophdeobf/internal/common"
)

// maxCapture bounds how much stdout/stderr is kept per stream.
const maxCapture = 64 * 1024

// waitDelay is how long Wait keeps the pipes open after the process was
// killed, for grandchildren that inherited them.
const waitDelay = 2 * time.Second

// ToolError describes a failed tool run. errors.Is(err,
// common.ErrorExternalTool) holds for every ToolError.
type ToolError struct {
	ExitCode int
	TimedOut bool
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	switch {
	case e.TimedOut:
		return fmt.Sprintf("external tool timed out: %v", e.Err)
	case e.ExitCode > 0:
		return fmt.Sprintf("external tool exited with code %d: %s", e.ExitCode, strings.TrimSpace(e.Stderr))
	default:
		return fmt.Sprintf("external tool failed: %v", e.Err)
	}
}

func (e *ToolError) Unwrap() []error {
	return []error{common.ErrorExternalTool, e.Err}
}

// Tool is a configured external transformer. The final argv is
//
//	Command BaseArgs... -dev -i <input> -o <output>
type Tool struct {
	Command  string
	BaseArgs []string
}

// New returns a Tool running `command toolPath -dev -i .. -o ..`; with an
// empty toolPath the command is invoked directly.
func New(command, toolPath string) *Tool {
	t := &Tool{Command: command}
	if toolPath != "" {
		t.BaseArgs = []string{toolPath}
	}
	return t
}

// Args returns the argument vector (without Command) for one run.
func (t *Tool) Args(inputPath, outputPath string) []string {
	args := make([]string, 0, len(t.BaseArgs)+5)
	args = append(args, t.BaseArgs...)
	return append(args, "-dev", "-i", inputPath, "-o", outputPath)
}

// Invoke runs the tool and returns its combined diagnostic output. The run
// succeeds only if the process exits 0 within timeout and outputPath
// exists afterwards. On timeout or ctx cancellation the process is killed.
func (t *Tool) Invoke(ctx context.Context, inputPath, outputPath string, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, t.Command, t.Args(inputPath, outputPath)...)
	cmd.WaitDelay = waitDelay

	stdout := &capBuffer{limit: maxCapture}
	stderr := &capBuffer{limit: maxCapture}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	diag := diagnostics(stdout.String(), stderr.String())

	if ctxErr := ctx.Err(); ctxErr != nil {
		return diag, &ToolError{ExitCode: -1, TimedOut: errors.Is(ctxErr, context.DeadlineExceeded), Stderr: stderr.String(), Err: ctxErr}
	}

	if err != nil {
		te := &ToolError{ExitCode: -1, Stderr: stderr.String(), Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			te.ExitCode = exitErr.ExitCode()
		}
		return diag, te
	}

	if _, err := os.Stat(outputPath); err != nil {
		return diag, &ToolError{Stderr: stderr.String(), Err: fmt.Errorf("output file missing: %w", err)}
	}

	return diag, nil
}

func diagnostics(stdout, stderr string) string {
	stdout, stderr = strings.TrimSpace(stdout), strings.TrimSpace(stderr)
	switch {
	case stdout == "":
		return stderr
	case stderr == "":
		return stdout
	default:
		return stdout + "\n" + stderr
	}
}

// capBuffer keeps the first limit bytes written and silently drops the
// rest, so a chatty tool cannot exhaust memory.
type capBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *capBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *capBuffer) String() string { return b.buf.String() }
