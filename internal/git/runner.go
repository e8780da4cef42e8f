package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// DefaultMaxOutput caps captured stdout of a single git invocation.
const DefaultMaxOutput = 10 << 20

const maxStderr = 64 << 10

// ErrOutputLimit is returned (wrapped in a *ToolError) when a command wrote
// more than its MaxOutput to stdout.
var ErrOutputLimit = errors.New("output exceeds limit")

// Command is one git invocation. Args are passed to the process as an
// argument vector and never interpreted by a shell.
type Command struct {
	// Dir is the repository the command runs in (git -C). Empty runs outside
	// any repository.
	Dir  string
	Args []string
	// AllowExit1 treats exit status 1 as success, which is how git diff
	// --no-index reports differences. Warnings on stderr are only logged.
	AllowExit1 bool
	// MaxOutput caps captured stdout in bytes; zero means DefaultMaxOutput.
	MaxOutput int
	Env       []string
}

// Runner executes git commands. Implementations must be safe for concurrent
// use.
type Runner interface {
	Run(ctx context.Context, cmd Command) (string, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, cmd Command) (string, error)

func (f RunnerFunc) Run(ctx context.Context, cmd Command) (string, error) { return f(ctx, cmd) }

// ToolError describes a failed git invocation.
type ToolError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	msg := "git " + strings.Join(redactArgs(e.Args), " ")
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ToolError) Unwrap() error { return e.Err }

// ExecRunner runs the git binary found on PATH (or Binary when set).
type ExecRunner struct {
	Binary string
	Env    []string
}

func NewExecRunner(binary string) *ExecRunner {
	return &ExecRunner{Binary: binary}
}

func (r *ExecRunner) Run(ctx context.Context, cmd Command) (string, error) {
	bin := "git"
	if r != nil && r.Binary != "" {
		bin = r.Binary
	}
	var args []string
	if cmd.Dir != "" {
		args = append(args, "-C", cmd.Dir)
	}
	args = append(args, cmd.Args...)

	limit := cmd.MaxOutput
	if limit <= 0 {
		limit = DefaultMaxOutput
	}
	stdout := &limitedBuffer{max: limit}
	stderr := &limitedBuffer{max: maxStderr}

	c := exec.CommandContext(ctx, bin, args...)
	c.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "LC_ALL=C")
	if r != nil {
		c.Env = append(c.Env, r.Env...)
	}
	c.Env = append(c.Env, cmd.Env...)
	c.Stdout = stdout
	c.Stderr = stderr

	start := time.Now()
	err := c.Run()
	slog.Debug("git command",
		slog.String("dir", cmd.Dir),
		slog.Any("args", redactArgs(cmd.Args)),
		slog.Duration("elapsed", time.Since(start)),
		slog.Bool("truncated", stdout.truncated),
	)
	if err != nil {
		var exitErr *exec.ExitError
		isExit := errors.As(err, &exitErr)
		if cmd.AllowExit1 && isExit && exitErr.ExitCode() == 1 {
			if stderr.Len() > 0 {
				slog.Debug("git command warning",
					slog.Any("args", redactArgs(cmd.Args)),
					slog.String("stderr", strings.TrimSpace(stderr.String())),
				)
			}
			err = nil
		} else {
			toolErr := &ToolError{
				Args:     cmd.Args,
				ExitCode: -1,
				Stderr:   strings.TrimSpace(stderr.String()),
				Err:      err,
			}
			if isExit {
				toolErr.ExitCode = exitErr.ExitCode()
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				toolErr.Err = errors.Join(err, ctxErr)
			}
			return "", toolErr
		}
	}
	if stdout.truncated {
		return "", &ToolError{Args: cmd.Args, Err: fmt.Errorf("%w of %d bytes", ErrOutputLimit, limit)}
	}
	return stdout.String(), nil
}

// Toplevel returns the working tree root containing path.
func Toplevel(ctx context.Context, r Runner, path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	root, err := r.Run(ctx, Command{Dir: abs, Args: []string{"rev-parse", "--show-toplevel"}})
	if err != nil {
		return "", fmt.Errorf("open repository: %w", err)
	}
	root = strings.TrimSpace(root)
	if root == "" {
		return "", fmt.Errorf("open repository: git rev-parse returned empty root")
	}
	return root, nil
}

// limitedBuffer keeps the first max bytes and silently drains the rest so
// the child never blocks on a full pipe.
type limitedBuffer struct {
	bytes.Buffer
	max       int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	room := b.max - b.Buffer.Len()
	if room <= 0 {
		if len(p) > 0 {
			b.truncated = true
		}
		return len(p), nil
	}
	if len(p) > room {
		b.Buffer.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	return b.Buffer.Write(p)
}

// redactArgs hides credentials embedded in remote URLs.
func redactArgs(args []string) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		out[i] = arg
		if !strings.Contains(arg, "://") || !strings.Contains(arg, "@") {
			continue
		}
		u, err := url.Parse(arg)
		if err != nil || u.User == nil {
			continue
		}
		u.User = url.User("***")
		out[i] = u.String()
	}
	return out
}
