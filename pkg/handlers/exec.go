package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/openfroyo/catalog/pkg/engine"
	"github.com/rs/zerolog"
)

const (
	defaultShell   = "/bin/sh"
	maxOutputBytes = 4096
)

type execParams struct {
	Command     string            `json:"command" validate:"required"`
	Shell       string            `json:"shell"`
	Cwd         string            `json:"cwd" validate:"omitempty,startswith=/"`
	Environment map[string]string `json:"environment"`
	Creates     string            `json:"creates" validate:"omitempty,startswith=/"`
	Unless      string            `json:"unless"`
	Onlyif      string            `json:"onlyif"`
	Timeout     string            `json:"timeout"`
}

// ExecHandler runs shell commands. A command is out of sync unless one of its
// guards says otherwise: creates names a file that exists, unless succeeds,
// or onlyif fails.
type ExecHandler struct {
	logger zerolog.Logger
}

// NewExecHandler creates an exec handler.
func NewExecHandler(logger zerolog.Logger) *ExecHandler {
	return &ExecHandler{logger: logger.With().Str("handler", "exec").Logger()}
}

// Type returns "exec".
func (h *ExecHandler) Type() string { return "exec" }

// Check evaluates the guards.
func (h *ExecHandler) Check(ctx context.Context, res *engine.Resource) (bool, error) {
	p, err := h.params(res)
	if err != nil {
		return false, err
	}

	if p.Creates != "" {
		if _, err := os.Stat(p.Creates); err == nil {
			return true, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return false, fmt.Errorf("failed to stat %s: %w", p.Creates, err)
		}
	}
	if p.Unless != "" {
		code, _, err := h.run(ctx, p, p.Unless)
		if err != nil {
			return false, err
		}
		if code == 0 {
			return true, nil
		}
	}
	if p.Onlyif != "" {
		code, _, err := h.run(ctx, p, p.Onlyif)
		if err != nil {
			return false, err
		}
		if code != 0 {
			return true, nil
		}
	}
	return false, nil
}

// Apply runs the command. A non-zero exit status is a failure.
func (h *ExecHandler) Apply(ctx context.Context, res *engine.Resource) (string, error) {
	p, err := h.params(res)
	if err != nil {
		return "", err
	}

	code, output, err := h.run(ctx, p, p.Command)
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", fmt.Errorf("'%s' returned %d instead of 0: %s", p.Command, code, output)
	}
	return "executed successfully", nil
}

func (h *ExecHandler) params(res *engine.Resource) (*execParams, error) {
	p := &execParams{Command: res.Title}
	if err := decodeParams(res, p); err != nil {
		return nil, err
	}
	if p.Shell == "" {
		p.Shell = defaultShell
	}
	return p, nil
}

// run executes command through the shell and returns its exit code and trimmed
// combined output. Only failures to start the command are errors.
func (h *ExecHandler) run(ctx context.Context, p *execParams, command string) (int, string, error) {
	if p.Timeout != "" {
		timeout, err := time.ParseDuration(p.Timeout)
		if err != nil {
			return 0, "", fmt.Errorf("invalid timeout %q: %w", p.Timeout, err)
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, p.Shell, "-c", command)
	cmd.Dir = p.Cwd
	cmd.WaitDelay = time.Second
	if len(p.Environment) > 0 {
		env := os.Environ()
		for k, v := range p.Environment {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	h.logger.Debug().Str("command", command).Str("shell", p.Shell).Msg("Executing command")

	start := time.Now()
	err := cmd.Run()
	out := truncate(strings.TrimSpace(output.String()))

	h.logger.Debug().
		Str("command", command).
		Dur("duration", time.Since(start)).
		Str("output", out).
		Msg("Command finished")

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			return exitErr.ExitCode(), out, nil
		}
		if ctx.Err() != nil {
			return 0, out, fmt.Errorf("'%s' did not finish: %w", command, ctx.Err())
		}
		return 0, out, fmt.Errorf("failed to execute '%s': %w", command, err)
	}
	return 0, out, nil
}

func truncate(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	return s[:maxOutputBytes] + "..."
}
