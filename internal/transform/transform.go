// Package transform runs the external syntax upgrade tool over a working copy.
package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/soochol/tsupgrade/internal/tsupgrade/ports"
)

// Placeholders substituted in each command argument.
const (
	DirPlaceholder     = "{dir}"
	VersionPlaceholder = "{version}"
)

// maxOutputSize caps how much tool output is kept for error messages.
const maxOutputSize = 16 * 1024

// waitDelay bounds how long a cancelled tool may hold its output pipes open.
const waitDelay = 5 * time.Second

var _ ports.Transformer = (*Command)(nil)

// Command rewrites a working copy by running an external program in it.
type Command struct {
	argv []string
	env  []string
}

// NewCommand creates a transformer from an argv template such as
// ["npx", "--yes", "ts-upgrade", "--target", "{version}", "{dir}"].
func NewCommand(argv []string, env ...string) (*Command, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, errors.New("transform command is empty")
	}
	return &Command{argv: append([]string(nil), argv...), env: env}, nil
}

// Args returns the argv for one invocation.
func (c *Command) Args(dir, version string) []string {
	r := strings.NewReplacer(DirPlaceholder, dir, VersionPlaceholder, version)
	out := make([]string, len(c.argv))
	for i, a := range c.argv {
		out[i] = r.Replace(a)
	}
	return out
}

// Upgrade runs the tool with dir as its working directory. The process is
// killed when ctx ends.
func (c *Command) Upgrade(ctx context.Context, dir, version string) error {
	args := c.Args(dir, version)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), c.env...)
	cmd.WaitDelay = waitDelay

	start := time.Now()
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("upgrade tool interrupted: %w", ctxErr)
		}
		return fmt.Errorf("upgrade tool failed: %w\n%s", err, truncate(out))
	}
	slog.Debug("upgrade tool finished", "dir", dir, "version", version, "elapsed", time.Since(start), "output_bytes", len(out))
	return nil
}

func truncate(out []byte) string {
	s := strings.TrimSpace(string(out))
	if len(s) > maxOutputSize {
		s = s[:maxOutputSize] + "\n... [truncated]"
	}
	return s
}
