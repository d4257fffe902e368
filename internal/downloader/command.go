package downloader

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	execute "github.com/alexellis/go-execute/v2"

	"github.com/iconidentify/clipgrab/internal/domain"
)

// Placeholders substituted into command arguments.
const (
	PlaceholderURL = "{url}"
	PlaceholderDir = "{dir}"
)

// DefaultCommandArgs matches the yt-dlp command line.
var DefaultCommandArgs = []string{"-o", PlaceholderDir + "/" + outputTemplate, "--no-warnings", PlaceholderURL}

// CommandExtractor runs an arbitrary binary that follows the tool contract:
// write one video into the directory and exit 0.
type CommandExtractor struct {
	binary string
	args   []string
	logger *slog.Logger
}

// NewCommandExtractor creates an extractor running binary with args.
// Empty args use DefaultCommandArgs.
func NewCommandExtractor(binary string, args []string, logger *slog.Logger) *CommandExtractor {
	if len(args) == 0 {
		args = DefaultCommandArgs
	}
	return &CommandExtractor{binary: binary, args: args, logger: logger}
}

// Name implements Extractor.
func (c *CommandExtractor) Name() string {
	return c.binary
}

// Check implements Extractor.
func (c *CommandExtractor) Check() error {
	if _, err := exec.LookPath(c.binary); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrToolMissing, c.binary)
	}
	return nil
}

// Args returns the argument list for one run.
func (c *CommandExtractor) Args(url, dir string) []string {
	r := strings.NewReplacer(PlaceholderURL, url, PlaceholderDir, dir)
	out := make([]string, len(c.args))
	for i, a := range c.args {
		out[i] = r.Replace(a)
	}
	return out
}

// Extract implements Extractor.
func (c *CommandExtractor) Extract(ctx context.Context, url, dir string) error {
	if err := c.Check(); err != nil {
		return err
	}

	task := execute.ExecTask{
		Command:     c.binary,
		Args:        c.Args(url, dir),
		Cwd:         dir,
		StreamStdio: false,
	}

	res, err := task.Execute(ctx)
	if err != nil {
		return classify(ctx, c.Name(), err)
	}
	if res.Cancelled {
		return classify(ctx, c.Name(), ctx.Err())
	}
	if res.ExitCode != 0 {
		c.logger.Warn("extraction command failed",
			"tool", c.binary,
			"exit_code", res.ExitCode,
			"stderr", lastLine(res.Stderr),
		)
		return fmt.Errorf("%w: %s exited with code %d", domain.ErrExtractFailed, c.binary, res.ExitCode)
	}
	return nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
