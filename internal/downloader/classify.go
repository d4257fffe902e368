package downloader

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/iconidentify/clipgrab/internal/domain"
)

// classify maps a tool failure onto the domain errors callers switch on.
func classify(ctx context.Context, tool string, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return domain.ErrExtractTimeout
	case errors.Is(ctx.Err(), context.Canceled):
		return ctx.Err()
	case errors.Is(err, exec.ErrNotFound):
		return fmt.Errorf("%w: %s", domain.ErrToolMissing, tool)
	default:
		return fmt.Errorf("%w: %s: %v", domain.ErrExtractFailed, tool, err)
	}
}
