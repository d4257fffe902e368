package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/iconidentify/clipgrab/internal/domain"
)

func newGetCommand(opts *options) *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "get <url or share text>",
		Short: "Prepare and download the video behind a post link.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			limiter, store, err := opts.openLimiter()
			if err != nil {
				return err
			}
			defer store.Close()

			st, err := limiter.Check()
			switch {
			case errors.Is(err, domain.ErrLimitReached):
				return fmt.Errorf("daily limit of %d downloads reached, try again tomorrow", limiter.MaxDaily())
			case errors.Is(err, domain.ErrCooldownActive):
				return fmt.Errorf("please wait %ds before the next download", st.CooldownRemaining)
			case err != nil:
				return err
			}

			c := opts.client()
			fmt.Fprintln(out, "Preparing video...")
			prep, err := c.Prepare(ctx, args[0])
			if err != nil {
				return fmt.Errorf("prepare: %w", err)
			}
			fmt.Fprintf(out, "Found %q (%s)\n", prep.Metadata.Title, humanize.Bytes(uint64(prep.Metadata.Size)))

			var progress func(written, total int64)
			if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
				progress = progressPrinter(out)
			}

			start := time.Now()
			path, err := c.Fetch(ctx, prep.Token, outDir, progress)
			if progress != nil {
				fmt.Fprintln(out)
			}
			if err != nil {
				return fmt.Errorf("download: %w", err)
			}

			// Only a received file counts against the quota.
			if err := limiter.RecordDownload(); err != nil {
				return fmt.Errorf("record download: %w", err)
			}

			fmt.Fprintf(out, "Saved %s in %s\n", path, time.Since(start).Round(time.Millisecond))
			if st, err := limiter.Status(); err == nil {
				fmt.Fprintf(out, "%d of %d downloads left today\n", st.DownloadsRemaining, limiter.MaxDaily())
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "output", "o", ".", "directory to save the video in")
	return cmd
}

// progressPrinter redraws one progress line, at most every 200ms.
func progressPrinter(w io.Writer) func(written, total int64) {
	var last time.Time
	return func(written, total int64) {
		now := time.Now()
		if now.Sub(last) < 200*time.Millisecond && written != total {
			return
		}
		last = now
		if total > 0 {
			fmt.Fprintf(w, "\r%s / %s (%.0f%%)", humanize.Bytes(uint64(written)), humanize.Bytes(uint64(total)),
				float64(written)/float64(total)*100)
			return
		}
		fmt.Fprintf(w, "\r%s", humanize.Bytes(uint64(written)))
	}
}
