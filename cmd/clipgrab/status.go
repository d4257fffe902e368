package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand(opts *options) *cobra.Command {
	var localOnly bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the remaining quota and the server's state.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			limiter, store, err := opts.openLimiter()
			if err != nil {
				return err
			}
			defer store.Close()

			st, err := limiter.Status()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Downloads left today: %d/%d\n", st.DownloadsRemaining, limiter.MaxDaily())
			if st.CooldownRemaining > 0 {
				fmt.Fprintf(out, "Cooldown: %ds\n", st.CooldownRemaining)
			}
			if st.IsLimitReached {
				fmt.Fprintln(out, "Daily limit reached.")
			}

			if localOnly {
				return nil
			}

			srv, err := opts.client().Status(cmd.Context())
			if err != nil {
				fmt.Fprintf(out, "Server %s: unreachable (%v)\n", opts.server, err)
				return nil
			}
			fmt.Fprintf(out, "Server %s: %s, tool %s, %d active downloads, %s in temp\n",
				opts.server, srv.Status, srv.Tool, srv.ActiveDownloads, srv.TempHuman)
			return nil
		},
	}

	cmd.Flags().BoolVar(&localOnly, "local", false, "only show the local quota")
	return cmd
}
