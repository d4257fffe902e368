package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/spf13/cobra"

	"github.com/iconidentify/clipgrab/internal/usage"
	"github.com/iconidentify/clipgrab/pkg/client"
)

const defaultServer = "http://localhost:8080"

type options struct {
	server    string
	statePath string
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:          "clipgrab",
		Short:        "Download videos from shared post links.",
		Version:      fmt.Sprintf("%s (built %s)", Version, BuildTime),
		SilenceUsage: true,
	}

	server := os.Getenv("CLIPGRAB_SERVER")
	if server == "" {
		server = defaultServer
	}
	rootCmd.PersistentFlags().StringVar(&opts.server, "server", server, "clipgrab server URL (env CLIPGRAB_SERVER)")
	rootCmd.PersistentFlags().StringVar(&opts.statePath, "state", "", "usage state database (default under the XDG data home)")

	rootCmd.AddCommand(newGetCommand(opts))
	rootCmd.AddCommand(newStatusCommand(opts))

	return rootCmd
}

func (o *options) client() *client.Client {
	return client.NewClient(o.server)
}

// openLimiter opens the usage state kept for this user.
func (o *options) openLimiter() (*usage.Limiter, *usage.SQLiteStorage, error) {
	path := o.statePath
	if path == "" {
		p, err := xdg.DataFile(filepath.Join("clipgrab", "usage.db"))
		if err != nil {
			return nil, nil, fmt.Errorf("locate state dir: %w", err)
		}
		path = p
	}

	store, err := usage.NewSQLiteStorage(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open usage state: %w", err)
	}
	return usage.NewLimiter(store), store, nil
}
