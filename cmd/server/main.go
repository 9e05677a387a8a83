// Command server runs an example crane application.
//
// Configuration is read from a YAML file (--config, CRANE_CONFIG, ./crane.yaml
// or /etc/crane/crane.yaml) and CRANE_* environment variables. With a
// database configured, the notes routes run inside the transaction
// coordinator; without one only /ping and the health endpoints are useful.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rhuss/crane/pkg/server"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "crane-server",
		Short:         "Run the crane example server",
		Long:          "Serve the example routes with request-scoped connections and transactions.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the YAML config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level (debug|info|warn|error)")

	cmd.AddCommand(newRoutesCommand(opts))
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func newRoutesCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Print the registered routes and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			srv := server.New(server.WithLogger(newLogger(cfg.Logging, cmd.ErrOrStderr())))
			var notes noteStore
			if cfg.Database.Enabled() {
				notes = newNoteStore(cfg.Database.Driver)
			}
			registerRoutes(srv, notes)
			printRoutes(cmd.OutOrStdout(), srv)
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the framework version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "crane %s\n", server.Version)
		},
	}
}
