// Command worksync runs the device-side sync agent for field workers and
// talks to a running agent from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sitecrew/worksync/internal/config"
	"github.com/sitecrew/worksync/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string
	serverURL  string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "worksync",
	Short: "Offline-first task sync agent for field workers",
	Long: `worksync keeps a worker's task list available offline.

Changes made while offline are queued on disk and replayed in order when the
connection comes back. The agent serves a local REST and websocket API for
the worker UI.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := logging.LevelInfo
		if verbose {
			level = logging.LevelDebug
		}
		logging.Init(os.Stderr, level)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logging.Get().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath(), "Config file")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Agent URL for client commands (default: from config server.addr)")

	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueLengthCmd)
	queueCmd.AddCommand(queueFlushCmd)
	connectivityCmd.AddCommand(connectivitySetCmd)
	connectivityCmd.AddCommand(connectivityShowCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(connectivityCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
