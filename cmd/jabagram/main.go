package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"jabagram/internal/bridge"
	"jabagram/internal/config"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func newRootCmd() *cobra.Command {
	var (
		configPath string
		dataPath   string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "jabagram",
		Short: "Telegram to XMPP bridge",
		Long:  "Jabagram relays messages, edits and attachments between Telegram group chats and XMPP conference rooms.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBridge(cmd, configPath, dataPath, verbose)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.ini", "path to config file")
	cmd.Flags().StringVarP(&dataPath, "data", "d", "jabagram.db", "path to SQLite database file")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log per-event bridge activity")
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "jabagram %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func runBridge(cmd *cobra.Command, configPath, dataPath string, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Warnings always go through the stdlib logger; the chatty per-event
	// stream is opt-in.
	out := io.Discard
	if verbose {
		out = cmd.OutOrStdout()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Starting jabagram (data: %s)\n", dataPath)
	return bridge.Run(ctx, bridge.RunOpts{
		Config:   cfg,
		DataPath: dataPath,
		Out:      out,
	})
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
