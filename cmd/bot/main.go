// Package main is the marketbot command: it runs the mention-driven market
// creation bot and a few operator utilities.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "./config.yaml"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "marketbot",
		Short: "Create prediction markets from social media mentions",
		Long: `marketbot polls the bot account's mentions, walks requesters through a
market template and creates the market once the template validates.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", defaultConfigPath, "Path to configuration file")

	root.AddCommand(newRunCmd(), newSweepCmd(), newCheckTemplateCmd())
	return root
}

func configPath(cmd *cobra.Command) string {
	path, err := cmd.Flags().GetString("config")
	if err != nil || path == "" {
		return defaultConfigPath
	}
	return path
}
