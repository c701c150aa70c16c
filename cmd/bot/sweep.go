package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edgard/marketbot/internal/conversation"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale template conversations once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(configPath(cmd))
			if err != nil {
				return err
			}
			store, err := openStore(cfg, log)
			if err != nil {
				return err
			}
			defer store.Close()

			manager := conversation.NewManager(conversation.ManagerDeps{
				Logger: log,
				Store:  store,
				TTL:    cfg.Conversation.TTL,
			})
			n, err := manager.ExpireStaleConversations(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "Expired %d conversation(s).\n", n)
			return err
		},
	}
}
