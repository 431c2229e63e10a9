// Package commands implements the relayctl command line.
package commands

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kretoffer/encode-now-backend/clients/go/relay"
)

var (
	home     string
	relayURL string
	client   *relay.Client
)

// Execute runs the root command.
func Execute() error {
	root := &cobra.Command{
		Use:           "relayctl",
		Short:         "Send and receive sealed messages through an encode-now relay",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".relayctl")
			}
			if relayURL == "" {
				relayURL = os.Getenv("RELAY_URL")
			}
			client = relay.NewClient(relayURL)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "key directory (default ~/.relayctl)")
	root.PersistentFlags().StringVar(&relayURL, "relay", "", "relay base URL (default $RELAY_URL or http://localhost:8080)")

	root.AddCommand(keygenCmd(), whoamiCmd(), sendCmd(), historyCmd(), pollCmd())
	return root.Execute()
}
