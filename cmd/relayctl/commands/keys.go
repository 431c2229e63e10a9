package commands

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/kretoffer/encode-now-backend/clients/go/relay"
)

func keygenCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new identity key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := relay.LoadKeyring(home); err == nil && !force {
				return fmt.Errorf("identity already exists in %s (use --force to replace it)", home)
			}
			kr, err := relay.GenerateKeyring()
			if err != nil {
				return err
			}
			if err := kr.Save(home); err != nil {
				return err
			}
			fmt.Printf("Identity created in %s\nPublic key: %s\n", home, kr.Identity())
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing identity")
	return cmd
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print your public key",
		RunE: func(cmd *cobra.Command, args []string) error {
			kr, err := loadKeyring()
			if err != nil {
				return err
			}
			fmt.Println(kr.Identity())
			return nil
		},
	}
}

func loadKeyring() (*relay.Keyring, error) {
	kr, err := relay.LoadKeyring(home)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("no identity in %s, run relayctl keygen first", home)
	}
	return kr, err
}
