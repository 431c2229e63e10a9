package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kretoffer/encode-now-backend/clients/go/relay"
)

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <recipient-public-key> <message>",
		Short: "Seal a message for a recipient and submit it",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kr, err := loadKeyring()
			if err != nil {
				return err
			}
			recipient, err := relay.DecodePublicKey(args[0])
			if err != nil {
				return err
			}

			sealed, err := relay.Seal([]byte(strings.Join(args[1:], " ")), recipient)
			if err != nil {
				return err
			}

			id, err := client.Send(cmd.Context(), kr.Identity(), args[0], sealed)
			if err != nil {
				return err
			}
			fmt.Printf("Sent message %d\n", id)
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	var opts relay.HistoryOptions
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List messages you sent or received",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.SinceID > 0 && opts.UntilID > 0 {
				return errors.New("--since and --until cannot be combined")
			}
			kr, err := loadKeyring()
			if err != nil {
				return err
			}
			msgs, err := client.History(cmd.Context(), kr.Identity(), opts)
			if err != nil {
				return err
			}
			printMessages(kr, msgs)
			return nil
		},
	}
	cmd.Flags().Int64Var(&opts.SinceID, "since", 0, "only messages with id greater than this")
	cmd.Flags().Int64Var(&opts.UntilID, "until", 0, "only messages with id less than this")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of messages (server default 100)")
	return cmd
}

func pollCmd() *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Wait for new messages addressed to you",
		RunE: func(cmd *cobra.Command, args []string) error {
			kr, err := loadKeyring()
			if err != nil {
				return err
			}
			for {
				msgs, err := client.Poll(cmd.Context(), kr.Identity())
				if relay.IsNotFound(err) {
					return errors.New("the relay has not seen your key yet; send or receive a message first")
				}
				if err != nil {
					return err
				}
				printMessages(kr, msgs)
				if !follow {
					return nil
				}
			}
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep polling after each batch")
	return cmd
}

func printMessages(kr *relay.Keyring, msgs []relay.Message) {
	for _, m := range msgs {
		plaintext, err := relay.Open(m.Ciphertext, kr.PrivateKey)
		if err != nil {
			// Outgoing messages are sealed for the recipient.
			fmt.Printf("#%d %d -> %d [sealed, %d bytes]\n", m.ID, m.SenderID, m.RecipientID, len(m.Ciphertext))
			continue
		}
		fmt.Printf("#%d %d -> %d %s\n", m.ID, m.SenderID, m.RecipientID, plaintext)
	}
}
