package commands

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"sealroom/internal/domain"
	"sealroom/internal/services/conversation"
)

func publishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Publish this device and a fresh key package to the relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := wire.RequireRelay(); err != nil {
				return err
			}
			_, h, err := unlockDevice(cmd)
			if err != nil {
				return err
			}
			kp, err := wire.Conversations.Publish(cmd.Context(), h)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Published %s (key package expires %s)\n", h.Fingerprint.Short(), kp.ExpiresAt.Format("2006-01-02"))
			return nil
		},
	}
}

func readAttachments(paths []string) ([]domain.Attachment, error) {
	atts := make([]domain.Attachment, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		mt := mime.TypeByExtension(filepath.Ext(p))
		if mt == "" {
			mt = "application/octet-stream"
		}
		atts = append(atts, domain.Attachment{Name: filepath.Base(p), MIME: mt, Data: data})
	}
	return atts, nil
}

func messageText(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) > 0 {
		return []byte(strings.Join(args, " ")), nil
	}
	return io.ReadAll(cmd.InOrStdin())
}

func sendCmd() *cobra.Command {
	var room string
	var to, attach []string
	cmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Encrypt a message to each --to device and post it to --room",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := wire.RequireRelay(); err != nil {
				return err
			}
			ctx := cmd.Context()
			id := domain.ConversationID(room)
			if mode, err := wire.Conversations.Mode(ctx, id); err != nil {
				return err
			} else if mode != domain.ModeEnvelope {
				return fmt.Errorf("%s is a %s conversation; use sealroom group send", room, mode)
			}
			_, h, err := unlockDevice(cmd)
			if err != nil {
				return err
			}
			text, err := messageText(cmd, args)
			if err != nil {
				return err
			}
			atts, err := readAttachments(attach)
			if err != nil {
				return err
			}

			recipients := []domain.Recipient{{Fingerprint: h.Fingerprint, PublicKey: h.Public}}
			for _, fpr := range to {
				f := domain.Fingerprint(fpr)
				if f == h.Fingerprint {
					continue
				}
				pub, err := wire.Relay.LookupDevice(ctx, f)
				if err != nil {
					return fmt.Errorf("look up %s: %w", f.Short(), err)
				}
				recipients = append(recipients, domain.Recipient{Fingerprint: f, PublicKey: pub})
			}
			seq, err := wire.Conversations.Send(ctx, id, conversation.Outgoing{Plaintext: text, Attachments: atts, Recipients: recipients}, h)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent #%d to %d device(s)\n", seq, len(recipients))
			return nil
		},
	}
	cmd.Flags().StringVar(&room, "room", "", "room id")
	cmd.Flags().StringSliceVar(&to, "to", nil, "recipient fingerprint (repeatable)")
	cmd.Flags().StringSliceVar(&attach, "attach", nil, "file to attach (repeatable)")
	_ = cmd.MarkFlagRequired("room")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

// receive fetches conversation id and prints every message. Attachments are
// written to outDir when it is set.
func receive(cmd *cobra.Command, id domain.ConversationID, outDir string) error {
	if err := wire.RequireRelay(); err != nil {
		return err
	}
	_, h, err := unlockDevice(cmd)
	if err != nil {
		return err
	}
	msgs, err := wire.Conversations.Receive(cmd.Context(), id, h)
	for _, m := range msgs {
		mark := "unverified"
		if m.Verified {
			mark = "verified"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "#%d [%s %s] %s\n", m.Seq, m.Sender.Short(), mark, m.Plaintext)
		for _, f := range m.Files {
			if outDir == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "    attachment %s (%s, %d bytes)\n", f.Name, f.MIME, len(f.Data))
				continue
			}
			path := filepath.Join(outDir, filepath.Base(f.Name))
			if werr := os.WriteFile(path, f.Data, 0o600); werr != nil {
				err = errors.Join(err, werr)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "    saved %s\n", path)
		}
	}
	return err
}

func recvCmd() *cobra.Command {
	var room, out string
	cmd := &cobra.Command{
		Use:   "recv",
		Short: "Fetch and decrypt new messages in --room",
		RunE: func(cmd *cobra.Command, args []string) error {
			return receive(cmd, domain.ConversationID(room), out)
		},
	}
	cmd.Flags().StringVar(&room, "room", "", "room id")
	cmd.Flags().StringVar(&out, "out", "", "directory to save attachments in")
	_ = cmd.MarkFlagRequired("room")
	return cmd
}
