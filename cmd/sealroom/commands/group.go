package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"sealroom/internal/domain"
	"sealroom/internal/services/conversation"
)

func fingerprints(args []string) []domain.Fingerprint {
	out := make([]domain.Fingerprint, len(args))
	for i, a := range args {
		out[i] = domain.Fingerprint(a)
	}
	return out
}

func groupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Group conversations",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := cmd.Root().PersistentPreRunE(cmd, args); err != nil {
				return err
			}
			return wire.RequireRelay()
		},
	}

	create := &cobra.Command{
		Use:   "create <group>",
		Short: "Create a group with this device as its only member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, h, err := unlockDevice(cmd)
			if err != nil {
				return err
			}
			st, err := wire.Conversations.CreateGroup(cmd.Context(), domain.ConversationID(args[0]), h)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "group %s created at epoch %d\n", st.GroupID, st.Epoch)
			return nil
		},
	}

	add := &cobra.Command{
		Use:   "add <group> <fingerprint>...",
		Short: "Add devices using their published key packages",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, h, err := unlockDevice(cmd)
			if err != nil {
				return err
			}
			st, err := wire.Conversations.AddMembers(cmd.Context(), domain.ConversationID(args[0]), fingerprints(args[1:]), h)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "epoch %d, %d members\n", st.Epoch, len(st.MemberKeys))
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "remove <group> <fingerprint>...",
		Short: "Remove members from the group",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, h, err := unlockDevice(cmd)
			if err != nil {
				return err
			}
			st, err := wire.Conversations.RemoveMembers(cmd.Context(), domain.ConversationID(args[0]), fingerprints(args[1:]), h)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "epoch %d, %d members\n", st.Epoch, len(st.MemberKeys))
			return nil
		},
	}

	var attach []string
	send := &cobra.Command{
		Use:   "send <group> [message]",
		Short: "Send a message to the group",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, h, err := unlockDevice(cmd)
			if err != nil {
				return err
			}
			text, err := messageText(cmd, args[1:])
			if err != nil {
				return err
			}
			atts, err := readAttachments(attach)
			if err != nil {
				return err
			}
			seq, err := wire.Conversations.Send(cmd.Context(), domain.ConversationID(args[0]), conversation.Outgoing{Plaintext: text, Attachments: atts}, h)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent #%d\n", seq)
			return nil
		},
	}
	send.Flags().StringSliceVar(&attach, "attach", nil, "file to attach (repeatable)")

	var out string
	sync := &cobra.Command{
		Use:   "sync <group>",
		Short: "Fetch handshakes and messages for the group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return receive(cmd, domain.ConversationID(args[0]), out)
		},
	}
	sync.Flags().StringVar(&out, "out", "", "directory to save attachments in")

	members := &cobra.Command{
		Use:   "members <group>",
		Short: "List the group's members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, h, err := unlockDevice(cmd)
			if err != nil {
				return err
			}
			fprs, err := wire.Groups.Members(cmd.Context(), domain.GroupID(args[0]), h)
			if err != nil {
				return err
			}
			for _, f := range fprs {
				marker := ""
				if f == h.Fingerprint {
					marker = " (this device)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s%s\n", f, marker)
			}
			return nil
		},
	}

	cmd.AddCommand(create, add, remove, send, sync, members)
	return cmd
}
