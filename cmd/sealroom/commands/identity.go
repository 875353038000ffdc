package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"sealroom/internal/crypto"
	"sealroom/internal/domain"
	"sealroom/internal/services/identity"
)

func initCmd() *cobra.Command {
	var name, email string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a device identity and store it under a passphrase",
		RunE: func(cmd *cobra.Command, args []string) error {
			pass, err := readPassphrase(cmd)
			if err != nil {
				return err
			}
			id, err := wire.Identity.GenerateIdentity(cmd.Context(), name, email, pass)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Identity created.\nFingerprint: %s\n", id.Fingerprint)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "device label")
	cmd.Flags().StringVar(&email, "email", "", "contact email")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func fingerprintCmd() *cobra.Command {
	var peer string
	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the device fingerprint, or the safety code shared with --peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := wire.Device(cmd.Context(), deviceFpr)
			if err != nil {
				return err
			}
			if peer == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Fingerprint: %s\n", dev.Fingerprint)
				return nil
			}
			if err := wire.RequireRelay(); err != nil {
				return err
			}
			pub, err := wire.Relay.LookupDevice(cmd.Context(), domain.Fingerprint(peer))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Safety code: %s\n", crypto.DisplayCode(dev.PublicKey, pub))
			return nil
		},
	}
	cmd.Flags().StringVar(&peer, "peer", "", "peer fingerprint to compute a safety code with")
	return cmd
}

func devicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List identities in the vault",
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := wire.Vault.ListDevices(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FINGERPRINT\tLABEL\tEMAIL\tCREATED")
			for _, d := range devices {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Fingerprint.Short(), d.Label, d.Email, d.CreatedAt.Format("2006-01-02"))
			}
			return tw.Flush()
		},
	}
}

func passwdCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "passwd",
		Short: "Change the passphrase (old, then new)",
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := wire.Device(cmd.Context(), deviceFpr)
			if err != nil {
				return err
			}
			oldPass, err := readPassphrase(cmd)
			if err != nil {
				return err
			}
			newPass, err := readLine(cmd, "SEALROOM_NEW_PASSPHRASE", "new passphrase")
			if err != nil {
				return err
			}
			if err := wire.Identity.ChangePassphrase(cmd.Context(), dev.Fingerprint, oldPass, newPass); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Passphrase changed.")
			return nil
		},
	}
}

func recoveryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recovery",
		Short: "Print the 24-word recovery phrase",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, h, err := unlockDevice(cmd)
			if err != nil {
				return err
			}
			phrase, err := identity.RecoveryPhrase(h)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), phrase)
			return nil
		},
	}

	var name, email string
	restore := &cobra.Command{
		Use:   "restore",
		Short: "Restore an identity from its recovery phrase (phrase, then passphrase)",
		RunE: func(cmd *cobra.Command, args []string) error {
			phrase, err := readLine(cmd, "SEALROOM_RECOVERY_PHRASE", "recovery phrase")
			if err != nil {
				return err
			}
			pass, err := readPassphrase(cmd)
			if err != nil {
				return err
			}
			id, err := wire.Identity.RestoreIdentity(cmd.Context(), phrase, name, email, pass)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Identity restored.\nFingerprint: %s\n", id.Fingerprint)
			return nil
		},
	}
	restore.Flags().StringVar(&name, "name", "", "device label for a new record")
	restore.Flags().StringVar(&email, "email", "", "contact email")
	cmd.AddCommand(restore)
	return cmd
}

func biometricCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "biometric",
		Short: "Manage biometric unlock",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "enable",
			Short: "Enable biometric unlock for this device",
			RunE: func(cmd *cobra.Command, args []string) error {
				dev, err := wire.Device(cmd.Context(), deviceFpr)
				if err != nil {
					return err
				}
				return wire.Unlock.EnableBiometric(cmd.Context(), dev.Fingerprint)
			},
		},
		&cobra.Command{
			Use:   "disable",
			Short: "Disable biometric unlock and drop the biometric copy",
			RunE: func(cmd *cobra.Command, args []string) error {
				dev, err := wire.Device(cmd.Context(), deviceFpr)
				if err != nil {
					return err
				}
				return wire.Unlock.DisableBiometric(cmd.Context(), dev.Fingerprint)
			},
		},
	)
	return cmd
}
