package commands

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"sealroom/internal/app"
)

var (
	home       string
	configPath string
	deviceFpr  string
	biometric  bool

	wire *app.Wire
)

// Execute runs the root command.
func Execute() error {
	root := &cobra.Command{
		Use:          "sealroom",
		Short:        "End-to-end encrypted group messaging",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			w, err := app.NewWire(cmd.Context(), app.Options{
				Home:       home,
				ConfigPath: configPath,
				LogOutput:  cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			wire = w
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if wire == nil {
				return nil
			}
			return wire.Close()
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "data dir (default $SEALROOM_HOME or ~/.sealroom)")
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <home>/config.yaml)")
	root.PersistentFlags().StringVar(&deviceFpr, "device", "", "fingerprint prefix of the device to use")
	root.PersistentFlags().BoolVar(&biometric, "biometric", false, "try biometric unlock first")

	root.AddCommand(
		initCmd(),
		fingerprintCmd(),
		devicesCmd(),
		passwdCmd(),
		recoveryCmd(),
		biometricCmd(),
		publishCmd(),
		sendCmd(),
		recvCmd(),
		groupCmd(),
	)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return root.ExecuteContext(ctx)
}
