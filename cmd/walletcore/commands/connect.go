package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// connect: run the full connect and backend login flow.
func connectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Connect the configured wallet and authenticate with the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := manager.Connect(cmd.Context(), cfg.ProviderKind); err != nil {
				return err
			}
			s := manager.Current()
			fmt.Printf("%s %s\n", color.GreenString("connected"), s.Address.Hex())
			return nil
		},
	}
}

// disconnect: tear down the session and erase the stored token.
func disconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Disconnect the wallet and clear stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := manager.Disconnect(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("disconnected")
			return nil
		},
	}
}
