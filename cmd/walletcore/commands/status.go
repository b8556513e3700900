package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// status: print the current session state.
func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current wallet session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := manager.Current()

			fmt.Printf("state:         %s\n", color.CyanString(manager.Status().String()))
			if s.Address != nil {
				fmt.Printf("address:       %s\n", s.Address.Hex())
			}
			if s.ProviderKind != "" {
				fmt.Printf("provider:      %s\n", s.ProviderKind)
			}
			fmt.Printf("connected:     %v\n", s.IsConnected)
			fmt.Printf("authenticated: %v\n", s.IsAuthenticated)
			if s.LastError != "" {
				fmt.Printf("last error:    %s\n", color.RedString(s.LastError))
			}
			return nil
		},
	}
}
