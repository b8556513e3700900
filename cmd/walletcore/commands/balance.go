package commands

import (
	"fmt"
	"math/big"

	"github.com/spf13/cobra"
)

// balance: read the connected account's ETH balance over the trusted
// read path.
func balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the connected account's balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			router, err := manager.Router(cmd.Context())
			if err != nil {
				return err
			}
			s := manager.Current()
			wei, err := router.BalanceAt(cmd.Context(), *s.Address, nil)
			if err != nil {
				return err
			}

			eth := new(big.Rat).SetFrac(wei, big.NewInt(1e18))
			fmt.Printf("%s ETH (%s wei)\n", eth.FloatString(6), wei)
			return nil
		},
	}
}
