package commands

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/escrowline/walletcore/pkg/wallet"
)

// deposit <contract> <seller> <wei>: create, approve and fund an escrow
// agreement as one ordered transaction sequence.
func depositCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deposit <contract> <seller> <amount-wei>",
		Short: "Create and fund an escrow agreement",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !common.IsHexAddress(args[0]) || !common.IsHexAddress(args[1]) {
				return fmt.Errorf("contract and seller must be hex addresses")
			}
			contract := common.HexToAddress(args[0])
			seller := common.HexToAddress(args[1])
			amount, ok := new(big.Int).SetString(args[2], 10)
			if !ok || amount.Sign() <= 0 {
				return fmt.Errorf("amount must be a positive decimal wei value")
			}

			s := manager.Current()
			if s.Address == nil {
				return fmt.Errorf("no connected wallet; run connect first")
			}

			// Agreement IDs only need to be unique per (buyer, seller)
			// pair; the contract stores them as opaque bytes32.
			salt := uuid.New()
			agreementID := crypto.Keccak256Hash(s.Address.Bytes(), seller.Bytes(), salt[:])

			steps, err := wallet.EscrowFundingSteps(contract, seller, agreementID, amount)
			if err != nil {
				return err
			}

			submitter, err := submit()
			if err != nil {
				return err
			}

			result, err := submitter.RunSequence(cmd.Context(), steps, stepTimeout)
			if result != nil {
				for _, step := range result.Steps {
					fmt.Printf("%-8s nonce=%d tx=%s\n", step.Label, step.Nonce, step.Hash.Hex())
				}
			}
			if err != nil {
				return err
			}

			fmt.Printf("%s agreement=%s sequence=%s\n",
				color.GreenString("funded"), agreementID.Hex(), result.ID)
			return nil
		},
	}
}
