package wallet

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Minimal escrow contract ABI covering the funding flow. The contract
// itself is an external collaborator; only calldata encoding lives here.
const escrowABI = `[
	{
		"inputs": [
			{"name": "seller", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"name": "createAgreement",
		"outputs": [{"name": "id", "type": "bytes32"}],
		"type": "function"
	},
	{
		"inputs": [{"name": "id", "type": "bytes32"}],
		"name": "approve",
		"outputs": [],
		"type": "function"
	},
	{
		"inputs": [{"name": "id", "type": "bytes32"}],
		"name": "deposit",
		"outputs": [],
		"stateMutability": "payable",
		"type": "function"
	}
]`

var (
	escrowABIOnce   sync.Once
	escrowABIParsed abi.ABI
	escrowABIErr    error
)

func parsedEscrowABI() (abi.ABI, error) {
	escrowABIOnce.Do(func() {
		escrowABIParsed, escrowABIErr = abi.JSON(strings.NewReader(escrowABI))
	})
	return escrowABIParsed, escrowABIErr
}

// EncodeCreateAgreement packs calldata for createAgreement(seller, amount).
func EncodeCreateAgreement(seller common.Address, amount *big.Int) ([]byte, error) {
	parsed, err := parsedEscrowABI()
	if err != nil {
		return nil, fmt.Errorf("failed to parse escrow ABI: %w", err)
	}
	return parsed.Pack("createAgreement", seller, amount)
}

// EncodeApprove packs calldata for approve(id).
func EncodeApprove(id [32]byte) ([]byte, error) {
	parsed, err := parsedEscrowABI()
	if err != nil {
		return nil, fmt.Errorf("failed to parse escrow ABI: %w", err)
	}
	return parsed.Pack("approve", id)
}

// EncodeDeposit packs calldata for deposit(id).
func EncodeDeposit(id [32]byte) ([]byte, error) {
	parsed, err := parsedEscrowABI()
	if err != nil {
		return nil, fmt.Errorf("failed to parse escrow ABI: %w", err)
	}
	return parsed.Pack("deposit", id)
}

// EscrowFundingSteps builds the standard three-step funding sequence
// against the escrow contract: createAgreement -> approve -> deposit.
func EscrowFundingSteps(contract common.Address, seller common.Address, agreementID [32]byte, amount *big.Int) ([]SequenceStep, error) {
	createData, err := EncodeCreateAgreement(seller, amount)
	if err != nil {
		return nil, err
	}
	approveData, err := EncodeApprove(agreementID)
	if err != nil {
		return nil, err
	}
	depositData, err := EncodeDeposit(agreementID)
	if err != nil {
		return nil, err
	}

	return []SequenceStep{
		{Label: "create", To: &contract, Data: createData},
		{Label: "approve", To: &contract, Data: approveData},
		{Label: "deposit", To: &contract, Data: depositData, Value: amount},
	}, nil
}
