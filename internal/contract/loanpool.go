// Package contract provides the smart contract ABI binding for the Solvena
// LoanPool. The binding is hand-rolled from the contract interface and offers
// type-safe pack/unpack helpers for the settlement bridge.
package contract

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/solvena/solvena-bridge/internal/model"
)

// LoanPool contract errors
var (
	ErrLoanIDTooLong   = errors.New("loan id exceeds 32 bytes")
	ErrEmptyLoanID     = errors.New("empty loan id")
	ErrInvalidViewData = errors.New("invalid view call return data")
)

// FactTypeDscrVerified is the on-chain discriminator for DSCR verification facts.
const FactTypeDscrVerified uint8 = 1

// LoanPoolABI is the ABI of the LoanPool smart contract.
// This matches the Solidity contract interface:
//
//	function handleVerifiedFact(uint8 factType, address borrower, bytes calldata data) external;
//	function repay(bytes32 loanId, uint256 amount) external;
//	function isActive(bytes32 loanId) external view returns (bool);
//	function amount(bytes32 loanId) external view returns (uint256);
//	function repaidAmount(bytes32 loanId) external view returns (uint256);
const LoanPoolABI = `[
	{
		"type": "function",
		"name": "handleVerifiedFact",
		"inputs": [
			{"name": "factType", "type": "uint8"},
			{"name": "borrower", "type": "address"},
			{"name": "data", "type": "bytes"}
		],
		"outputs": [],
		"stateMutability": "nonpayable"
	},
	{
		"type": "function",
		"name": "repay",
		"inputs": [
			{"name": "loanId", "type": "bytes32"},
			{"name": "amount", "type": "uint256"}
		],
		"outputs": [],
		"stateMutability": "nonpayable"
	},
	{
		"type": "function",
		"name": "isActive",
		"inputs": [
			{"name": "loanId", "type": "bytes32"}
		],
		"outputs": [
			{"name": "", "type": "bool"}
		],
		"stateMutability": "view"
	},
	{
		"type": "function",
		"name": "amount",
		"inputs": [
			{"name": "loanId", "type": "bytes32"}
		],
		"outputs": [
			{"name": "", "type": "uint256"}
		],
		"stateMutability": "view"
	},
	{
		"type": "function",
		"name": "repaidAmount",
		"inputs": [
			{"name": "loanId", "type": "bytes32"}
		],
		"outputs": [
			{"name": "", "type": "uint256"}
		],
		"stateMutability": "view"
	}
]`

// Caller performs read-only contract calls. Satisfied by blockchain.TxClient.
type Caller interface {
	Call(ctx context.Context, to common.Address, calldata []byte) ([]byte, error)
}

// LoanPoolContract provides methods to interact with the LoanPool smart contract.
type LoanPoolContract struct {
	address common.Address
	abi     abi.ABI
	caller  Caller
}

// NewLoanPoolContract creates a new LoanPool contract instance.
func NewLoanPoolContract(address common.Address, caller Caller) (*LoanPoolContract, error) {
	parsed, err := abi.JSON(strings.NewReader(LoanPoolABI))
	if err != nil {
		return nil, err
	}

	return &LoanPoolContract{
		address: address,
		abi:     parsed,
		caller:  caller,
	}, nil
}

// Address returns the contract address.
func (c *LoanPoolContract) Address() common.Address {
	return c.address
}

// factDataArguments describes the abi-encoded payload carried by
// handleVerifiedFact for DSCR facts:
// (bytes32 loanId, uint256 dscrScaled, uint256 rateBps, bytes32 proofHash).
var factDataArguments = abi.Arguments{
	{Type: mustNewType("bytes32")},
	{Type: mustNewType("uint256")},
	{Type: mustNewType("uint256")},
	{Type: mustNewType("bytes32")},
}

func mustNewType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// EncodeFactData abi-encodes the DSCR fact payload.
func EncodeFactData(loanID [32]byte, dscrScaled, rateBps *big.Int, proofHash [32]byte) ([]byte, error) {
	return factDataArguments.Pack(loanID, dscrScaled, rateBps, proofHash)
}

// PackHandleVerifiedFact packs the handleVerifiedFact function call data.
func (c *LoanPoolContract) PackHandleVerifiedFact(factType uint8, borrower common.Address, data []byte) ([]byte, error) {
	return c.abi.Pack("handleVerifiedFact", factType, borrower, data)
}

// PackRepay packs the repay function call data.
func (c *LoanPoolContract) PackRepay(loanID [32]byte, amount *big.Int) ([]byte, error) {
	return c.abi.Pack("repay", loanID, amount)
}

// IsActive queries whether the loan is still active on-chain.
func (c *LoanPoolContract) IsActive(ctx context.Context, loanID [32]byte) (bool, error) {
	data, err := c.abi.Pack("isActive", loanID)
	if err != nil {
		return false, err
	}

	result, err := c.caller.Call(ctx, c.address, data)
	if err != nil {
		return false, err
	}

	values, err := c.abi.Unpack("isActive", result)
	if err != nil {
		return false, err
	}
	active, ok := values[0].(bool)
	if !ok {
		return false, ErrInvalidViewData
	}
	return active, nil
}

// Amount queries the total loan amount recorded on-chain.
func (c *LoanPoolContract) Amount(ctx context.Context, loanID [32]byte) (*big.Int, error) {
	return c.callUint256(ctx, "amount", loanID)
}

// RepaidAmount queries the cumulative repaid amount recorded on-chain.
func (c *LoanPoolContract) RepaidAmount(ctx context.Context, loanID [32]byte) (*big.Int, error) {
	return c.callUint256(ctx, "repaidAmount", loanID)
}

func (c *LoanPoolContract) callUint256(ctx context.Context, method string, loanID [32]byte) (*big.Int, error) {
	data, err := c.abi.Pack(method, loanID)
	if err != nil {
		return nil, err
	}

	result, err := c.caller.Call(ctx, c.address, data)
	if err != nil {
		return nil, err
	}

	values, err := c.abi.Unpack(method, result)
	if err != nil {
		return nil, err
	}
	value, ok := values[0].(*big.Int)
	if !ok {
		return nil, ErrInvalidViewData
	}
	return value, nil
}

// SettlementView reads the live settlement state of a loan. The view is
// derived per call and must never be cached by callers.
func (c *LoanPoolContract) SettlementView(ctx context.Context, loanID [32]byte) (*model.LoanSettlementView, error) {
	active, err := c.IsActive(ctx, loanID)
	if err != nil {
		return nil, fmt.Errorf("isActive: %w", err)
	}
	total, err := c.Amount(ctx, loanID)
	if err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	repaid, err := c.RepaidAmount(ctx, loanID)
	if err != nil {
		return nil, fmt.Errorf("repaidAmount: %w", err)
	}
	return &model.LoanSettlementView{
		Active:       active,
		Amount:       total,
		RepaidAmount: repaid,
	}, nil
}

// LoanIDToBytes32 maps an application loan id to its on-chain bytes32 form.
// Hex ids (0x-prefixed) are decoded and left-padded; opaque string ids are
// UTF-8 encoded and right-padded. The mapping is deterministic, so relaying
// the same loan id always targets the same on-chain slot.
func LoanIDToBytes32(loanID string) ([32]byte, error) {
	var result [32]byte

	if loanID == "" {
		return result, ErrEmptyLoanID
	}

	if strings.HasPrefix(loanID, "0x") || strings.HasPrefix(loanID, "0X") {
		raw, err := hex.DecodeString(loanID[2:])
		if err == nil {
			if len(raw) > 32 {
				return result, ErrLoanIDTooLong
			}
			copy(result[32-len(raw):], raw)
			return result, nil
		}
		// 0x prefix but not valid hex: fall through to opaque string handling
	}

	if len(loanID) > 32 {
		return result, ErrLoanIDTooLong
	}
	copy(result[:], []byte(loanID))
	return result, nil
}
