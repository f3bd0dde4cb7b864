// Package gateway defines the ledger transport boundary: fetch raw account
// bytes, list accounts by owning program, and submit instructions. The
// host ledger guarantees transaction atomicity; no retry happens here,
// retry policy belongs to the caller.
package gateway

import (
	"context"
	"errors"

	"github.com/tgxzd/agrox/internal/pda"
)

var (
	// ErrAccountNotFound means the address holds no account.
	ErrAccountNotFound = errors.New("account not found")
	// ErrNotConnected means no signing identity was supplied.
	ErrNotConnected = errors.New("no signing identity available")
)

// Account is a raw account as stored on the ledger.
type Account struct {
	Address pda.Address
	Owner   pda.Address
	Data    []byte
}

// AccountMeta names one account an instruction touches.
type AccountMeta struct {
	Address  pda.Address
	Writable bool
	Signer   bool
}

// Instruction is a single program invocation: the target program, the
// accounts it touches and the encoded argument payload.
type Instruction struct {
	Program  pda.Address
	Name     string
	Accounts []AccountMeta
	Data     []byte
}

// Gateway is the ledger client boundary. A transaction submitted through
// Send either fully applies or fully fails.
type Gateway interface {
	// GetAccount fetches one account, or ErrAccountNotFound.
	GetAccount(ctx context.Context, addr pda.Address) (*Account, error)
	// GetAccountsByOwner lists every account owned by a program.
	GetAccountsByOwner(ctx context.Context, owner pda.Address) ([]Account, error)
	// Send submits one instruction signed by signer and returns the
	// transaction id on success.
	Send(ctx context.Context, instr Instruction, signer pda.Address) (string, error)
}
