// Package ledger is an in-process devnet ledger: it implements the
// gateway boundary by executing the program's instruction semantics
// atomically against a Badger store. Local development and tests run
// against it; a production deployment swaps in a real RPC gateway behind
// the same interface.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tgxzd/agrox/internal/codec"
	"github.com/tgxzd/agrox/internal/gateway"
	"github.com/tgxzd/agrox/internal/pda"
	"github.com/tgxzd/agrox/internal/schema"
)

// Options configures a Ledger. Zero values fall back to sane defaults.
type Options struct {
	// Path is the Badger directory. Ignored when InMemory is set.
	Path     string
	InMemory bool
	Schema   *schema.Schema
	Seeds    pda.Seeds
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Ledger executes program instructions against local storage.
type Ledger struct {
	db      *badger.DB
	program pda.Address
	seeds   pda.Seeds
	cod     *codec.Codec
	clock   func() time.Time
	log     *zap.Logger
}

var _ gateway.Gateway = (*Ledger)(nil)

// Open opens (or creates) the ledger store.
func Open(opts Options) (*Ledger, error) {
	if opts.Schema == nil {
		opts.Schema = schema.Default()
	}
	if opts.Seeds.MachineTag == "" {
		opts.Seeds = pda.DefaultSeeds()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	program, err := pda.Parse(opts.Schema.Program)
	if err != nil {
		return nil, fmt.Errorf("open ledger: bad program id: %w", err)
	}

	bopts := badger.DefaultOptions(filepath.Clean(opts.Path))
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts.Logger = nil
	bopts = bopts.WithValueLogFileSize(1 << 20)
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	return &Ledger{
		db:      db,
		program: program,
		seeds:   opts.Seeds,
		cod:     codec.New(opts.Schema),
		clock:   opts.Clock,
		log:     opts.Logger,
	}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// Program returns the program id this ledger executes.
func (l *Ledger) Program() pda.Address {
	return l.program
}

// DelegationProgram is the external delegation mechanism's program id.
func DelegationProgram() pda.Address {
	a, _ := pda.Derive(pda.Address{}, []byte("delegation-program"))
	return a
}

type storedAccount struct {
	Owner pda.Address `json:"owner"`
	Data  []byte      `json:"data"`
}

func accountKey(addr pda.Address) []byte {
	return append([]byte("acct:"), addr[:]...)
}

func undelegationKey(addr pda.Address) []byte {
	return append([]byte("undel:"), addr[:]...)
}

func getAccount(txn *badger.Txn, addr pda.Address) (*storedAccount, error) {
	item, err := txn.Get(accountKey(addr))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, gateway.ErrAccountNotFound
		}
		return nil, err
	}
	var out storedAccount
	err = item.Value(func(v []byte) error {
		return json.Unmarshal(v, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func putAccount(txn *badger.Txn, addr pda.Address, acct *storedAccount) error {
	data, err := json.Marshal(acct)
	if err != nil {
		return err
	}
	return txn.Set(accountKey(addr), data)
}

// GetAccount implements gateway.Gateway.
func (l *Ledger) GetAccount(ctx context.Context, addr pda.Address) (*gateway.Account, error) {
	var out *gateway.Account
	err := l.db.View(func(txn *badger.Txn) error {
		acct, err := getAccount(txn, addr)
		if err != nil {
			return err
		}
		out = &gateway.Account{Address: addr, Owner: acct.Owner, Data: acct.Data}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetAccountsByOwner implements gateway.Gateway.
func (l *Ledger) GetAccountsByOwner(ctx context.Context, owner pda.Address) ([]gateway.Account, error) {
	var out []gateway.Account
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("acct:")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.Key()
			var addr pda.Address
			copy(addr[:], key[len("acct:"):])

			var acct storedAccount
			err := item.Value(func(v []byte) error {
				return json.Unmarshal(v, &acct)
			})
			if err != nil {
				return err
			}
			if acct.Owner != owner {
				continue
			}
			out = append(out, gateway.Account{Address: addr, Owner: acct.Owner, Data: acct.Data})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Send implements gateway.Gateway. The instruction is executed inside one
// Badger transaction: all account mutations apply or none do.
func (l *Ledger) Send(ctx context.Context, instr gateway.Instruction, signer pda.Address) (string, error) {
	if signer.IsZero() {
		return "", gateway.ErrNotConnected
	}
	if instr.Program != l.program {
		return "", gateway.Reject(gateway.CodeUnauthorized, "instruction targets unknown program %s", instr.Program)
	}

	err := l.db.Update(func(txn *badger.Txn) error {
		return l.execute(txn, instr, signer)
	})
	if err != nil {
		return "", err
	}

	txID := uuid.NewString()
	l.log.Debug("instruction applied",
		zap.String("instruction", instr.Name),
		zap.String("tx", txID),
		zap.Stringer("signer", signer))
	return txID, nil
}
