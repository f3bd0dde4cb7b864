// Package repo keeps the client-side view of ledger state: an in-memory
// snapshot of decoded accounts plus secondary indexes. The ledger is the
// source of truth; a refresh replaces the snapshot wholesale so readers
// see either the old generation or the new one, never a mix.
package repo

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/tgxzd/agrox/internal/codec"
	"github.com/tgxzd/agrox/internal/gateway"
	"github.com/tgxzd/agrox/internal/models"
	"github.com/tgxzd/agrox/internal/pda"
)

// Repository caches decoded entity records keyed by address.
type Repository struct {
	gw      gateway.Gateway
	cod     *codec.Codec
	program pda.Address
	log     *zap.Logger

	mu   sync.RWMutex
	snap *Snapshot
}

func New(gw gateway.Gateway, cod *codec.Codec, program pda.Address, log *zap.Logger) *Repository {
	if log == nil {
		log = zap.NewNop()
	}
	return &Repository{
		gw:      gw,
		cod:     cod,
		program: program,
		log:     log,
		snap:    emptySnapshot(),
	}
}

// Snapshot returns the current consistent view. Callers must treat it as
// read-only; it is shared with every other reader of this generation.
func (r *Repository) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// RefreshAll re-fetches every program account, decodes it, and swaps in a
// freshly built snapshot. Individual decode failures are logged and the
// account treated as absent until the next refresh. Any provisional
// patches are overwritten, not merged.
func (r *Repository) RefreshAll(ctx context.Context) error {
	accounts, err := r.gw.GetAccountsByOwner(ctx, r.program)
	if err != nil {
		return err
	}

	next := emptySnapshot()
	for _, acct := range accounts {
		rec, err := r.cod.DecodeAny(acct.Data)
		if err != nil {
			r.log.Warn("skipping undecodable account",
				zap.Stringer("address", acct.Address),
				zap.Error(err))
			continue
		}
		next.insert(acct.Address, rec)
	}
	next.reindex()

	r.mu.Lock()
	next.Generation = r.snap.Generation + 1
	r.snap = next
	r.mu.Unlock()
	return nil
}

// Upsert patches the current view with a record after a known-successful
// write, keeping reads responsive until the next full refresh. The patch
// is provisional: the next RefreshAll discards it in favour of
// authoritative ledger state.
func (r *Repository) Upsert(addr pda.Address, rec any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.snap.clone()
	next.insert(addr, rec)
	next.reindex()
	next.Provisional = true
	r.snap = next
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		Machines: map[pda.Address]*models.Machine{},
		Plants:   map[pda.Address]*models.Plant{},
		Data:     map[pda.Address]*models.IoTData{},
	}
}
