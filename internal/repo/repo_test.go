package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tgxzd/agrox/internal/codec"
	"github.com/tgxzd/agrox/internal/gateway"
	"github.com/tgxzd/agrox/internal/models"
	"github.com/tgxzd/agrox/internal/pda"
	"github.com/tgxzd/agrox/internal/schema"
)

type stubGateway struct {
	accounts []gateway.Account
	err      error
}

func (s *stubGateway) GetAccount(ctx context.Context, addr pda.Address) (*gateway.Account, error) {
	for i := range s.accounts {
		if s.accounts[i].Address == addr {
			return &s.accounts[i], nil
		}
	}
	return nil, gateway.ErrAccountNotFound
}

func (s *stubGateway) GetAccountsByOwner(ctx context.Context, owner pda.Address) ([]gateway.Account, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.accounts, nil
}

func (s *stubGateway) Send(ctx context.Context, instr gateway.Instruction, signer pda.Address) (string, error) {
	return "", errors.New("read-only stub")
}

func addr(b byte) pda.Address {
	var a pda.Address
	a[0] = b
	return a
}

func account(a pda.Address, program pda.Address, data []byte) gateway.Account {
	return gateway.Account{Address: a, Owner: program, Data: data}
}

func TestRefreshAll(t *testing.T) {
	cod := codec.New(schema.Default())
	program := addr(0xF0)
	owner := addr(0xAA)

	clusterAddr := addr(1)
	machineAddr := addr(2)
	plantAddr := addr(3)

	gw := &stubGateway{accounts: []gateway.Account{
		account(clusterAddr, program, cod.EncodeCluster(&models.Cluster{Authority: owner, MachineCount: 1})),
		account(machineAddr, program, cod.EncodeMachine(&models.Machine{Owner: owner, MachineID: "AgroX-0"})),
		account(plantAddr, program, cod.EncodePlant(&models.Plant{Creator: owner, PlantName: "Tomato Plant", Machine: machineAddr})),
	}}

	r := New(gw, cod, program, nil)
	require.EqualValues(t, 0, r.Snapshot().Generation)

	require.NoError(t, r.RefreshAll(context.Background()))
	snap := r.Snapshot()
	require.EqualValues(t, 1, snap.Generation)
	require.False(t, snap.Provisional)

	require.NotNil(t, snap.Cluster)
	require.Equal(t, owner, snap.Cluster.Authority)

	m, ok := snap.MachineByID("AgroX-0")
	require.True(t, ok)
	require.Equal(t, machineAddr, m.Address)
	require.Len(t, snap.MachinesOwnedBy(owner), 1)
	require.Len(t, snap.PlantsByMachine(machineAddr), 1)
}

func TestRefreshSkipsUndecodable(t *testing.T) {
	cod := codec.New(schema.Default())
	program := addr(0xF0)

	gw := &stubGateway{accounts: []gateway.Account{
		account(addr(1), program, []byte{0xDE, 0xAD}),
		account(addr(2), program, cod.EncodeMachine(&models.Machine{MachineID: "AgroX-0"})),
	}}

	r := New(gw, cod, program, nil)
	require.NoError(t, r.RefreshAll(context.Background()))

	snap := r.Snapshot()
	require.Len(t, snap.Machines, 1)
	require.Nil(t, snap.Cluster)
}

func TestRefreshFailureKeepsSnapshot(t *testing.T) {
	cod := codec.New(schema.Default())
	program := addr(0xF0)

	gw := &stubGateway{accounts: []gateway.Account{
		account(addr(2), program, cod.EncodeMachine(&models.Machine{MachineID: "AgroX-0"})),
	}}

	r := New(gw, cod, program, nil)
	require.NoError(t, r.RefreshAll(context.Background()))
	before := r.Snapshot()

	gw.err = errors.New("gateway down")
	require.Error(t, r.RefreshAll(context.Background()))

	// The previous generation stays published untouched.
	require.Same(t, before, r.Snapshot())
}

func TestUpsertProvisional(t *testing.T) {
	cod := codec.New(schema.Default())
	program := addr(0xF0)

	gw := &stubGateway{accounts: []gateway.Account{
		account(addr(2), program, cod.EncodeMachine(&models.Machine{MachineID: "AgroX-0"})),
	}}

	r := New(gw, cod, program, nil)
	require.NoError(t, r.RefreshAll(context.Background()))
	before := r.Snapshot()

	r.Upsert(addr(3), &models.Machine{MachineID: "AgroX-1"})
	snap := r.Snapshot()
	require.True(t, snap.Provisional)
	require.NotSame(t, before, snap)
	require.Len(t, snap.Machines, 2)
	_, ok := snap.MachineByID("AgroX-1")
	require.True(t, ok)

	// Readers holding the old generation are unaffected.
	require.Len(t, before.Machines, 1)

	// The next authoritative refresh discards the provisional patch.
	require.NoError(t, r.RefreshAll(context.Background()))
	snap = r.Snapshot()
	require.False(t, snap.Provisional)
	require.Len(t, snap.Machines, 1)
	_, ok = snap.MachineByID("AgroX-1")
	require.False(t, ok)
}
