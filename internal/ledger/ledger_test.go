package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tgxzd/agrox/internal/codec"
	"github.com/tgxzd/agrox/internal/gateway"
	"github.com/tgxzd/agrox/internal/models"
	"github.com/tgxzd/agrox/internal/pda"
	"github.com/tgxzd/agrox/internal/schema"
)

type harness struct {
	t       *testing.T
	led     *Ledger
	cod     *codec.Codec
	seeds   pda.Seeds
	program pda.Address

	user  pda.Address
	other pda.Address
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	sch := schema.Default()
	led, err := Open(Options{
		InMemory: true,
		Schema:   sch,
		Clock:    func() time.Time { return time.Unix(1700000000, 0) },
	})
	require.NoError(t, err)
	t.Cleanup(func() { led.Close() })

	return &harness{
		t:       t,
		led:     led,
		cod:     codec.New(sch),
		seeds:   pda.DefaultSeeds(),
		program: led.Program(),
		user:    pda.Address{0xAA},
		other:   pda.Address{0xBB},
	}
}

func (h *harness) send(name string, signer pda.Address, accounts []pda.Address, args ...any) error {
	h.t.Helper()
	data, err := h.cod.EncodeArgs(name, args...)
	require.NoError(h.t, err)

	metas := make([]gateway.AccountMeta, len(accounts))
	for i, a := range accounts {
		metas[i] = gateway.AccountMeta{Address: a, Writable: true}
	}
	_, err = h.led.Send(context.Background(), gateway.Instruction{
		Program:  h.program,
		Name:     name,
		Accounts: metas,
		Data:     data,
	}, signer)
	return err
}

func (h *harness) clusterAddr() pda.Address {
	a, _ := h.seeds.Cluster(h.program)
	return a
}

func (h *harness) initialize() {
	h.t.Helper()
	require.NoError(h.t, h.send(schema.InstrInitialize, h.user, []pda.Address{h.clusterAddr(), h.user}))
}

func (h *harness) register(machineID string) pda.Address {
	h.t.Helper()
	machine, _ := h.seeds.Machine(h.program, machineID)
	require.NoError(h.t, h.send(schema.InstrRegisterMachine, h.user,
		[]pda.Address{h.clusterAddr(), machine, h.user}, machineID))
	return machine
}

func (h *harness) createPlant(machine pda.Address, name string) pda.Address {
	h.t.Helper()
	plant, _ := h.seeds.Plant(h.program, name)
	require.NoError(h.t, h.send(schema.InstrCreatePlant, h.user,
		[]pda.Address{h.clusterAddr(), plant, machine, h.user}, name))
	return plant
}

func (h *harness) start(machine pda.Address) {
	h.t.Helper()
	require.NoError(h.t, h.send(schema.InstrStartMachine, h.user, []pda.Address{machine, h.user}))
}

func (h *harness) upload(machine, plant, data pda.Address, temp, hum float64, image any) error {
	return h.send(schema.InstrUploadData, h.user,
		[]pda.Address{h.clusterAddr(), machine, plant, data, h.user}, temp, hum, image)
}

func (h *harness) machine(addr pda.Address) *models.Machine {
	h.t.Helper()
	acct, err := h.led.GetAccount(context.Background(), addr)
	require.NoError(h.t, err)
	m, err := h.cod.DecodeMachine(acct.Data)
	require.NoError(h.t, err)
	return m
}

func (h *harness) cluster() *models.Cluster {
	h.t.Helper()
	acct, err := h.led.GetAccount(context.Background(), h.clusterAddr())
	require.NoError(h.t, err)
	cl, err := h.cod.DecodeCluster(acct.Data)
	require.NoError(h.t, err)
	return cl
}

func (h *harness) data(addr pda.Address) *models.IoTData {
	h.t.Helper()
	acct, err := h.led.GetAccount(context.Background(), addr)
	require.NoError(h.t, err)
	d, err := h.cod.DecodeIoTData(acct.Data)
	require.NoError(h.t, err)
	return d
}

func requireRejected(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	require.True(t, gateway.IsRejected(err, code), "want rejection %s, got %v", code, err)
}

func TestInitializeOnce(t *testing.T) {
	h := newHarness(t)
	h.initialize()

	cl := h.cluster()
	require.Equal(t, h.user, cl.Authority)
	require.Zero(t, cl.MachineCount)

	err := h.send(schema.InstrInitialize, h.user, []pda.Address{h.clusterAddr(), h.user})
	requireRejected(t, err, gateway.CodeAccountAlreadyInUse)
}

func TestRegisterMachine(t *testing.T) {
	h := newHarness(t)
	h.initialize()

	machine := h.register("AgroX-0")
	m := h.machine(machine)
	require.Equal(t, "AgroX-0", m.MachineID)
	require.Equal(t, h.user, m.Owner)
	require.False(t, m.IsActive)

	cl := h.cluster()
	require.EqualValues(t, 1, cl.MachineCount)
	got, ok := cl.MachineAddress("AgroX-0")
	require.True(t, ok)
	require.Equal(t, machine, got)

	// Same id again, even from a different signer, is rejected and the
	// registry is untouched.
	err := h.send(schema.InstrRegisterMachine, h.other,
		[]pda.Address{h.clusterAddr(), machine, h.other}, "AgroX-0")
	requireRejected(t, err, gateway.CodeMachineIDAlreadyExists)
	require.EqualValues(t, 1, h.cluster().MachineCount)
}

func TestRegisterSeedMismatch(t *testing.T) {
	h := newHarness(t)
	h.initialize()

	// Client derived the machine address under the wrong tag.
	wrong, _ := pda.LegacySeeds().Machine(h.program, "AgroX-0")
	err := h.send(schema.InstrRegisterMachine, h.user,
		[]pda.Address{h.clusterAddr(), wrong, h.user}, "AgroX-0")
	requireRejected(t, err, gateway.CodeConstraintSeeds)
}

func TestStartStopOwnership(t *testing.T) {
	h := newHarness(t)
	h.initialize()
	machine := h.register("AgroX-0")

	err := h.send(schema.InstrStartMachine, h.other, []pda.Address{machine, h.other})
	requireRejected(t, err, gateway.CodeUnauthorized)

	h.start(machine)
	require.True(t, h.machine(machine).IsActive)

	require.NoError(t, h.send(schema.InstrStopMachine, h.user, []pda.Address{machine, h.user}))
	require.False(t, h.machine(machine).IsActive)
}

func TestUploadData(t *testing.T) {
	h := newHarness(t)
	h.initialize()
	machine := h.register("AgroX-0")
	plant := h.createPlant(machine, "Tomato Plant")
	data, _ := h.seeds.Data(h.program, "AgroX-0", "Tomato Plant")

	// Inactive machine cannot upload.
	err := h.upload(machine, plant, data, 25.0, 60.0, nil)
	requireRejected(t, err, gateway.CodeMachineNotActive)

	h.start(machine)
	require.NoError(t, h.upload(machine, plant, data, 25.0, 60.0, nil))

	m := h.machine(machine)
	require.EqualValues(t, 1, m.DataCount)
	require.Zero(t, m.ImageCount)
	require.EqualValues(t, 1, m.RewardsEarned)
	require.EqualValues(t, 1700000000, m.LastDataTimestamp)

	// Image upload earns the image bonus on top of the upload reward.
	require.NoError(t, h.upload(machine, plant, data, 25.5, 59.5, "https://img/abc"))
	m = h.machine(machine)
	require.EqualValues(t, 2, m.DataCount)
	require.EqualValues(t, 1, m.ImageCount)
	require.EqualValues(t, 12, m.RewardsEarned)

	d := h.data(data)
	require.Len(t, d.Entries, 2)
	require.Equal(t, 25.0, d.Entries[0].Temperature)
	require.Empty(t, d.Entries[0].ImageURL)
	require.Equal(t, "https://img/abc", d.Entries[1].ImageURL)

	require.EqualValues(t, 2, h.cluster().TotalDataUploads)
}

func TestUploadPlantNotLinked(t *testing.T) {
	h := newHarness(t)
	h.initialize()
	machineA := h.register("AgroX-0")
	machineB := h.register("AgroX-1")
	plantA := h.createPlant(machineA, "Tomato Plant")
	h.start(machineB)

	data, _ := h.seeds.Data(h.program, "AgroX-1", "Tomato Plant")
	err := h.upload(machineB, plantA, data, 25.0, 60.0, nil)
	requireRejected(t, err, gateway.CodePlantNotLinkedToMachine)
}

func TestUseData(t *testing.T) {
	h := newHarness(t)
	h.initialize()
	machine := h.register("AgroX-0")
	plant := h.createPlant(machine, "Tomato Plant")
	data, _ := h.seeds.Data(h.program, "AgroX-0", "Tomato Plant")
	h.start(machine)
	require.NoError(t, h.upload(machine, plant, data, 25.0, 60.0, nil))

	// One past the end.
	err := h.send(schema.InstrUseData, h.other,
		[]pda.Address{h.clusterAddr(), machine, data, h.other}, uint64(1))
	requireRejected(t, err, gateway.CodeInvalidDataEntryIndex)

	require.NoError(t, h.send(schema.InstrUseData, h.other,
		[]pda.Address{h.clusterAddr(), machine, data, h.other}, uint64(0)))

	d := h.data(data)
	require.EqualValues(t, 1, d.Entries[0].UsedCount)

	m := h.machine(machine)
	require.EqualValues(t, 1, m.DataUsedCount)
	require.EqualValues(t, 3, m.RewardsEarned) // 1 upload + 2 use
	require.EqualValues(t, 1, h.cluster().DataRequestCount)
}

func TestClaimRewards(t *testing.T) {
	h := newHarness(t)
	h.initialize()
	machine := h.register("AgroX-0")
	plant := h.createPlant(machine, "Tomato Plant")
	data, _ := h.seeds.Data(h.program, "AgroX-0", "Tomato Plant")
	h.start(machine)
	require.NoError(t, h.upload(machine, plant, data, 25.0, 60.0, nil))

	err := h.send(schema.InstrClaimRewards, h.other, []pda.Address{machine, h.other})
	requireRejected(t, err, gateway.CodeUnauthorized)

	require.NoError(t, h.send(schema.InstrClaimRewards, h.user, []pda.Address{machine, h.user}))
	m := h.machine(machine)
	require.Zero(t, m.RewardsEarned)
	// Counters are history, not balance: they survive the claim.
	require.EqualValues(t, 1, m.DataCount)

	err = h.send(schema.InstrClaimRewards, h.user, []pda.Address{machine, h.user})
	requireRejected(t, err, gateway.CodeNoRewardsAvailable)
}

func TestDelegationLifecycle(t *testing.T) {
	h := newHarness(t)
	h.initialize()
	machine := h.register("AgroX-0")

	// Undelegating a non-delegated account fails.
	err := h.send(schema.InstrUndelegate, h.user, []pda.Address{h.user, machine})
	requireRejected(t, err, gateway.CodeAccountNotDelegated)

	require.NoError(t, h.send(schema.InstrDelegate, h.user, []pda.Address{h.user, machine}))
	acct, err := h.led.GetAccount(context.Background(), machine)
	require.NoError(t, err)
	require.Equal(t, DelegationProgram(), acct.Owner)

	// Processing before the intent is recorded fails.
	err = h.send(schema.InstrProcessUndelegation, h.other, []pda.Address{machine})
	requireRejected(t, err, gateway.CodeAccountNotDelegated)

	require.NoError(t, h.send(schema.InstrUndelegate, h.user, []pda.Address{h.user, machine}))
	// Phase two may come from a different party.
	require.NoError(t, h.send(schema.InstrProcessUndelegation, h.other, []pda.Address{machine}))

	acct, err = h.led.GetAccount(context.Background(), machine)
	require.NoError(t, err)
	require.Equal(t, h.program, acct.Owner)
}

func TestSendGuards(t *testing.T) {
	h := newHarness(t)
	h.initialize()

	// No signing identity.
	err := h.send(schema.InstrStartMachine, pda.Address{}, []pda.Address{h.user, h.user})
	require.ErrorIs(t, err, gateway.ErrNotConnected)

	// Wrong program id.
	data, err := h.cod.EncodeArgs(schema.InstrInitialize)
	require.NoError(t, err)
	_, err = h.led.Send(context.Background(), gateway.Instruction{
		Program: pda.Address{0xFF},
		Name:    schema.InstrInitialize,
		Data:    data,
	}, h.user)
	requireRejected(t, err, gateway.CodeUnauthorized)
}

func TestGetAccountsByOwner(t *testing.T) {
	h := newHarness(t)
	h.initialize()
	h.register("AgroX-0")
	h.register("AgroX-1")

	accts, err := h.led.GetAccountsByOwner(context.Background(), h.program)
	require.NoError(t, err)
	require.Len(t, accts, 3) // cluster + 2 machines

	_, err = h.led.GetAccount(context.Background(), pda.Address{0x77})
	require.ErrorIs(t, err, gateway.ErrAccountNotFound)
}
