package ledger

import (
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/tgxzd/agrox/internal/gateway"
	"github.com/tgxzd/agrox/internal/models"
	"github.com/tgxzd/agrox/internal/pda"
	"github.com/tgxzd/agrox/internal/schema"
)

// Reward amounts, matching the deployed program.
const (
	rewardPerUpload = 1
	rewardPerImage  = 10
	rewardPerUse    = 2
)

func (l *Ledger) execute(txn *badger.Txn, instr gateway.Instruction, signer pda.Address) error {
	switch instr.Name {
	case schema.InstrInitialize:
		return l.initialize(txn, instr, signer)
	case schema.InstrRegisterMachine:
		return l.registerMachine(txn, instr, signer)
	case schema.InstrCreatePlant:
		return l.createPlant(txn, instr, signer)
	case schema.InstrStartMachine:
		return l.setMachineActive(txn, instr, signer, true)
	case schema.InstrStopMachine:
		return l.setMachineActive(txn, instr, signer, false)
	case schema.InstrUploadData:
		return l.uploadData(txn, instr, signer)
	case schema.InstrUseData:
		return l.useData(txn, instr, signer)
	case schema.InstrClaimRewards:
		return l.claimRewards(txn, instr, signer)
	case schema.InstrDelegate:
		return l.delegate(txn, instr)
	case schema.InstrUndelegate:
		return l.undelegate(txn, instr)
	case schema.InstrProcessUndelegation:
		return l.processUndelegation(txn, instr)
	}
	return fmt.Errorf("unknown instruction %q", instr.Name)
}

func meta(instr gateway.Instruction, i int) (pda.Address, error) {
	if i >= len(instr.Accounts) {
		return pda.Address{}, gateway.Reject(gateway.CodeConstraintSeeds,
			"instruction %s: missing account at position %d", instr.Name, i)
	}
	return instr.Accounts[i].Address, nil
}

func (l *Ledger) accountExists(txn *badger.Txn, addr pda.Address) bool {
	_, err := txn.Get(accountKey(addr))
	return err == nil
}

// requireSeeds verifies a client-supplied address against the address the
// program derives itself. A client that mis-seeds its derivation ends up
// here, exactly like with the real program.
func requireSeeds(got, want pda.Address, what string) error {
	if got != want {
		return gateway.Reject(gateway.CodeConstraintSeeds,
			"%s address %s does not match derived %s", what, got, want)
	}
	return nil
}

func (l *Ledger) loadCluster(txn *badger.Txn, addr pda.Address) (*models.Cluster, error) {
	acct, err := getAccount(txn, addr)
	if err != nil {
		return nil, err
	}
	cl, err := l.cod.DecodeCluster(acct.Data)
	if err != nil {
		return nil, err
	}
	cl.Address = addr
	return cl, nil
}

func (l *Ledger) loadMachine(txn *badger.Txn, addr pda.Address) (*models.Machine, error) {
	acct, err := getAccount(txn, addr)
	if err != nil {
		return nil, err
	}
	m, err := l.cod.DecodeMachine(acct.Data)
	if err != nil {
		return nil, err
	}
	m.Address = addr
	return m, nil
}

func (l *Ledger) loadPlant(txn *badger.Txn, addr pda.Address) (*models.Plant, error) {
	acct, err := getAccount(txn, addr)
	if err != nil {
		return nil, err
	}
	p, err := l.cod.DecodePlant(acct.Data)
	if err != nil {
		return nil, err
	}
	p.Address = addr
	return p, nil
}

func (l *Ledger) store(txn *badger.Txn, addr pda.Address, data []byte) error {
	return putAccount(txn, addr, &storedAccount{Owner: l.program, Data: data})
}

// initialize creates the singleton cluster registry.
// Accounts: [cluster, authority].
func (l *Ledger) initialize(txn *badger.Txn, instr gateway.Instruction, signer pda.Address) error {
	clusterAddr, err := meta(instr, 0)
	if err != nil {
		return err
	}
	derived, bump := l.seeds.Cluster(l.program)
	if err := requireSeeds(clusterAddr, derived, "cluster"); err != nil {
		return err
	}
	if l.accountExists(txn, clusterAddr) {
		return gateway.Reject(gateway.CodeAccountAlreadyInUse, "cluster already initialized")
	}

	cl := &models.Cluster{
		Authority: signer,
		Bump:      bump,
	}
	return l.store(txn, clusterAddr, l.cod.EncodeCluster(cl))
}

// registerMachine creates a machine account and records it in the cluster.
// Accounts: [cluster, machine, user].
func (l *Ledger) registerMachine(txn *badger.Txn, instr gateway.Instruction, signer pda.Address) error {
	args, err := l.cod.DecodeArgs(schema.InstrRegisterMachine, instr.Data)
	if err != nil {
		return err
	}
	machineID := args[0].(string)

	clusterAddr, err := meta(instr, 0)
	if err != nil {
		return err
	}
	machineAddr, err := meta(instr, 1)
	if err != nil {
		return err
	}

	cl, err := l.loadCluster(txn, clusterAddr)
	if err != nil {
		return err
	}
	if _, exists := cl.MachineAddress(machineID); exists {
		return gateway.Reject(gateway.CodeMachineIDAlreadyExists, "machine id %q already exists", machineID)
	}

	derived, bump := l.seeds.Machine(l.program, machineID)
	if err := requireSeeds(machineAddr, derived, "machine"); err != nil {
		return err
	}
	if l.accountExists(txn, machineAddr) {
		return gateway.Reject(gateway.CodeAccountAlreadyInUse, "machine account %s already exists", machineAddr)
	}
	_, authBump := l.seeds.MachineAuth(l.program, machineID)

	m := &models.Machine{
		Owner:     signer,
		MachineID: machineID,
		AuthBump:  authBump,
		Bump:      bump,
	}
	if err := l.store(txn, machineAddr, l.cod.EncodeMachine(m)); err != nil {
		return err
	}

	cl.Machines = append(cl.Machines, models.NamedAddress{Name: machineID, Address: machineAddr})
	cl.MachineCount++
	return l.store(txn, clusterAddr, l.cod.EncodeCluster(cl))
}

// createPlant creates a plant account linked to a machine.
// Accounts: [cluster, plant, machine, user].
func (l *Ledger) createPlant(txn *badger.Txn, instr gateway.Instruction, signer pda.Address) error {
	args, err := l.cod.DecodeArgs(schema.InstrCreatePlant, instr.Data)
	if err != nil {
		return err
	}
	plantName := args[0].(string)

	clusterAddr, err := meta(instr, 0)
	if err != nil {
		return err
	}
	plantAddr, err := meta(instr, 1)
	if err != nil {
		return err
	}
	machineAddr, err := meta(instr, 2)
	if err != nil {
		return err
	}

	cl, err := l.loadCluster(txn, clusterAddr)
	if err != nil {
		return err
	}
	m, err := l.loadMachine(txn, machineAddr)
	if err != nil {
		return err
	}
	if m.Owner != signer {
		return gateway.Reject(gateway.CodeUnauthorized, "signer does not own machine %q", m.MachineID)
	}

	derived, bump := l.seeds.Plant(l.program, plantName)
	if err := requireSeeds(plantAddr, derived, "plant"); err != nil {
		return err
	}
	if l.accountExists(txn, plantAddr) {
		return gateway.Reject(gateway.CodeAccountAlreadyInUse, "plant %q already exists", plantName)
	}

	p := &models.Plant{
		Creator:           signer,
		PlantName:         plantName,
		CreationTimestamp: l.clock().Unix(),
		Machine:           machineAddr,
		Bump:              bump,
	}
	if err := l.store(txn, plantAddr, l.cod.EncodePlant(p)); err != nil {
		return err
	}

	cl.Plants = append(cl.Plants, models.NamedAddress{Name: plantName, Address: plantAddr})
	cl.PlantCount++
	if err := l.store(txn, clusterAddr, l.cod.EncodeCluster(cl)); err != nil {
		return err
	}

	m.Plants = append(m.Plants, models.NamedAddress{Name: plantName, Address: plantAddr})
	m.PlantCount++
	return l.store(txn, machineAddr, l.cod.EncodeMachine(m))
}

// setMachineActive flips the activity flag. Accounts: [machine, user].
func (l *Ledger) setMachineActive(txn *badger.Txn, instr gateway.Instruction, signer pda.Address, active bool) error {
	machineAddr, err := meta(instr, 0)
	if err != nil {
		return err
	}
	m, err := l.loadMachine(txn, machineAddr)
	if err != nil {
		return err
	}
	if m.Owner != signer {
		return gateway.Reject(gateway.CodeUnauthorized, "signer does not own machine %q", m.MachineID)
	}
	m.IsActive = active
	return l.store(txn, machineAddr, l.cod.EncodeMachine(m))
}

// uploadData appends one reading to the (machine, plant) data container,
// creating the container on first write.
// Accounts: [cluster, machine, plant, data, payer].
func (l *Ledger) uploadData(txn *badger.Txn, instr gateway.Instruction, signer pda.Address) error {
	args, err := l.cod.DecodeArgs(schema.InstrUploadData, instr.Data)
	if err != nil {
		return err
	}
	temperature := args[0].(float64)
	humidity := args[1].(float64)
	imageURL := args[2].(string)

	clusterAddr, err := meta(instr, 0)
	if err != nil {
		return err
	}
	machineAddr, err := meta(instr, 1)
	if err != nil {
		return err
	}
	plantAddr, err := meta(instr, 2)
	if err != nil {
		return err
	}
	dataAddr, err := meta(instr, 3)
	if err != nil {
		return err
	}

	cl, err := l.loadCluster(txn, clusterAddr)
	if err != nil {
		return err
	}
	m, err := l.loadMachine(txn, machineAddr)
	if err != nil {
		return err
	}
	if !m.IsActive {
		return gateway.Reject(gateway.CodeMachineNotActive, "machine %q is not active", m.MachineID)
	}
	p, err := l.loadPlant(txn, plantAddr)
	if err != nil {
		return err
	}
	if p.Machine != machineAddr {
		return gateway.Reject(gateway.CodePlantNotLinkedToMachine,
			"plant %q is not linked to machine %q", p.PlantName, m.MachineID)
	}

	derived, bump := l.seeds.Data(l.program, m.MachineID, p.PlantName)
	if err := requireSeeds(dataAddr, derived, "data"); err != nil {
		return err
	}

	// First write for this pair creates the container (upsert, not error).
	d := &models.IoTData{Machine: machineAddr, Plant: plantAddr, Bump: bump}
	if acct, err := getAccount(txn, dataAddr); err == nil {
		d, err = l.cod.DecodeIoTData(acct.Data)
		if err != nil {
			return err
		}
	} else if err != gateway.ErrAccountNotFound {
		return err
	}

	now := l.clock().Unix()
	d.Entries = append(d.Entries, models.DataEntry{
		Timestamp:   now,
		Temperature: temperature,
		Humidity:    humidity,
		ImageURL:    imageURL,
	})
	if err := l.store(txn, dataAddr, l.cod.EncodeIoTData(d)); err != nil {
		return err
	}

	m.DataCount++
	m.LastDataTimestamp = now
	m.RewardsEarned += rewardPerUpload
	p.DataCount++
	p.LastUpdateTimestamp = now
	cl.TotalDataUploads++

	if imageURL != "" {
		m.ImageCount++
		m.LastImageTimestamp = now
		m.RewardsEarned += rewardPerImage
		p.ImageCount++
	}

	if err := l.store(txn, machineAddr, l.cod.EncodeMachine(m)); err != nil {
		return err
	}
	if err := l.store(txn, plantAddr, l.cod.EncodePlant(p)); err != nil {
		return err
	}
	return l.store(txn, clusterAddr, l.cod.EncodeCluster(cl))
}

// useData increments an entry's consumption count.
// Accounts: [cluster, machine, data, user].
func (l *Ledger) useData(txn *badger.Txn, instr gateway.Instruction, signer pda.Address) error {
	args, err := l.cod.DecodeArgs(schema.InstrUseData, instr.Data)
	if err != nil {
		return err
	}
	index := args[0].(uint64)

	clusterAddr, err := meta(instr, 0)
	if err != nil {
		return err
	}
	machineAddr, err := meta(instr, 1)
	if err != nil {
		return err
	}
	dataAddr, err := meta(instr, 2)
	if err != nil {
		return err
	}

	cl, err := l.loadCluster(txn, clusterAddr)
	if err != nil {
		return err
	}
	m, err := l.loadMachine(txn, machineAddr)
	if err != nil {
		return err
	}
	acct, err := getAccount(txn, dataAddr)
	if err != nil {
		return err
	}
	d, err := l.cod.DecodeIoTData(acct.Data)
	if err != nil {
		return err
	}

	if index >= uint64(len(d.Entries)) {
		return gateway.Reject(gateway.CodeInvalidDataEntryIndex,
			"entry index %d out of range (%d entries)", index, len(d.Entries))
	}

	d.Entries[index].UsedCount++
	m.DataUsedCount++
	m.RewardsEarned += rewardPerUse
	cl.DataRequestCount++

	if err := l.store(txn, dataAddr, l.cod.EncodeIoTData(d)); err != nil {
		return err
	}
	if err := l.store(txn, machineAddr, l.cod.EncodeMachine(m)); err != nil {
		return err
	}
	return l.store(txn, clusterAddr, l.cod.EncodeCluster(cl))
}

// claimRewards resets a machine's accrued rewards. Accounts: [machine, user].
func (l *Ledger) claimRewards(txn *badger.Txn, instr gateway.Instruction, signer pda.Address) error {
	machineAddr, err := meta(instr, 0)
	if err != nil {
		return err
	}
	m, err := l.loadMachine(txn, machineAddr)
	if err != nil {
		return err
	}
	if m.Owner != signer {
		return gateway.Reject(gateway.CodeUnauthorized, "signer does not own machine %q", m.MachineID)
	}
	if m.RewardsEarned == 0 {
		return gateway.Reject(gateway.CodeNoRewardsAvailable, "machine %q has no rewards to claim", m.MachineID)
	}
	m.RewardsEarned = 0
	return l.store(txn, machineAddr, l.cod.EncodeMachine(m))
}

// delegate hands write-authority over an account to the delegation
// program by flipping the account's owner. Accounts: [payer, pda].
func (l *Ledger) delegate(txn *badger.Txn, instr gateway.Instruction) error {
	target, err := meta(instr, 1)
	if err != nil {
		return err
	}
	acct, err := getAccount(txn, target)
	if err != nil {
		return err
	}
	acct.Owner = DelegationProgram()
	return putAccount(txn, target, acct)
}

// undelegate is phase one of the two-phase reclaim: it records the intent.
// The second phase may be invoked by a different party.
// Accounts: [payer, pda].
func (l *Ledger) undelegate(txn *badger.Txn, instr gateway.Instruction) error {
	target, err := meta(instr, 1)
	if err != nil {
		return err
	}
	acct, err := getAccount(txn, target)
	if err != nil {
		return err
	}
	if acct.Owner != DelegationProgram() {
		return gateway.Reject(gateway.CodeAccountNotDelegated, "account %s is not delegated", target)
	}
	return txn.Set(undelegationKey(target), []byte{1})
}

// processUndelegation is phase two: it returns ownership to the program.
// Accounts: [pda].
func (l *Ledger) processUndelegation(txn *badger.Txn, instr gateway.Instruction) error {
	target, err := meta(instr, 0)
	if err != nil {
		return err
	}
	if _, err := txn.Get(undelegationKey(target)); err != nil {
		if err == badger.ErrKeyNotFound {
			return gateway.Reject(gateway.CodeAccountNotDelegated,
				"account %s has no pending undelegation", target)
		}
		return err
	}
	acct, err := getAccount(txn, target)
	if err != nil {
		return err
	}
	acct.Owner = l.program
	if err := putAccount(txn, target, acct); err != nil {
		return err
	}
	return txn.Delete(undelegationKey(target))
}
