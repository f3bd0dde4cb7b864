package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tgxzd/agrox/internal/events"
	"github.com/tgxzd/agrox/internal/gateway"
	"github.com/tgxzd/agrox/internal/models"
	"github.com/tgxzd/agrox/internal/pda"
	"github.com/tgxzd/agrox/internal/schema"
)

// Initialize creates the singleton cluster registry. Called once per
// deployment by the authority.
func (o *Orchestrator) Initialize(ctx context.Context, authority pda.Address) (*Result, error) {
	ctx, span := o.span(ctx, "Initialize")
	defer span.End()

	clusterAddr, _ := o.cfg.Seeds.Cluster(o.program)
	txID, err := o.send(ctx, schema.InstrInitialize, authority, []gateway.AccountMeta{
		writable(clusterAddr),
		signerMeta(authority),
	})
	if err != nil {
		return nil, err
	}
	o.refresh(ctx)
	return &Result{TxID: txID, Address: clusterAddr}, nil
}

// RegisterMachine creates a machine account for machineID owned by signer.
// Fails with ErrMachineIDExists when the id is already registered.
func (o *Orchestrator) RegisterMachine(ctx context.Context, signer pda.Address, machineID string) (*Result, error) {
	ctx, span := o.span(ctx, "RegisterMachine")
	defer span.End()

	clusterAddr, _ := o.cfg.Seeds.Cluster(o.program)
	machineAddr, bump := o.cfg.Seeds.Machine(o.program, machineID)
	_, authBump := o.cfg.Seeds.MachineAuth(o.program, machineID)

	txID, err := o.send(ctx, schema.InstrRegisterMachine, signer, []gateway.AccountMeta{
		writable(clusterAddr),
		writable(machineAddr),
		signerMeta(signer),
	}, machineID)
	if err != nil {
		return nil, err
	}

	// Optimistic patch so the machine is readable before the refresh lands.
	o.repo.Upsert(machineAddr, &models.Machine{
		Owner:     signer,
		MachineID: machineID,
		AuthBump:  authBump,
		Bump:      bump,
	})
	o.refresh(ctx)
	o.publish(ctx, events.SubjectMachineRegistered, map[string]any{
		"machine_id": machineID,
		"address":    machineAddr.String(),
		"owner":      signer.String(),
		"tx":         txID,
	})
	o.log.Info("machine registered", zap.String("machine_id", machineID), zap.String("tx", txID))
	return &Result{TxID: txID, Address: machineAddr}, nil
}

// CreatePlant creates a named plant linked to the given machine. Fails
// with ErrPlantNameExists when the name is taken.
func (o *Orchestrator) CreatePlant(ctx context.Context, signer, machineAddr pda.Address, plantName string) (*Result, error) {
	ctx, span := o.span(ctx, "CreatePlant")
	defer span.End()

	clusterAddr, _ := o.cfg.Seeds.Cluster(o.program)
	plantAddr, _ := o.cfg.Seeds.Plant(o.program, plantName)

	txID, err := o.send(ctx, schema.InstrCreatePlant, signer, []gateway.AccountMeta{
		writable(clusterAddr),
		writable(plantAddr),
		writable(machineAddr),
		signerMeta(signer),
	}, plantName)
	if err != nil {
		return nil, err
	}
	o.refresh(ctx)
	o.publish(ctx, events.SubjectPlantCreated, map[string]any{
		"plant_name": plantName,
		"address":    plantAddr.String(),
		"machine":    machineAddr.String(),
		"tx":         txID,
	})
	return &Result{TxID: txID, Address: plantAddr}, nil
}

// StartMachine flips the machine active on the ledger, then turns the
// physical device on and starts the capture timers. A failed device call
// does not roll the ledger back; it is surfaced as Result.Warning.
func (o *Orchestrator) StartMachine(ctx context.Context, signer, machineAddr pda.Address) (*Result, error) {
	ctx, span := o.span(ctx, "StartMachine")
	defer span.End()

	m, err := o.fetchMachine(ctx, machineAddr)
	if err != nil {
		return nil, err
	}

	txID, err := o.send(ctx, schema.InstrStartMachine, signer, []gateway.AccountMeta{
		writable(machineAddr),
		signerMeta(signer),
	})
	if err != nil {
		return nil, err
	}

	res := &Result{TxID: txID, Address: machineAddr}
	if _, devErr := o.dev.TurnOn(ctx); devErr != nil {
		res.Warning = fmt.Sprintf("ledger state and physical state may be out of sync: %v", devErr)
		o.log.Warn("device turn-on failed after ledger start",
			zap.String("machine_id", m.MachineID), zap.Error(devErr))
	}

	o.startCapture(signer, machineAddr, m.MachineID)

	m.IsActive = true
	o.repo.Upsert(machineAddr, m)
	o.refresh(ctx)
	o.publish(ctx, events.SubjectMachineStarted, map[string]any{
		"machine_id": m.MachineID,
		"tx":         txID,
	})
	return res, nil
}

// StopMachine flips the machine inactive, synchronously cancels both
// capture timers, then turns the physical device off.
func (o *Orchestrator) StopMachine(ctx context.Context, signer, machineAddr pda.Address) (*Result, error) {
	ctx, span := o.span(ctx, "StopMachine")
	defer span.End()

	m, err := o.fetchMachine(ctx, machineAddr)
	if err != nil {
		return nil, err
	}

	txID, err := o.send(ctx, schema.InstrStopMachine, signer, []gateway.AccountMeta{
		writable(machineAddr),
		signerMeta(signer),
	})
	if err != nil {
		return nil, err
	}

	// Cancel before anything else: a late tick must not race a subsequent
	// start into double-activating capture.
	o.stopCapture(m.MachineID)

	res := &Result{TxID: txID, Address: machineAddr}
	if _, devErr := o.dev.TurnOff(ctx); devErr != nil {
		res.Warning = fmt.Sprintf("ledger state and physical state may be out of sync: %v", devErr)
		o.log.Warn("device turn-off failed after ledger stop",
			zap.String("machine_id", m.MachineID), zap.Error(devErr))
	}

	m.IsActive = false
	o.repo.Upsert(machineAddr, m)
	o.refresh(ctx)
	o.publish(ctx, events.SubjectMachineStopped, map[string]any{
		"machine_id": m.MachineID,
		"tx":         txID,
	})
	return res, nil
}

// UploadData appends one reading for (machine, plant). The data container
// is created implicitly by the ledger on first write. imageURL may be
// empty for a sensor-only reading.
func (o *Orchestrator) UploadData(ctx context.Context, signer, machineAddr, plantAddr pda.Address,
	temperature, humidity float64, imageURL string) (*Result, error) {

	ctx, span := o.span(ctx, "UploadData")
	defer span.End()

	m, err := o.fetchMachine(ctx, machineAddr)
	if err != nil {
		return nil, err
	}
	p, err := o.fetchPlant(ctx, plantAddr)
	if err != nil {
		return nil, err
	}

	clusterAddr, _ := o.cfg.Seeds.Cluster(o.program)
	dataAddr, _ := o.cfg.Seeds.Data(o.program, m.MachineID, p.PlantName)

	txID, err := o.send(ctx, schema.InstrUploadData, signer, []gateway.AccountMeta{
		writable(clusterAddr),
		writable(machineAddr),
		writable(plantAddr),
		writable(dataAddr),
		signerMeta(signer),
	}, temperature, humidity, imageURL)
	if err != nil {
		return nil, err
	}

	uploadsTotal.Inc()
	o.refresh(ctx)
	o.publish(ctx, events.SubjectDataUploaded, map[string]any{
		"machine_id":  m.MachineID,
		"plant_name":  p.PlantName,
		"temperature": temperature,
		"humidity":    humidity,
		"has_image":   imageURL != "",
		"tx":          txID,
	})
	return &Result{TxID: txID, Address: dataAddr}, nil
}

// UseData increments the consumption counter of one entry. Fails with
// ErrInvalidDataEntryIndex when index is out of bounds.
func (o *Orchestrator) UseData(ctx context.Context, signer, machineAddr, dataAddr pda.Address, index uint64) (*Result, error) {
	ctx, span := o.span(ctx, "UseData")
	defer span.End()

	clusterAddr, _ := o.cfg.Seeds.Cluster(o.program)
	txID, err := o.send(ctx, schema.InstrUseData, signer, []gateway.AccountMeta{
		writable(clusterAddr),
		writable(machineAddr),
		writable(dataAddr),
		signerMeta(signer),
	}, index)
	if err != nil {
		return nil, err
	}
	o.refresh(ctx)
	return &Result{TxID: txID, Address: dataAddr}, nil
}

// ClaimRewards resets the machine's accrued rewards to zero. Fails with
// ErrNoRewards when nothing has accrued.
func (o *Orchestrator) ClaimRewards(ctx context.Context, signer, machineAddr pda.Address) (*Result, error) {
	ctx, span := o.span(ctx, "ClaimRewards")
	defer span.End()

	m, err := o.fetchMachine(ctx, machineAddr)
	if err != nil {
		return nil, err
	}

	txID, err := o.send(ctx, schema.InstrClaimRewards, signer, []gateway.AccountMeta{
		writable(machineAddr),
		signerMeta(signer),
	})
	if err != nil {
		return nil, err
	}
	o.refresh(ctx)
	o.publish(ctx, events.SubjectRewardsClaimed, map[string]any{
		"machine_id": m.MachineID,
		"amount":     m.RewardsEarned,
		"tx":         txID,
	})
	return &Result{TxID: txID, Address: machineAddr}, nil
}

// Delegate hands write-authority over target to the external delegation
// mechanism.
func (o *Orchestrator) Delegate(ctx context.Context, signer, target pda.Address) (*Result, error) {
	ctx, span := o.span(ctx, "Delegate")
	defer span.End()

	txID, err := o.send(ctx, schema.InstrDelegate, signer, []gateway.AccountMeta{
		signerMeta(signer),
		writable(target),
	})
	if err != nil {
		return nil, err
	}
	o.refresh(ctx)
	return &Result{TxID: txID, Address: target}, nil
}

// Undelegate begins the two-phase reclaim of a delegated account. The
// second phase (ProcessUndelegation) may be invoked by a different party;
// this session must not assume it completes the round trip.
func (o *Orchestrator) Undelegate(ctx context.Context, signer, target pda.Address) (*Result, error) {
	ctx, span := o.span(ctx, "Undelegate")
	defer span.End()

	txID, err := o.send(ctx, schema.InstrUndelegate, signer, []gateway.AccountMeta{
		signerMeta(signer),
		writable(target),
	})
	if err != nil {
		return nil, err
	}
	return &Result{TxID: txID, Address: target}, nil
}

// ProcessUndelegation completes a pending undelegation, returning write
// authority to the program.
func (o *Orchestrator) ProcessUndelegation(ctx context.Context, signer, target pda.Address) (*Result, error) {
	ctx, span := o.span(ctx, "ProcessUndelegation")
	defer span.End()

	txID, err := o.send(ctx, schema.InstrProcessUndelegation, signer, []gateway.AccountMeta{
		writable(target),
	})
	if err != nil {
		return nil, err
	}
	o.refresh(ctx)
	return &Result{TxID: txID, Address: target}, nil
}
