package repo

import (
	"github.com/tgxzd/agrox/internal/models"
	"github.com/tgxzd/agrox/internal/pda"
)

// Snapshot is one consistent generation of decoded ledger state. All maps
// and indexes are built together; a snapshot is never mutated after
// publication.
type Snapshot struct {
	Generation  uint64
	Provisional bool

	Cluster  *models.Cluster
	Machines map[pda.Address]*models.Machine
	Plants   map[pda.Address]*models.Plant
	Data     map[pda.Address]*models.IoTData

	machinesByID    map[string]pda.Address
	machinesByOwner map[pda.Address][]pda.Address
	plantsByMachine map[pda.Address][]pda.Address
	dataByMachine   map[pda.Address][]pda.Address
}

func (s *Snapshot) insert(addr pda.Address, rec any) {
	switch v := rec.(type) {
	case *models.Cluster:
		v.Address = addr
		s.Cluster = v
	case *models.Machine:
		v.Address = addr
		s.Machines[addr] = v
	case *models.Plant:
		v.Address = addr
		s.Plants[addr] = v
	case *models.IoTData:
		v.Address = addr
		s.Data[addr] = v
	}
}

func (s *Snapshot) reindex() {
	s.machinesByID = make(map[string]pda.Address, len(s.Machines))
	s.machinesByOwner = make(map[pda.Address][]pda.Address)
	s.plantsByMachine = make(map[pda.Address][]pda.Address)
	s.dataByMachine = make(map[pda.Address][]pda.Address)

	for addr, m := range s.Machines {
		s.machinesByID[m.MachineID] = addr
		s.machinesByOwner[m.Owner] = append(s.machinesByOwner[m.Owner], addr)
	}
	for addr, p := range s.Plants {
		s.plantsByMachine[p.Machine] = append(s.plantsByMachine[p.Machine], addr)
	}
	for addr, d := range s.Data {
		s.dataByMachine[d.Machine] = append(s.dataByMachine[d.Machine], addr)
	}
}

func (s *Snapshot) clone() *Snapshot {
	next := &Snapshot{
		Generation: s.Generation,
		Cluster:    s.Cluster,
		Machines:   make(map[pda.Address]*models.Machine, len(s.Machines)),
		Plants:     make(map[pda.Address]*models.Plant, len(s.Plants)),
		Data:       make(map[pda.Address]*models.IoTData, len(s.Data)),
	}
	for k, v := range s.Machines {
		next.Machines[k] = v
	}
	for k, v := range s.Plants {
		next.Plants[k] = v
	}
	for k, v := range s.Data {
		next.Data[k] = v
	}
	return next
}

// MachineByID resolves a machine by its human-readable id.
func (s *Snapshot) MachineByID(machineID string) (*models.Machine, bool) {
	addr, ok := s.machinesByID[machineID]
	if !ok {
		return nil, false
	}
	m, ok := s.Machines[addr]
	return m, ok
}

// MachinesOwnedBy lists machines owned by one identity.
func (s *Snapshot) MachinesOwnedBy(owner pda.Address) []*models.Machine {
	out := make([]*models.Machine, 0, len(s.machinesByOwner[owner]))
	for _, addr := range s.machinesByOwner[owner] {
		out = append(out, s.Machines[addr])
	}
	return out
}

// PlantsByMachine lists plants linked to one machine.
func (s *Snapshot) PlantsByMachine(machine pda.Address) []*models.Plant {
	out := make([]*models.Plant, 0, len(s.plantsByMachine[machine]))
	for _, addr := range s.plantsByMachine[machine] {
		out = append(out, s.Plants[addr])
	}
	return out
}

// DataByMachine lists data containers fed by one machine.
func (s *Snapshot) DataByMachine(machine pda.Address) []*models.IoTData {
	out := make([]*models.IoTData, 0, len(s.dataByMachine[machine]))
	for _, addr := range s.dataByMachine[machine] {
		out = append(out, s.Data[addr])
	}
	return out
}

// DataFor finds the container for one (machine, plant) pair.
func (s *Snapshot) DataFor(machine, plant pda.Address) (*models.IoTData, bool) {
	for _, addr := range s.dataByMachine[machine] {
		if d := s.Data[addr]; d != nil && d.Plant == plant {
			return d, true
		}
	}
	return nil, false
}
