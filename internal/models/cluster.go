package models

import "github.com/tgxzd/agrox/internal/pda"

// Cluster is the singleton registry account: global counters plus
// ordered-insertion mappings from machine id / plant name to the account
// address. Counters never decrease and always equal the size of the
// corresponding mapping.
type Cluster struct {
	Address          pda.Address    `json:"address"`
	Authority        pda.Address    `json:"authority"`
	MachineCount     uint64         `json:"machine_count"`
	TotalDataUploads uint64         `json:"total_data_uploads"`
	DataRequestCount uint64         `json:"data_request_count"`
	PlantCount       uint64         `json:"plant_count"`
	Machines         []NamedAddress `json:"machines"`
	Plants           []NamedAddress `json:"plants"`
	Bump             uint8          `json:"bump"`
}

// MachineAddress looks up a machine id in the registry mapping.
func (c *Cluster) MachineAddress(machineID string) (pda.Address, bool) {
	for _, m := range c.Machines {
		if m.Name == machineID {
			return m.Address, true
		}
	}
	return pda.Address{}, false
}

// PlantAddress looks up a plant name in the registry mapping.
func (c *Cluster) PlantAddress(plantName string) (pda.Address, bool) {
	for _, p := range c.Plants {
		if p.Name == plantName {
			return p.Address, true
		}
	}
	return pda.Address{}, false
}
