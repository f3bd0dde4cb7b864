package pda

// Seed tags understood by the deployed program. Every workflow goes through
// this registry; no call site spells a tag literal itself.
const (
	SeedCluster     = "cluster"
	SeedMachine     = "machine"
	SeedPlant       = "plant"
	SeedData        = "data"
	SeedMachineAuth = "machine-auth"

	// SeedMachineLegacy is the tag an older program build used for machine
	// accounts. Selectable via Seeds.MachineTag for deployments still on
	// that build.
	SeedMachineLegacy = "agrox"
)

// Seeds resolves entity addresses under one machine-tag convention.
// The zero value is not usable; construct with DefaultSeeds or LegacySeeds.
type Seeds struct {
	MachineTag string
}

func DefaultSeeds() Seeds {
	return Seeds{MachineTag: SeedMachine}
}

func LegacySeeds() Seeds {
	return Seeds{MachineTag: SeedMachineLegacy}
}

func (s Seeds) Cluster(program Address) (Address, uint8) {
	return Derive(program, []byte(SeedCluster))
}

func (s Seeds) Machine(program Address, machineID string) (Address, uint8) {
	return Derive(program, []byte(s.MachineTag), []byte(machineID))
}

func (s Seeds) MachineAuth(program Address, machineID string) (Address, uint8) {
	return Derive(program, []byte(SeedMachineAuth), []byte(machineID))
}

func (s Seeds) Plant(program Address, plantName string) (Address, uint8) {
	return Derive(program, []byte(SeedPlant), []byte(plantName))
}

func (s Seeds) Data(program Address, machineID, plantName string) (Address, uint8) {
	return Derive(program, []byte(SeedData), []byte(machineID), []byte(plantName))
}
