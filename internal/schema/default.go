package schema

// DefaultProgram is the program id of the deployed build.
const DefaultProgram = "4oweKJAgekQk5WoixX6Uagk8SNTbpPZb6QhmYd9Vv6nW"

// Default returns the schema of the deployed program version. A JSON file
// loaded with Load can replace it when the program is upgraded.
func Default() *Schema {
	return &Schema{
		Version: "0.1.0",
		Program: DefaultProgram,
		Instructions: []Instruction{
			{Name: InstrInitialize},
			{Name: InstrRegisterMachine, Args: []Field{
				{Name: "machine_id", Type: TypeString},
			}},
			{Name: InstrCreatePlant, Args: []Field{
				{Name: "plant_name", Type: TypeString},
			}},
			{Name: InstrStartMachine},
			{Name: InstrStopMachine},
			{Name: InstrUploadData, Args: []Field{
				{Name: "temperature", Type: TypeF64},
				{Name: "humidity", Type: TypeF64},
				{Name: "image_url", Type: TypeOptionString},
			}},
			{Name: InstrUseData, Args: []Field{
				{Name: "entry_index", Type: TypeU64},
			}},
			{Name: InstrClaimRewards},
			{Name: InstrDelegate},
			{Name: InstrUndelegate},
			{Name: InstrProcessUndelegation},
		},
		Accounts: []Account{
			{Name: AccountCluster},
			{Name: AccountMachine},
			{Name: AccountPlantData},
			{Name: AccountIoTData},
		},
	}
}
