// Package schema describes the deployed program's interface: instruction
// names and argument types plus account discriminators. It is loaded at
// startup as configuration data; the codec consumes it instead of
// hard-coding layouts per call site.
package schema

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
)

// Field value types understood by the codec.
const (
	TypeU64          = "u64"
	TypeI64          = "i64"
	TypeF64          = "f64"
	TypeU8           = "u8"
	TypeBool         = "bool"
	TypeString       = "string"
	TypeOptionString = "option<string>"
	TypePubkey       = "pubkey"
)

// Instruction names of the deployed program.
const (
	InstrInitialize          = "initialize"
	InstrRegisterMachine     = "register_machine"
	InstrCreatePlant         = "create_plant"
	InstrStartMachine        = "start_machine"
	InstrStopMachine         = "stop_machine"
	InstrUploadData          = "upload_data"
	InstrUseData             = "use_data"
	InstrClaimRewards        = "claim_rewards"
	InstrDelegate            = "delegate"
	InstrUndelegate          = "undelegate"
	InstrProcessUndelegation = "process_undelegation"
)

// Account type names as they appear in the program.
const (
	AccountCluster   = "Cluster"
	AccountMachine   = "Machine"
	AccountPlantData = "PlantData"
	AccountIoTData   = "IoTData"
)

type Field struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type Instruction struct {
	Name string  `json:"name"`
	Args []Field `json:"args"`
}

type Account struct {
	Name string `json:"name"`
}

// Schema is a versioned program interface description.
type Schema struct {
	Version      string        `json:"version"`
	Program      string        `json:"program"`
	Instructions []Instruction `json:"instructions"`
	Accounts     []Account     `json:"accounts"`
}

// Load reads a schema description from a JSON file.
func Load(path string) (*Schema, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	var s Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	if len(s.Instructions) == 0 || len(s.Accounts) == 0 {
		return nil, fmt.Errorf("load schema: missing instructions or accounts")
	}
	return &s, nil
}

// Instruction looks up an instruction definition by name.
func (s *Schema) Instruction(name string) (Instruction, bool) {
	for _, in := range s.Instructions {
		if in.Name == name {
			return in, true
		}
	}
	return Instruction{}, false
}

// HasAccount reports whether the schema declares the named account type.
func (s *Schema) HasAccount(name string) bool {
	for _, a := range s.Accounts {
		if a.Name == name {
			return true
		}
	}
	return false
}

// AccountDiscriminator is the 8-byte prefix identifying an account type on
// the wire: sha256("account:<Name>")[:8].
func AccountDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// InstructionTag is the 8-byte prefix identifying an instruction payload:
// sha256("global:<name>")[:8].
func InstructionTag(name string) [8]byte {
	sum := sha256.Sum256([]byte("global:" + name))
	var t [8]byte
	copy(t[:], sum[:8])
	return t
}
