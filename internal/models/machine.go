package models

import "github.com/tgxzd/agrox/internal/pda"

// Machine is a registered IoT sensor/camera node identity and its
// activity/reward state. machine_id is the immutable primary key; the
// account address is derived from it, so global uniqueness is enforced by
// address collision at registration time.
type Machine struct {
	Address            pda.Address    `json:"address"`
	Owner              pda.Address    `json:"owner"`
	MachineID          string         `json:"machine_id"`
	IsActive           bool           `json:"is_active"`
	DataCount          uint64         `json:"data_count"`
	ImageCount         uint64         `json:"image_count"`
	RewardsEarned      uint64         `json:"rewards_earned"`
	LastDataTimestamp  int64          `json:"last_data_timestamp"`
	LastImageTimestamp int64          `json:"last_image_timestamp"`
	DataUsedCount      uint64         `json:"data_used_count"`
	Plants             []NamedAddress `json:"plants"`
	PlantCount         uint64         `json:"plant_count"`
	AuthBump           uint8          `json:"auth_bump"`
	Bump               uint8          `json:"bump"`
}

// NamedAddress is one entry of an ordered-insertion name → address mapping.
type NamedAddress struct {
	Name    string      `json:"name"`
	Address pda.Address `json:"address"`
}
