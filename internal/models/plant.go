package models

import "github.com/tgxzd/agrox/internal/pda"

// Plant is a named monitored subject linked to one machine. Updated on
// every data upload, never deleted.
type Plant struct {
	Address             pda.Address `json:"address"`
	Creator             pda.Address `json:"creator"`
	PlantName           string      `json:"plant_name"`
	DataCount           uint64      `json:"data_count"`
	ImageCount          uint64      `json:"image_count"`
	CreationTimestamp   int64       `json:"creation_timestamp"`
	LastUpdateTimestamp int64       `json:"last_update_timestamp"`
	Machine             pda.Address `json:"machine"`
	Bump                uint8       `json:"bump"`
}
