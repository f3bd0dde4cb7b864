package models

import "github.com/tgxzd/agrox/internal/pda"

// IoTData is the data container for one (machine, plant) pair, created
// lazily on first upload. Entries are append-only: an existing entry is
// never rewritten except to increment UsedCount.
type IoTData struct {
	Address pda.Address `json:"address"`
	Machine pda.Address `json:"machine"`
	Plant   pda.Address `json:"plant"`
	Entries []DataEntry `json:"entries"`
	Bump    uint8       `json:"bump"`
}

// DataEntry is one timestamped temperature/humidity reading, optionally
// carrying an image reference. An empty ImageURL means no image.
type DataEntry struct {
	Timestamp   int64   `json:"timestamp"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	ImageURL    string  `json:"image_url,omitempty"`
	UsedCount   uint64  `json:"used_count"`
}
