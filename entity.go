package longhaul

import "time"

// Entity carries the timestamps the store maintains on every record.
// The store sets CreatedAt on insert and UpdatedAt on every write;
// application code never assigns them.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
