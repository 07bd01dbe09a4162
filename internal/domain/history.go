package domain

import "time"

// EntityRef points at a record in a collection.
type EntityRef struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

// Change is one field-level difference of a save. Array-valued fields are
// reported with Added/Removed once parsed for display.
type Change struct {
	Key     string `json:"key"`
	From    any    `json:"from,omitempty"`
	To      any    `json:"to,omitempty"`
	Added   []any  `json:"added,omitempty"`
	Removed []any  `json:"removed,omitempty"`
}

// ChangeRecord is the persisted audit entry of a single save.
type ChangeRecord struct {
	ID           string    `json:"_id"`
	Organization string    `json:"organization"`
	User         string    `json:"user"`
	Entity       EntityRef `json:"entity"`
	Changes      []Change  `json:"changes"`
	Date         time.Time `json:"date_created"`
}
