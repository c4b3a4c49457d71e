package conduit

import "time"

// Entity carries the timestamps shared by all persisted Conduit entities.
// Embed it in entity structs; stores maintain UpdatedAt on writes.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
