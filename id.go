package conduit

import "github.com/helixrun/conduit/id"

// ID is the primary identifier type for all Conduit entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
