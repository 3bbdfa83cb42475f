// Package ids generates opaque identifiers for memories, entities,
// relationships, sessions, and documents.
package ids

import "github.com/google/uuid"

// New returns a new random v4 UUID string. Every store-level entity id in
// this module is generated this way so ids are stable, comparable, and
// safe to use as SQLite primary keys and JSON-RPC handles.
func New() string {
	return uuid.NewString()
}
