// Package hub owns the process-local registries shared by all sessions:
// room membership with ephemeral cursors, per-user chat presence, and the
// fire-and-forget broadcast router. Registries are mutated concurrently
// from many connection goroutines; every map is mutex-guarded and target
// lists are copied out under the lock so no send happens while holding it.
package hub

import "github.com/google/uuid"

// Conn is the slice of a transport connection the registries need. The
// registries reference connections, they never own them; the session that
// created a connection closes it.
type Conn interface {
	ID() uuid.UUID
	Send(msg []byte) error
}
