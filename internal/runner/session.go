package runner

import (
	"github.com/rs/xid"
)

// sessionPrefix makes session ids recognisable in service logs.
const sessionPrefix = "nb_"

// NewSessionID returns a fresh notebook session token.
//
// xid ids are a timestamp, a machine/process id and a counter, which is unique
// enough for notebooks created within one process. Collisions beyond that are
// not defended against.
func NewSessionID() string {
	return sessionPrefix + xid.New().String()
}

// ResolveSession maps a unit to the session it runs in: none for files, the
// owning notebook's SessionID for cells.
func ResolveSession(u Unit) string {
	if u.Kind != CellKind || u.notebook == nil {
		return ""
	}
	return u.notebook.SessionID
}
