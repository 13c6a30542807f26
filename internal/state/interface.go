package state

import "io"

// Persister is the durable backend behind a Store. Every mutating Store
// call writes through to it before returning.
type Persister interface {
	io.Closer
	// SaveSession upserts one session blob and applies counter deltas.
	SaveSession(rec BlobRecord, counters map[string]int64) error
	// DeleteSessions removes session blobs by id.
	DeleteSessions(ids []string) (int64, error)
	// LoadSessions returns every stored blob.
	LoadSessions() ([]BlobRecord, error)
	// Counters returns the persisted statistics counters.
	Counters() (map[string]int64, error)
}

// Compile-time verification that DB implements Persister.
var _ Persister = (*DB)(nil)
