// Package trackerdom implements the replication-gated mutations over the
// underlying store: add_file, keep_alive, deregister, and peer lifecycle.
package trackerdom

import "errors"

// Sentinel errors returned by domain operations. The HTTP surface maps each
// to the response envelope's error string per the sync protocol's error
// taxonomy.
var (
	ErrUnknownPeer      = errors.New("unknown peer")
	ErrSequenceMismatch = errors.New("sequence mismatch")
	ErrChunkMismatch    = errors.New("chunk mismatch")
	ErrAlreadyHosting   = errors.New("already hosting")
	ErrNotHosting       = errors.New("not hosting")

	// ErrStaleEvent is returned by the *Synced variants when an inbound
	// replication event's sequence number is behind the local expectation.
	// It is the loop-breaking case: the sync endpoint must drop the event
	// silently and must not rebroadcast it.
	ErrStaleEvent = errors.New("stale replication event")
)

// SequenceMismatchError carries both sequence numbers so the caller can
// format the exact diagnostic message the protocol expects.
type SequenceMismatchError struct {
	Expected int64
	Got      int64
}

func (e *SequenceMismatchError) Error() string {
	return ErrSequenceMismatch.Error()
}

func (e *SequenceMismatchError) Unwrap() error {
	return ErrSequenceMismatch
}
