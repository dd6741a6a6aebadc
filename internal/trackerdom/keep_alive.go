package trackerdom

import (
	"database/sql"

	"github.com/peerloom/trackerd/internal/store"
)

// KeepAliveRequest is the parsed body of PUT /keep_alive.
type KeepAliveRequest struct {
	GUID        string
	KASeqNumber int64
}

// KeepAlive applies a keep_alive mutation under the strict origin sequence
// policy.
func KeepAlive(s *store.Store, req *KeepAliveRequest, ip string, now int64) error {
	return keepAlive(s, req, ip, now, false)
}

// KeepAliveSynced applies an inbound replicated keep_alive event under the
// relaxed (>=) sync policy.
func KeepAliveSynced(s *store.Store, req *KeepAliveRequest, ip string, now int64) error {
	return keepAlive(s, req, ip, now, true)
}

func keepAlive(s *store.Store, req *KeepAliveRequest, ip string, now int64, relaxed bool) error {
	return s.WithTx(func(tx *sql.Tx) error {
		peer, err := store.GetPeerTx(tx, req.GUID)
		if err != nil {
			return err
		}
		if peer == nil {
			if !relaxed {
				return ErrUnknownPeer
			}
			if err := store.EnsurePeerExistsTx(tx, req.GUID, ip, 0); err != nil {
				return err
			}
			peer, err = store.GetPeerTx(tx, req.GUID)
			if err != nil {
				return err
			}
		}

		if relaxed {
			if req.KASeqNumber < peer.KAExpectedSeqNumber {
				return ErrStaleEvent
			}
		} else if req.KASeqNumber != peer.KAExpectedSeqNumber {
			return &SequenceMismatchError{Expected: peer.KAExpectedSeqNumber, Got: req.KASeqNumber}
		}

		return store.ApplyKeepAliveTx(tx, req.GUID, ip, now)
	})
}
