package trackerdom

import (
	"database/sql"

	"github.com/peerloom/trackerd/internal/store"
)

// DeregisterRequest is the parsed body common to both deregister routes;
// exactly one of FileID / FileHash is set depending on which route dispatched
// it.
type DeregisterRequest struct {
	FileID    *int64
	FileHash  *string
	GUID      string
	SeqNumber int64
}

// DeregisterFile removes a (peer, file) host relation addressed by local
// file ID. This route is tracker-local and is never replicated — file IDs
// are not stable across trackers.
func DeregisterFile(s *store.Store, req *DeregisterRequest, ip string) error {
	return deregister(s, req, ip, false)
}

// DeregisterFileByHash removes a host relation addressed by content hash.
// This is the replicated variant.
func DeregisterFileByHash(s *store.Store, req *DeregisterRequest, ip string) error {
	return deregister(s, req, ip, false)
}

// DeregisterFileByHashSynced applies an inbound replicated
// deregister_file_by_hash event under the relaxed (>=) sync policy.
func DeregisterFileByHashSynced(s *store.Store, req *DeregisterRequest, ip string) error {
	return deregister(s, req, ip, true)
}

func deregister(s *store.Store, req *DeregisterRequest, ip string, relaxed bool) error {
	return s.WithTx(func(tx *sql.Tx) error {
		peer, err := store.GetPeerTx(tx, req.GUID)
		if err != nil {
			return err
		}
		if peer == nil {
			if !relaxed {
				return ErrUnknownPeer
			}
			if err := store.EnsurePeerExistsTx(tx, req.GUID, ip, req.SeqNumber); err != nil {
				return err
			}
			peer, err = store.GetPeerTx(tx, req.GUID)
			if err != nil {
				return err
			}
		}

		if relaxed {
			if req.SeqNumber < peer.ExpectedSeqNumber {
				return ErrStaleEvent
			}
		} else if req.SeqNumber != peer.ExpectedSeqNumber {
			return &SequenceMismatchError{Expected: peer.ExpectedSeqNumber, Got: req.SeqNumber}
		}

		var file *store.File
		if req.FileID != nil {
			file, err = store.GetFileByIDTx(tx, *req.FileID)
		} else {
			file, err = store.GetFileByHashTx(tx, *req.FileHash)
		}
		if err != nil {
			return err
		}
		if file == nil {
			return ErrNotHosting
		}

		if err := store.RemoveHostTx(tx, file.ID, req.GUID); err != nil {
			if err == store.ErrNotFound {
				return ErrNotHosting
			}
			return err
		}

		count, err := store.HostCountTx(tx, file.ID)
		if err != nil {
			return err
		}
		if count == 0 {
			if err := store.DeleteFileTx(tx, file.ID); err != nil {
				return err
			}
		}

		return store.BumpExpectedSeqTx(tx, req.GUID)
	})
}
