package trackerdom

import (
	"database/sql"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/peerloom/trackerd/internal/store"
)

// ChunkInput is one ordered chunk of an AddFileRequest.
type ChunkInput struct {
	ID   int64
	Name string
	Hash string
}

// AddFileRequest is the parsed body of POST /add_file (and the embedded
// add_file payload of a tracker_sync event, where GUID is always non-nil).
type AddFileRequest struct {
	Name      string
	FullHash  string
	Chunks    []ChunkInput
	GUID      *string
	SeqNumber int64
}

// AddFileResult is returned to the caller and, for origin requests with a
// nil GUID, echoes back the server-assigned peer identity.
type AddFileResult struct {
	FileID int64
	GUID   string
}

// AddFile applies an add_file mutation under the strict origin sequence
// policy (peer.expected_seq_number == req.SeqNumber). Sync-side callers use
// AddFileSynced instead, which relaxes the comparison to >=.
func AddFile(s *store.Store, req *AddFileRequest, ip string) (*AddFileResult, error) {
	return addFile(s, req, ip, false)
}

// AddFileSynced applies an inbound replicated add_file event under the
// relaxed (>=) sync policy. An event whose sequence number is behind the
// local expectation is not applied and returns ErrStaleEvent.
func AddFileSynced(s *store.Store, req *AddFileRequest, ip string) (*AddFileResult, error) {
	return addFile(s, req, ip, true)
}

func addFile(s *store.Store, req *AddFileRequest, ip string, relaxed bool) (*AddFileResult, error) {
	var result AddFileResult

	err := s.WithTx(func(tx *sql.Tx) error {
		var peerUUID string
		var expected int64

		if req.GUID == nil {
			// Origin convention: the peer's first op seeds its own counter.
			peerUUID = uuid.New().String()
			if err := store.CreatePeerTx(tx, &store.Peer{
				UUID:               peerUUID,
				IP:                 ip,
				KeepAliveTimestamp: time.Now().Unix(),
				ExpectedSeqNumber:  req.SeqNumber,
			}); err != nil {
				return err
			}
			expected = req.SeqNumber
		} else {
			peerUUID = *req.GUID
			peer, err := store.GetPeerTx(tx, peerUUID)
			if err != nil {
				return err
			}
			if peer == nil {
				if !relaxed {
					return ErrUnknownPeer
				}
				if err := store.EnsurePeerExistsTx(tx, peerUUID, ip, req.SeqNumber); err != nil {
					return err
				}
				peer, err = store.GetPeerTx(tx, peerUUID)
				if err != nil {
					return err
				}
			}
			if peer.IP != ip {
				if err := store.UpdatePeerIPTx(tx, peerUUID, ip); err != nil {
					return err
				}
			}
			expected = peer.ExpectedSeqNumber
		}

		if relaxed {
			if req.SeqNumber < expected {
				return ErrStaleEvent
			}
		} else if req.SeqNumber != expected {
			return &SequenceMismatchError{Expected: expected, Got: req.SeqNumber}
		}

		file, err := store.GetFileByHashTx(tx, req.FullHash)
		if err != nil {
			return err
		}

		var fileID int64
		if file == nil {
			chunks := make([]store.Chunk, len(req.Chunks))
			for i, c := range req.Chunks {
				chunks[i] = store.Chunk{ChunkID: c.ID, Name: c.Name, Hash: c.Hash}
			}
			fileID, err = store.CreateFileWithChunksTx(tx, req.Name, req.FullHash, chunks)
			if err != nil {
				return err
			}
		} else {
			if !chunksMatch(file.Chunks, req.Chunks) {
				return ErrChunkMismatch
			}
			fileID = file.ID
		}

		if err := store.AddHostTx(tx, fileID, peerUUID); err != nil {
			if err == store.ErrAlreadyExists {
				return ErrAlreadyHosting
			}
			return err
		}

		if err := store.BumpExpectedSeqTx(tx, peerUUID); err != nil {
			return err
		}

		result = AddFileResult{FileID: fileID, GUID: peerUUID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func chunksMatch(stored []store.Chunk, submitted []ChunkInput) bool {
	if len(stored) != len(submitted) {
		return false
	}
	sorted := make([]ChunkInput, len(submitted))
	copy(sorted, submitted)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for i, c := range stored {
		s := sorted[i]
		if c.ChunkID != s.ID || c.Name != s.Name || c.Hash != s.Hash {
			return false
		}
	}
	return true
}
