package store

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Snapshot is a complete, restorable serialization of a tracker's state.
// It is deliberately a portable JSON document of every row rather than a
// SQLite-specific binary dump, since nothing in the replication protocol
// requires the receiving tracker to even be running SQLite.
type Snapshot struct {
	Trackers []string   `json:"trackers"`
	Peers    []Peer     `json:"peers"`
	Files    []SnapFile `json:"files"`
}

// SnapFile bundles a file with its chunks and host peer UUIDs so Restore can
// recreate the Hosts relation without a second pass.
type SnapFile struct {
	Name      string   `json:"name"`
	FullHash  string   `json:"full_hash"`
	Chunks    []Chunk  `json:"chunks"`
	HostUUIDs []string `json:"host_uuids"`
}

// Snapshot dumps the entire relational state. excludeTrackerIP, if non-empty,
// omits that tracker from the dump — used by /new_tracker so a rejoining
// tracker doesn't see itself in its own bootstrap snapshot.
func (s *Store) Snapshot(excludeTrackerIP string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{}

	trackerRows, err := s.db.Query(`SELECT ip FROM trackers ORDER BY ip`)
	if err != nil {
		return nil, err
	}
	for trackerRows.Next() {
		var ip string
		if err := trackerRows.Scan(&ip); err != nil {
			trackerRows.Close()
			return nil, err
		}
		if ip != excludeTrackerIP {
			snap.Trackers = append(snap.Trackers, ip)
		}
	}
	if err := trackerRows.Err(); err != nil {
		trackerRows.Close()
		return nil, err
	}
	trackerRows.Close()

	peerRows, err := s.db.Query(
		`SELECT uuid, ip, keep_alive_timestamp, expected_seq_number, ka_expected_seq_number FROM peers ORDER BY uuid`,
	)
	if err != nil {
		return nil, err
	}
	for peerRows.Next() {
		var p Peer
		if err := peerRows.Scan(&p.UUID, &p.IP, &p.KeepAliveTimestamp, &p.ExpectedSeqNumber, &p.KAExpectedSeqNumber); err != nil {
			peerRows.Close()
			return nil, err
		}
		snap.Peers = append(snap.Peers, p)
	}
	if err := peerRows.Err(); err != nil {
		peerRows.Close()
		return nil, err
	}
	peerRows.Close()

	fileRows, err := s.db.Query(`SELECT id, name, full_hash FROM files ORDER BY id`)
	if err != nil {
		return nil, err
	}
	type idFile struct {
		id int64
		f  SnapFile
	}
	var idFiles []idFile
	for fileRows.Next() {
		var id int64
		var sf SnapFile
		if err := fileRows.Scan(&id, &sf.Name, &sf.FullHash); err != nil {
			fileRows.Close()
			return nil, err
		}
		idFiles = append(idFiles, idFile{id: id, f: sf})
	}
	if err := fileRows.Err(); err != nil {
		fileRows.Close()
		return nil, err
	}
	fileRows.Close()

	for _, idf := range idFiles {
		chunkRows, err := s.db.Query(`SELECT chunk_id, name, hash FROM chunks WHERE file_id = ? ORDER BY chunk_id`, idf.id)
		if err != nil {
			return nil, err
		}
		var chunks []Chunk
		for chunkRows.Next() {
			var c Chunk
			if err := chunkRows.Scan(&c.ChunkID, &c.Name, &c.Hash); err != nil {
				chunkRows.Close()
				return nil, err
			}
			chunks = append(chunks, c)
		}
		if err := chunkRows.Err(); err != nil {
			chunkRows.Close()
			return nil, err
		}
		chunkRows.Close()

		hostRows, err := s.db.Query(`SELECT peer_uuid FROM hosts WHERE file_id = ? ORDER BY peer_uuid`, idf.id)
		if err != nil {
			return nil, err
		}
		var hostUUIDs []string
		for hostRows.Next() {
			var uuid string
			if err := hostRows.Scan(&uuid); err != nil {
				hostRows.Close()
				return nil, err
			}
			hostUUIDs = append(hostUUIDs, uuid)
		}
		if err := hostRows.Err(); err != nil {
			hostRows.Close()
			return nil, err
		}
		hostRows.Close()

		sf := idf.f
		sf.Chunks = chunks
		sf.HostUUIDs = hostUUIDs
		snap.Files = append(snap.Files, sf)
	}

	return snap, nil
}

// MarshalSnapshot serializes a Snapshot for transfer.
func MarshalSnapshot(snap *Snapshot) ([]byte, error) {
	return json.Marshal(snap)
}

// SnapshotDigest returns the hex BLAKE2b-256 digest of a marshaled snapshot.
// The join protocol sends it alongside the base64 payload so a joining
// tracker can detect a corrupted or truncated transfer before restoring.
func SnapshotDigest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// UnmarshalSnapshot parses a transferred snapshot.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Restore atomically replaces local state with snap. It takes the write lock
// before truncating, matching the discipline the rest of the Store uses for
// every mutation, so it waits for any in-flight transaction to finish rather
// than aborting it; what that transaction wrote is then replaced along with
// everything else.
func (s *Store) Restore(snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"hosts", "chunks", "files", "peers", "trackers"} {
		if _, err := tx.Exec(fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	for _, ip := range snap.Trackers {
		if _, err := tx.Exec(`INSERT INTO trackers (ip) VALUES (?)`, ip); err != nil {
			return err
		}
	}

	for _, p := range snap.Peers {
		if _, err := tx.Exec(
			`INSERT INTO peers (uuid, ip, keep_alive_timestamp, expected_seq_number, ka_expected_seq_number)
			 VALUES (?, ?, ?, ?, ?)`,
			p.UUID, p.IP, p.KeepAliveTimestamp, p.ExpectedSeqNumber, p.KAExpectedSeqNumber,
		); err != nil {
			return err
		}
	}

	for _, f := range snap.Files {
		res, err := tx.Exec(`INSERT INTO files (name, full_hash) VALUES (?, ?)`, f.Name, f.FullHash)
		if err != nil {
			return err
		}
		fileID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		for _, c := range f.Chunks {
			if _, err := tx.Exec(
				`INSERT INTO chunks (file_id, chunk_id, name, hash) VALUES (?, ?, ?, ?)`,
				fileID, c.ChunkID, c.Name, c.Hash,
			); err != nil {
				return err
			}
		}
		for _, uuid := range f.HostUUIDs {
			if _, err := tx.Exec(`INSERT INTO hosts (file_id, peer_uuid) VALUES (?, ?)`, fileID, uuid); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}
