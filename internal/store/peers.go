package store

import (
	"database/sql"
)

// CreatePeer inserts a brand new peer. Fails with ErrAlreadyExists if the
// UUID is taken (it's a fresh uuid.New() in practice, so this should never
// actually trigger outside of a replayed snapshot).
func (s *Store) CreatePeer(p *Peer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM peers WHERE uuid = ?`, p.UUID).Scan(&exists)
	if err == nil {
		return ErrAlreadyExists
	}
	if err != sql.ErrNoRows {
		return err
	}

	_, err = s.db.Exec(
		`INSERT INTO peers (uuid, ip, keep_alive_timestamp, expected_seq_number, ka_expected_seq_number)
		 VALUES (?, ?, ?, ?, ?)`,
		p.UUID, p.IP, p.KeepAliveTimestamp, p.ExpectedSeqNumber, p.KAExpectedSeqNumber,
	)
	return err
}

// GetPeer loads a peer by UUID. Returns (nil, nil) if absent.
func (s *Store) GetPeer(uuid string) (*Peer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT uuid, ip, keep_alive_timestamp, expected_seq_number, ka_expected_seq_number
		 FROM peers WHERE uuid = ?`, uuid,
	)
	return scanPeer(row)
}

// UpdatePeerIP sets the peer's recorded IP if it changed.
func (s *Store) UpdatePeerIP(uuid, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE peers SET ip = ? WHERE uuid = ?`, ip, uuid)
	return err
}

// BumpExpectedSeq advances the mutating-op sequence counter by one.
func (s *Store) BumpExpectedSeq(uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE peers SET expected_seq_number = expected_seq_number + 1 WHERE uuid = ?`, uuid)
	return err
}

// ApplyKeepAlive stamps the keep-alive timestamp and advances the ka counter.
func (s *Store) ApplyKeepAlive(uuid string, ip string, now int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`UPDATE peers SET ip = ?, keep_alive_timestamp = ?, ka_expected_seq_number = ka_expected_seq_number + 1
		 WHERE uuid = ?`,
		ip, now, uuid,
	)
	return err
}

// PeerFile is one hosted file in a peer_status response.
type PeerFile struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Hash string `json:"hash"`
}

// PeerStatus is the resync payload a client fetches after a SequenceMismatch:
// its hosted files plus both expected counters.
type PeerStatus struct {
	Files               []PeerFile `json:"files"`
	ExpectedSeqNumber   int64      `json:"expected_seq_number"`
	KAExpectedSeqNumber int64      `json:"ka_expected_seq_number"`
}

// GetPeerStatus returns the peer's counters plus the files it hosts.
// (nil, nil) if the peer is unknown.
func (s *Store) GetPeerStatus(uuid string) (*PeerStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT expected_seq_number, ka_expected_seq_number FROM peers WHERE uuid = ?`, uuid,
	)
	var st PeerStatus
	if err := row.Scan(&st.ExpectedSeqNumber, &st.KAExpectedSeqNumber); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	rows, err := s.db.Query(
		`SELECT f.id, f.name, f.full_hash FROM files f JOIN hosts h ON h.file_id = f.id
		 WHERE h.peer_uuid = ? ORDER BY f.id`,
		uuid,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var pf PeerFile
		if err := rows.Scan(&pf.ID, &pf.Name, &pf.Hash); err != nil {
			return nil, err
		}
		st.Files = append(st.Files, pf)
	}

	return &st, rows.Err()
}

func scanPeer(row *sql.Row) (*Peer, error) {
	var p Peer
	err := row.Scan(&p.UUID, &p.IP, &p.KeepAliveTimestamp, &p.ExpectedSeqNumber, &p.KAExpectedSeqNumber)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}
