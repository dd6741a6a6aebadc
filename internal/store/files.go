package store

import "database/sql"

// FileSummary is one row of the file_list response.
type FileSummary struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	FullHash    string `json:"hash"`
	ActivePeers int    `json:"active_peers"`
}

// FileView is a read-only projection of a file plus its hosting peers, used
// by the read-only HTTP surface (file, file_by_hash).
type FileView struct {
	ID       int64    `json:"id"`
	Name     string   `json:"name"`
	FullHash string   `json:"full_hash"`
	Chunks   []Chunk  `json:"chunks"`
	PeerIPs  []string `json:"peer_ips"`
}

// GetFileByHash returns a file view, or (nil, nil) if no such file exists.
// Only peers whose keep_alive_timestamp is at or after onlineAfter are
// included; a peer going quiet hides it from query responses but never
// deletes its host rows.
func (s *Store) GetFileByHash(fullHash string, onlineAfter int64) (*FileView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadFileView(`full_hash = ?`, fullHash, onlineAfter)
}

// GetFileByID returns a file view, or (nil, nil) if no such file exists.
func (s *Store) GetFileByID(id int64, onlineAfter int64) (*FileView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadFileView(`id = ?`, id, onlineAfter)
}

func (s *Store) loadFileView(whereClause string, arg interface{}, onlineAfter int64) (*FileView, error) {
	row := s.db.QueryRow(`SELECT id, name, full_hash FROM files WHERE `+whereClause, arg)
	var f FileView
	if err := row.Scan(&f.ID, &f.Name, &f.FullHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	chunkRows, err := s.db.Query(`SELECT chunk_id, name, hash FROM chunks WHERE file_id = ? ORDER BY chunk_id`, f.ID)
	if err != nil {
		return nil, err
	}
	defer chunkRows.Close()
	for chunkRows.Next() {
		var c Chunk
		if err := chunkRows.Scan(&c.ChunkID, &c.Name, &c.Hash); err != nil {
			return nil, err
		}
		f.Chunks = append(f.Chunks, c)
	}
	if err := chunkRows.Err(); err != nil {
		return nil, err
	}

	peerRows, err := s.db.Query(
		`SELECT p.ip FROM peers p JOIN hosts h ON h.peer_uuid = p.uuid
		 WHERE h.file_id = ? AND p.keep_alive_timestamp >= ? ORDER BY p.ip`,
		f.ID, onlineAfter,
	)
	if err != nil {
		return nil, err
	}
	defer peerRows.Close()
	for peerRows.Next() {
		var ip string
		if err := peerRows.Scan(&ip); err != nil {
			return nil, err
		}
		f.PeerIPs = append(f.PeerIPs, ip)
	}
	return &f, peerRows.Err()
}

// ListFiles returns every file in ID order with its count of recently
// keep-alived hosts, for the file_list endpoint.
func (s *Store) ListFiles(onlineAfter int64) ([]FileSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT f.id, f.name, f.full_hash,
		        (SELECT COUNT(*) FROM hosts h JOIN peers p ON p.uuid = h.peer_uuid
		         WHERE h.file_id = f.id AND p.keep_alive_timestamp >= ?) AS active_peers
		 FROM files f ORDER BY f.id`,
		onlineAfter,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []FileSummary
	for rows.Next() {
		var fs FileSummary
		if err := rows.Scan(&fs.ID, &fs.Name, &fs.FullHash, &fs.ActivePeers); err != nil {
			return nil, err
		}
		files = append(files, fs)
	}
	return files, rows.Err()
}
