package store

import "database/sql"

// AddHostTx inserts a (file, peer) host relation. Returns ErrAlreadyExists
// if the pair is already present.
func AddHostTx(tx *sql.Tx, fileID int64, peerUUID string) error {
	var exists int
	err := tx.QueryRow(`SELECT 1 FROM hosts WHERE file_id = ? AND peer_uuid = ?`, fileID, peerUUID).Scan(&exists)
	if err == nil {
		return ErrAlreadyExists
	}
	if err != sql.ErrNoRows {
		return err
	}

	_, err = tx.Exec(`INSERT INTO hosts (file_id, peer_uuid) VALUES (?, ?)`, fileID, peerUUID)
	return err
}

// RemoveHostTx deletes a (file, peer) host relation. Returns ErrNotFound if
// the relation did not exist.
func RemoveHostTx(tx *sql.Tx, fileID int64, peerUUID string) error {
	res, err := tx.Exec(`DELETE FROM hosts WHERE file_id = ? AND peer_uuid = ?`, fileID, peerUUID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// HostCountTx returns the number of peers hosting a file.
func HostCountTx(tx *sql.Tx, fileID int64) (int, error) {
	var count int
	err := tx.QueryRow(`SELECT COUNT(*) FROM hosts WHERE file_id = ?`, fileID).Scan(&count)
	return count, err
}

// HostIPsTx returns the IPs of every peer hosting a file (for read endpoints).
func HostIPsTx(tx *sql.Tx, fileID int64) ([]string, error) {
	rows, err := tx.Query(
		`SELECT p.ip FROM peers p JOIN hosts h ON h.peer_uuid = p.uuid WHERE h.file_id = ? ORDER BY p.ip`,
		fileID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ips []string
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return nil, err
		}
		ips = append(ips, ip)
	}
	return ips, rows.Err()
}
