package store

import "database/sql"

// GetFileByHashTx loads a file and its ordered chunk list by full_hash.
// (nil, nil) if no such file exists.
func GetFileByHashTx(tx *sql.Tx, fullHash string) (*File, error) {
	row := tx.QueryRow(`SELECT id, name, full_hash FROM files WHERE full_hash = ?`, fullHash)
	var f File
	if err := row.Scan(&f.ID, &f.Name, &f.FullHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	chunks, err := loadChunksTx(tx, f.ID)
	if err != nil {
		return nil, err
	}
	f.Chunks = chunks
	return &f, nil
}

// GetFileByIDTx loads a file and its ordered chunk list by ID.
func GetFileByIDTx(tx *sql.Tx, fileID int64) (*File, error) {
	row := tx.QueryRow(`SELECT id, name, full_hash FROM files WHERE id = ?`, fileID)
	var f File
	if err := row.Scan(&f.ID, &f.Name, &f.FullHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	chunks, err := loadChunksTx(tx, f.ID)
	if err != nil {
		return nil, err
	}
	f.Chunks = chunks
	return &f, nil
}

func loadChunksTx(tx *sql.Tx, fileID int64) ([]Chunk, error) {
	rows, err := tx.Query(
		`SELECT chunk_id, name, hash FROM chunks WHERE file_id = ? ORDER BY chunk_id`, fileID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ChunkID, &c.Name, &c.Hash); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// CreateFileWithChunksTx inserts a new file and its ordered chunks, returning
// the generated file ID.
func CreateFileWithChunksTx(tx *sql.Tx, name, fullHash string, chunks []Chunk) (int64, error) {
	res, err := tx.Exec(`INSERT INTO files (name, full_hash) VALUES (?, ?)`, name, fullHash)
	if err != nil {
		return 0, err
	}
	fileID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, c := range chunks {
		if _, err := tx.Exec(
			`INSERT INTO chunks (file_id, chunk_id, name, hash) VALUES (?, ?, ?, ?)`,
			fileID, c.ChunkID, c.Name, c.Hash,
		); err != nil {
			return 0, err
		}
	}

	return fileID, nil
}

// DeleteFileTx deletes a file; its chunks and hosts cascade.
func DeleteFileTx(tx *sql.Tx, fileID int64) error {
	_, err := tx.Exec(`DELETE FROM files WHERE id = ?`, fileID)
	return err
}
