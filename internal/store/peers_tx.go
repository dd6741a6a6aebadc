package store

import (
	"database/sql"
	"time"
)

// Tx-scoped peer operations. Callers run these inside Store.WithTx, which
// already holds the write lock, so these talk to the *sql.Tx directly.

// GetPeerTx loads a peer by UUID inside an open transaction. (nil, nil) if absent.
func GetPeerTx(tx *sql.Tx, uuid string) (*Peer, error) {
	row := tx.QueryRow(
		`SELECT uuid, ip, keep_alive_timestamp, expected_seq_number, ka_expected_seq_number
		 FROM peers WHERE uuid = ?`, uuid,
	)
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

// CreatePeerTx inserts a new peer with the given starting sequence number.
func CreatePeerTx(tx *sql.Tx, p *Peer) error {
	_, err := tx.Exec(
		`INSERT INTO peers (uuid, ip, keep_alive_timestamp, expected_seq_number, ka_expected_seq_number)
		 VALUES (?, ?, ?, ?, ?)`,
		p.UUID, p.IP, p.KeepAliveTimestamp, p.ExpectedSeqNumber, p.KAExpectedSeqNumber,
	)
	return err
}

// EnsurePeerExistsTx idempotently creates a peer for an event originating
// from inbound sync, where the tracker may never have directly served this
// peer before. No-op if the peer is already known. seedSeq seeds the new
// peer's expected_seq_number — the first op's sequence is accepted as the
// starting counter, same as the origin convention — so a tracker whose
// first contact for a peer arrives mid-stream does not reset the counter
// to zero and re-admit earlier duplicates. Pass 0 when the triggering
// event carries no mutating sequence number.
func EnsurePeerExistsTx(tx *sql.Tx, uuid, ip string, seedSeq int64) error {
	existing, err := GetPeerTx(tx, uuid)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	return CreatePeerTx(tx, &Peer{
		UUID:               uuid,
		IP:                 ip,
		KeepAliveTimestamp: time.Now().Unix(),
		ExpectedSeqNumber:  seedSeq,
	})
}

// UpdatePeerIPTx updates the peer's recorded IP.
func UpdatePeerIPTx(tx *sql.Tx, uuid, ip string) error {
	_, err := tx.Exec(`UPDATE peers SET ip = ? WHERE uuid = ?`, ip, uuid)
	return err
}

// BumpExpectedSeqTx advances the mutating-op sequence counter by one.
func BumpExpectedSeqTx(tx *sql.Tx, uuid string) error {
	_, err := tx.Exec(`UPDATE peers SET expected_seq_number = expected_seq_number + 1 WHERE uuid = ?`, uuid)
	return err
}

// ApplyKeepAliveTx stamps the keep-alive timestamp and advances the ka counter.
func ApplyKeepAliveTx(tx *sql.Tx, uuid, ip string, now int64) error {
	_, err := tx.Exec(
		`UPDATE peers SET ip = ?, keep_alive_timestamp = ?, ka_expected_seq_number = ka_expected_seq_number + 1
		 WHERE uuid = ?`,
		ip, now, uuid,
	)
	return err
}
