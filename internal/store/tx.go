package store

import "database/sql"

// WithTx runs fn inside a single SQLite transaction, holding the Store's
// write lock for the duration. Domain Ops uses this for every mutating
// operation so sequence-check-then-apply is atomic with respect to other
// requests sharing the same Store.
func (s *Store) WithTx(fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}
