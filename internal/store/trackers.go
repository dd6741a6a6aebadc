package store

import "database/sql"

// AddTracker registers a sibling tracker by IP. Idempotent.
func (s *Store) AddTracker(ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO trackers (ip) VALUES (?) ON CONFLICT(ip) DO NOTHING`, ip)
	return err
}

// RemoveTracker deletes a tracker by IP. Not an error if it was already gone.
func (s *Store) RemoveTracker(ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM trackers WHERE ip = ?`, ip)
	return err
}

// TrackerExists reports whether ip is in the local tracker set.
func (s *Store) TrackerExists(ip string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM trackers WHERE ip = ?`, ip).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListTrackers returns every known sibling tracker IP.
func (s *Store) ListTrackers() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT ip FROM trackers ORDER BY ip`)
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
