package store

import (
	"database/sql"
)

const cliSessionKey = "cli_session_id"

// SetMetadata upserts a key-value pair in the app_metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO app_metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM app_metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// DeleteMetadata removes a key; missing keys are not an error.
func (s *Store) DeleteMetadata(key string) error {
	_, err := s.db.Exec(`DELETE FROM app_metadata WHERE key = ?`, key)
	return err
}

// CLISessionID returns the auth session id used by terminal commands, or "".
func (s *Store) CLISessionID() (string, error) {
	return s.GetMetadata(cliSessionKey)
}

// SetCLISessionID remembers the auth session created by `medcode login`.
func (s *Store) SetCLISessionID(id string) error {
	if id == "" {
		return s.DeleteMetadata(cliSessionKey)
	}
	return s.SetMetadata(cliSessionKey, id)
}
