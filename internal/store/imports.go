package store

import (
	"database/sql"
	"time"
)

// GetImportedFileHash returns the hash recorded for a bulk-upload file name,
// or "" if the file was never forwarded to the backend.
func (s *Store) GetImportedFileHash(path string) (string, error) {
	var hash string
	err := s.db.QueryRow(`SELECT hash FROM imported_files WHERE path = ?`, path).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return hash, err
}

// SetImportedFileHash records a successful bulk upload.
func (s *Store) SetImportedFileHash(path, hash, chapterID string) error {
	_, err := s.db.Exec(
		`INSERT INTO imported_files (path, hash, chapter_id, imported_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET hash = excluded.hash, chapter_id = excluded.chapter_id, imported_at = excluded.imported_at`,
		path, hash, chapterID, time.Now(),
	)
	return err
}
