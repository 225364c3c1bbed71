package store

import (
	"context"
)

// GetImportedFileHash returns the content hash recorded for path, or "" if
// the file was never imported.
func (s *Store) GetImportedFileHash(ctx context.Context, path string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT hash FROM imported_files WHERE path = $1`, path).Scan(&hash)
	if notFound(err) {
		return "", nil
	}
	return hash, err
}

// SetImportedFileHash records the content hash of an imported file.
func (s *Store) SetImportedFileHash(ctx context.Context, path, hash string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO imported_files (path, hash, imported_at) VALUES ($1, $2, $3)
		 ON CONFLICT (path) DO UPDATE SET hash = excluded.hash, imported_at = excluded.imported_at`,
		path, hash, s.now().UTC(),
	)
	return err
}
