package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/corona10/goimagehash"
	_ "modernc.org/sqlite"

	"imagededup/internal/models"
)

// Storage persists fingerprint records, duplicate groups and scan history.
type Storage struct {
	db     *sql.DB
	dbPath string
}

// NewStorage opens (creating if needed) the database at dbPath.
func NewStorage(dbPath string) (*Storage, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Storage{db: db, dbPath: dbPath}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

const schemaVersion = 2

// migrations are applied in order on open; each must be safe to re-run.
var migrations = []struct {
	version     int
	description string
	up          string
}{
	{
		version:     1,
		description: "Initial schema",
		up:          "", // covered by base schema creation
	},
	{
		version:     2,
		description: "Persist per-image processing failures",
		up: `
			ALTER TABLE images ADD COLUMN error TEXT DEFAULT '';
		`,
	},
}

func (s *Storage) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS images (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		path TEXT UNIQUE NOT NULL,
		ahash TEXT NOT NULL DEFAULT '',
		dhash TEXT NOT NULL DEFAULT '',
		phash TEXT NOT NULL DEFAULT '',
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		format TEXT NOT NULL DEFAULT '',
		file_size INTEGER NOT NULL DEFAULT 0,
		mod_time DATETIME NOT NULL,
		has_exif INTEGER DEFAULT 0,
		group_id INTEGER DEFAULT 0,
		representative INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_images_group_id ON images(group_id);
	CREATE INDEX IF NOT EXISTS idx_images_path ON images(path);

	CREATE TABLE IF NOT EXISTS scan_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		folder TEXT NOT NULL,
		scanned_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		total_images INTEGER NOT NULL,
		total_groups INTEGER NOT NULL,
		total_duplicates INTEGER NOT NULL,
		reclaimable_bytes INTEGER NOT NULL DEFAULT 0
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	if err := s.migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

func (s *Storage) migrate() error {
	currentVersion := s.getSchemaVersion()

	for _, m := range migrations {
		if m.version <= currentVersion || m.up == "" {
			continue
		}

		if m.version == 2 && s.columnExists("images", "error") {
			s.setSchemaVersion(m.version)
			continue
		}

		if _, err := s.db.Exec(m.up); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.description, err)
		}
		s.setSchemaVersion(m.version)
	}

	return nil
}

func (s *Storage) getSchemaVersion() int {
	var version int
	err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	if err != nil {
		return 0
	}
	return version
}

func (s *Storage) setSchemaVersion(version int) {
	s.db.Exec(`INSERT OR REPLACE INTO schema_version (version) VALUES (?)`, version)
}

func (s *Storage) columnExists(table, column string) bool {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?
	`, table, column).Scan(&count)
	if err != nil {
		return false
	}
	return count > 0
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// SaveImages inserts or replaces the given records, including failed ones so
// that decode problems survive across commands.
func (s *Storage) SaveImages(images []*models.ImageInfo) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO images
			(path, ahash, dhash, phash, width, height, format, file_size, mod_time, has_exif, error, group_id, representative)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, img := range images {
		hasExifInt := 0
		if img.HasExif {
			hasExifInt = 1
		}
		_, err := stmt.Exec(
			img.Path,
			encodeHash(img.AHash),
			encodeHash(img.DHash),
			encodeHash(img.PHash),
			img.Width,
			img.Height,
			img.Format,
			img.FileSize,
			img.ModTime,
			hasExifInt,
			img.Error,
		)
		if err != nil {
			return fmt.Errorf("failed to insert image %s: %w", img.Path, err)
		}
	}

	return tx.Commit()
}

// GetAllImages returns all stored records ordered by path.
func (s *Storage) GetAllImages() ([]*models.ImageInfo, error) {
	rows, err := s.db.Query(`
		SELECT id, path, ahash, dhash, phash, width, height, format, file_size, mod_time, has_exif, error
		FROM images
		ORDER BY path
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query images: %w", err)
	}
	defer rows.Close()

	return scanImageRows(rows)
}

// UpdateGroups rewrites the group assignments and representative flags.
func (s *Storage) UpdateGroups(groups []*models.DuplicateGroup) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("UPDATE images SET group_id = 0, representative = 0"); err != nil {
		return fmt.Errorf("failed to reset groups: %w", err)
	}

	stmt, err := tx.Prepare("UPDATE images SET group_id = ?, representative = ? WHERE path = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, group := range groups {
		for _, img := range group.Images {
			rep := 0
			if img == group.Keep {
				rep = 1
			}
			if _, err := stmt.Exec(group.ID, rep, img.Path); err != nil {
				return fmt.Errorf("failed to update group for %s: %w", img.Path, err)
			}
		}
	}

	return tx.Commit()
}

// GetDuplicateGroups rebuilds all stored duplicate groups.
func (s *Storage) GetDuplicateGroups() ([]*models.DuplicateGroup, error) {
	rows, err := s.db.Query("SELECT DISTINCT group_id FROM images WHERE group_id > 0 ORDER BY group_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groupIDs []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		groupIDs = append(groupIDs, id)
	}

	var groups []*models.DuplicateGroup
	for _, id := range groupIDs {
		images, err := s.GetImagesByGroupID(id)
		if err != nil {
			return nil, err
		}
		if len(images) < 2 {
			continue
		}

		// Rows are ordered representative-first.
		group := &models.DuplicateGroup{
			ID:     id,
			Images: images,
			Keep:   images[0],
			Remove: images[1:],
		}
		groups = append(groups, group)
	}

	return groups, nil
}

// GetImagesByGroupID returns the records of one group, representative first,
// then insertion order.
func (s *Storage) GetImagesByGroupID(groupID int) ([]*models.ImageInfo, error) {
	rows, err := s.db.Query(`
		SELECT id, path, ahash, dhash, phash, width, height, format, file_size, mod_time, has_exif, error
		FROM images
		WHERE group_id = ?
		ORDER BY representative DESC, id
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query images: %w", err)
	}
	defer rows.Close()

	return scanImageRows(rows)
}

// DeleteImage removes a record from the database.
func (s *Storage) DeleteImage(path string) error {
	_, err := s.db.Exec("DELETE FROM images WHERE path = ?", path)
	return err
}

// RecordScan appends a scan summary to the history table.
func (s *Storage) RecordScan(folder string, stats models.GroupStats, totalImages int) error {
	_, err := s.db.Exec(`
		INSERT INTO scan_history (folder, total_images, total_groups, total_duplicates, reclaimable_bytes)
		VALUES (?, ?, ?, ?, ?)
	`, folder, totalImages, stats.TotalGroups, stats.TotalDuplicates, stats.ReclaimableBytes)
	return err
}

// GetGroupCount returns the number of stored duplicate groups.
func (s *Storage) GetGroupCount() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(DISTINCT group_id) FROM images WHERE group_id > 0").Scan(&count)
	return count, err
}

func scanImageRows(rows *sql.Rows) ([]*models.ImageInfo, error) {
	var images []*models.ImageInfo
	for rows.Next() {
		img := &models.ImageInfo{}
		var modTime string
		var ahash, dhash, phash string
		var hasExifInt int
		var imgErr sql.NullString
		err := rows.Scan(
			&img.ID,
			&img.Path,
			&ahash,
			&dhash,
			&phash,
			&img.Width,
			&img.Height,
			&img.Format,
			&img.FileSize,
			&modTime,
			&hasExifInt,
			&imgErr,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if img.AHash, err = decodeHash(ahash); err != nil {
			return nil, fmt.Errorf("corrupt ahash for %s: %w", img.Path, err)
		}
		if img.DHash, err = decodeHash(dhash); err != nil {
			return nil, fmt.Errorf("corrupt dhash for %s: %w", img.Path, err)
		}
		if img.PHash, err = decodeHash(phash); err != nil {
			return nil, fmt.Errorf("corrupt phash for %s: %w", img.Path, err)
		}
		img.HasExif = hasExifInt == 1
		img.Error = imgErr.String
		img.ModTime, _ = time.Parse("2006-01-02 15:04:05", modTime)
		images = append(images, img)
	}

	return images, rows.Err()
}

// encodeHash serializes a fingerprint as its kind-prefixed hex string; nil
// fingerprints (failed records) become the empty string.
func encodeHash(h *goimagehash.ExtImageHash) string {
	if h == nil {
		return ""
	}
	return h.ToString()
}

func decodeHash(s string) (*goimagehash.ExtImageHash, error) {
	if s == "" {
		return nil, nil
	}
	return goimagehash.ExtImageHashFromString(s)
}
