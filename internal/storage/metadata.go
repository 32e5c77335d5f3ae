package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Recording is one saved (merged) recording's metadata row.
type Recording struct {
	JobID           string    `json:"job_id"`
	RequestName     string    `json:"request_name"`
	LocalPath       string    `json:"local_path"`
	SegmentCount    int       `json:"segment_count"`
	DurationSeconds int       `json:"duration_seconds"`
	Uploaded        bool      `json:"uploaded"`
	CreatedAt       time.Time `json:"created_at"`
}

// MetadataDB handles SQLite database operations
type MetadataDB struct {
	db *sql.DB
}

// NewMetadataDB creates a new metadata database
func NewMetadataDB(dbPath string) (*MetadataDB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS recordings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL UNIQUE,
		request_name TEXT NOT NULL,
		local_path TEXT NOT NULL,
		segment_count INTEGER NOT NULL,
		duration_seconds INTEGER NOT NULL,
		uploaded INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_recordings_created_at ON recordings(created_at);
	`

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &MetadataDB{db: db}, nil
}

// SaveRecording inserts a saved recording's metadata.
func (mdb *MetadataDB) SaveRecording(r Recording) error {
	query := `
	INSERT INTO recordings (job_id, request_name, local_path, segment_count, duration_seconds, uploaded, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := mdb.db.Exec(query, r.JobID, r.RequestName, r.LocalPath,
		r.SegmentCount, r.DurationSeconds, r.Uploaded, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save recording metadata: %w", err)
	}
	return nil
}

// GetRecording retrieves one recording by job id.
func (mdb *MetadataDB) GetRecording(jobID string) (*Recording, error) {
	query := `
	SELECT job_id, request_name, local_path, segment_count, duration_seconds, uploaded, created_at
	FROM recordings WHERE job_id = ?
	`

	var r Recording
	err := mdb.db.QueryRow(query, jobID).Scan(&r.JobID, &r.RequestName, &r.LocalPath,
		&r.SegmentCount, &r.DurationSeconds, &r.Uploaded, &r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get recording: %w", err)
	}
	return &r, nil
}

// ListRecordings returns the most recent recordings, newest first.
func (mdb *MetadataDB) ListRecordings(limit int) ([]Recording, error) {
	query := `
	SELECT job_id, request_name, local_path, segment_count, duration_seconds, uploaded, created_at
	FROM recordings ORDER BY created_at DESC LIMIT ?
	`

	rows, err := mdb.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	defer rows.Close()

	var recordings []Recording
	for rows.Next() {
		var r Recording
		if err := rows.Scan(&r.JobID, &r.RequestName, &r.LocalPath,
			&r.SegmentCount, &r.DurationSeconds, &r.Uploaded, &r.CreatedAt); err != nil {
			continue
		}
		recordings = append(recordings, r)
	}
	return recordings, nil
}

// MarkUploaded flags a recording as synced to the cloud.
func (mdb *MetadataDB) MarkUploaded(jobID string) error {
	_, err := mdb.db.Exec(`UPDATE recordings SET uploaded = 1 WHERE job_id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("failed to mark recording uploaded: %w", err)
	}
	return nil
}

// Close closes the database connection
func (mdb *MetadataDB) Close() error {
	return mdb.db.Close()
}
