package db

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const DefaultLanguage = "python"

// Database is the room catalog: the ids that have been issued or joined,
// with their language and join counts. Room code and chat never reach it.
type Database struct {
	db *sql.DB
}

type Room struct {
	ID        string    `json:"roomId"`
	Language  string    `json:"language"`
	JoinCount int64     `json:"joinCount"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Stats struct {
	Rooms int   `json:"rooms"`
	Joins int64 `json:"joins"`
}

func New(dbPath string) (*Database, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One writer at a time avoids SQLITE_BUSY between pooled connections
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		language TEXT NOT NULL DEFAULT 'python',
		join_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_rooms_updated_at ON rooms(updated_at DESC);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// CreateRoom registers an id; an existing row is left untouched
func (d *Database) CreateRoom(id, language string) error {
	if language == "" {
		language = DefaultLanguage
	}
	_, err := d.db.Exec(
		"INSERT OR IGNORE INTO rooms (id, language) VALUES (?, ?)",
		id, language,
	)
	return err
}

// GetRoom returns nil without error when the id is unknown
func (d *Database) GetRoom(id string) (*Room, error) {
	row := d.db.QueryRow(
		"SELECT id, language, join_count, created_at, updated_at FROM rooms WHERE id = ?",
		id,
	)

	var room Room
	err := row.Scan(&room.ID, &room.Language, &room.JoinCount, &room.CreatedAt, &room.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (d *Database) ListRooms(limit, offset int) ([]Room, error) {
	rows, err := d.db.Query(
		"SELECT id, language, join_count, created_at, updated_at FROM rooms ORDER BY updated_at DESC, id ASC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := []Room{}
	for rows.Next() {
		var room Room
		if err := rows.Scan(&room.ID, &room.Language, &room.JoinCount, &room.CreatedAt, &room.UpdatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// RecordJoin counts a join, creating the row for ids that were never
// issued through CreateRoom
func (d *Database) RecordJoin(id string) error {
	_, err := d.db.Exec(`
		INSERT INTO rooms (id, join_count) VALUES (?, 1)
		ON CONFLICT(id) DO UPDATE SET
			join_count = join_count + 1,
			updated_at = CURRENT_TIMESTAMP
	`, id)
	return err
}

func (d *Database) DeleteRoom(id string) error {
	_, err := d.db.Exec("DELETE FROM rooms WHERE id = ?", id)
	return err
}

func (d *Database) GetStats() (*Stats, error) {
	var stats Stats
	err := d.db.QueryRow("SELECT COUNT(*), COALESCE(SUM(join_count), 0) FROM rooms").Scan(&stats.Rooms, &stats.Joins)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
