package archive

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const databaseName = "archive.db"

// fallbackSchema mirrors structure.sql so a bare deployment can still boot.
// The file takes precedence when present so operators can adjust indexes.
const fallbackSchema = `
CREATE TABLE sessions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL,
    spine_type TEXT NOT NULL DEFAULT 'C',
    source_file TEXT,
    duration_seconds REAL NOT NULL DEFAULT 0,
    event_count INTEGER NOT NULL DEFAULT 0,
    imported_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE session_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id INTEGER NOT NULL,
    time_seconds REAL NOT NULL,
    event_name TEXT NOT NULL,
    event_code TEXT,
    stage INTEGER NOT NULL DEFAULT 0,
    sensors TEXT,
    weights TEXT,
    error_range REAL,
    FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

CREATE INDEX session_events_session_id_idx ON session_events (session_id);
CREATE INDEX session_events_time_idx ON session_events (session_id, time_seconds);
`

var (
	archiveDB    *sql.DB
	databasePath string
)

// Init opens the session archive database under dataDir and brings its
// schema up to date.
func Init(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	uploadDir = filepath.Join(dataDir, "uploads")
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return fmt.Errorf("failed to create upload directory: %w", err)
	}

	databasePath = filepath.Join(dataDir, databaseName)

	var err error
	archiveDB, err = sql.Open("sqlite3", databasePath)
	if err != nil {
		return fmt.Errorf("failed to open archive database: %w", err)
	}

	if err := archiveDB.Ping(); err != nil {
		return fmt.Errorf("failed to ping archive database: %w", err)
	}

	if err := createArchiveSchema(dataDir); err != nil {
		return fmt.Errorf("failed to create archive schema: %w", err)
	}

	log.Println("Session archive database initialized successfully")
	return nil
}

// createArchiveSchema creates the necessary tables in the archive database
func createArchiveSchema(dataDir string) error {
	// Check if the database is already initialized by looking for a key table
	var count int
	err := archiveDB.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='sessions'").Scan(&count)
	if err == nil && count > 0 {
		log.Println("Archive schema already exists, checking for markers table...")
		if err := ensureMarkersTable(); err != nil {
			return err
		}
		return ensureSessionVariantColumn()
	}

	log.Println("Initializing archive database schema...")

	schema := fallbackSchema
	schemaPath := filepath.Join(dataDir, "structure.sql")
	if schemaBytes, err := os.ReadFile(schemaPath); err == nil {
		schema = string(schemaBytes)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read schema file: %w", err)
	}

	if _, err := archiveDB.Exec(schema); err != nil {
		// Tables may already exist from a partial init; check the essentials
		var sessionCount, eventCount int
		archiveDB.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='sessions'").Scan(&sessionCount)
		archiveDB.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='session_events'").Scan(&eventCount)

		if sessionCount > 0 && eventCount > 0 {
			log.Println("Essential archive tables already exist, continuing...")
			if err := ensureMarkersTable(); err != nil {
				return err
			}
			return ensureSessionVariantColumn()
		}

		return fmt.Errorf("failed to execute schema: %w", err)
	}

	log.Println("Archive database schema created successfully")
	if err := ensureMarkersTable(); err != nil {
		return err
	}
	return ensureSessionVariantColumn()
}

// ensureMarkersTable creates the markers table if it doesn't exist
func ensureMarkersTable() error {
	var count int
	err := archiveDB.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='markers'").Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check markers table: %w", err)
	}

	if count > 0 {
		return nil
	}

	log.Println("Creating markers table...")
	markersSchema := `
		CREATE TABLE markers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER NOT NULL,
			time_seconds REAL NOT NULL,
			label TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT 'regular',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);

		CREATE INDEX markers_session_id_idx ON markers (session_id);
		CREATE INDEX markers_time_idx ON markers (session_id, time_seconds);
		CREATE INDEX markers_type_idx ON markers (session_id, type);
	`

	if _, err := archiveDB.Exec(markersSchema); err != nil {
		return fmt.Errorf("failed to create markers table: %w", err)
	}

	log.Println("Markers table created successfully")
	return nil
}

// ensureSessionVariantColumn adds the variant column to databases created
// before the split protocol existed.
func ensureSessionVariantColumn() error {
	var variantColumnExists bool
	rows, err := archiveDB.Query("PRAGMA table_info(sessions)")
	if err != nil {
		return fmt.Errorf("failed to get sessions table info: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, dataType string
		var notNull, pk int
		var dfltValue sql.NullString

		if err := rows.Scan(&cid, &name, &dataType, &notNull, &dfltValue, &pk); err != nil {
			return fmt.Errorf("failed to scan sessions table info: %w", err)
		}

		if name == "variant" {
			variantColumnExists = true
			break
		}
	}

	if variantColumnExists {
		return nil
	}

	log.Println("Adding variant column to sessions table...")
	if _, err := archiveDB.Exec("ALTER TABLE sessions ADD COLUMN variant TEXT NOT NULL DEFAULT 'compact'"); err != nil {
		return fmt.Errorf("failed to add variant column: %w", err)
	}

	return nil
}

// GetDatabase returns the archive database connection
func GetDatabase() *sql.DB {
	return archiveDB
}

// Close closes the archive database connection
func Close() error {
	if archiveDB != nil {
		return archiveDB.Close()
	}
	return nil
}
