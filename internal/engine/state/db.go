package state

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/blazeload/blaze/internal/utils"

	_ "modernc.org/sqlite"
)

var (
	db         *sql.DB
	dbMu       sync.Mutex
	dbPath     string
	configured bool
)

// Configure sets the path for the SQLite database
func Configure(path string) {
	dbMu.Lock()
	defer dbMu.Unlock()
	dbPath = path
	configured = true
}

// initDB opens the configured database and brings the schema up to date.
// Caller must hold dbMu.
func initDB() error {
	if db != nil {
		return nil
	}

	if !configured || dbPath == "" {
		return fmt.Errorf("state database not configured: call state.Configure() first")
	}

	d, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; sqlite serialises writes anyway and this avoids SQLITE_BUSY.
	d.SetMaxOpenConns(1)

	if _, err := d.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = d.Close()
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := migrateUp(d); err != nil {
		_ = d.Close()
		return err
	}

	db = d
	return nil
}

// CloseDB closes the database connection
func CloseDB() {
	dbMu.Lock()
	defer dbMu.Unlock()
	if db != nil {
		if err := db.Close(); err != nil {
			utils.Debug("State DB close error: %v", err)
		}
		db = nil
	}
}

// GetDB returns the database instance, initializing it if necessary
func GetDB() (*sql.DB, error) {
	dbMu.Lock()
	defer dbMu.Unlock()
	if err := initDB(); err != nil {
		return nil, err
	}
	return db, nil
}

// Helper to ensure DB is initialized and return it
func getDBHelper() *sql.DB {
	d, err := GetDB()
	if err != nil {
		utils.Debug("State DB Error: %v", err)
		return nil
	}
	return d
}

// Transaction helper
func withTx(fn func(*sql.Tx) error) error {
	d := getDBHelper()
	if d == nil {
		return fmt.Errorf("database not initialized")
	}

	tx, err := d.Begin()
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}
