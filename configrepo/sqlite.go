package configrepo

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/GoCodeAlone/modhub"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS module_configs (
	position    INTEGER NOT NULL,
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	module_type TEXT NOT NULL,
	auto_start  INTEGER NOT NULL,
	options     TEXT
)`

// OpenSQLite opens a repository stored in the module_configs table of a
// SQLite database. The table is created if needed.
func OpenSQLite(dsn string) (*Repository, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create module_configs table: %w", err)
	}
	return open(&sqliteBackend{db: db})
}

type sqliteBackend struct {
	db *sql.DB
}

func (b *sqliteBackend) load() ([]*modhub.ModuleConfig, error) {
	rows, err := b.db.Query(`SELECT id, name, module_type, auto_start, options
		FROM module_configs ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query module configuration: %w", err)
	}
	defer rows.Close()

	var configs []*modhub.ModuleConfig
	for rows.Next() {
		var (
			cfg     modhub.ModuleConfig
			options sql.NullString
		)
		if err := rows.Scan(&cfg.ID, &cfg.Name, &cfg.ModuleType, &cfg.AutoStart, &options); err != nil {
			return nil, fmt.Errorf("failed to scan module configuration: %w", err)
		}
		if options.Valid && options.String != "" {
			if err := json.Unmarshal([]byte(options.String), &cfg.Options); err != nil {
				return nil, fmt.Errorf("failed to decode options of module %s: %w", cfg.ID, err)
			}
		}
		configs = append(configs, &cfg)
	}
	return configs, rows.Err()
}

// store replaces the table content in one transaction.
func (b *sqliteBackend) store(configs []*modhub.ModuleConfig) (err error) {
	tx, err := b.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.Exec(`DELETE FROM module_configs`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO module_configs
		(position, id, name, module_type, auto_start, options) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, cfg := range configs {
		var options sql.NullString
		if len(cfg.Options) > 0 {
			raw, mErr := json.Marshal(cfg.Options)
			if mErr != nil {
				return fmt.Errorf("failed to encode options of module %s: %w", cfg.ID, mErr)
			}
			options = sql.NullString{String: string(raw), Valid: true}
		}
		if _, err = stmt.Exec(i, cfg.ID, cfg.Name, cfg.ModuleType, cfg.AutoStart, options); err != nil {
			return fmt.Errorf("failed to store module %s: %w", cfg.ID, err)
		}
	}
	return tx.Commit()
}

func (b *sqliteBackend) close() error {
	return b.db.Close()
}
