package db

import (
	"database/sql"
)

const (
	sqlCreateAccountsTable = `CREATE TABLE IF NOT EXISTS accounts (
		id TEXT NOT NULL PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		display_name TEXT NOT NULL,
		bio TEXT,
		join_date TEXT,
		icon_image TEXT,
		header_image TEXT,
		web_public_key TEXT NOT NULL,
		web_private_key TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	// kind is 'follower' or 'following'
	sqlCreateRelationsTable = `CREATE TABLE IF NOT EXISTS relations (
		id TEXT NOT NULL PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		kind TEXT NOT NULL,
		instance TEXT NOT NULL,
		account_uri TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(account_id, kind, instance, account_uri)
	)`

	sqlCreateRelationsIndices = `
		CREATE INDEX IF NOT EXISTS idx_relations_account_kind ON relations(account_id, kind);
	`

	sqlCreatePostsTable = `CREATE TABLE IF NOT EXISTS posts (
		id TEXT NOT NULL PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		token TEXT NOT NULL,
		object_uri TEXT NOT NULL,
		published INTEGER NOT NULL,
		document TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(account_id, token)
	)`

	sqlCreatePostsIndices = `
		CREATE INDEX IF NOT EXISTS idx_posts_account_published ON posts(account_id, published);
	`

	sqlCreateLikesTable = `CREATE TABLE IF NOT EXISTS likes (
		id TEXT NOT NULL PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		token TEXT NOT NULL,
		actor_uri TEXT NOT NULL,
		activity_uri TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(account_id, token, actor_uri)
	)`

	// Outbound delivery log, for diagnostics only; nothing retries from it.
	sqlCreateDeliveriesTable = `CREATE TABLE IF NOT EXISTS deliveries (
		id TEXT NOT NULL PRIMARY KEY,
		activity_uri TEXT NOT NULL,
		instance TEXT NOT NULL,
		inbox_uri TEXT NOT NULL,
		status INTEGER,
		error TEXT,
		duration_ms INTEGER,
		created_at INTEGER NOT NULL
	)`

	sqlCreateDeliveriesIndices = `
		CREATE INDEX IF NOT EXISTS idx_deliveries_created_at ON deliveries(created_at DESC);
	`
)

// RunMigrations creates every table and index that is missing.
func (db *DB) RunMigrations() error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		tables := []struct {
			name string
			sql  string
		}{
			{"accounts", sqlCreateAccountsTable},
			{"relations", sqlCreateRelationsTable},
			{"posts", sqlCreatePostsTable},
			{"likes", sqlCreateLikesTable},
			{"deliveries", sqlCreateDeliveriesTable},
		}
		for _, table := range tables {
			if err := db.createTableIfNotExists(tx, table.sql, table.name); err != nil {
				return err
			}
		}

		for _, indices := range []string{sqlCreateRelationsIndices, sqlCreatePostsIndices, sqlCreateDeliveriesIndices} {
			if _, err := tx.Exec(indices); err != nil {
				db.logger.Warn("Failed to create indices", "err", err)
			}
		}
		return nil
	})
}

func (db *DB) createTableIfNotExists(tx *sql.Tx, createSQL string, tableName string) error {
	_, err := tx.Exec(createSQL)
	if err != nil {
		db.logger.Error("Error creating table", "table", tableName, "err", err)
		return err
	}
	db.logger.Debug("Table created or already exists", "table", tableName)
	return nil
}
