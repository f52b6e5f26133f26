// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY modernc.org/sqlite?
// It is a pure Go translation of SQLite: no CGo, no C compiler, cross-compiles
// like any other Go package. The driver registers itself with database/sql
// under the name "sqlite" via the blank import below.
//
// CONNECTION SETTINGS:
// SQLite PRAGMAs such as foreign_keys are per connection, and sql.DB is a
// pool. Setting them with a one-off Exec would only configure whichever
// connection happened to run it. Instead we pass them in the DSN as
// _pragma parameters so the driver applies them to every new connection.
//
// An in-memory database exists only for the connection that created it, so
// for ":memory:" the pool is pinned to a single connection.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and implements every repository
// interface (users, products, cart, purchases).
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath and creates the schema if needed.
//
// dbPath examples:
//   - "data/ecofinds.db" → file-based database (persistent)
//   - ":memory:"         → in-memory database (tests)
func New(dbPath string) (*DB, error) {
	inMemory := dbPath == ":memory:"

	conn, err := sql.Open("sqlite", dsn(dbPath, inMemory))
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	if inMemory {
		conn.SetMaxOpenConns(1)
	}

	// sql.Open does not connect. Ping surfaces a bad path or permissions
	// problem now instead of on the first request.
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

func dsn(dbPath string, inMemory bool) string {
	pragmas := []string{
		"_pragma=foreign_keys(1)",
		"_pragma=busy_timeout(5000)",
	}
	if !inMemory {
		// WAL lets readers proceed while a write is in progress.
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)")
	}
	return dbPath + "?" + strings.Join(pragmas, "&")
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks that the database is reachable. Used by the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// migrate creates the four marketplace tables.
//
// CREATE TABLE IF NOT EXISTS makes this safe to run on every start.
//
// REFERENTIAL ACTIONS:
// Deleting a user removes their products, cart rows and purchases. Deleting
// a product removes the cart rows that point at it, but purchases only lose
// their product_id (ON DELETE SET NULL). A purchase keeps the title and
// price it was bought at, so other buyers' history survives a seller
// deleting the product or the whole account.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			username      TEXT NOT NULL UNIQUE,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS products (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			title       TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			category    TEXT NOT NULL DEFAULT '',
			price       REAL NOT NULL CHECK (price >= 0),
			image       TEXT NOT NULL DEFAULT 'placeholder.svg',
			user_id     INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_products_user_id ON products(user_id);
		CREATE INDEX IF NOT EXISTS idx_products_category ON products(category);
		CREATE INDEX IF NOT EXISTS idx_products_created_at ON products(created_at);
	`)
	if err != nil {
		return fmt.Errorf("creating products table: %w", err)
	}

	// No UNIQUE(user_id, product_id): the same product may sit in a cart
	// more than once.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS cart (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id    INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			product_id INTEGER NOT NULL REFERENCES products(id) ON DELETE CASCADE,
			added_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_cart_user_product ON cart(user_id, product_id);
	`)
	if err != nil {
		return fmt.Errorf("creating cart table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS purchases (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id      INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			product_id   INTEGER REFERENCES products(id) ON DELETE SET NULL,
			title        TEXT NOT NULL,
			price        REAL NOT NULL,
			purchased_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_purchases_user_id ON purchases(user_id);
	`)
	if err != nil {
		return fmt.Errorf("creating purchases table: %w", err)
	}

	return nil
}
