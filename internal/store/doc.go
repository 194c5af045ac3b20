// Package store is the database/sql storage connection for relq.
//
// A Store wraps one *sql.DB opened with a registered driver (sqlite3,
// postgres or mysql) and implements provider.Connection: commands are
// executed with their parameters bound the way the command's dialect
// names them.
//
// # Database Configuration
//
// SQLite databases are opened with:
//   - WAL mode for file databases (in-memory databases keep the default)
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
//   - a single connection, so an in-memory database is shared by every
//     command and writers never race for the lock
//
// MySQL DSNs are parsed and re-rendered with parseTime enabled so DATETIME
// columns scan as time.Time. Postgres URLs are converted to key/value
// connection strings.
//
// The store does not manage transactions or retries.
package store
