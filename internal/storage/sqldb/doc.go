// Package sqldb opens database/sql pools for the MySQL and SQLite dialects
// and applies the embedded schema migrations used by the SQL metrics sink.
package sqldb
