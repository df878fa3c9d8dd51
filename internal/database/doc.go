// Package database provides the PostgreSQL connection pool and the
// batched error report sink.
//
// The report store is optional; when no database is configured the
// client runs without it and classified errors stay in memory.
package database
