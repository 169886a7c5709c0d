// Package store is the gorm-backed persistence layer for every domain
// entity plus the sync_tasks queue. It implements the narrow
// Store/Source interfaces each domain package defines
// (availability.Store, peercatalog.Store, transfer.SessionStore,
// scheduler.TaskQueue, and so on) against a single SQLite database.
package store

import (
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to dsn (a file path, or ":memory:" for tests), enables
// WAL so readers never block writers, and runs the schema migration.
// Writers rely on SQLite's single-writer WAL semantics plus a single open
// connection (see withImmediate) for the "bit-set + counter
// increment in one transaction" invariant — SQLite has no
// per-row locks, so the atomicity guarantee comes from serializing
// writers at the transaction level instead.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt: true,
		Logger:      logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, err
	}
	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1) // one SQLite writer; readers use WAL snapshots

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// withImmediate runs fn inside a transaction for an atomic
// read-modify-write step. SQLite has no row locks; combined with SetMaxOpenConns(1)
// above, gorm's transaction already serializes every writer, giving the
// same effective isolation BEGIN IMMEDIATE would buy on a multi-writer
// engine.
func withImmediate(db *gorm.DB, fn func(tx *gorm.DB) error) error {
	return db.Transaction(fn)
}
