package main

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const sqlitePrefix = "sqlite://"

// DB provides the database connection.
type DB struct {
	// Object-relational mapping.
	Gorm *gorm.DB
	// Either a postgres DSN or "sqlite://<file>".
	ConnectionInfo string
}

// NewDB returns a new instance of DB.
func NewDB(connectionInfo string) *DB {
	return &DB{
		ConnectionInfo: connectionInfo,
	}
}

// dialector picks the driver from the connection info.
func dialector(connectionInfo string) gorm.Dialector {
	if strings.HasPrefix(connectionInfo, sqlitePrefix) {
		return sqlite.Open(strings.TrimPrefix(connectionInfo, sqlitePrefix))
	}
	return postgres.Open(connectionInfo)
}

// Open opens a new database connection. It also configures logging
// based on whether we're in development or in production.
func Open(db *DB, isProd bool) (err error) {
	if db.ConnectionInfo == "" {
		return fmt.Errorf("connectionInfo required")
	}
	cfg := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	}
	if !isProd {
		cfg.Logger = logger.Default.LogMode(logger.Info)
	}
	db.Gorm, err = gorm.Open(dialector(db.ConnectionInfo), cfg)
	if err != nil {
		return fmt.Errorf("err opening gorm connection: %w", err)
	}
	if strings.HasPrefix(db.ConnectionInfo, sqlitePrefix) {
		// sqlite allows one writer, and foreign keys are a per-connection setting.
		sqlDB, err := db.Gorm.DB()
		if err != nil {
			return err
		}
		sqlDB.SetMaxOpenConns(1)
		if err := db.Gorm.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
			return fmt.Errorf("enabling sqlite foreign keys: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func Close(db *DB) error {
	sqlDB, err := db.Gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
