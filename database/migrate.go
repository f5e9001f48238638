package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"stonetify/config"
	"stonetify/models"
)

// DB is the global database instance
var DB *gorm.DB

// DBType stores the current database type for use in other functions
var DBType string

// InitDB opens the configured database and migrates the document and audit
// tables.
func InitDB(cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	if log == nil {
		log = zap.NewNop()
	}
	dbType := cfg.Type
	if dbType == "" {
		dbType = "sqlite"
	}
	DBType = dbType

	var db *gorm.DB
	var err error

	if dbType == "sqlite" {
		db, err = initSQLite(cfg.Path, log)
	} else {
		db, err = initMySQL(cfg.DSN, log)
	}
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if dbType == "sqlite" {
		sqlDB.SetMaxOpenConns(5)
		sqlDB.SetMaxIdleConns(2)
		sqlDB.SetConnMaxLifetime(time.Hour)

		sqlDB.Exec("PRAGMA foreign_keys = ON")
		sqlDB.Exec("PRAGMA journal_mode = WAL")
		sqlDB.Exec("PRAGMA synchronous = NORMAL")
		sqlDB.Exec("PRAGMA busy_timeout = 5000") // 5 second wait for locks

		var integrityResult string
		sqlDB.QueryRow("PRAGMA integrity_check").Scan(&integrityResult)
		if integrityResult != "ok" {
			log.Warn("database integrity check failed", zap.String("result", integrityResult))
		}
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	DB = db
	log.Info("database connected", zap.String("type", dbType))
	return db, nil
}

// Migrate creates the document and audit tables and their indexes.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Document{}, &models.AuditLog{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	migrator := db.Migrator()
	if !migrator.HasIndex(&models.AuditLog{}, "idx_audit_logs_created_at") {
		if err := db.Exec(`CREATE INDEX idx_audit_logs_created_at ON audit_logs(created_at)`).Error; err != nil {
			return fmt.Errorf("failed to create audit_logs index: %w", err)
		}
	}
	return nil
}

// GetDB returns the global database instance
func GetDB() *gorm.DB {
	return DB
}

func initSQLite(dbPath string, log *zap.Logger) (*gorm.DB, error) {
	if dbPath == "" {
		dbPath = "data/stonetify.db"
	}

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	log.Info("opening SQLite database", zap.String("path", dbPath))
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite database: %w", err)
	}
	return db, nil
}

func initMySQL(dsn string, log *zap.Logger) (*gorm.DB, error) {
	if dsn == "" {
		missingVars := []string{}
		dbUser := os.Getenv("DB_USER")
		dbPass := os.Getenv("DB_PASS")
		dbHost := os.Getenv("DB_HOST")
		dbPort := os.Getenv("DB_PORT")
		dbName := os.Getenv("DB_NAME")

		if dbUser == "" {
			missingVars = append(missingVars, "DB_USER")
		}
		if dbPass == "" {
			missingVars = append(missingVars, "DB_PASS")
		}
		if dbHost == "" {
			missingVars = append(missingVars, "DB_HOST")
		}
		if dbPort == "" {
			missingVars = append(missingVars, "DB_PORT")
		}
		if dbName == "" {
			missingVars = append(missingVars, "DB_NAME")
		}

		if len(missingVars) > 0 {
			return nil, fmt.Errorf("missing required environment variables: %s. Either set DATABASE_URL or all of: DB_USER, DB_PASS, DB_HOST, DB_PORT, DB_NAME", strings.Join(missingVars, ", "))
		}

		dsn = dbUser + ":" + dbPass + "@tcp(" + dbHost + ":" + dbPort + ")/" + dbName + "?parseTime=true&allowNativePasswords=true"
	}

	log.Info("opening MySQL database connection")
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL database: %w", err)
	}
	return db, nil
}

// ShutdownDB performs a clean shutdown of the database connection
func ShutdownDB() error {
	if DB == nil {
		return nil
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("error getting database connection: %w", err)
	}

	// Checkpoint WAL before closing (SQLite only)
	if DBType == "sqlite" {
		sqlDB.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}

	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("error closing database connection: %w", err)
	}
	DB = nil
	return nil
}
